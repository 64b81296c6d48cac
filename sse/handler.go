// Package sse streams scenario player events to HTTP clients as
// Server-Sent Events. Stored events are replayed first, then live events
// from the bus follow until the run stops.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/petal-labs/scenarioflow/bus"
	"github.com/petal-labs/scenarioflow/core"
	"github.com/petal-labs/scenarioflow/runtime"
)

// HeartbeatInterval is the interval between SSE heartbeat comments.
const HeartbeatInterval = 15 * time.Second

// Record is the JSON form of a runtime event, shared by the SSE stream and
// the CLI's JSON output.
type Record struct {
	Kind        string         `json:"kind"`
	RunID       string         `json:"run_id"`
	ParentRunID string         `json:"parent_run_id,omitempty"`
	Scenario    string         `json:"scenario,omitempty"`
	NodeHash    core.Hash      `json:"node_hash,omitempty"`
	NodeKind    string         `json:"node_kind,omitempty"`
	Time        time.Time      `json:"time"`
	ElapsedMs   int64          `json:"elapsed_ms"`
	Payload     map[string]any `json:"payload,omitempty"`
	Seq         uint64         `json:"seq"`
	TraceID     string         `json:"trace_id,omitempty"`
	SpanID      string         `json:"span_id,omitempty"`
}

// NewRecord converts e.
func NewRecord(e runtime.Event) Record {
	return Record{
		Kind:        string(e.Kind),
		RunID:       e.RunID,
		ParentRunID: e.ParentRunID,
		Scenario:    e.Scenario,
		NodeHash:    e.NodeHash,
		NodeKind:    e.NodeKind,
		Time:        e.Time,
		ElapsedMs:   e.Elapsed.Milliseconds(),
		Payload:     e.Payload,
		Seq:         e.Seq,
		TraceID:     e.TraceID,
		SpanID:      e.SpanID,
	}
}

// Handler serves the event stream of one run and its sub-scenarios.
//
// The handler expects a "run_id" path value and an optional "after" query
// parameter with the last-seen sequence number of the run.
//
// SSE format:
//
//	id: {seq}
//	event: {kind}
//	data: {json}
//
// A heartbeat comment ": ping\n\n" is sent every HeartbeatInterval. The
// stream closes after the run's own scenario.stopped event or when the
// client disconnects.
type Handler struct {
	store bus.EventStore
	bus   bus.EventBus
}

// NewHandler creates a Handler. store may be nil, in which case only live
// events are streamed.
func NewHandler(store bus.EventStore, eb bus.EventBus) *Handler {
	return &Handler{store: store, bus: eb}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if runID == "" {
		http.Error(w, "missing run_id", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var afterSeq uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid after parameter", http.StatusBadRequest)
			return
		}
		afterSeq = parsed
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()

	// Subscribe before replaying so nothing falls between the two.
	sub := h.bus.Subscribe(runID)
	defer sub.Close()

	lastSeq := afterSeq
	finished, err := h.replay(ctx, w, flusher, runID, afterSeq, &lastSeq)
	if err != nil || finished {
		return
	}
	h.streamLive(ctx, w, flusher, runID, sub, &lastSeq)
}

func (h *Handler) replay(
	ctx context.Context,
	w http.ResponseWriter,
	flusher http.Flusher,
	runID string,
	afterSeq uint64,
	lastSeq *uint64,
) (finished bool, err error) {
	if h.store == nil {
		return false, nil
	}
	events, err := h.store.List(ctx, runID, afterSeq, 0)
	if err != nil {
		return false, err
	}
	for _, evt := range events {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err := writeEvent(w, evt); err != nil {
			return false, err
		}
		flusher.Flush()
		if evt.Seq > *lastSeq {
			*lastSeq = evt.Seq
		}
		if stopsRun(evt, runID) {
			return true, nil
		}
	}
	return false, nil
}

// streamLive forwards bus events. Only the requested run's sequence numbers
// are deduplicated; sub-scenario events have sequences of their own.
func (h *Handler) streamLive(
	ctx context.Context,
	w http.ResponseWriter,
	flusher http.Flusher,
	runID string,
	sub bus.Subscription,
	lastSeq *uint64,
) {
	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if evt.RunID == runID {
				if evt.Seq <= *lastSeq {
					continue
				}
				*lastSeq = evt.Seq
			}
			if err := writeEvent(w, evt); err != nil {
				return
			}
			flusher.Flush()
			if stopsRun(evt, runID) {
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func stopsRun(e runtime.Event, runID string) bool {
	return e.Kind == runtime.EventScenarioStopped && e.RunID == runID
}

func writeEvent(w http.ResponseWriter, evt runtime.Event) error {
	data, err := json.Marshal(NewRecord(evt))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Kind, data)
	return err
}
