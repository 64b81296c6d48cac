// Package otel provides OpenTelemetry integration for scenario player events.
package otel

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/scenarioflow/core"
	"github.com/petal-labs/scenarioflow/runtime"
)

type nodeKey struct {
	runID string
	node  core.Hash
}

// TracingHandler translates player events into OpenTelemetry spans: one
// span per run and one child span per node activation. Sub-player runs are
// nested under the run span of their parent.
type TracingHandler struct {
	tracer trace.Tracer

	mu        sync.RWMutex
	runSpans  map[string]trace.Span
	runCtxs   map[string]context.Context
	nodeSpans map[nodeKey]trace.Span
}

// NewTracingHandler creates a new TracingHandler that uses the given tracer
// to create spans from player events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:    tracer,
		runSpans:  make(map[string]trace.Span),
		runCtxs:   make(map[string]context.Context),
		nodeSpans: make(map[nodeKey]trace.Span),
	}
}

// Handle processes a player event and creates or ends spans accordingly.
// It implements runtime.EventHandler semantics.
func (h *TracingHandler) Handle(e runtime.Event) {
	switch e.Kind {
	case runtime.EventScenarioStarted:
		h.handleScenarioStarted(e)
	case runtime.EventNodeActivating:
		h.handleNodeActivating(e)
	case runtime.EventNodeCompleted:
		h.endNode(e, codes.Ok, "")
	case runtime.EventNodeFailed:
		h.handleNodeFailed(e)
	case runtime.EventComponentFired, runtime.EventSignal, runtime.EventVariableSet:
		h.handleSpanEvent(e)
	case runtime.EventScenarioStopped:
		h.handleScenarioStopped(e)
	}
}

func (h *TracingHandler) handleScenarioStarted(e runtime.Event) {
	spanName := "scenario:" + e.RunID
	if e.Scenario != "" {
		spanName = "scenario:" + e.Scenario
	}

	h.mu.RLock()
	parentCtx, ok := h.runCtxs[e.ParentRunID]
	h.mu.RUnlock()
	if !ok || e.ParentRunID == "" {
		parentCtx = context.Background()
	}

	attrs := []attribute.KeyValue{attribute.String("scenarioflow.run_id", e.RunID)}
	if e.Scenario != "" {
		attrs = append(attrs, attribute.String("scenarioflow.scenario", e.Scenario))
	}
	if e.ParentRunID != "" {
		attrs = append(attrs, attribute.String("scenarioflow.parent_run_id", e.ParentRunID))
	}
	if id, ok := e.Payload["identity_hash"].(int32); ok && id != 0 {
		attrs = append(attrs, attribute.Int("scenarioflow.identity_hash", int(id)))
	}

	ctx, span := h.tracer.Start(parentCtx, spanName,
		trace.WithAttributes(attrs...),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.runSpans[e.RunID] = span
	h.runCtxs[e.RunID] = ctx
	h.mu.Unlock()
}

func (h *TracingHandler) handleNodeActivating(e runtime.Event) {
	h.mu.RLock()
	parentCtx, ok := h.runCtxs[e.RunID]
	h.mu.RUnlock()
	if !ok {
		parentCtx = context.Background()
	}

	_, span := h.tracer.Start(parentCtx, "node:"+e.NodeKind+":"+hashString(e.NodeHash),
		trace.WithAttributes(
			attribute.String("scenarioflow.run_id", e.RunID),
			attribute.Int("scenarioflow.node_hash", int(e.NodeHash)),
			attribute.String("scenarioflow.node_kind", e.NodeKind),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.nodeSpans[nodeKey{e.RunID, e.NodeHash}] = span
	h.mu.Unlock()
}

func (h *TracingHandler) handleNodeFailed(e runtime.Event) {
	errMsg := "unknown error"
	if s, ok := e.Payload["error"].(string); ok {
		errMsg = s
	}
	h.endNode(e, codes.Error, errMsg)
}

func (h *TracingHandler) endNode(e runtime.Event, code codes.Code, msg string) {
	key := nodeKey{e.RunID, e.NodeHash}

	h.mu.Lock()
	span, ok := h.nodeSpans[key]
	if ok {
		delete(h.nodeSpans, key)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	if e.Elapsed > 0 {
		span.SetAttributes(attribute.String("scenarioflow.duration", e.Elapsed.String()))
	}
	span.SetStatus(code, msg)
	if code == codes.Error {
		span.RecordError(spanError(msg), trace.WithTimestamp(e.Time))
	}
	span.End(trace.WithTimestamp(e.Time))
}

// handleSpanEvent records component, signal and variable events on the
// node span, or the run span when no node span is open.
func (h *TracingHandler) handleSpanEvent(e runtime.Event) {
	h.mu.RLock()
	span, ok := h.nodeSpans[nodeKey{e.RunID, e.NodeHash}]
	if !ok {
		span, ok = h.runSpans[e.RunID]
	}
	h.mu.RUnlock()
	if !ok {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("scenarioflow.event_kind", string(e.Kind)),
	}
	if s, ok := e.Payload["type"].(string); ok {
		attrs = append(attrs, attribute.String("scenarioflow.component_type", s))
	}
	if s, ok := e.Payload["name"].(string); ok {
		attrs = append(attrs, attribute.String("scenarioflow.name", s))
	}
	span.AddEvent(string(e.Kind), trace.WithTimestamp(e.Time), trace.WithAttributes(attrs...))
}

// handleScenarioStopped ends the run span and every node span the run left
// open. Nodes still active at stop are marked cancelled.
func (h *TracingHandler) handleScenarioStopped(e runtime.Event) {
	h.mu.Lock()
	span, ok := h.runSpans[e.RunID]
	if ok {
		delete(h.runSpans, e.RunID)
		delete(h.runCtxs, e.RunID)
	}
	var open []trace.Span
	for key, s := range h.nodeSpans {
		if key.runID == e.RunID {
			open = append(open, s)
			delete(h.nodeSpans, key)
		}
	}
	h.mu.Unlock()

	for _, s := range open {
		s.SetAttributes(attribute.Bool("scenarioflow.cancelled", true))
		s.End(trace.WithTimestamp(e.Time))
	}
	if !ok {
		return
	}

	reason, _ := e.Payload["reason"].(string)
	span.SetAttributes(
		attribute.String("scenarioflow.duration", e.Elapsed.String()),
		attribute.String("scenarioflow.stop_reason", reason),
	)
	if n, ok := e.Payload["completed_nodes"].(int); ok {
		span.SetAttributes(attribute.Int("scenarioflow.completed_nodes", n))
	}
	if reason == runtime.StopDeadEnd {
		span.SetStatus(codes.Error, "scenario reached a dead end")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

// ActiveSpanContext returns the SpanContext for the active node span
// identified by runID and node. Returns an empty SpanContext if not found.
func (h *TracingHandler) ActiveSpanContext(runID string, node core.Hash) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.nodeSpans[nodeKey{runID, node}]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// ActiveRunSpanContext returns the SpanContext for the active run span
// identified by runID. Returns an empty SpanContext if not found.
func (h *TracingHandler) ActiveRunSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.runSpans[runID]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

func hashString(h core.Hash) string {
	return strconv.FormatInt(int64(h), 10)
}

// spanError is a simple error type for recording span errors.
type spanError string

func (e spanError) Error() string { return string(e) }
