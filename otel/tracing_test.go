package otel_test

import (
	"testing"
	"time"

	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/petal-labs/scenarioflow/core"
	scenariootel "github.com/petal-labs/scenarioflow/otel"
	"github.com/petal-labs/scenarioflow/runtime"
)

// newTestTracer returns a tracer backed by an in-memory span exporter.
func newTestTracer() (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	return exporter, tp
}

func spanByName(spans tracetest.SpanStubs, name string) *tracetest.SpanStub {
	for i := range spans {
		if spans[i].Name == name {
			return &spans[i]
		}
	}
	return nil
}

func attr(s *tracetest.SpanStub, key string) (string, bool) {
	for _, a := range s.Attributes {
		if string(a.Key) == key {
			return a.Value.Emit(), true
		}
	}
	return "", false
}

func started(runID, scenario string, at time.Time) runtime.Event {
	return runtime.Event{Kind: runtime.EventScenarioStarted, RunID: runID, Scenario: scenario, Time: at}
}

func stopped(runID, reason string, at time.Time) runtime.Event {
	return runtime.Event{
		Kind:    runtime.EventScenarioStopped,
		RunID:   runID,
		Time:    at,
		Elapsed: 100 * time.Millisecond,
		Payload: map[string]any{"reason": reason, "completed_nodes": 3},
	}
}

func nodeEvent(kind runtime.EventKind, runID string, hash core.Hash, at time.Time) runtime.Event {
	return runtime.Event{Kind: kind, RunID: runID, NodeHash: hash, NodeKind: "action", Time: at}
}

func TestTracingHandler_RunSpan(t *testing.T) {
	tests := []struct {
		name     string
		scenario string
		reason   string
		wantName string
		wantCode otelcodes.Code
	}{
		{"completed", "docking", runtime.StopCompleted, "scenario:docking", otelcodes.Ok},
		{"anonymous", "", runtime.StopRequested, "scenario:run-1", otelcodes.Ok},
		{"dead end", "docking", runtime.StopDeadEnd, "scenario:docking", otelcodes.Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter, tp := newTestTracer()
			h := scenariootel.NewTracingHandler(tp.Tracer("test"))
			now := time.Now()

			h.Handle(started("run-1", tt.scenario, now))
			if !h.ActiveRunSpanContext("run-1").IsValid() {
				t.Fatal("expected valid run span context after scenario.started")
			}
			h.Handle(stopped("run-1", tt.reason, now.Add(100*time.Millisecond)))

			if h.ActiveRunSpanContext("run-1").IsValid() {
				t.Error("run span should be gone after scenario.stopped")
			}
			spans := exporter.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			span := &spans[0]
			if span.Name != tt.wantName {
				t.Errorf("span name = %q, want %q", span.Name, tt.wantName)
			}
			if span.Status.Code != tt.wantCode {
				t.Errorf("status = %v, want %v", span.Status.Code, tt.wantCode)
			}
			if got, _ := attr(span, "scenarioflow.stop_reason"); got != tt.reason {
				t.Errorf("stop_reason = %q, want %q", got, tt.reason)
			}
			if got, _ := attr(span, "scenarioflow.completed_nodes"); got != "3" {
				t.Errorf("completed_nodes = %q, want 3", got)
			}
		})
	}
}

func TestTracingHandler_NodeSpanIsChildOfRun(t *testing.T) {
	exporter, tp := newTestTracer()
	h := scenariootel.NewTracingHandler(tp.Tracer("test"))
	now := time.Now()

	h.Handle(started("run-1", "docking", now))
	h.Handle(nodeEvent(runtime.EventNodeActivating, "run-1", 42, now.Add(time.Millisecond)))
	if !h.ActiveSpanContext("run-1", 42).IsValid() {
		t.Fatal("expected valid node span context after node.activating")
	}
	completed := nodeEvent(runtime.EventNodeCompleted, "run-1", 42, now.Add(5*time.Millisecond))
	completed.Elapsed = 4 * time.Millisecond
	h.Handle(completed)
	h.Handle(stopped("run-1", runtime.StopCompleted, now.Add(10*time.Millisecond)))

	spans := exporter.GetSpans()
	node := spanByName(spans, "node:action:42")
	run := spanByName(spans, "scenario:docking")
	if node == nil || run == nil {
		t.Fatalf("missing spans: %v", spans)
	}
	if node.Parent.SpanID() != run.SpanContext.SpanID() {
		t.Error("node span should be a child of the run span")
	}
	if node.Status.Code != otelcodes.Ok {
		t.Errorf("node status = %v, want Ok", node.Status.Code)
	}
	if got, _ := attr(node, "scenarioflow.node_hash"); got != "42" {
		t.Errorf("node_hash = %q", got)
	}
	if got, _ := attr(node, "scenarioflow.duration"); got != "4ms" {
		t.Errorf("duration = %q, want 4ms", got)
	}
}

func TestTracingHandler_NodeFailed(t *testing.T) {
	exporter, tp := newTestTracer()
	h := scenariootel.NewTracingHandler(tp.Tracer("test"))
	now := time.Now()

	h.Handle(started("run-1", "docking", now))
	h.Handle(nodeEvent(runtime.EventNodeActivating, "run-1", 7, now))
	failed := nodeEvent(runtime.EventNodeFailed, "run-1", 7, now.Add(time.Millisecond))
	failed.Payload = map[string]any{"op": "wait", "error": "subscription closed"}
	h.Handle(failed)

	node := spanByName(exporter.GetSpans(), "node:action:7")
	if node == nil {
		t.Fatal("node span not exported")
	}
	if node.Status.Code != otelcodes.Error || node.Status.Description != "subscription closed" {
		t.Errorf("status = %+v", node.Status)
	}
	if len(node.Events) == 0 || node.Events[0].Name != "exception" {
		t.Errorf("expected recorded error event, got %+v", node.Events)
	}
}

func TestTracingHandler_SpanEvents(t *testing.T) {
	exporter, tp := newTestTracer()
	h := scenariootel.NewTracingHandler(tp.Tracer("test"))
	now := time.Now()

	h.Handle(started("run-1", "docking", now))
	h.Handle(nodeEvent(runtime.EventNodeActivating, "run-1", 1, now))

	fired := nodeEvent(runtime.EventComponentFired, "run-1", 1, now)
	fired.Payload = map[string]any{"type": "message"}
	h.Handle(fired)
	h.Handle(runtime.Event{
		Kind:    runtime.EventSignal,
		RunID:   "run-1",
		Time:    now,
		Payload: map[string]any{"name": "ready"},
	})

	h.Handle(nodeEvent(runtime.EventNodeCompleted, "run-1", 1, now))
	h.Handle(stopped("run-1", runtime.StopCompleted, now))

	spans := exporter.GetSpans()
	node := spanByName(spans, "node:action:1")
	run := spanByName(spans, "scenario:docking")
	if len(node.Events) != 1 || node.Events[0].Name != string(runtime.EventComponentFired) {
		t.Errorf("node events = %+v", node.Events)
	}
	if len(run.Events) != 1 || run.Events[0].Name != string(runtime.EventSignal) {
		t.Errorf("run events = %+v", run.Events)
	}
}

func TestTracingHandler_StopEndsOpenNodeSpans(t *testing.T) {
	exporter, tp := newTestTracer()
	h := scenariootel.NewTracingHandler(tp.Tracer("test"))
	now := time.Now()

	h.Handle(started("run-1", "docking", now))
	h.Handle(nodeEvent(runtime.EventNodeActivating, "run-1", 1, now))
	h.Handle(nodeEvent(runtime.EventNodeActivating, "run-1", 2, now))
	h.Handle(stopped("run-1", runtime.StopRequested, now))

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("spans = %d, want 3", len(spans))
	}
	for _, name := range []string{"node:action:1", "node:action:2"} {
		s := spanByName(spans, name)
		if got, _ := attr(s, "scenarioflow.cancelled"); got != "true" {
			t.Errorf("%s cancelled = %q", name, got)
		}
	}
	if h.ActiveSpanContext("run-1", 1).IsValid() {
		t.Error("node span should be removed on stop")
	}
}

func TestTracingHandler_SubScenarioNestsUnderParent(t *testing.T) {
	exporter, tp := newTestTracer()
	h := scenariootel.NewTracingHandler(tp.Tracer("test"))
	now := time.Now()

	h.Handle(started("parent", "mission", now))
	sub := started("child", "briefing", now)
	sub.ParentRunID = "parent"
	h.Handle(sub)
	h.Handle(stopped("child", runtime.StopCompleted, now))
	h.Handle(stopped("parent", runtime.StopCompleted, now))

	spans := exporter.GetSpans()
	parent := spanByName(spans, "scenario:mission")
	child := spanByName(spans, "scenario:briefing")
	if parent == nil || child == nil {
		t.Fatalf("missing spans: %v", spans)
	}
	if child.Parent.SpanID() != parent.SpanContext.SpanID() {
		t.Error("sub-scenario span should be a child of the parent run span")
	}
	if got, _ := attr(child, "scenarioflow.parent_run_id"); got != "parent" {
		t.Errorf("parent_run_id = %q", got)
	}
}

func TestTracingHandler_UnknownRunIgnored(t *testing.T) {
	exporter, tp := newTestTracer()
	h := scenariootel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(nodeEvent(runtime.EventNodeCompleted, "nope", 1, time.Now()))
	h.Handle(stopped("nope", runtime.StopCompleted, time.Now()))

	if got := len(exporter.GetSpans()); got != 0 {
		t.Errorf("spans = %d, want 0", got)
	}
}
