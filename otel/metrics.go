package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/scenarioflow/runtime"
)

// MetricsHandler translates player events into OpenTelemetry metrics:
// node activations, completions and failures, fired components, signals
// and scenario durations.
type MetricsHandler struct {
	nodeActivations metric.Int64Counter
	nodeCompletions metric.Int64Counter
	nodeFailures    metric.Int64Counter
	components      metric.Int64Counter
	signals         metric.Int64Counter
	nodeDuration    metric.Float64Histogram
	runDuration     metric.Float64Histogram
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create its instruments.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	h := &MetricsHandler{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&h.nodeActivations, "scenarioflow.node.activations", "Number of node activations"},
		{&h.nodeCompletions, "scenarioflow.node.completions", "Number of node completions"},
		{&h.nodeFailures, "scenarioflow.node.failures", "Number of node failures"},
		{&h.components, "scenarioflow.components.fired", "Number of components fired by action nodes"},
		{&h.signals, "scenarioflow.signals", "Number of signals published"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}

	h.nodeDuration, err = meter.Float64Histogram("scenarioflow.node.duration",
		metric.WithDescription("Time from node activation to completion in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	h.runDuration, err = meter.Float64Histogram("scenarioflow.scenario.duration",
		metric.WithDescription("Duration of a scenario run in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Handle processes a player event and records the appropriate metrics.
// It implements runtime.EventHandler semantics.
func (h *MetricsHandler) Handle(e runtime.Event) {
	ctx := context.Background()
	switch e.Kind {
	case runtime.EventNodeActivated:
		h.nodeActivations.Add(ctx, 1, nodeAttrs(e))
	case runtime.EventNodeCompleted:
		attrs := nodeAttrs(e)
		h.nodeCompletions.Add(ctx, 1, attrs)
		h.nodeDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
	case runtime.EventNodeFailed:
		op, _ := e.Payload["op"].(string)
		h.nodeFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("node_kind", e.NodeKind),
			attribute.String("op", op),
		))
	case runtime.EventComponentFired:
		typ, _ := e.Payload["type"].(string)
		h.components.Add(ctx, 1, metric.WithAttributes(attribute.String("component_type", typ)))
	case runtime.EventSignal:
		h.signals.Add(ctx, 1)
	case runtime.EventScenarioStopped:
		reason, _ := e.Payload["reason"].(string)
		h.runDuration.Record(ctx, e.Elapsed.Seconds(), metric.WithAttributes(
			attribute.String("scenario", e.Scenario),
			attribute.String("reason", reason),
			attribute.Bool("sub_scenario", e.ParentRunID != ""),
		))
	}
}

func nodeAttrs(e runtime.Event) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("node_kind", e.NodeKind))
}
