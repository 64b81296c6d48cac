package otel

import (
	"github.com/petal-labs/scenarioflow/runtime"
)

// EnrichEmitter wraps an EventEmitter with OpenTelemetry trace context.
// Node events take the node span when one is open, other events the run
// span. When no span is active the event passes through unchanged.
func EnrichEmitter(emit runtime.EventEmitter, tracing *TracingHandler) runtime.EventEmitter {
	return func(e runtime.Event) {
		if e.NodeHash != 0 {
			sc := tracing.ActiveSpanContext(e.RunID, e.NodeHash)
			if sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		if e.TraceID == "" && e.RunID != "" {
			sc := tracing.ActiveRunSpanContext(e.RunID)
			if sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		emit(e)
	}
}

// Decorator returns an emitter decorator for runtime.PlayerConfig.
func Decorator(tracing *TracingHandler) runtime.EventEmitterDecorator {
	return func(emit runtime.EventEmitter) runtime.EventEmitter {
		return EnrichEmitter(emit, tracing)
	}
}
