package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/petal-labs/scenarioflow/bus"
	"github.com/petal-labs/scenarioflow/config"
	"github.com/petal-labs/scenarioflow/metrics"
	scenariootel "github.com/petal-labs/scenarioflow/otel"
	"github.com/petal-labs/scenarioflow/runtime"
	"github.com/petal-labs/scenarioflow/sse"
)

// telemetry bundles the observers attached to a player: tracing, OTel and
// Prometheus metrics, and the optional HTTP endpoint.
type telemetry struct {
	handlers  []runtime.EventHandler
	decorator runtime.EventEmitterDecorator
	closers   []func(context.Context) error
	logger    *slog.Logger

	// Addr is the bound HTTP address, empty when no server runs.
	Addr string
}

// setupTelemetry wires observers from cfg. The tracer provider always
// samples so stored events carry trace IDs; spans are exported only when
// an OTLP endpoint is configured.
func setupTelemetry(ctx context.Context, cfg config.Config, eb *bus.MemBus, store bus.EventStore, logger *slog.Logger) (*telemetry, error) {
	t := &telemetry{logger: logger}

	tp, err := newTracerProvider(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	t.closers = append(t.closers, tp.Shutdown)

	tracing := scenariootel.NewTracingHandler(tp.Tracer("scenarioflow/runtime"))
	t.handlers = append(t.handlers, tracing.Handle)
	t.decorator = scenariootel.Decorator(tracing)

	otelMetrics, err := scenariootel.NewMetricsHandler(otelapi.GetMeterProvider().Meter("scenarioflow/runtime"))
	if err != nil {
		return nil, fmt.Errorf("initializing otel metrics: %w", err)
	}
	t.handlers = append(t.handlers, otelMetrics.Handle)

	if cfg.MetricsAddr == "" {
		return t, nil
	}

	// A private registry keeps one process's runs from colliding with
	// metrics registered by an embedding program.
	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("initializing prometheus metrics: %w", err)
	}
	if err := collector.WatchBus(eb); err != nil {
		return nil, fmt.Errorf("initializing prometheus metrics: %w", err)
	}
	t.handlers = append(t.handlers, collector.Handle)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", collector.Handler())
	mux.Handle("GET /runs/{run_id}/events", sse.NewHandler(store, eb))
	if err := t.serve(cfg.MetricsAddr, mux); err != nil {
		_ = t.Close(ctx)
		return nil, err
	}
	return t, nil
}

func newTracerProvider(ctx context.Context, endpoint string) (*sdktrace.TracerProvider, error) {
	res := resource.NewSchemaless(attribute.String("service.name", "scenarioflow"))
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	if endpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

func (t *telemetry) serve(addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	t.Addr = ln.Addr().String()

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("metrics server failed", "addr", t.Addr, "error", err)
		}
	}()
	t.closers = append(t.closers, srv.Shutdown)
	t.logger.Info("serving metrics and event streams", "addr", t.Addr)
	return nil
}

// Handle fans e out to every observer.
func (t *telemetry) Handle(e runtime.Event) {
	for _, h := range t.handlers {
		h(e)
	}
}

// Close flushes exporters and stops the HTTP server.
func (t *telemetry) Close(ctx context.Context) error {
	var errs []error
	for i := len(t.closers) - 1; i >= 0; i-- {
		errs = append(errs, t.closers[i](ctx))
	}
	return errors.Join(errs...)
}
