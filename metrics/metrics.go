// Package metrics exposes scenario player events as Prometheus metrics.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/petal-labs/scenarioflow/runtime"
)

// BusStats is the part of an event bus the collector samples.
type BusStats interface {
	Subscribers() int
	Dropped() uint64
}

// Collector bundles the Prometheus metrics for scenario runs and serves them
// over HTTP.
type Collector struct {
	gatherer prometheus.Gatherer
	reg      prometheus.Registerer

	ScenariosStarted *prometheus.CounterVec
	ScenariosStopped *prometheus.CounterVec
	ActiveScenarios  prometheus.Gauge
	NodeCompletions  *prometheus.CounterVec
	NodeDurations    *prometheus.HistogramVec
	NodeFailures     *prometheus.CounterVec
	ComponentsFired  *prometheus.CounterVec
}

// NewCollector registers the scenario metrics against reg, defaulting to
// the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &Collector{gatherer: gatherer, reg: reg}

	var err error
	if c.ScenariosStarted, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scenarioflow_scenarios_started_total",
		Help: "Scenario runs started, labeled by scenario.",
	}, []string{"scenario"}), "scenarioflow_scenarios_started_total"); err != nil {
		return nil, err
	}
	if c.ScenariosStopped, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scenarioflow_scenarios_stopped_total",
		Help: "Scenario runs stopped, labeled by scenario and stop reason.",
	}, []string{"scenario", "reason"}), "scenarioflow_scenarios_stopped_total"); err != nil {
		return nil, err
	}
	if c.ActiveScenarios, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scenarioflow_active_scenarios",
		Help: "Scenario runs currently playing, sub-scenarios included.",
	}), "scenarioflow_active_scenarios"); err != nil {
		return nil, err
	}
	if c.NodeCompletions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scenarioflow_node_completions_total",
		Help: "Completed nodes, labeled by node kind.",
	}, []string{"node_kind"}), "scenarioflow_node_completions_total"); err != nil {
		return nil, err
	}
	if c.NodeDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scenarioflow_node_duration_seconds",
		Help:    "Time from node activation to completion in seconds.",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"node_kind"}), "scenarioflow_node_duration_seconds"); err != nil {
		return nil, err
	}
	if c.NodeFailures, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scenarioflow_node_failures_total",
		Help: "Node callbacks that panicked or waits that failed, labeled by node kind and operation.",
	}, []string{"node_kind", "op"}), "scenarioflow_node_failures_total"); err != nil {
		return nil, err
	}
	if c.ComponentsFired, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scenarioflow_components_fired_total",
		Help: "Components fired by action nodes, labeled by component type.",
	}, []string{"type"}), "scenarioflow_components_fired_total"); err != nil {
		return nil, err
	}
	return c, nil
}

// Handle records a player event. It implements runtime.EventHandler
// semantics.
func (c *Collector) Handle(e runtime.Event) {
	if c == nil {
		return
	}
	switch e.Kind {
	case runtime.EventScenarioStarted:
		c.ScenariosStarted.WithLabelValues(e.Scenario).Inc()
		c.ActiveScenarios.Inc()
	case runtime.EventScenarioStopped:
		reason, _ := e.Payload["reason"].(string)
		c.ScenariosStopped.WithLabelValues(e.Scenario, reason).Inc()
		c.ActiveScenarios.Dec()
	case runtime.EventNodeCompleted:
		c.NodeCompletions.WithLabelValues(e.NodeKind).Inc()
		c.NodeDurations.WithLabelValues(e.NodeKind).Observe(e.Elapsed.Seconds())
	case runtime.EventNodeFailed:
		op, _ := e.Payload["op"].(string)
		c.NodeFailures.WithLabelValues(e.NodeKind, op).Inc()
	case runtime.EventComponentFired:
		typ, _ := e.Payload["type"].(string)
		c.ComponentsFired.WithLabelValues(typ).Inc()
	}
}

// WatchBus exports the subscriber count and dropped-event total of b.
func (c *Collector) WatchBus(b BusStats) error {
	subs := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "scenarioflow_bus_subscribers",
		Help: "Open event bus subscriptions.",
	}, func() float64 { return float64(b.Subscribers()) })
	if err := c.reg.Register(subs); err != nil {
		return fmt.Errorf("metrics: register bus subscribers: %w", err)
	}
	dropped := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "scenarioflow_bus_dropped_events_total",
		Help: "Events dropped because a subscriber buffer was full.",
	}, func() float64 { return float64(b.Dropped()) })
	if err := c.reg.Register(dropped); err != nil {
		return fmt.Errorf("metrics: register bus dropped: %w", err)
	}
	return nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// register registers col, returning the already registered collector of the
// same type when one exists under the same descriptor.
func register[T prometheus.Collector](reg prometheus.Registerer, col T, name string) (T, error) {
	if err := reg.Register(col); err != nil {
		var zero T
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			return zero, fmt.Errorf("metrics: collector %s already registered with incompatible type", name)
		}
		return zero, err
	}
	return col, nil
}
