// Package bus distributes scenario player events. Condition nodes wait on
// it for signals and variable writes; stores, loggers and metrics observe
// it.
package bus

import "github.com/petal-labs/scenarioflow/runtime"

// EventBus distributes events to subscribers.
type EventBus interface {
	runtime.EventBus

	// Subscribe registers a subscriber for one run and the runs of its
	// sub-scenarios. The Subscription must be closed when done.
	Subscribe(runID string) Subscription

	// SubscribeAll registers a subscriber for every event of every run.
	// Slow subscribers lose events once their buffer fills.
	SubscribeAll() Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription receives events.
type Subscription = runtime.Subscription
