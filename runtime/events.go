package runtime

import (
	"time"

	"github.com/petal-labs/scenarioflow/core"
)

// EventKind identifies the type of event emitted by a player.
type EventKind string

const (
	// EventScenarioStarted is emitted when a player begins a run.
	EventScenarioStarted EventKind = "scenario.started"

	// EventScenarioStopped is emitted when a run ends, for any reason.
	// The payload "reason" is one of completed, dead_end or stopped.
	EventScenarioStopped EventKind = "scenario.stopped"

	// EventNodeActivating is emitted right before a node's Activate callback.
	EventNodeActivating EventKind = "node.activating"

	// EventNodeActivated is emitted right after a node's Activate callback.
	EventNodeActivated EventKind = "node.activated"

	// EventNodeCompleting is emitted right before a node's Deactivate callback.
	EventNodeCompleting EventKind = "node.completing"

	// EventNodeCompleted is emitted right after a node's Deactivate callback.
	EventNodeCompleted EventKind = "node.completed"

	// EventNodeFailed is emitted when a node callback panics or its wait
	// fails with anything other than cancellation.
	EventNodeFailed EventKind = "node.failed"

	// EventSubPlayerAdded is emitted by a parent when it creates a sub-player.
	EventSubPlayerAdded EventKind = "subplayer.added"

	// EventSubPlayerRemoved is emitted by a parent when it detaches a sub-player.
	EventSubPlayerRemoved EventKind = "subplayer.removed"

	// EventComponentFired is emitted for each action component a node fires.
	EventComponentFired EventKind = "component.fired"

	// EventSignal carries an external signal awaited by condition nodes.
	EventSignal EventKind = "signal"

	// EventVariableSet is emitted when a node writes a variable.
	EventVariableSet EventKind = "variable.set"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Stop reasons carried in the payload of EventScenarioStopped.
const (
	StopCompleted = "completed"
	StopDeadEnd   = "dead_end"
	StopRequested = "stopped"
)

// Event is a structured record of what happened during a run. Events
// should be kept small; component payloads are referenced by type name.
type Event struct {
	// Kind identifies the event type.
	Kind EventKind

	// RunID identifies one Play of one player.
	RunID string

	// ParentRunID is the run of the parent player for sub-player events.
	ParentRunID string

	// Scenario is the scenario name of the run.
	Scenario string

	// NodeHash is the node that produced the event (0 for run-level events).
	NodeHash core.Hash

	// NodeKind is the kind of node (empty for run-level events).
	NodeKind string

	// Time is when the event occurred.
	Time time.Time

	// Elapsed is the duration since the run or node started.
	Elapsed time.Duration

	// Payload contains event-specific data.
	Payload map[string]any

	// Seq is a monotonic sequence number per run (1-indexed).
	Seq uint64

	// TraceID is the OpenTelemetry trace ID (hex-encoded, empty when OTel inactive).
	TraceID string

	// SpanID is the OpenTelemetry span ID (hex-encoded, empty when OTel inactive).
	SpanID string
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(kind EventKind, runID string) Event {
	return Event{
		Kind:    kind,
		RunID:   runID,
		Time:    time.Now(),
		Payload: make(map[string]any),
	}
}

// WithNode sets the node information on the event.
func (e Event) WithNode(hash core.Hash, kind string) Event {
	e.NodeHash = hash
	e.NodeKind = kind
	return e
}

// WithElapsed sets the elapsed duration on the event.
func (e Event) WithElapsed(elapsed time.Duration) Event {
	e.Elapsed = elapsed
	return e
}

// WithPayload adds a key-value pair to the event payload.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// IsNodeEvent reports whether the event belongs to a node.
func (e Event) IsNodeEvent() bool {
	return e.NodeHash != 0
}

// EventEmitter is a function type for emitting events.
type EventEmitter func(Event)

// EventEmitterDecorator wraps an emitter to add cross-cutting behavior.
// Typical uses include enriching emitted events (for example with trace metadata).
type EventEmitterDecorator func(EventEmitter) EventEmitter

// EventPublisher can publish events to external subscribers.
type EventPublisher interface {
	Publish(event Event)
}

// Subscription receives events.
type Subscription interface {
	// Events returns a channel of events for this subscription.
	Events() <-chan Event

	// Close unsubscribes and releases resources.
	Close() error
}

// EventBus is the part of an event bus nodes rely on: condition nodes
// subscribe to it, action nodes publish to it. bus.MemBus satisfies it.
type EventBus interface {
	EventPublisher

	// SubscribeKinds registers a subscriber for events of the given kinds
	// from every run. Deliveries are never dropped: events queue until the
	// subscriber reads them or closes the subscription.
	SubscribeKinds(kinds ...EventKind) Subscription
}

// EventHandler is a function type for handling events.
// Implementations can log, store, or forward events as needed.
type EventHandler func(Event)

// MultiEventHandler combines multiple handlers into one.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}

// ChannelEventHandler returns a handler that sends events to a channel.
// Events are dropped if the channel is full.
func ChannelEventHandler(ch chan<- Event) EventHandler {
	return func(e Event) {
		select {
		case ch <- e:
		default:
		}
	}
}
