package bus

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/petal-labs/scenarioflow/runtime"
)

// MemBusConfig configures an in-memory event bus.
type MemBusConfig struct {
	// SubscriberBufferSize is the channel buffer size per subscriber (default: 256).
	SubscriberBufferSize int
}

// MemBus is an in-memory event bus. Subscriptions are detached from the bus
// when closed, so short-lived subscribers such as condition nodes do not
// accumulate.
type MemBus struct {
	mu         sync.RWMutex
	subs       map[string][]*memSub // runID -> subscribers
	globalSubs []*memSub
	kindSubs   []*queueSub
	bufSize    int
	closed     bool
	dropped    atomic.Uint64
}

// NewMemBus creates a new in-memory event bus with the given configuration.
func NewMemBus(config MemBusConfig) *MemBus {
	bufSize := config.SubscriberBufferSize
	if bufSize <= 0 {
		bufSize = 256
	}
	return &MemBus{
		subs:    make(map[string][]*memSub),
		bufSize: bufSize,
	}
}

// Publish sends an event to all matching subscribers. Run subscribers
// receive events whose RunID or ParentRunID match; global subscribers
// receive everything. Events published on a closed bus are dropped.
func (b *MemBus) Publish(event runtime.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs[event.RunID] {
		b.send(sub, event)
	}
	if event.ParentRunID != "" && event.ParentRunID != event.RunID {
		for _, sub := range b.subs[event.ParentRunID] {
			b.send(sub, event)
		}
	}
	for _, sub := range b.globalSubs {
		b.send(sub, event)
	}
	for _, sub := range b.kindSubs {
		if sub.wants(event.Kind) {
			sub.push(event)
		}
	}
}

func (b *MemBus) send(sub *memSub, event runtime.Event) {
	if !sub.send(event) {
		b.dropped.Add(1)
	}
}

// Subscribe registers a subscriber for runID.
func (b *MemBus) Subscribe(runID string) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := b.newSub(runID, false)
	if !b.closed {
		b.subs[runID] = append(b.subs[runID], sub)
	}
	return sub
}

// SubscribeAll registers a subscriber that receives events from all runs.
func (b *MemBus) SubscribeAll() Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := b.newSub("", true)
	if !b.closed {
		b.globalSubs = append(b.globalSubs, sub)
	}
	return sub
}

// SubscribeKinds registers a subscriber for events of the given kinds from
// all runs; no kinds means every kind. Events queue without bound until
// read, so Publish never blocks on it and nothing is dropped.
func (b *MemBus) SubscribeKinds(kinds ...runtime.EventKind) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newQueueSub(kinds)
	if b.closed {
		sub.close()
		return sub
	}
	sub.detach = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.kindSubs = slices.DeleteFunc(b.kindSubs, func(s *queueSub) bool { return s == sub })
	}
	b.kindSubs = append(b.kindSubs, sub)
	return sub
}

func (b *MemBus) newSub(runID string, global bool) *memSub {
	sub := &memSub{ch: make(chan runtime.Event, b.bufSize)}
	if b.closed {
		sub.close()
		return sub
	}
	sub.detach = func() { b.detach(sub, runID, global) }
	return sub
}

func (b *MemBus) detach(sub *memSub, runID string, global bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if global {
		b.globalSubs = slices.DeleteFunc(b.globalSubs, func(s *memSub) bool { return s == sub })
		return
	}
	b.subs[runID] = slices.DeleteFunc(b.subs[runID], func(s *memSub) bool { return s == sub })
	if len(b.subs[runID]) == 0 {
		delete(b.subs, runID)
	}
}

// Subscribers returns the number of attached subscriptions.
func (b *MemBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.globalSubs) + len(b.kindSubs)
	for _, subs := range b.subs {
		n += len(subs)
	}
	return n
}

// Dropped returns how many deliveries were dropped because a subscriber's
// buffer was full.
func (b *MemBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close shuts down the bus and all active subscriptions.
func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
	}
	for _, sub := range b.globalSubs {
		sub.close()
	}
	for _, sub := range b.kindSubs {
		sub.close()
	}
	clear(b.subs)
	b.globalSubs = nil
	b.kindSubs = nil
	return nil
}

// memSub is an in-memory subscription.
type memSub struct {
	ch     chan runtime.Event
	detach func()

	mu     sync.Mutex
	closed bool
}

func (s *memSub) Events() <-chan runtime.Event {
	return s.ch
}

// Close detaches the subscription from its bus and closes the channel.
func (s *memSub) Close() error {
	if s.close() && s.detach != nil {
		s.detach()
	}
	return nil
}

// close closes the channel once and reports whether this call did it.
func (s *memSub) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.closed = true
	close(s.ch)
	return true
}

// send delivers an event without blocking. It reports false when the
// event was dropped because the buffer is full.
func (s *memSub) send(event runtime.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}
	select {
	case s.ch <- event:
		return true
	default:
		return false
	}
}

// queueSub is a subscription restricted to some event kinds that never
// drops: Publish appends to an unbounded queue and a pump goroutine feeds
// the channel in order.
type queueSub struct {
	kinds  []runtime.EventKind
	out    chan runtime.Event
	wake   chan struct{}
	done   chan struct{}
	detach func()

	mu     sync.Mutex
	queue  []runtime.Event
	closed bool
}

func newQueueSub(kinds []runtime.EventKind) *queueSub {
	s := &queueSub{
		kinds: slices.Clone(kinds),
		out:   make(chan runtime.Event),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *queueSub) wants(kind runtime.EventKind) bool {
	return len(s.kinds) == 0 || slices.Contains(s.kinds, kind)
}

func (s *queueSub) push(event runtime.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *queueSub) next() (runtime.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return runtime.Event{}, false
	}
	e := s.queue[0]
	s.queue[0] = runtime.Event{}
	s.queue = s.queue[1:]
	return e, true
}

func (s *queueSub) pump() {
	defer close(s.out)
	for {
		e, ok := s.next()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case s.out <- e:
		case <-s.done:
			return
		}
	}
}

func (s *queueSub) Events() <-chan runtime.Event {
	return s.out
}

// Close detaches the subscription from its bus and closes the channel.
func (s *queueSub) Close() error {
	if s.close() && s.detach != nil {
		s.detach()
	}
	return nil
}

func (s *queueSub) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.closed = true
	s.queue = nil
	close(s.done)
	return true
}

// Compile-time interface checks.
var (
	_ EventBus         = (*MemBus)(nil)
	_ runtime.EventBus = (*MemBus)(nil)
	_ Subscription     = (*memSub)(nil)
	_ Subscription     = (*queueSub)(nil)
)
