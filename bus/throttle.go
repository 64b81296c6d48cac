package bus

import (
	"cmp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/petal-labs/scenarioflow/runtime"
)

// ThrottleConfig controls the behavior of ThrottledEmitter.
type ThrottleConfig struct {
	// CoalesceInterval is how often to flush coalesced variable writes.
	// Default: 100ms
	CoalesceInterval time.Duration
}

type variableKey struct {
	runID string
	name  string
}

// ThrottledEmitter wraps a runtime.EventEmitter for slow observers such as
// a terminal. variable.set events are coalesced per run and variable: only
// the latest write within each interval is forwarded. Every other event
// passes through immediately.
type ThrottledEmitter struct {
	emit     runtime.EventEmitter
	interval time.Duration

	mu      sync.Mutex
	pending map[variableKey]runtime.Event
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewThrottledEmitter wraps emit. Close must be called to stop the flusher.
func NewThrottledEmitter(emit runtime.EventEmitter, cfg ThrottleConfig) *ThrottledEmitter {
	interval := cfg.CoalesceInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	te := &ThrottledEmitter{
		emit:     emit,
		interval: interval,
		pending:  make(map[variableKey]runtime.Event),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	go te.run()

	return te
}

// Emit forwards e, or holds it until the next flush if it is a variable
// write. Writes emitted after Close are dropped.
func (te *ThrottledEmitter) Emit(e runtime.Event) {
	if e.Kind != runtime.EventVariableSet {
		te.emit(e)
		return
	}

	name, _ := e.Payload["name"].(string)
	te.mu.Lock()
	defer te.mu.Unlock()

	if te.closed {
		return
	}
	te.pending[variableKey{runID: e.RunID, name: name}] = e
}

// Handler returns Emit as a runtime.EventHandler.
func (te *ThrottledEmitter) Handler() runtime.EventHandler {
	return te.Emit
}

// Close flushes any pending variable writes and stops the background ticker.
// It is safe to call Close multiple times.
func (te *ThrottledEmitter) Close() {
	te.mu.Lock()
	if te.closed {
		te.mu.Unlock()
		return
	}
	te.closed = true
	te.mu.Unlock()

	// Signal the background goroutine to stop.
	close(te.stopCh)

	// Wait for the background goroutine to finish.
	<-te.doneCh
}

// run periodically flushes coalesced writes.
func (te *ThrottledEmitter) run() {
	defer close(te.doneCh)

	ticker := time.NewTicker(te.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			te.flush()
		case <-te.stopCh:
			te.flush()
			return
		}
	}
}

// flush forwards pending writes in sequence order.
func (te *ThrottledEmitter) flush() {
	te.mu.Lock()
	if len(te.pending) == 0 {
		te.mu.Unlock()
		return
	}

	toFlush := make([]runtime.Event, 0, len(te.pending))
	for _, e := range te.pending {
		toFlush = append(toFlush, e)
	}
	te.pending = make(map[variableKey]runtime.Event)
	te.mu.Unlock()

	slices.SortFunc(toFlush, func(a, b runtime.Event) int {
		return cmp.Or(strings.Compare(a.RunID, b.RunID), cmp.Compare(a.Seq, b.Seq))
	})
	for _, e := range toFlush {
		te.emit(e)
	}
}
