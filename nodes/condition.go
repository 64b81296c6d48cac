package nodes

import (
	"context"
	"errors"
	"sync"

	"github.com/petal-labs/scenarioflow/core"
	"github.com/petal-labs/scenarioflow/runtime"
)

// ErrSubscriptionClosed is returned by Condition.Wait when the bus closes
// the subscription before every component is satisfied.
var ErrSubscriptionClosed = errors.New("nodes: condition subscription closed")

// Condition completes once every Matcher component it carries has been
// satisfied, in any order. A condition without matchers, or one the role
// filter excludes for the context's identity, completes immediately.
type Condition struct {
	base

	mu    sync.Mutex
	watch *watch
}

type watch struct {
	sub     runtime.Subscription
	pending []func(runtime.Event) bool
}

// NewCondition returns a condition node.
func NewCondition(hash core.Hash, activation core.ActivationType, components ...core.Component) *Condition {
	n := &Condition{}
	n.base = newBase(n, hash, activation, components)
	return n
}

func (n *Condition) Kind() string { return KindCondition }

func (n *Condition) Activate(ec *runtime.ExecutionContext) {
	w := &watch{}
	if ec.CanExecute(n) {
		// Subscribe before evaluating so nothing published after activation
		// is missed. Matchers only read signals and variable writes.
		if bus := ec.Bus(); bus != nil {
			w.sub = bus.SubscribeKinds(runtime.EventSignal, runtime.EventVariableSet)
		}
		for _, c := range ec.Variables().Process(n) {
			m, ok := c.(Matcher)
			if !ok {
				continue
			}
			match, satisfied := m.Watch(ec)
			if !satisfied {
				w.pending = append(w.pending, match)
			}
		}
	}
	if len(w.pending) == 0 && w.sub != nil {
		_ = w.sub.Close()
		w.sub = nil
	}

	n.mu.Lock()
	n.watch = w
	n.mu.Unlock()
}

func (n *Condition) Deactivate(*runtime.ExecutionContext) {
	n.mu.Lock()
	w := n.watch
	n.watch = nil
	n.mu.Unlock()

	if w != nil && w.sub != nil {
		_ = w.sub.Close()
	}
}

func (n *Condition) Wait(ctx context.Context) error {
	n.mu.Lock()
	w := n.watch
	n.mu.Unlock()

	if w == nil || len(w.pending) == 0 {
		return nil
	}
	if w.sub == nil {
		// Nothing can ever satisfy the condition; wait to be skipped or stopped.
		<-ctx.Done()
		return ctx.Err()
	}

	pending := w.pending
	events := w.sub.Events()
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				return ErrSubscriptionClosed
			}
			pending = deleteMatched(pending, e)
		}
	}
	return nil
}

func deleteMatched(pending []func(runtime.Event) bool, e runtime.Event) []func(runtime.Event) bool {
	kept := pending[:0]
	for _, match := range pending {
		if !match(e) {
			kept = append(kept, match)
		}
	}
	return kept
}
