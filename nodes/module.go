package nodes

import (
	"context"
	"sync"

	"github.com/petal-labs/scenarioflow/core"
	"github.com/petal-labs/scenarioflow/runtime"
)

// Module plays another scenario, resolved by name through the context's
// loader, in a sub-player. The node completes when the sub-scenario stops.
// The nested variables of the activating context are passed down.
//
// Only host contexts run modules; elsewhere, and when the role filter
// excludes the identity, the node completes immediately.
type Module struct {
	base
	Scenario string

	mu  sync.Mutex
	sub *runtime.Player
}

// NewModule returns a module node playing scenario.
func NewModule(hash core.Hash, activation core.ActivationType, scenario string, components ...core.Component) *Module {
	n := &Module{Scenario: scenario}
	n.base = newBase(n, hash, activation, components)
	return n
}

func (n *Module) Kind() string { return KindModule }

func (n *Module) Activate(ec *runtime.ExecutionContext) {
	parent := ec.Player()
	if parent == nil || !ec.CanExecute(n) {
		return
	}
	loader := ec.Loader()
	if loader == nil {
		ec.Logger().Error("nodes: module without a loader", "node", n.Hash(), "scenario", n.Scenario)
		return
	}
	model, err := loader.Load(n.Scenario)
	if err != nil {
		ec.Logger().Error("nodes: load module scenario", "node", n.Hash(), "scenario", n.Scenario, "error", err)
		return
	}

	sub := parent.CreateSubPlayer()
	sub.CreateSubExecutionContext(model.Graph, model.Scope)
	if err := sub.ExecutionContext().Variables().MixContext(ec.Variables()); err != nil {
		ec.Logger().Error("nodes: mix module variables", "node", n.Hash(), "error", err)
	}

	n.mu.Lock()
	n.sub = sub
	n.mu.Unlock()

	sub.Play(nil, nil, nil)
}

func (n *Module) Deactivate(ec *runtime.ExecutionContext) {
	n.mu.Lock()
	sub := n.sub
	n.sub = nil
	n.mu.Unlock()

	if sub != nil && sub.Parent() != nil {
		sub.Parent().RemoveSubPlayer(sub)
	}
}

func (n *Module) Wait(ctx context.Context) error {
	n.mu.Lock()
	sub := n.sub
	n.mu.Unlock()
	if sub == nil {
		return nil
	}
	select {
	case <-sub.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubPlayer returns the player running the current sub-scenario, if any.
func (n *Module) SubPlayer() *runtime.Player {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sub
}
