// Package nodes provides the concrete scenario nodes and components played
// by runtime.Player, and the factory that builds them from definitions.
package nodes

import (
	"context"

	"github.com/petal-labs/scenarioflow/core"
	"github.com/petal-labs/scenarioflow/graph"
	"github.com/petal-labs/scenarioflow/runtime"
)

// Node kinds, matching the registry node types.
const (
	KindStart     = "start"
	KindEnd       = "end"
	KindAction    = "action"
	KindCondition = "condition"
	KindDelay     = "delay"
	KindModule    = "module"
)

// Applier is an action component with an effect beyond being published,
// such as writing a variable. Apply runs on the player's loop.
type Applier interface {
	core.Component
	Apply(ec *runtime.ExecutionContext, node graph.FlowNode)
}

// Matcher is a condition component. Watch runs on the player's loop when
// the owning node activates. It returns a predicate that is fed every
// subsequent bus event from the waiting goroutine, and whether the
// condition already holds.
type Matcher interface {
	core.Component
	Watch(ec *runtime.ExecutionContext) (match func(runtime.Event) bool, satisfied bool)
}

// base implements runtime.Node for nodes that complete as soon as they are
// activated. self is the outermost node value; it is the key the player and
// the role filter know the node by.
type base struct {
	graph.NodeBase
	self       graph.ComponentsNode
	components []core.Component
}

func newBase(self graph.ComponentsNode, hash core.Hash, activation core.ActivationType, components []core.Component) base {
	return base{
		NodeBase:   graph.NewNodeBase(hash, activation),
		self:       self,
		components: components,
	}
}

func (b *base) Components() []core.Component         { return b.components }
func (b *base) Activate(*runtime.ExecutionContext)   {}
func (b *base) Deactivate(*runtime.ExecutionContext) {}
func (b *base) Wait(context.Context) error           { return nil }
func (b *base) AllowNext() bool                      { return true }

// AddComponent appends c to the node's components.
func (b *base) AddComponent(c core.Component) {
	b.components = append(b.components, c)
}

// Action fires its components when activated and completes immediately.
// Nodes the role filter excludes for the context's identity complete
// without firing.
type Action struct {
	base
}

// NewAction returns an action node.
func NewAction(hash core.Hash, activation core.ActivationType, components ...core.Component) *Action {
	n := &Action{}
	n.base = newBase(n, hash, activation, components)
	return n
}

func (n *Action) Kind() string { return KindAction }

func (n *Action) Activate(ec *runtime.ExecutionContext) {
	fire(ec, n.self)
}

// Start is an entry node. It fires its components like an action.
type Start struct {
	base
}

// NewStart returns a start node.
func NewStart(hash core.Hash, components ...core.Component) *Start {
	n := &Start{}
	n.base = newBase(n, hash, core.ActivationAnd, components)
	return n
}

func (n *Start) Kind() string                          { return KindStart }
func (n *Start) StartNode()                            {}
func (n *Start) Activate(ec *runtime.ExecutionContext) { fire(ec, n.self) }

// End is a node the scenario waits on. It fires its components like an
// action.
type End struct {
	base
}

// NewEnd returns an end node.
func NewEnd(hash core.Hash, activation core.ActivationType, components ...core.Component) *End {
	n := &End{}
	n.base = newBase(n, hash, activation, components)
	return n
}

func (n *End) Kind() string                          { return KindEnd }
func (n *End) EndNode()                              {}
func (n *End) Activate(ec *runtime.ExecutionContext) { fire(ec, n.self) }

// fire publishes the node's action components with variable overrides
// applied.
func fire(ec *runtime.ExecutionContext, node graph.ComponentsNode) {
	if !ec.CanExecute(node) {
		return
	}
	for _, c := range ec.Variables().Process(node) {
		if !isAction(c) {
			continue
		}
		if _, ok := c.(core.HostOnly); ok && !ec.IsHost() {
			continue
		}
		if a, ok := c.(Applier); ok {
			a.Apply(ec, node)
		}
		ec.Publish(runtime.NewEvent(runtime.EventComponentFired, "").
			WithNode(node.Hash(), runtime.NodeKind(node)).
			WithPayload("type", c.ComponentType()).
			WithPayload("component", c))
	}
}

// isAction reports whether c is fired rather than awaited or read by the
// engine.
func isAction(c core.Component) bool {
	switch c.(type) {
	case core.Ignored, Matcher:
		return false
	case core.UseOr, core.RoleInclude, core.RoleExclude, core.RoleNodeInclude, core.RoleNodeExclude, core.RoleReset:
		return false
	}
	return true
}
