package runtime

import (
	"log/slog"

	"github.com/petal-labs/scenarioflow/core"
	"github.com/petal-labs/scenarioflow/graph"
	"github.com/petal-labs/scenarioflow/roles"
	"github.com/petal-labs/scenarioflow/variables"
)

// Model is a passive scenario: a graph and its variable scope.
type Model struct {
	Name  string
	Graph *graph.Graph
	Scope *variables.Scope
}

// Loader resolves scenario models by name.
type Loader interface {
	Load(name string) (*Model, error)
}

// Services are shared by reference across a whole context tree.
type Services struct {
	Bus        EventBus
	Loader     Loader
	RoleFilter *roles.Service
	Logger     *slog.Logger
}

// ExecutionContext is the environment handed to node callbacks. Contexts
// form a chain from a root created by CreateRoot; the root only serves as
// parent of the first real context and is never used for execution.
//
// Contexts are immutable by convention. The only mutation is
// UpdateIdentityHash, applied once before a run begins.
type ExecutionContext struct {
	parent    *ExecutionContext
	identity  core.Hash
	services  Services
	variables variables.Context
	graph     *graph.Graph
	player    *Player
}

// CreateRoot returns the root context of a new context tree.
func CreateRoot(services Services) *ExecutionContext {
	if services.Logger == nil {
		services.Logger = slog.Default()
	}
	return &ExecutionContext{
		services:  services,
		variables: variables.New(nil),
	}
}

func (ec *ExecutionContext) child() *ExecutionContext {
	return &ExecutionContext{
		parent:   ec,
		identity: ec.identity,
		services: ec.services,
	}
}

// CreateSubcontextHost returns an authoritative child context for player.
// Its variables derive from the player's scope.
func (ec *ExecutionContext) CreateSubcontextHost(player *Player) *ExecutionContext {
	sub := ec.child()
	sub.variables = variables.New(player.scope)
	sub.graph = player.graph
	sub.player = player
	return sub
}

// CreateSubcontextClient returns an observer child context for a passive
// model. It has no player.
func (ec *ExecutionContext) CreateSubcontextClient(model *Model) *ExecutionContext {
	sub := ec.child()
	if model != nil {
		sub.variables = variables.New(model.Scope)
		sub.graph = model.Graph
	} else {
		sub.variables = variables.New(nil)
	}
	return sub
}

// ClearToRoot returns a fresh root sharing this context's services, with
// empty variables and no graph or player.
func (ec *ExecutionContext) ClearToRoot() *ExecutionContext {
	return &ExecutionContext{
		services:  ec.services,
		variables: variables.New(nil),
	}
}

// UpdateIdentityHash sets the participant identity used for role filtering.
func (ec *ExecutionContext) UpdateIdentityHash(identity core.Hash) {
	ec.identity = identity
}

func (ec *ExecutionContext) Parent() *ExecutionContext    { return ec.parent }
func (ec *ExecutionContext) IdentityHash() core.Hash      { return ec.identity }
func (ec *ExecutionContext) Variables() variables.Context { return ec.variables }
func (ec *ExecutionContext) Graph() *graph.Graph          { return ec.graph }
func (ec *ExecutionContext) Player() *Player              { return ec.player }
func (ec *ExecutionContext) Bus() EventBus                { return ec.services.Bus }
func (ec *ExecutionContext) Loader() Loader               { return ec.services.Loader }
func (ec *ExecutionContext) RoleFilter() *roles.Service   { return ec.services.RoleFilter }
func (ec *ExecutionContext) Logger() *slog.Logger         { return ec.services.Logger }
func (ec *ExecutionContext) Services() Services           { return ec.services }
func (ec *ExecutionContext) IsRoot() bool                 { return ec.parent == nil }

// IsHost reports whether the context belongs to an authoritative player.
func (ec *ExecutionContext) IsHost() bool {
	return ec.player != nil
}

// CanExecute reports whether the context's identity may execute node.
func (ec *ExecutionContext) CanExecute(node graph.FlowNode) bool {
	if ec.services.RoleFilter == nil {
		return true
	}
	return ec.services.RoleFilter.CanBeExecuted(node, ec.identity)
}

// Publish emits e on behalf of a node. Host contexts route through their
// player so the event carries run metadata; other contexts publish to the
// bus directly.
func (ec *ExecutionContext) Publish(e Event) {
	if ec.player != nil {
		ec.player.emit(e)
		return
	}
	if ec.services.Bus != nil {
		ec.services.Bus.Publish(e)
	}
}
