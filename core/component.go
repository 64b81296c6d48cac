// Package core provides the foundational types shared by the scenario graph,
// the variable context, the role filter and the player.
//
// This package contains:
//   - Identity types: Hash, Combine, Identity
//   - Component payloads and the marker components the engine reads
//   - LaunchParameters, the run configuration supplied to a player
package core

// ActivationType is the join policy a node applies over its incoming links.
type ActivationType int

const (
	// ActivationAnd requires every predecessor to be completed.
	ActivationAnd ActivationType = iota
	// ActivationOr requires at least one completed predecessor.
	ActivationOr
)

// String returns "and" or "or".
func (t ActivationType) String() string {
	if t == ActivationOr {
		return "or"
	}
	return "and"
}

// ParseActivationType maps "or" to ActivationOr and anything else to ActivationAnd.
func ParseActivationType(s string) ActivationType {
	if s == "or" || s == "OR" {
		return ActivationOr
	}
	return ActivationAnd
}

// Component is an opaque payload carried by a components node. Actions are
// published on the bus when their node activates; conditions are awaited.
type Component interface {
	// ComponentType returns the registry name of the component.
	ComponentType() string
}

// Ignored marks components the engine neither fires nor awaits.
type Ignored interface {
	Component
	IgnoredByPlayer()
}

// HostOnly marks components that are only fired by a host execution context.
type HostOnly interface {
	Component
	HostOnly()
}

// UseOr switches the owning node to OR join semantics regardless of its
// declared ActivationType.
type UseOr struct{}

func (UseOr) ComponentType() string { return "use_or" }

// Identity is a participant role. Hash is the opaque value compared by the
// role filter; Name is only used for display and authoring.
type Identity struct {
	Name string
	Hash Hash
}

// NewIdentity returns an identity whose hash is derived from its name.
func NewIdentity(name string) *Identity {
	return &Identity{Name: name, Hash: HashString(name)}
}

// RoleInclude opens (or extends) a filter session that only lets the
// identity execute the nodes of the session.
type RoleInclude struct {
	Identity *Identity
}

func (RoleInclude) ComponentType() string { return "role_include" }

// RoleExclude opens (or extends) a filter session that forbids the identity.
type RoleExclude struct {
	Identity *Identity
}

func (RoleExclude) ComponentType() string { return "role_exclude" }

// RoleNodeInclude restricts only the owning node; it does not propagate.
type RoleNodeInclude struct {
	Identity *Identity
}

func (RoleNodeInclude) ComponentType() string { return "role_node_include" }

// RoleNodeExclude forbids the identity on the owning node only.
type RoleNodeExclude struct {
	Identity *Identity
}

func (RoleNodeExclude) ComponentType() string { return "role_node_exclude" }

// RoleReset closes the filter session the owning node belongs to.
type RoleReset struct{}

func (RoleReset) ComponentType() string { return "role_reset" }

// HasComponent reports whether any component satisfies match.
func HasComponent(components []Component, match func(Component) bool) bool {
	for _, c := range components {
		if match(c) {
			return true
		}
	}
	return false
}
