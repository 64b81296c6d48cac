// Package variables implements the two-tier variable environment used to
// rewrite component fields from scenario variables before they fire.
package variables

import (
	"errors"
	"fmt"
	"maps"

	"github.com/petal-labs/scenarioflow/core"
	"github.com/petal-labs/scenarioflow/graph"
)

var (
	ErrNotFound       = errors.New("variables: variable not found")
	ErrUnknownType    = errors.New("variables: unknown type")
	ErrInvalidContext = errors.New("variables: context is not initialized")
)

// Tier selects one half of a Context.
type Tier int

const (
	// Local is the read-mostly tier inherited from the scenario scope.
	Local Tier = iota
	// Nested is the per-run tier holding mixed-in bindings.
	Nested
)

func (t Tier) String() string {
	switch t {
	case Local:
		return "local"
	case Nested:
		return "nested"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ComponentOverride maps a component field name to a variable name.
type ComponentOverride map[string]string

// Scope is the variable environment of a scenario model: its declared
// variables and, per node, per component index, the field bindings.
type Scope struct {
	Variables map[string]Value
	Overrides map[core.Hash][]ComponentOverride
}

// NewScope returns an empty scope.
func NewScope() *Scope {
	return &Scope{
		Variables: make(map[string]Value),
		Overrides: make(map[core.Hash][]ComponentOverride),
	}
}

// Bind records that field of the component at index on node reads variable.
func (s *Scope) Bind(node core.Hash, index int, field, variable string) {
	if s.Overrides == nil {
		s.Overrides = make(map[core.Hash][]ComponentOverride)
	}
	list := s.Overrides[node]
	for len(list) <= index {
		list = append(list, nil)
	}
	if list[index] == nil {
		list[index] = make(ComponentOverride)
	}
	list[index][field] = variable
	s.Overrides[node] = list
}

// Context is a two-tier variable environment. It is a small value type:
// copies share the underlying tiers. The zero Context is empty and read-only.
type Context struct {
	local     map[string]Value
	nested    map[string]Value
	overrides map[core.Hash][]ComponentOverride
}

// New derives a context from scope. The local tier is a copy of the scope's
// variables; the nested tier starts empty.
func New(scope *Scope) Context {
	c := Context{
		local:  make(map[string]Value),
		nested: make(map[string]Value, 3),
	}
	if scope != nil {
		maps.Copy(c.local, scope.Variables)
		c.overrides = scope.Overrides
	}
	return c
}

// IsValid reports whether the context was created with New.
func (c Context) IsValid() bool {
	return c.local != nil && c.nested != nil
}

// Len returns the number of bindings across both tiers, counting shadowed
// names once.
func (c Context) Len() int {
	return len(c.GetAll())
}

// TryGet looks a variable up in the nested tier, then the local tier.
func (c Context) TryGet(name string) (Value, bool) {
	if v, ok := c.nested[name]; ok {
		return v, true
	}
	v, ok := c.local[name]
	return v, ok
}

// TryGetIn looks a variable up in a single tier.
func (c Context) TryGetIn(name string, tier Tier) (Value, bool) {
	m, err := c.tier(tier)
	if err != nil {
		return Value{}, false
	}
	v, ok := m[name]
	return v, ok
}

// Get is TryGet returning ErrNotFound for unknown names.
func (c Context) Get(name string) (Value, error) {
	v, ok := c.TryGet(name)
	if !ok {
		return Value{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return v, nil
}

// GetIn is TryGetIn returning ErrNotFound for unknown names.
func (c Context) GetIn(name string, tier Tier) (Value, error) {
	v, ok := c.TryGetIn(name, tier)
	if !ok {
		return Value{}, fmt.Errorf("%w: %q in %s tier", ErrNotFound, name, tier)
	}
	return v, nil
}

// GetAll merges both tiers; nested bindings win on collision.
func (c Context) GetAll() map[string]Value {
	merged := make(map[string]Value, len(c.local)+len(c.nested))
	maps.Copy(merged, c.local)
	maps.Copy(merged, c.nested)
	return merged
}

// Insert binds name in the given tier, replacing any previous binding.
func (c Context) Insert(name string, v Value, tier Tier) error {
	if !c.IsValid() {
		return ErrInvalidContext
	}
	m, err := c.tier(tier)
	if err != nil {
		return err
	}
	m[name] = v
	return nil
}

// Remove unbinds name from the given tier.
func (c Context) Remove(name string, tier Tier) bool {
	m, err := c.tier(tier)
	if err != nil {
		return false
	}
	if _, ok := m[name]; !ok {
		return false
	}
	delete(m, name)
	return true
}

// Mix copies bindings into the nested tier.
func (c Context) Mix(vars map[string]Value) error {
	if !c.IsValid() {
		return ErrInvalidContext
	}
	maps.Copy(c.nested, vars)
	return nil
}

// MixContext copies the nested tier of other into this context's nested tier.
func (c Context) MixContext(other Context) error {
	return c.Mix(other.nested)
}

func (c Context) tier(t Tier) (map[string]Value, error) {
	switch t {
	case Local:
		return c.local, nil
	case Nested:
		return c.nested, nil
	default:
		return nil, fmt.Errorf("variables: unknown tier %d", int(t))
	}
}

// Process returns the node's components with bound fields rewritten from
// the current variables. When nothing can be overridden the node's own
// slice is returned unchanged; otherwise overridden components are clones.
// Mismatched types are skipped silently.
func (c Context) Process(node graph.ComponentsNode) []core.Component {
	components := node.Components()
	if len(c.overrides) == 0 || (len(c.nested) == 0 && len(c.local) == 0) {
		return components
	}
	nodeOverride, ok := c.overrides[node.Hash()]
	if !ok {
		return components
	}

	out := make([]core.Component, len(components))
	for i, component := range components {
		out[i] = component
		if i >= len(nodeOverride) || nodeOverride[i] == nil {
			continue
		}
		overridable, ok := component.(Overridable)
		if !ok {
			continue
		}

		clone := overridable.CloneComponent()
		for _, field := range clone.Fields() {
			variableName, ok := nodeOverride[i][field.Name]
			if !ok {
				continue
			}
			if variable, ok := c.TryGet(variableName); ok {
				assign(field, variable)
			}
		}
		out[i] = clone
	}
	return out
}
