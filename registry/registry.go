// Package registry provides the global catalogue of scenario node and
// component types. It maps type names to metadata (category, config and
// field schema) used by definition validation, the CLI and node factories.
package registry

import "sync"

// FieldDef describes one config entry of a node type or one field of a
// component type.
type FieldDef struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // "string", "int", "float", "bool", "duration", "object"
	Required bool   `json:"required"`

	// Bindable fields may be overridden from a scenario variable.
	Bindable bool `json:"bindable"`
}

// NodeTypeDef describes a registered node type.
type NodeTypeDef struct {
	Type        string     `json:"type"`
	Category    string     `json:"category"` // "flow", "action", "condition", "control"
	DisplayName string     `json:"display_name"`
	Description string     `json:"description"`
	Config      []FieldDef `json:"config,omitempty"`
}

// ComponentTypeDef describes a registered component type.
type ComponentTypeDef struct {
	Type        string     `json:"type"`
	Kind        string     `json:"kind"` // "action", "condition", "marker"
	DisplayName string     `json:"display_name"`
	Description string     `json:"description"`
	Fields      []FieldDef `json:"fields,omitempty"`

	// Identity is set for role markers that reference a declared identity.
	Identity bool `json:"identity,omitempty"`
}

// Field returns the field definition named name.
func (d ComponentTypeDef) Field(name string) (FieldDef, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

var (
	global     *Registry
	globalOnce sync.Once
)

// Global returns the singleton registry instance. On first call it
// initializes the registry and registers all built-in types.
func Global() *Registry {
	globalOnce.Do(func() {
		global = newRegistry()
		registerBuiltins(global)
	})
	return global
}

// Registry holds all known node and component types.
type Registry struct {
	mu             sync.RWMutex
	nodes          map[string]NodeTypeDef
	nodeOrder      []string // preserves registration order
	components     map[string]ComponentTypeDef
	componentOrder []string
}

func newRegistry() *Registry {
	return &Registry{
		nodes:      make(map[string]NodeTypeDef),
		components: make(map[string]ComponentTypeDef),
	}
}

// RegisterNode adds a node type definition. If a type with the same name
// already exists it is overwritten.
func (r *Registry) RegisterNode(def NodeTypeDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.nodes[def.Type]; !exists {
		r.nodeOrder = append(r.nodeOrder, def.Type)
	}
	r.nodes[def.Type] = def
}

// RegisterComponent adds a component type definition, overwriting any
// previous definition with the same name.
func (r *Registry) RegisterComponent(def ComponentTypeDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.components[def.Type]; !exists {
		r.componentOrder = append(r.componentOrder, def.Type)
	}
	r.components[def.Type] = def
}

// NodeType returns a node type definition by name.
func (r *Registry) NodeType(name string) (NodeTypeDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.nodes[name]
	return def, ok
}

// ComponentType returns a component type definition by name.
func (r *Registry) ComponentType(name string) (ComponentTypeDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.components[name]
	return def, ok
}

// HasNodeType returns true if the node type is registered.
func (r *Registry) HasNodeType(name string) bool {
	_, ok := r.NodeType(name)
	return ok
}

// HasComponentType returns true if the component type is registered.
func (r *Registry) HasComponentType(name string) bool {
	_, ok := r.ComponentType(name)
	return ok
}

// NodeTypes returns all registered node types in registration order.
func (r *Registry) NodeTypes() []NodeTypeDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]NodeTypeDef, 0, len(r.nodeOrder))
	for _, name := range r.nodeOrder {
		result = append(result, r.nodes[name])
	}
	return result
}

// ComponentTypes returns all registered component types in registration order.
func (r *Registry) ComponentTypes() []ComponentTypeDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]ComponentTypeDef, 0, len(r.componentOrder))
	for _, name := range r.componentOrder {
		result = append(result, r.components[name])
	}
	return result
}

// Len returns the number of registered node and component types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes) + len(r.components)
}
