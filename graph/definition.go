package graph

import (
	"errors"
	"fmt"

	"github.com/petal-labs/scenarioflow/core"
)

// Node types the definition validator knows without a registry.
const (
	NodeTypeStart = "start"
	NodeTypeEnd   = "end"
)

// Definition errors
var (
	ErrNoNodeFactory = errors.New("graph: no node factory")
	ErrDuplicateNode = errors.New("graph: duplicate node")
	ErrUnknownNode   = errors.New("graph: edge references unknown node")
	ErrHashCollision = errors.New("graph: node hash collision")
	ErrDuplicateLink = errors.New("graph: duplicate link")
	ErrNilNode       = errors.New("graph: factory returned nil node")
)

// Diagnostic represents a validation error or warning produced by
// definition validation.
type Diagnostic struct {
	Code     string `json:"code"`           // e.g. "SC-001"
	Severity string `json:"severity"`       // "error" or "warning"
	Message  string `json:"message"`        // human-readable description
	Path     string `json:"path,omitempty"` // JSON path to offending field
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// HasErrors returns true if any diagnostic has error severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity diagnostics.
func Errors(diags []Diagnostic) []Diagnostic {
	var errs []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	return errs
}

// Warnings returns only the warning-severity diagnostics.
func Warnings(diags []Diagnostic) []Diagnostic {
	var warns []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityWarning {
			warns = append(warns, d)
		}
	}
	return warns
}

// Definition is the serializable form of a scenario: graph structure,
// declared identities, variables and per-field variable bindings.
type Definition struct {
	ID         string                 `json:"id"`
	Version    string                 `json:"version,omitempty"`
	Metadata   map[string]string      `json:"metadata,omitempty"`
	Identities []string               `json:"identities,omitempty"`
	Variables  map[string]VariableDef `json:"variables,omitempty"`
	Nodes      []NodeDef              `json:"nodes"`
	Edges      []EdgeDef              `json:"edges"`
}

// VariableDef declares a scenario variable and its initial value.
type VariableDef struct {
	Type  string `json:"type"`
	Value any    `json:"value,omitempty"`
}

// NodeDef is a serializable node.
type NodeDef struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Activation string         `json:"activation,omitempty"` // "and" (default) | "or"
	Config     map[string]any `json:"config,omitempty"`
	Components []ComponentDef `json:"components,omitempty"`
}

// Hash returns the node identity derived from its ID.
func (n NodeDef) Hash() core.Hash {
	return core.HashString(n.ID)
}

// ComponentDef is a serializable component. Bind maps a field name to the
// variable whose value overrides it at fire time.
type ComponentDef struct {
	Type     string            `json:"type"`
	Identity string            `json:"identity,omitempty"`
	Fields   map[string]any    `json:"fields,omitempty"`
	Bind     map[string]string `json:"bind,omitempty"`
}

// EdgeDef is a serializable link.
type EdgeDef struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// TypeRegistry answers which node and component types can be built.
type TypeRegistry interface {
	HasNodeType(name string) bool
	HasComponentType(name string) bool
}

var roleComponentTypes = map[string]bool{
	"role_include":      true,
	"role_exclude":      true,
	"role_node_include": true,
	"role_node_exclude": true,
}

// Validate checks structural integrity of the definition:
//   - SC-001: edge source/target reference existing nodes
//   - SC-002: orphan nodes (warning)
//   - SC-005: duplicate node IDs
//   - SC-006: at least one start node
//   - SC-007: no end node (warning)
//   - SC-008: binding references an undeclared variable (warning)
//   - SC-009: role component references an undeclared identity
//   - SC-010: duplicate edge
func (d *Definition) Validate() []Diagnostic {
	var diags []Diagnostic

	nodeIDs := make(map[string]bool, len(d.Nodes))
	hasStart, hasEnd := false, false

	// SC-005: duplicate node IDs
	for i, node := range d.Nodes {
		if nodeIDs[node.ID] {
			diags = append(diags, Diagnostic{
				Code:     "SC-005",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Duplicate node ID %q", node.ID),
				Path:     fmt.Sprintf("nodes[%d].id", i),
			})
		}
		nodeIDs[node.ID] = true
		switch node.Type {
		case NodeTypeStart:
			hasStart = true
		case NodeTypeEnd:
			hasEnd = true
		}
	}

	// SC-001 / SC-010: edges
	seen := make(map[EdgeDef]bool, len(d.Edges))
	for i, edge := range d.Edges {
		if !nodeIDs[edge.Source] {
			diags = append(diags, Diagnostic{
				Code:     "SC-001",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Edge source %q references unknown node", edge.Source),
				Path:     fmt.Sprintf("edges[%d].source", i),
			})
		}
		if !nodeIDs[edge.Target] {
			diags = append(diags, Diagnostic{
				Code:     "SC-001",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Edge target %q references unknown node", edge.Target),
				Path:     fmt.Sprintf("edges[%d].target", i),
			})
		}
		if seen[edge] {
			diags = append(diags, Diagnostic{
				Code:     "SC-010",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Duplicate edge %q -> %q", edge.Source, edge.Target),
				Path:     fmt.Sprintf("edges[%d]", i),
			})
		}
		seen[edge] = true
	}

	// SC-006 / SC-007
	if !hasStart {
		diags = append(diags, Diagnostic{
			Code:     "SC-006",
			Severity: SeverityError,
			Message:  "Scenario has no start node",
			Path:     "nodes",
		})
	}
	if !hasEnd && len(d.Nodes) > 0 {
		diags = append(diags, Diagnostic{
			Code:     "SC-007",
			Severity: SeverityWarning,
			Message:  "Scenario has no end node; it finishes when every start branch is exhausted",
			Path:     "nodes",
		})
	}

	// SC-002: orphan nodes
	if len(d.Nodes) > 1 {
		linked := make(map[string]bool)
		for _, edge := range d.Edges {
			linked[edge.Source] = true
			linked[edge.Target] = true
		}
		for i, node := range d.Nodes {
			if !linked[node.ID] {
				diags = append(diags, Diagnostic{
					Code:     "SC-002",
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("Node %q has no inbound or outbound edges", node.ID),
					Path:     fmt.Sprintf("nodes[%d]", i),
				})
			}
		}
	}

	diags = append(diags, d.validateComponents()...)
	return diags
}

// ValidateWithRegistry runs Validate plus registry-dependent checks:
//   - SC-003: node type must exist in the registry
//   - SC-004: component type must exist in the registry
func (d *Definition) ValidateWithRegistry(reg TypeRegistry) []Diagnostic {
	diags := d.Validate()
	if reg == nil {
		return diags
	}
	for i, node := range d.Nodes {
		if !reg.HasNodeType(node.Type) {
			diags = append(diags, Diagnostic{
				Code:     "SC-003",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Unknown node type %q", node.Type),
				Path:     fmt.Sprintf("nodes[%d].type", i),
			})
		}
		for j, comp := range node.Components {
			if !reg.HasComponentType(comp.Type) {
				diags = append(diags, Diagnostic{
					Code:     "SC-004",
					Severity: SeverityError,
					Message:  fmt.Sprintf("Unknown component type %q", comp.Type),
					Path:     fmt.Sprintf("nodes[%d].components[%d].type", i, j),
				})
			}
		}
	}
	return diags
}

func (d *Definition) validateComponents() []Diagnostic {
	var diags []Diagnostic

	identities := make(map[string]bool, len(d.Identities))
	for _, id := range d.Identities {
		identities[id] = true
	}

	for i, node := range d.Nodes {
		for j, comp := range node.Components {
			path := fmt.Sprintf("nodes[%d].components[%d]", i, j)

			// SC-009
			if roleComponentTypes[comp.Type] && comp.Identity != "" && !identities[comp.Identity] {
				diags = append(diags, Diagnostic{
					Code:     "SC-009",
					Severity: SeverityError,
					Message:  fmt.Sprintf("Component references undeclared identity %q", comp.Identity),
					Path:     path + ".identity",
				})
			}

			// SC-008
			for field, variable := range comp.Bind {
				if _, ok := d.Variables[variable]; !ok {
					diags = append(diags, Diagnostic{
						Code:     "SC-008",
						Severity: SeverityWarning,
						Message:  fmt.Sprintf("Field %q is bound to undeclared variable %q", field, variable),
						Path:     path + ".bind." + field,
					})
				}
			}
		}
	}
	return diags
}

// NodeFactory instantiates a live node from its definition.
type NodeFactory func(def NodeDef) (FlowNode, error)

// ToGraph builds a Graph from the definition using factory for nodes.
// Node hashes are derived from node IDs.
func (d *Definition) ToGraph(factory NodeFactory) (*Graph, error) {
	if factory == nil {
		return nil, ErrNoNodeFactory
	}

	g := New(d.ID)
	byID := make(map[string]FlowNode, len(d.Nodes))
	for _, def := range d.Nodes {
		if _, dup := byID[def.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateNode, def.ID)
		}
		node, err := factory(def)
		if err != nil {
			return nil, fmt.Errorf("graph: build node %q: %w", def.ID, err)
		}
		if node == nil {
			return nil, fmt.Errorf("%w: %q", ErrNilNode, def.ID)
		}
		if !g.AddNode(node) {
			return nil, fmt.Errorf("%w: %q", ErrHashCollision, def.ID)
		}
		byID[def.ID] = node
	}

	for _, edge := range d.Edges {
		from, ok := byID[edge.Source]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownNode, edge.Source)
		}
		to, ok := byID[edge.Target]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownNode, edge.Target)
		}
		if !g.AddLink(NewLink(from, to)) {
			return nil, fmt.Errorf("%w: %q -> %q", ErrDuplicateLink, edge.Source, edge.Target)
		}
	}
	return g, nil
}
