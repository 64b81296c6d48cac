package loader

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/petal-labs/scenarioflow/core"
	"github.com/petal-labs/scenarioflow/graph"
	"github.com/petal-labs/scenarioflow/nodes"
	"github.com/petal-labs/scenarioflow/nodes/expr"
	"github.com/petal-labs/scenarioflow/registry"
	"github.com/petal-labs/scenarioflow/runtime"
	"github.com/petal-labs/scenarioflow/variables"
)

// LoadDefinition reads a scenario file, validates it, and returns the
// definition. Validation errors are returned as a *DiagnosticError.
func LoadDefinition(path string) (*graph.Definition, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return ParseDefinition(data, path)
}

// ParseDefinition decodes and validates a scenario definition. path only
// selects the format.
func ParseDefinition(data []byte, path string) (*graph.Definition, error) {
	def, err := DecodeDefinition(data, path)
	if err != nil {
		return nil, err
	}
	if diags := Validate(def); graph.HasErrors(diags) {
		return nil, &DiagnosticError{Diagnostics: diags}
	}
	return def, nil
}

// DecodeDefinition parses a scenario definition without validating it.
func DecodeDefinition(data []byte, path string) (*graph.Definition, error) {
	jsonData, err := toJSON(data, path)
	if err != nil {
		return nil, err
	}
	var def graph.Definition
	if err := json.Unmarshal(jsonData, &def); err != nil {
		return nil, fmt.Errorf("parsing scenario definition: %w", err)
	}
	return &def, nil
}

// Validate runs structural and registry validation plus the checks that
// need concrete component knowledge:
//   - SC-011: check expression references an undeclared variable (warning)
//   - SC-012: check expression does not parse
func Validate(def *graph.Definition) []graph.Diagnostic {
	diags := def.ValidateWithRegistry(registry.Global())

	declared := make(map[string]bool, len(def.Variables))
	for name := range def.Variables {
		declared[name] = true
	}
	for _, node := range def.Nodes {
		for _, comp := range node.Components {
			if comp.Type == nodes.TypeSetVariable {
				if name, ok := comp.Fields["name"].(string); ok {
					declared[name] = true
				}
			}
		}
	}

	for i, node := range def.Nodes {
		for j, comp := range node.Components {
			if comp.Type != nodes.TypeCheck {
				continue
			}
			path := fmt.Sprintf("nodes[%d].components[%d].fields.expression", i, j)
			src, _ := comp.Fields["expression"].(string)
			e, err := expr.Parse(src)
			if err != nil {
				diags = append(diags, graph.Diagnostic{
					Code:     "SC-012",
					Severity: graph.SeverityError,
					Message:  fmt.Sprintf("Invalid check expression: %v", err),
					Path:     path,
				})
				continue
			}
			for _, name := range expr.Idents(e) {
				if !declared[name] {
					diags = append(diags, graph.Diagnostic{
						Code:     "SC-011",
						Severity: graph.SeverityWarning,
						Message:  fmt.Sprintf("Check expression references undeclared variable %q", name),
						Path:     path,
					})
				}
			}
		}
	}
	return diags
}

// Build turns a definition into a playable model with fresh node
// instances. Variable bindings of each component are recorded in the
// model's scope.
func Build(def *graph.Definition) (*runtime.Model, error) {
	g, err := def.ToGraph(nodes.Build)
	if err != nil {
		return nil, err
	}

	scope := variables.NewScope()
	for name, vd := range def.Variables {
		v, err := variables.ParseValue(vd.Type, vd.Value)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", name, err)
		}
		scope.Variables[name] = v
	}
	for _, node := range def.Nodes {
		for i, comp := range node.Components {
			for field, variable := range comp.Bind {
				scope.Bind(node.Hash(), i, field, variable)
			}
		}
	}
	return &runtime.Model{Name: def.ID, Graph: g, Scope: scope}, nil
}

// LoadModel reads, validates and builds a scenario file.
func LoadModel(path string) (*runtime.Model, error) {
	def, err := LoadDefinition(path)
	if err != nil {
		return nil, err
	}
	return Build(def)
}

// Launch is the on-disk form of launch parameters. Identity, when set,
// names the participant and takes precedence over IdentityHash.
type Launch struct {
	core.LaunchParameters
	Identity string `json:"identity,omitempty"`
	Library  string `json:"library,omitempty"`
}

// Parameters returns the launch parameters with Identity resolved.
func (l *Launch) Parameters() *core.LaunchParameters {
	p := l.LaunchParameters
	if l.Identity != "" {
		p.IdentityHash = core.HashString(l.Identity)
	}
	return &p
}

// LoadLaunch reads a launch parameters file. Missing booleans default as in
// core.DefaultLaunchParameters.
func LoadLaunch(path string) (*Launch, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	jsonData, err := toJSON(data, path)
	if err != nil {
		return nil, err
	}
	l := &Launch{LaunchParameters: *core.DefaultLaunchParameters()}
	if err := json.Unmarshal(jsonData, l); err != nil {
		return nil, fmt.Errorf("parsing launch parameters: %w", err)
	}
	if l.Scenario == "" {
		return nil, fmt.Errorf("launch parameters %s: missing scenario", path)
	}
	return l, nil
}

// DiagnosticError wraps validation diagnostics as an error.
type DiagnosticError struct {
	Diagnostics []graph.Diagnostic
}

func (e *DiagnosticError) Error() string {
	errs := graph.Errors(e.Diagnostics)
	if len(errs) == 0 {
		return "validation failed"
	}
	if len(errs) == 1 {
		return fmt.Sprintf("validation error: %s", errs[0].Message)
	}
	return fmt.Sprintf("%d validation errors (first: %s)", len(errs), errs[0].Message)
}
