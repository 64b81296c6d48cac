// Package loader reads scenario and launch files in JSON or YAML, validates
// them, and turns scenario definitions into playable runtime models.
package loader

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchemaKind identifies the type of a file.
type SchemaKind string

const (
	// SchemaKindScenario is a scenario definition: nodes, edges, variables.
	SchemaKindScenario SchemaKind = "scenario"

	// SchemaKindLaunch is a set of launch parameters naming a scenario.
	SchemaKindLaunch SchemaKind = "launch"
)

// DetectSchema detects the schema kind from file content and path:
//  1. Parse as YAML for .yaml/.yml paths, JSON otherwise
//  2. An explicit "kind" field wins
//  3. "nodes" and "edges" -> scenario
//  4. a string "scenario" field -> launch
func DetectSchema(data []byte, filePath string) (SchemaKind, error) {
	var raw map[string]any
	if isYAML(filePath) {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return "", fmt.Errorf("parsing YAML: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &raw); err != nil {
			return "", fmt.Errorf("parsing JSON: %w", err)
		}
	}

	if kind, ok := raw["kind"].(string); ok {
		switch SchemaKind(kind) {
		case SchemaKindScenario, SchemaKindLaunch:
			return SchemaKind(kind), nil
		}
		return "", fmt.Errorf("unknown kind %q", kind)
	}

	if hasKey(raw, "nodes") && hasKey(raw, "edges") {
		return SchemaKindScenario, nil
	}
	if _, ok := raw["scenario"].(string); ok {
		return SchemaKindLaunch, nil
	}
	return "", fmt.Errorf("unable to detect schema format: file is neither a scenario nor launch parameters")
}

// isYAML returns true if the file path has a YAML extension.
func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

// yamlToJSON converts YAML bytes to JSON so both formats decode through the
// same json tags: YAML -> any -> JSON bytes -> typed struct.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	return json.Marshal(raw)
}

// toJSON converts data to JSON bytes when path names a YAML file.
func toJSON(data []byte, path string) ([]byte, error) {
	if isYAML(path) {
		return yamlToJSON(data)
	}
	return data, nil
}
