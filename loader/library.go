package loader

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/petal-labs/scenarioflow/graph"
	"github.com/petal-labs/scenarioflow/runtime"
)

// ErrScenarioNotFound is returned when no scenario has the requested name.
var ErrScenarioNotFound = errors.New("loader: scenario not found")

var scenarioExts = []string{".yaml", ".yml", ".json"}

// Library is a directory-backed scenario load service. Scenario "name" lives
// in <dir>/name.yaml, name.yml or name.json. Definitions are parsed once and
// cached; every Load builds fresh node instances so concurrent players never
// share node state.
type Library struct {
	dir    string
	logger *slog.Logger

	mu   sync.Mutex
	defs map[string]*graph.Definition
}

var _ runtime.Loader = (*Library)(nil)

// NewLibrary creates a library rooted at dir. An empty dir gives an
// in-memory library populated only through Add.
func NewLibrary(dir string, logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{
		dir:    dir,
		logger: logger,
		defs:   make(map[string]*graph.Definition),
	}
}

// Dir returns the library directory.
func (l *Library) Dir() string { return l.dir }

// Add registers a definition under name, replacing any cached one.
func (l *Library) Add(name string, def *graph.Definition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.defs[name] = def
}

// Definition returns the validated definition for name, reading it from disk
// on first use.
func (l *Library) Definition(name string) (*graph.Definition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if def, ok := l.defs[name]; ok {
		return def, nil
	}
	path, err := l.resolve(name)
	if err != nil {
		return nil, err
	}
	def, err := LoadDefinition(path)
	if err != nil {
		return nil, fmt.Errorf("loader: scenario %q: %w", name, err)
	}
	l.defs[name] = def
	l.logger.Debug("scenario loaded", "scenario", name, "path", path)
	return def, nil
}

// Load implements runtime.Loader.
func (l *Library) Load(name string) (*runtime.Model, error) {
	def, err := l.Definition(name)
	if err != nil {
		return nil, err
	}
	model, err := Build(def)
	if err != nil {
		return nil, fmt.Errorf("loader: scenario %q: %w", name, err)
	}
	model.Name = name
	return model, nil
}

// Names lists the scenarios available on disk and through Add, sorted.
func (l *Library) Names() ([]string, error) {
	seen := make(map[string]bool)

	l.mu.Lock()
	for name := range l.defs {
		seen[name] = true
	}
	l.mu.Unlock()

	if l.dir != "" {
		entries, err := os.ReadDir(l.dir)
		if err != nil {
			return nil, fmt.Errorf("loader: reading library %s: %w", l.dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(e.Name()))
			for _, want := range scenarioExts {
				if ext == want {
					seen[strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))] = true
				}
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (l *Library) resolve(name string) (string, error) {
	if l.dir == "" || name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrScenarioNotFound, name)
	}
	for _, ext := range scenarioExts {
		path := filepath.Join(l.dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrScenarioNotFound, name)
}
