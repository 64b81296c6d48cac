// Package config resolves scenarioflow settings from defaults, an optional
// YAML file and SCENARIOFLOW_* environment variables, in that order of
// precedence (later wins).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	projectConfigName = "scenarioflow.yaml"
	homeConfigName    = "config.yaml"
	homeConfigDir     = ".scenarioflow"
)

// Config holds process-wide settings. Zero-valued fields mean "disabled"
// except where Default sets a value.
type Config struct {
	// Library is the scenario library directory used to resolve modules
	// and launch files.
	Library string `yaml:"library" env:"SCENARIOFLOW_LIBRARY"`

	// StorePath is the SQLite event store DSN. Empty disables persistence.
	StorePath string `yaml:"store_path" env:"SCENARIOFLOW_STORE_PATH"`

	// Retention bounds applied to the event store after each run.
	RetainFor    time.Duration `yaml:"retain_for" env:"SCENARIOFLOW_RETAIN_FOR"`
	RetainEvents int           `yaml:"retain_events" env:"SCENARIOFLOW_RETAIN_EVENTS"`

	LogLevel  string `yaml:"log_level" env:"SCENARIOFLOW_LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"SCENARIOFLOW_LOG_FORMAT"`

	// OTLPEndpoint enables trace export over OTLP/HTTP when set.
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"SCENARIOFLOW_OTLP_ENDPOINT"`

	// MetricsAddr serves Prometheus /metrics when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr" env:"SCENARIOFLOW_METRICS_ADDR"`

	// EventBuffer is the per-subscription buffer of the event bus.
	EventBuffer int `yaml:"event_buffer" env:"SCENARIOFLOW_EVENT_BUFFER"`

	// ThrottleInterval coalesces variable writes on console output.
	ThrottleInterval time.Duration `yaml:"throttle_interval" env:"SCENARIOFLOW_THROTTLE_INTERVAL"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		LogLevel:         "info",
		LogFormat:        "text",
		EventBuffer:      256,
		ThrottleInterval: 100 * time.Millisecond,
	}
}

// Load resolves the configuration. explicitPath, when non-empty, must name
// an existing file; otherwise the project and home config files are tried.
func Load(explicitPath string) (Config, string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, "", fmt.Errorf("config: resolve working directory: %w", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return LoadFrom(explicitPath, cwd, home)
}

// LoadFrom is a testable variant of Load. It returns the file it read, if
// any.
func LoadFrom(explicitPath, cwd, homeDir string) (Config, string, error) {
	cfg := Default()

	path, found, err := DiscoverPath(explicitPath, cwd, homeDir)
	if err != nil {
		return Config{}, "", err
	}
	if found {
		if err := readFile(path, &cfg); err != nil {
			return Config{}, "", err
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, "", err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, "", err
	}
	return cfg, path, nil
}

// DiscoverPath resolves the config file with first-match semantics.
func DiscoverPath(explicitPath, cwd, homeDir string) (string, bool, error) {
	var candidates []string
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		if homeDir != "" {
			candidates = append(candidates, filepath.Join(homeDir, homeConfigDir, homeConfigName))
		}
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

func readFile(path string, cfg *Config) error {
	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config %q: %w", path, err)
	}
	return nil
}

// ParseEnv loads configuration from environment variables. Unset variables
// leave the target fields untouched.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate rejects settings that cannot be used.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	if c.EventBuffer < 0 {
		return fmt.Errorf("config: negative event buffer %d", c.EventBuffer)
	}
	if c.RetainFor < 0 || c.RetainEvents < 0 {
		return errors.New("config: negative retention")
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("config: unknown log level %q", name)
	}
	return level, nil
}
