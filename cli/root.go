package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/scenarioflow/config"
)

// NewRootCmd creates the scenarioflow command tree.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "scenarioflow",
		Short: "Scenario graph engine CLI",
		Long:  "scenarioflow plays, validates and schedules scenario graphs and inspects their recorded events.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
		Version:      version,
	}
	root.SetVersionTemplate(fmt.Sprintf("scenarioflow version %s\n", version))

	root.PersistentFlags().String("config", "", "Config file (default: ./scenarioflow.yaml or ~/.scenarioflow/config.yaml)")
	root.PersistentFlags().Bool("verbose", false, "Enable verbose/debug logging")
	root.PersistentFlags().Bool("quiet", false, "Suppress all output except errors")
	root.PersistentFlags().String("log-format", "", "Log format: text | json")

	root.AddCommand(NewRunCmd())
	root.AddCommand(NewValidateCmd())
	root.AddCommand(NewEventsCmd())
	root.AddCommand(NewScheduleCmd())
	root.AddCommand(NewTypesCmd())
	return root
}

// loadConfig resolves the configuration file and environment, then applies
// flags the user set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	explicit, _ := cmd.Flags().GetString("config")
	cfg, _, err := config.Load(explicit)
	if err != nil {
		return cfg, exitError(exitInputParse, "loading config: %v", err)
	}

	overrideString(cmd, "log-format", &cfg.LogFormat)
	overrideString(cmd, "store-path", &cfg.StorePath)
	overrideString(cmd, "library", &cfg.Library)
	overrideString(cmd, "metrics-addr", &cfg.MetricsAddr)
	overrideString(cmd, "otlp-endpoint", &cfg.OTLPEndpoint)

	if err := cfg.Validate(); err != nil {
		return cfg, exitError(exitInputParse, "invalid config: %v", err)
	}
	return cfg, nil
}

// overrideString replaces *dst with the flag value when the flag exists on
// cmd and was set.
func overrideString(cmd *cobra.Command, name string, dst *string) {
	f := cmd.Flags().Lookup(name)
	if f == nil || !f.Changed {
		return
	}
	*dst = strings.TrimSpace(f.Value.String())
}

// newLogger builds the process logger. --verbose and --quiet take
// precedence over the configured level.
func newLogger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		level = slog.LevelError
	}
	return slog.New(newLogHandler(cmd.ErrOrStderr(), cfg.LogFormat, level))
}

func newLogHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
