package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/scenarioflow/bus"
	"github.com/petal-labs/scenarioflow/config"
	"github.com/petal-labs/scenarioflow/core"
	"github.com/petal-labs/scenarioflow/loader"
	"github.com/petal-labs/scenarioflow/nodes"
	"github.com/petal-labs/scenarioflow/roles"
	"github.com/petal-labs/scenarioflow/runtime"
)

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Play a scenario or launch file",
		Long: `Play a scenario definition, or a launch file naming a scenario in the library.

Each non-blank line read from stdin is published as a signal, so condition
nodes waiting on a signal component can be driven interactively.`,
		Args: cobra.ExactArgs(1),
		RunE: runRun,
	}

	cmd.Flags().String("identity", "", "Play as this identity (enables role filtering)")
	cmd.Flags().Bool("log", false, "Log player lifecycle lines")
	cmd.Flags().Duration("timeout", 0, "Stop the scenario after this long (0 = no timeout)")
	cmd.Flags().String("store-path", "", "SQLite event store path (default from config)")
	cmd.Flags().String("library", "", "Scenario library directory (default: the file's directory)")
	cmd.Flags().String("metrics-addr", "", "Serve /metrics and event streams on this address")
	cmd.Flags().String("otlp-endpoint", "", "Export traces to this OTLP/HTTP endpoint")
	cmd.Flags().Bool("no-stdin", false, "Do not read signals from stdin")
	cmd.Flags().String("format", "text", "Output format: text | json")

	return cmd
}

// runTarget is what a run plays: a library and the launch parameters that
// name a scenario in it.
type runTarget struct {
	library *loader.Library
	params  *core.LaunchParameters
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	format, _ := cmd.Flags().GetString("format")
	out, err := newConsole(cmd.OutOrStdout(), format)
	if err != nil {
		return err
	}

	target, err := resolveRunTarget(cmd, cfg, args[0], logger)
	if err != nil {
		return err
	}
	model, err := loadRunModel(cmd, target)
	if err != nil {
		return err
	}

	eb := bus.NewMemBus(bus.MemBusConfig{SubscriberBufferSize: cfg.EventBuffer})
	defer eb.Close()

	var store *bus.SQLiteEventStore
	if cfg.StorePath != "" {
		store, err = bus.NewSQLiteEventStore(bus.SQLiteStoreConfig{
			DSN:            cfg.StorePath,
			RetentionAge:   cfg.RetainFor,
			RetentionCount: cfg.RetainEvents,
		})
		if err != nil {
			return exitError(exitRuntime, "opening event store: %v", err)
		}
		defer store.Close()
	}

	ctx, cancel, timeout := runContext(cmd)
	defer cancel()

	var eventStore bus.EventStore
	if store != nil {
		eventStore = store
	}
	tel, err := setupTelemetry(ctx, cfg, eb, eventStore, logger)
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := tel.Close(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	throttled := bus.NewThrottledEmitter(out.Handle, bus.ThrottleConfig{CoalesceInterval: cfg.ThrottleInterval})

	var rootRun atomic.Value
	handlers := []runtime.EventHandler{tel.Handle, throttled.Handler()}
	if store != nil {
		handlers = append(handlers, bus.NewStoreSubscriber(store, logger).Handle)
	}
	handlers = append(handlers, func(e runtime.Event) {
		if e.Kind == runtime.EventScenarioStarted && e.ParentRunID == "" {
			rootRun.Store(e.RunID)
		}
	})

	services := runtime.Services{
		Bus:        eb,
		Loader:     target.library,
		RoleFilter: roles.NewService(logger),
		Logger:     logger,
	}
	session := runtime.NewSession(services, runtime.PlayerConfig{
		Handler:          fanOut(handlers),
		EmitterDecorator: tel.decorator,
	})
	defer session.Close()

	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()
	if noStdin, _ := cmd.Flags().GetBool("no-stdin"); !noStdin {
		go feedSignals(feedCtx, signalSource(feedCtx, cmd.InOrStdin()), eb, throttled.Emit, &rootRun)
	}

	result, err := session.Play(ctx, model, target.params)
	stopFeed()
	throttled.Close()

	if store != nil && (cfg.RetainFor > 0 || cfg.RetainEvents > 0) {
		if err := store.Prune(context.Background()); err != nil {
			logger.Warn("pruning event store", "error", err)
		}
	}

	if err != nil {
		return runRuntimeError(ctx, timeout, err)
	}
	logger.Debug("run finished", "run_id", result.RunID, "reason", result.Reason, "completed_nodes", result.Completed)
	return nil
}

// resolveRunTarget reads path as either a scenario definition or a launch
// file and applies the --identity and --log flags.
func resolveRunTarget(cmd *cobra.Command, cfg config.Config, path string, logger *slog.Logger) (*runTarget, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- user-supplied path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, exitError(exitFileNotFound, "file not found: %s", path)
		}
		return nil, fmt.Errorf("reading file: %w", err)
	}

	kind, err := loader.DetectSchema(data, path)
	if err != nil {
		return nil, exitError(exitWrongSchema, "%v", err)
	}

	var target runTarget
	switch kind {
	case loader.SchemaKindScenario:
		def, err := loader.ParseDefinition(data, path)
		if err != nil {
			return nil, definitionError(cmd, err)
		}
		dir := cfg.Library
		if dir == "" {
			dir = filepath.Dir(path)
		}
		name := scenarioName(path, def.ID)
		target.library = loader.NewLibrary(dir, logger)
		target.library.Add(name, def)
		target.params = core.DefaultLaunchParameters()
		target.params.Scenario = name

	case loader.SchemaKindLaunch:
		launch, err := loader.LoadLaunch(path)
		if err != nil {
			return nil, exitError(exitInputParse, "%v", err)
		}
		dir := launch.Library
		switch {
		case dir != "" && !filepath.IsAbs(dir):
			dir = filepath.Join(filepath.Dir(path), dir)
		case dir == "" && cfg.Library != "":
			dir = cfg.Library
		case dir == "":
			dir = filepath.Dir(path)
		}
		target.library = loader.NewLibrary(dir, logger)
		target.params = launch.Parameters()

	default:
		return nil, exitError(exitWrongSchema, "unsupported schema kind %q", kind)
	}

	if identity, _ := cmd.Flags().GetString("identity"); identity != "" {
		target.params.IdentityHash = core.HashString(identity)
	}
	if useLog, _ := cmd.Flags().GetBool("log"); useLog {
		target.params.UseLog = true
	}
	return &target, nil
}

func loadRunModel(cmd *cobra.Command, target *runTarget) (*runtime.Model, error) {
	model, err := target.library.Load(target.params.Scenario)
	if err == nil {
		return model, nil
	}
	if errors.Is(err, loader.ErrScenarioNotFound) {
		return nil, exitError(exitFileNotFound, "scenario %q not found in %s", target.params.Scenario, target.library.Dir())
	}
	return nil, definitionError(cmd, err)
}

// definitionError maps a definition load failure to an exit code, printing
// diagnostics when there are any.
func definitionError(cmd *cobra.Command, err error) error {
	var diagErr *loader.DiagnosticError
	if errors.As(err, &diagErr) {
		printDiagnosticsText(cmd.ErrOrStderr(), diagErr.Diagnostics)
		return exitError(exitValidation, "validation failed")
	}
	return exitError(exitInputParse, "%v", err)
}

// scenarioName names a scenario file in its library: the definition ID when
// set, else the file name without extension.
func scenarioName(path, id string) string {
	if id != "" {
		return id
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func runContext(cmd *cobra.Command) (context.Context, context.CancelFunc, time.Duration) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout <= 0 {
		ctx, cancel := context.WithCancel(cmd.Context())
		return ctx, cancel, 0
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	return ctx, cancel, timeout
}

func runRuntimeError(ctx context.Context, timeout time.Duration, err error) error {
	switch {
	case errors.Is(err, runtime.ErrDeadEnd):
		return exitError(exitDeadEnd, "scenario reached a dead end")
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return exitError(exitTimeout, "scenario timed out after %s", timeout)
	case errors.Is(err, context.Canceled):
		return exitError(exitRuntime, "scenario interrupted")
	default:
		return exitError(exitRuntime, "execution failed: %v", err)
	}
}

func fanOut(handlers []runtime.EventHandler) runtime.EventHandler {
	return func(e runtime.Event) {
		for _, h := range handlers {
			h(e)
		}
	}
}

// signalSource streams signal names read from r until it is exhausted or
// ctx is done.
func signalSource(ctx context.Context, r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			name := parseSignalLine(scanner.Text())
			if name == "" {
				continue
			}
			select {
			case ch <- name:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// feedSignals publishes each signal on the bus, stamped with the root run
// when it is known, and echoes it to the console. Signals are live events:
// one published while no condition waits for it is not replayed.
func feedSignals(ctx context.Context, signals <-chan string, eb *bus.MemBus, echo runtime.EventEmitter, rootRun *atomic.Value) {
	for {
		select {
		case <-ctx.Done():
			return
		case name, ok := <-signals:
			if !ok {
				return
			}
			e := nodes.NewSignalEvent(name)
			if id, ok := rootRun.Load().(string); ok {
				e.RunID = id
			}
			eb.Publish(e)
			echo(e)
		}
	}
}
