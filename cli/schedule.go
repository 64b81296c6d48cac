package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/scenarioflow/bus"
	"github.com/petal-labs/scenarioflow/core"
	"github.com/petal-labs/scenarioflow/runtime"
	"github.com/petal-labs/scenarioflow/scheduler"
)

// NewScheduleCmd creates the "schedule" subcommand.
func NewScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule <file>",
		Short: "Play a scenario or launch file on a cron schedule",
		Long: `Play a scenario or launch file every time a cron expression fires, until
interrupted. Expressions use five fields or a descriptor such as @hourly or
@every 10m and are evaluated in UTC. A run still playing when the next tick
fires is skipped, not overlapped.`,
		Args: cobra.ExactArgs(1),
		RunE: runSchedule,
	}

	cmd.Flags().String("cron", "", "Cron expression (required)")
	cmd.Flags().Int("max-runs", 0, "Exit after this many runs (0 = run until interrupted)")
	cmd.Flags().Duration("poll", time.Second, "How often due schedules are checked")
	cmd.Flags().Duration("timeout", 0, "Stop each run after this long (0 = no timeout)")
	cmd.Flags().String("identity", "", "Play as this identity (enables role filtering)")
	cmd.Flags().Bool("log", false, "Log player lifecycle lines")
	cmd.Flags().String("store-path", "", "SQLite event store path (default from config)")
	cmd.Flags().String("library", "", "Scenario library directory (default: the file's directory)")
	cmd.Flags().String("format", "text", "Output format: text | json")
	_ = cmd.MarkFlagRequired("cron")

	return cmd
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	cronExpr, _ := cmd.Flags().GetString("cron")
	if _, err := scheduler.ParseCronUTC(cronExpr); err != nil {
		return exitError(exitInputParse, "invalid cron expression: %v", err)
	}
	maxRuns, _ := cmd.Flags().GetInt("max-runs")
	poll, _ := cmd.Flags().GetDuration("poll")
	runTimeout, _ := cmd.Flags().GetDuration("timeout")

	format, _ := cmd.Flags().GetString("format")
	out, err := newConsole(cmd.OutOrStdout(), format)
	if err != nil {
		return err
	}

	target, err := resolveRunTarget(cmd, cfg, args[0], logger)
	if err != nil {
		return err
	}
	// Fail fast on a scenario that would fail every tick.
	if _, err := loadRunModel(cmd, target); err != nil {
		return err
	}

	eb := bus.NewMemBus(bus.MemBusConfig{SubscriberBufferSize: cfg.EventBuffer})
	defer eb.Close()

	handlers := []runtime.EventHandler{out.Handle}
	if cfg.StorePath != "" {
		store, err := bus.NewSQLiteEventStore(bus.SQLiteStoreConfig{
			DSN:            cfg.StorePath,
			RetentionAge:   cfg.RetainFor,
			RetentionCount: cfg.RetainEvents,
		})
		if err != nil {
			return exitError(exitRuntime, "opening event store: %v", err)
		}
		defer store.Close()
		handlers = append(handlers, bus.NewStoreSubscriber(store, logger).Handle)
	}

	player := scheduler.PlayerRunner{
		Services: runtime.Services{Bus: eb, Loader: target.library, Logger: logger},
		Config:   runtime.PlayerConfig{Handler: fanOut(handlers)},
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	runner := scheduler.RunnerFunc(func(ctx context.Context, params *core.LaunchParameters) (string, error) {
		if runTimeout > 0 {
			var stop context.CancelFunc
			ctx, stop = context.WithTimeout(ctx, runTimeout)
			defer stop()
		}
		return player.Run(ctx, params)
	})

	sched, err := scheduler.New(scheduler.Config{Runner: runner, PollInterval: poll, Logger: logger})
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	scheduleID := target.params.Scenario
	if err := sched.Add(scheduler.Schedule{
		ID:      scheduleID,
		Cron:    cronExpr,
		Launch:  *target.params,
		Enabled: true,
	}); err != nil {
		return exitError(exitInputParse, "%v", err)
	}
	if err := sched.Start(ctx); err != nil {
		return exitError(exitRuntime, "starting scheduler: %v", err)
	}
	next, _ := sched.Get(scheduleID)
	logger.Info("schedule armed", "scenario", scheduleID, "cron", cronExpr, "next_run_at", next.NextRunAt)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case <-ticker.C:
			if s, ok := sched.Get(scheduleID); ok && maxRuns > 0 && s.Runs >= maxRuns {
				cancel()
			}
		}
	}

	stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := sched.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("stopping scheduler", "error", err)
	}

	s, _ := sched.Get(scheduleID)
	if s.LastStatus == scheduler.StatusFailed && maxRuns > 0 {
		return exitError(exitRuntime, "last scheduled run failed: %s", s.LastError)
	}
	return nil
}
