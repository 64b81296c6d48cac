package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/petal-labs/scenarioflow/bus"
	"github.com/petal-labs/scenarioflow/runtime"
	"github.com/petal-labs/scenarioflow/sse"
)

// NewEventsCmd creates the "events" subcommand.
func NewEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events [run-id]",
		Short: "List recorded runs or print the events of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runEvents,
	}

	cmd.Flags().String("store-path", "", "SQLite event store path (default from config)")
	cmd.Flags().Uint64("after", 0, "Only events with a sequence number above this")
	cmd.Flags().Int("limit", 0, "Maximum number of events (0 = all)")
	cmd.Flags().Bool("children", false, "Include the events of sub-scenario runs")
	cmd.Flags().String("format", "text", "Output format: text | json")

	return cmd
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.StorePath == "" {
		return exitError(exitInputParse, "no event store configured (use --store-path or SCENARIOFLOW_STORE_PATH)")
	}
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return exitError(exitInputParse, "unknown output format %q (want text or json)", format)
	}

	store, err := bus.NewSQLiteEventStore(bus.SQLiteStoreConfig{DSN: cfg.StorePath})
	if err != nil {
		return exitError(exitRuntime, "opening event store: %v", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		runIDs, err := store.RunIDs(ctx)
		if err != nil {
			return exitError(exitRuntime, "listing runs: %v", err)
		}
		if format == "json" {
			if runIDs == nil {
				runIDs = []string{}
			}
			return json.NewEncoder(out).Encode(runIDs)
		}
		for _, id := range runIDs {
			fmt.Fprintln(out, id)
		}
		return nil
	}

	after, _ := cmd.Flags().GetUint64("after")
	limit, _ := cmd.Flags().GetInt("limit")
	children, _ := cmd.Flags().GetBool("children")

	events, err := collectRunEvents(ctx, store, args[0], after, limit, children)
	if err != nil {
		return exitError(exitRuntime, "reading events: %v", err)
	}
	if len(events) == 0 && after == 0 {
		return exitError(exitFileNotFound, "no events for run %s", args[0])
	}
	return printEvents(out, events, format)
}

// collectRunEvents reads a run's events and, with children set, those of
// its sub-scenario runs in depth-first order after the parent's.
func collectRunEvents(ctx context.Context, store *bus.SQLiteEventStore, runID string, after uint64, limit int, children bool) ([]runtime.Event, error) {
	events, err := store.List(ctx, runID, after, limit)
	if err != nil {
		return nil, err
	}
	if !children {
		return events, nil
	}
	childIDs, err := store.ChildRunIDs(ctx, runID)
	if err != nil {
		return nil, err
	}
	for _, id := range childIDs {
		sub, err := collectRunEvents(ctx, store, id, 0, 0, true)
		if err != nil {
			return nil, err
		}
		events = append(events, sub...)
	}
	return events, nil
}

func printEvents(w io.Writer, events []runtime.Event, format string) error {
	if format == "json" {
		records := make([]sse.Record, 0, len(events))
		for _, e := range events {
			records = append(records, sse.NewRecord(e))
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	for _, e := range events {
		line := describeEvent(e)
		if line == "" {
			line = e.Kind.String()
			if e.IsNodeEvent() {
				line = fmt.Sprintf("%s node %d (%s)", line, e.NodeHash, e.NodeKind)
			}
		}
		indent := ""
		if e.ParentRunID != "" {
			indent = "  "
		}
		fmt.Fprintf(w, "%4d %s %s%s\n", e.Seq, e.Time.Format("15:04:05.000"), indent, line)
	}
	return nil
}
