package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/petal-labs/scenarioflow/nodes"
	"github.com/petal-labs/scenarioflow/runtime"
	"github.com/petal-labs/scenarioflow/sse"
)

// console prints player events as they happen. It is called from the loop
// and from the throttle flusher, so writes are serialised.
type console struct {
	mu     sync.Mutex
	w      io.Writer
	format string
}

func newConsole(w io.Writer, format string) (*console, error) {
	switch format {
	case "text", "json":
	default:
		return nil, exitError(exitInputParse, "unknown output format %q (want text or json)", format)
	}
	return &console{w: w, format: format}, nil
}

// Handle implements runtime.EventHandler.
func (c *console) Handle(e runtime.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.format == "json" {
		_ = json.NewEncoder(c.w).Encode(sse.NewRecord(e))
		return
	}
	line := describeEvent(e)
	if line == "" {
		return
	}
	if e.ParentRunID != "" {
		line = "  " + line
	}
	fmt.Fprintln(c.w, line)
}

// describeEvent renders e as one text line, or "" for events too chatty
// for a terminal.
func describeEvent(e runtime.Event) string {
	switch e.Kind {
	case runtime.EventScenarioStarted:
		return fmt.Sprintf("started %s (run %s)", scenarioLabel(e), e.RunID)
	case runtime.EventScenarioStopped:
		return fmt.Sprintf("stopped %s: %v after %v, %v nodes completed",
			scenarioLabel(e), e.Payload["reason"], e.Elapsed.Round(time.Millisecond), e.Payload["completed_nodes"])
	case runtime.EventNodeActivated:
		return fmt.Sprintf("node %d (%s) active", e.NodeHash, e.NodeKind)
	case runtime.EventNodeCompleted:
		return fmt.Sprintf("node %d (%s) completed in %v", e.NodeHash, e.NodeKind, e.Elapsed.Round(time.Millisecond))
	case runtime.EventNodeFailed:
		return fmt.Sprintf("node %d (%s) failed in %v: %v", e.NodeHash, e.NodeKind, e.Payload["op"], e.Payload["error"])
	case runtime.EventComponentFired:
		return describeComponent(e)
	case runtime.EventSignal:
		return fmt.Sprintf("signal %v", e.Payload["name"])
	case runtime.EventVariableSet:
		return fmt.Sprintf("set %v = %v", e.Payload["name"], e.Payload["value"])
	default:
		return ""
	}
}

func describeComponent(e runtime.Event) string {
	switch c := e.Payload["component"].(type) {
	case *nodes.Message:
		return messageLine(c)
	case *nodes.HostMessage:
		return messageLine(&c.Message)
	default:
		return fmt.Sprintf("fired %v on node %d", e.Payload["type"], e.NodeHash)
	}
}

func messageLine(m *nodes.Message) string {
	if m.Channel != "" {
		return fmt.Sprintf("[%s] %s", m.Channel, m.Text)
	}
	return "> " + m.Text
}

func scenarioLabel(e runtime.Event) string {
	if e.Scenario != "" {
		return e.Scenario
	}
	return "anonymous"
}

// parseSignalLine extracts a signal name from one stdin line. Blank lines
// and # comments yield "".
func parseSignalLine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return ""
	}
	return line
}
