package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/petal-labs/scenarioflow/core"
	"github.com/petal-labs/scenarioflow/graph"
	"github.com/petal-labs/scenarioflow/roles"
)

type testNode struct {
	graph.NodeBase
	self       graph.FlowNode
	components []core.Component
	complete   chan struct{}
	waitErr    error
	panicOn    string
	blockNext  bool

	activations   int
	deactivations int
	allowed       []bool
}

func newTestNode(name string, components ...core.Component) *testNode {
	n := &testNode{
		NodeBase:   graph.NewNodeBase(core.HashString(name), core.ActivationAnd),
		components: components,
	}
	n.self = n
	return n
}

// manual makes the node wait until its complete channel is closed.
func (n *testNode) manual() *testNode {
	n.complete = make(chan struct{})
	return n
}

func (n *testNode) Kind() string                 { return "test" }
func (n *testNode) Components() []core.Component { return n.components }
func (n *testNode) AllowNext() bool              { return !n.blockNext }

func (n *testNode) Activate(ec *ExecutionContext) {
	n.activations++
	n.allowed = append(n.allowed, ec.CanExecute(n.self))
	if n.panicOn == "activate" {
		panic("activate failed")
	}
}

func (n *testNode) Deactivate(*ExecutionContext) {
	n.deactivations++
}

func (n *testNode) Wait(ctx context.Context) error {
	if n.waitErr != nil {
		return n.waitErr
	}
	if n.complete == nil {
		return nil
	}
	select {
	case <-n.complete:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type startNode struct{ *testNode }

func (startNode) StartNode() {}

func newStart(name string, components ...core.Component) startNode {
	s := startNode{newTestNode(name, components...)}
	s.self = s
	return s
}

type endNode struct{ *testNode }

func (endNode) EndNode() {}

func newEnd(name string) endNode {
	e := endNode{newTestNode(name)}
	e.self = e
	return e
}

type harness struct {
	t      *testing.T
	loop   *Loop
	player *Player

	mu     sync.Mutex
	events []Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t}
	h.loop, _ = startLoop(t)
	h.player = NewPlayer(h.loop, Services{RoleFilter: roles.NewService(nil)}, PlayerConfig{
		Handler: func(e Event) {
			h.mu.Lock()
			h.events = append(h.events, e)
			h.mu.Unlock()
		},
	})
	return h
}

func (h *harness) call(fn func()) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.loop.Call(ctx, fn); err != nil {
		h.t.Fatalf("loop call: %v", err)
	}
}

func (h *harness) play(g *graph.Graph, params *core.LaunchParameters) {
	h.t.Helper()
	h.call(func() { h.player.Play(g, nil, params) })
}

func (h *harness) eventually(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var ok bool
		h.call(func() { ok = cond() })
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) waitStopped() {
	h.t.Helper()
	var done <-chan struct{}
	h.call(func() { done = h.player.Done() })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		h.t.Fatal("scenario did not stop")
	}
}

func (h *harness) recorded(kind EventKind) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Event
	for _, e := range h.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (h *harness) indexOf(kind EventKind, node core.Hash) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.events {
		if e.Kind == kind && e.NodeHash == node {
			return i
		}
	}
	return -1
}

func connect(t *testing.T, g *graph.Graph, from, to graph.FlowNode) {
	t.Helper()
	for _, n := range []graph.FlowNode{from, to} {
		if !g.ContainsNode(n.Hash()) {
			g.AddNode(n)
		}
	}
	if _, ok := g.Connect(from, to); !ok {
		t.Fatalf("connect %v -> %v failed", from.Hash(), to.Hash())
	}
}

func TestPlayer_AndJoinEndToEnd(t *testing.T) {
	h := newHarness(t)
	s := newStart("s")
	s.manual()
	s2 := newStart("s2")
	s2.manual()
	j := newTestNode("j").manual()
	e := newEnd("e")

	g := graph.New("e2e")
	connect(t, g, s, j)
	connect(t, g, s2, j)
	connect(t, g, j, e)

	h.play(g, &core.LaunchParameters{Scenario: "e2e"})
	h.call(func() {
		if !h.player.IsActive(s) || !h.player.IsActive(s2) {
			t.Fatal("both start nodes should be active")
		}
		if h.player.IsActive(j) {
			t.Fatal("join should not be active yet")
		}
		if len(h.player.EndNodesToComplete()) != 1 {
			t.Fatal("end node should be tracked")
		}
	})

	close(s.complete)
	h.eventually("s completed", func() bool { return h.player.IsCompleted(s) })
	h.call(func() {
		if h.player.IsActive(j) {
			t.Fatal("AND join activated with one predecessor pending")
		}
	})

	close(s2.complete)
	h.eventually("j active", func() bool { return h.player.IsActive(j) })

	close(j.complete)
	h.waitStopped()

	if h.indexOf(EventNodeActivated, e.Hash()) < h.indexOf(EventNodeCompleted, j.Hash()) {
		t.Error("end node activated before the join completed")
	}
	stopped := h.recorded(EventScenarioStopped)
	if len(stopped) != 1 || stopped[0].Payload["reason"] != StopCompleted {
		t.Fatalf("stopped events = %+v, want one completed", stopped)
	}
	if stopped[0].Scenario != "e2e" {
		t.Errorf("Scenario = %q, want e2e", stopped[0].Scenario)
	}

	h.call(func() {
		if h.player.IsPlaying() {
			t.Error("player should not be playing")
		}
		if len(h.player.ActiveNodes()) != 0 || len(h.player.CompletedNodes()) != 0 {
			t.Error("tracking sets should be cleared after stop")
		}
		if h.player.LaunchParameters() != nil {
			t.Error("launch parameters should be cleared after stop")
		}
		if !h.player.ExecutionContext().IsRoot() || h.player.ExecutionContext().Graph() != nil {
			t.Error("root player context should be cleared to a root")
		}
	})
}

func TestPlayer_OrJoinDoesNotRefire(t *testing.T) {
	h := newHarness(t)
	s1 := newStart("s1")
	s1.manual()
	s2 := newStart("s2")
	s2.manual()
	j := newTestNode("j")
	j.SetActivationType(core.ActivationOr)
	e := newEnd("e")
	e.manual()

	g := graph.New("or")
	connect(t, g, s1, j)
	connect(t, g, s2, j)
	connect(t, g, j, e)

	h.play(g, nil)

	close(s1.complete)
	h.eventually("e active", func() bool { return h.player.IsActive(e) })

	close(s2.complete)
	h.eventually("s2 completed", func() bool { return h.player.IsCompleted(s2) })
	h.call(func() {
		if j.activations != 1 {
			t.Fatalf("OR join activated %d times, want 1", j.activations)
		}
	})

	close(e.complete)
	h.waitStopped()
}

func TestPlayer_UseOrComponent(t *testing.T) {
	h := newHarness(t)
	s1 := newStart("s1")
	s2 := newStart("s2")
	s2.manual()
	j := newTestNode("j", core.UseOr{}).manual()
	e := newEnd("e")

	g := graph.New("use-or")
	connect(t, g, s1, j)
	connect(t, g, s2, j)
	connect(t, g, j, e)

	h.play(g, nil)
	h.eventually("j active", func() bool { return h.player.IsActive(j) })

	h.call(func() { h.player.Stop() })
	close(s2.complete)
}

func TestPlayer_DeadEnd(t *testing.T) {
	h := newHarness(t)
	s := newStart("s")
	e := newEnd("e")

	g := graph.New("dead-end")
	g.AddNode(s)
	g.AddNode(e)

	h.play(g, nil)
	h.waitStopped()

	stopped := h.recorded(EventScenarioStopped)
	if len(stopped) != 1 || stopped[0].Payload["reason"] != StopDeadEnd {
		t.Fatalf("stopped events = %+v, want one dead_end", stopped)
	}
	h.call(func() {
		if e.activations != 0 {
			t.Error("end node should never activate")
		}
	})
}

func TestPlayer_LoneStartCompletes(t *testing.T) {
	h := newHarness(t)
	s := newStart("s")
	g := graph.New("lone-start")
	g.AddNode(s)

	h.play(g, nil)
	h.waitStopped()

	stopped := h.recorded(EventScenarioStopped)
	if len(stopped) != 1 || stopped[0].Payload["reason"] != StopCompleted {
		t.Fatalf("stopped events = %+v, want one completed", stopped)
	}
	if got := stopped[0].Payload["completed_nodes"]; got != 1 {
		t.Errorf("completed_nodes = %v, want 1", got)
	}
	if h.indexOf(EventNodeCompleted, s.Hash()) < 0 {
		t.Error("start node should complete before the stop")
	}
}

func TestPlayer_NoStartNodes(t *testing.T) {
	h := newHarness(t)
	g := graph.New("empty")
	g.AddNode(newEnd("e"))

	h.play(g, nil)
	h.waitStopped()
	if len(h.recorded(EventScenarioStarted)) != 1 || len(h.recorded(EventScenarioStopped)) != 1 {
		t.Fatal("expected a started and a stopped event")
	}
}

func TestPlayer_StopIsIdempotentAndStopsSubPlayers(t *testing.T) {
	h := newHarness(t)
	s := newStart("s")
	s.manual()
	g := graph.New("parent")
	g.AddNode(s)

	subStart := newStart("sub-s")
	subStart.manual()
	subGraph := graph.New("child")
	subGraph.AddNode(subStart)

	h.play(g, &core.LaunchParameters{Scenario: "parent", UseLog: true})

	var sub *Player
	h.call(func() {
		sub = h.player.CreateSubPlayer()
		if sub.LaunchParameters() != h.player.LaunchParameters() {
			t.Error("sub-player should share launch parameters")
		}
		sub.Play(subGraph, nil, nil)
		if !sub.IsPlaying() || !sub.IsActive(subStart) {
			t.Fatal("sub-player should be playing")
		}
		if sub.ExecutionContext().Parent() != h.player.ExecutionContext() {
			t.Error("sub-player context should derive from the parent context")
		}
	})

	h.call(func() { h.player.Stop() })
	h.call(func() { h.player.Stop() })

	h.call(func() {
		if sub.IsPlaying() {
			t.Error("sub-player should be stopped")
		}
		if len(h.player.SubPlayers()) != 0 {
			t.Error("sub-players should be removed")
		}
		if sub.ExecutionContext() != nil {
			t.Error("sub-player context should be released")
		}
		if s.deactivations != 1 || subStart.deactivations != 1 {
			t.Errorf("deactivations = %d/%d, want 1/1", s.deactivations, subStart.deactivations)
		}
	})

	if n := len(h.recorded(EventScenarioStopped)); n != 2 {
		t.Fatalf("stopped events = %d, want 2 (sub and parent)", n)
	}
	if len(h.recorded(EventSubPlayerAdded)) != 1 || len(h.recorded(EventSubPlayerRemoved)) != 1 {
		t.Error("expected one subplayer.added and one subplayer.removed")
	}
	var childStarts int
	for _, ev := range h.recorded(EventScenarioStarted) {
		if ev.ParentRunID != "" {
			childStarts++
			if ev.Scenario != "child" {
				t.Errorf("sub-player Scenario = %q, want child", ev.Scenario)
			}
		}
	}
	if childStarts != 1 {
		t.Errorf("sub-player started events = %d, want 1 carrying the parent run ID", childStarts)
	}
}

func TestPlayer_RoleFiltering(t *testing.T) {
	pilot := core.NewIdentity("pilot")
	copilot := core.NewIdentity("copilot")

	tests := []struct {
		name     string
		identity core.Hash
		want     bool
	}{
		{name: "included", identity: pilot.Hash, want: true},
		{name: "not included", identity: copilot.Hash, want: false},
		{name: "no identity", identity: 0, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			s := newStart("s", core.RoleInclude{Identity: pilot})
			a := newTestNode("a").manual()
			g := graph.New("roles")
			connect(t, g, s, a)

			h.play(g, &core.LaunchParameters{IdentityHash: tt.identity})
			h.eventually("a active", func() bool { return h.player.IsActive(a) })
			h.call(func() {
				if h.player.ExecutionContext().IdentityHash() != tt.identity {
					t.Errorf("identity = %v, want %v", h.player.ExecutionContext().IdentityHash(), tt.identity)
				}
				if len(a.allowed) != 1 || a.allowed[0] != tt.want {
					t.Errorf("CanExecute = %v, want %v", a.allowed, tt.want)
				}
				h.player.Stop()
			})
		})
	}
}

func TestPlayer_ActivatePanicIsContained(t *testing.T) {
	h := newHarness(t)
	bad := newStart("bad")
	bad.panicOn = "activate"
	good := newStart("good")
	good.manual()
	g := graph.New("panic")
	g.AddNode(bad)
	g.AddNode(good)

	h.play(g, nil)
	h.call(func() {
		if !h.player.IsPlaying() || !h.player.IsActive(good) {
			t.Fatal("sibling start node should still be active")
		}
		h.player.Stop()
	})

	failed := h.recorded(EventNodeFailed)
	if len(failed) != 1 || failed[0].NodeHash != bad.Hash() || failed[0].Payload["op"] != "activate" {
		t.Fatalf("failed events = %+v", failed)
	}
}

func TestPlayer_WaitErrorStopsBranch(t *testing.T) {
	h := newHarness(t)
	s := newStart("s")
	s.waitErr = errors.New("sensor offline")
	a := newTestNode("a")
	g := graph.New("wait-error")
	connect(t, g, s, a)

	h.play(g, nil)
	h.eventually("node.failed", func() bool { return len(h.recorded(EventNodeFailed)) == 1 })
	h.call(func() {
		if a.activations != 0 {
			t.Error("successor should not activate after a failed wait")
		}
		if !h.player.IsActive(s) {
			t.Error("failed node should stay active")
		}
		h.player.Stop()
	})
}

func TestPlayer_AllowNextFalse(t *testing.T) {
	h := newHarness(t)
	s := newStart("s")
	s.blockNext = true
	a := newTestNode("a")
	e := newEnd("e")
	g := graph.New("terminal")
	connect(t, g, s, a)
	g.AddNode(e)

	h.play(g, nil)
	h.eventually("s completed", func() bool { return h.player.IsCompleted(s) })
	h.call(func() {
		if a.activations != 0 {
			t.Error("successor of a terminal node should not activate")
		}
		if !h.player.IsPlaying() {
			t.Error("player should still wait for the end node")
		}
		h.player.Stop()
	})
}

func TestPlayer_SkipActiveNodes(t *testing.T) {
	h := newHarness(t)
	s := newStart("s")
	s.manual()
	e := newEnd("e")
	g := graph.New("skip")
	connect(t, g, s, e)

	h.play(g, nil)
	h.call(func() { h.player.SkipActiveNodes() })
	h.waitStopped()

	h.call(func() {
		if s.deactivations != 1 || e.activations != 1 {
			t.Errorf("s deactivations = %d, e activations = %d", s.deactivations, e.activations)
		}
	})
}

func TestPlayer_ForcePlayRestarts(t *testing.T) {
	h := newHarness(t)
	s := newStart("s")
	s.manual()
	g := graph.New("force")
	g.AddNode(s)

	var first, second string
	h.call(func() {
		h.player.Play(g, nil, nil)
		first = h.player.RunID()
		h.player.Play(g, nil, nil)
		if h.player.RunID() != first {
			t.Error("Play while playing should be a no-op")
		}
		h.player.ForcePlay(g, nil, nil)
		second = h.player.RunID()
		h.player.Stop()
	})
	if first == second {
		t.Fatal("ForcePlay should start a new run")
	}
	if n := len(h.recorded(EventScenarioStarted)); n != 2 {
		t.Fatalf("started events = %d, want 2", n)
	}
}

func TestPlayer_EventSequence(t *testing.T) {
	h := newHarness(t)
	s := newStart("s")
	e := newEnd("e")
	g := graph.New("seq")
	connect(t, g, s, e)

	h.play(g, nil)
	h.waitStopped()

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.events) == 0 {
		t.Fatal("no events recorded")
	}
	runID := h.events[0].RunID
	for i, ev := range h.events {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("event %d (%s) Seq = %d, want %d", i, ev.Kind, ev.Seq, i+1)
		}
		if ev.RunID != runID {
			t.Fatalf("event %d RunID = %q, want %q", i, ev.RunID, runID)
		}
		if ev.Scenario != "seq" {
			t.Fatalf("event %d Scenario = %q, want graph name", i, ev.Scenario)
		}
	}
	if h.events[0].Kind != EventScenarioStarted || h.events[len(h.events)-1].Kind != EventScenarioStopped {
		t.Errorf("run should start with %s and end with %s", EventScenarioStarted, EventScenarioStopped)
	}
}
