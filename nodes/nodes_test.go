package nodes

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/petal-labs/scenarioflow/bus"
	"github.com/petal-labs/scenarioflow/core"
	"github.com/petal-labs/scenarioflow/graph"
	"github.com/petal-labs/scenarioflow/roles"
	"github.com/petal-labs/scenarioflow/runtime"
	"github.com/petal-labs/scenarioflow/variables"
)

type harness struct {
	t      *testing.T
	bus    *bus.MemBus
	loop   *runtime.Loop
	player *runtime.Player

	mu     sync.Mutex
	events []runtime.Event
}

func newHarness(t *testing.T, loader runtime.Loader) *harness {
	t.Helper()
	h := &harness{t: t, bus: bus.NewMemBus(bus.MemBusConfig{}), loop: runtime.NewLoop()}
	ctx, cancel := context.WithCancel(context.Background())
	go h.loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		h.bus.Close()
	})

	services := runtime.Services{
		Bus:        h.bus,
		Loader:     loader,
		RoleFilter: roles.NewService(nil),
	}
	h.player = runtime.NewPlayer(h.loop, services, runtime.PlayerConfig{
		Handler: func(e runtime.Event) {
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

func (h *harness) play(g *graph.Graph, scope *variables.Scope, params *core.LaunchParameters) {
	h.t.Helper()
	h.call(func() { h.player.Play(g, scope, params) })
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

func (h *harness) waitStopped() string {
	h.t.Helper()
	var done <-chan struct{}
	var runID string
	h.call(func() {
		done = h.player.Done()
		runID = h.player.RunID()
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		h.t.Fatal("scenario did not stop")
	}
	for _, e := range h.recorded(runtime.EventScenarioStopped) {
		if e.RunID == runID {
			reason, _ := e.Payload["reason"].(string)
			return reason
		}
	}
	h.t.Fatal("no scenario.stopped event for the root run")
	return ""
}

func (h *harness) recorded(kind runtime.EventKind) []runtime.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []runtime.Event
	for _, e := range h.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (h *harness) indexOf(kind runtime.EventKind, node core.Hash) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.events {
		if e.Kind == kind && e.NodeHash == node {
			return i
		}
	}
	return -1
}

func (h *harness) fired() []core.Component {
	var out []core.Component
	for _, e := range h.recorded(runtime.EventComponentFired) {
		out = append(out, e.Payload["component"].(core.Component))
	}
	return out
}

func chain(t *testing.T, name string, nodes ...graph.FlowNode) *graph.Graph {
	t.Helper()
	g := graph.New(name)
	for _, n := range nodes {
		if !g.AddNode(n) {
			t.Fatalf("add node %d failed", n.Hash())
		}
	}
	for i := 1; i < len(nodes); i++ {
		if _, ok := g.Connect(nodes[i-1], nodes[i]); !ok {
			t.Fatalf("connect %d -> %d failed", nodes[i-1].Hash(), nodes[i].Hash())
		}
	}
	return g
}

func hashOf(name string) core.Hash { return core.HashString(name) }

func TestAction_FiresComponents(t *testing.T) {
	hs := newHarness(t, nil)
	start := NewStart(hashOf("start"), &Message{Text: "hello"})
	act := NewAction(hashOf("act"), core.ActivationAnd,
		&SetVariable{Name: "speed", Value: variables.Int(5)},
		&Note{Text: "authoring only"},
		core.UseOr{},
		&Signal{Name: "never"},
	)
	end := NewEnd(hashOf("end"), core.ActivationAnd)

	hs.play(chain(t, "fire", start, act, end), nil, nil)
	if reason := hs.waitStopped(); reason != runtime.StopCompleted {
		t.Fatalf("stop reason = %q, want completed", reason)
	}

	fired := hs.fired()
	if len(fired) != 2 {
		t.Fatalf("fired %d components, want 2: %v", len(fired), fired)
	}
	if m, ok := fired[0].(*Message); !ok || m.Text != "hello" {
		t.Errorf("fired[0] = %#v, want hello message", fired[0])
	}
	if _, ok := fired[1].(*SetVariable); !ok {
		t.Errorf("fired[1] = %#v, want set_variable", fired[1])
	}

	sets := hs.recorded(runtime.EventVariableSet)
	if len(sets) != 1 {
		t.Fatalf("variable.set events = %d, want 1", len(sets))
	}
	if sets[0].Payload["name"] != "speed" || sets[0].Payload["value"] != 5 || sets[0].NodeHash != hashOf("act") {
		t.Errorf("variable.set = %+v", sets[0])
	}
}

func TestAction_BoundFieldUsesVariable(t *testing.T) {
	hs := newHarness(t, nil)
	msg := &Message{Text: "default"}
	start := NewStart(hashOf("start"), msg)
	end := NewEnd(hashOf("end"), core.ActivationAnd)

	scope := variables.NewScope()
	scope.Variables["greeting"] = variables.String("bonjour")
	scope.Bind(start.Hash(), 0, "text", "greeting")

	hs.play(chain(t, "bind", start, end), scope, nil)
	hs.waitStopped()

	fired := hs.fired()
	if len(fired) != 1 {
		t.Fatalf("fired %d components, want 1", len(fired))
	}
	if got := fired[0].(*Message).Text; got != "bonjour" {
		t.Errorf("fired text = %q, want bonjour", got)
	}
	if msg.Text != "default" {
		t.Errorf("stored component mutated to %q", msg.Text)
	}
}

func TestAction_HostOnlyComponents(t *testing.T) {
	b := bus.NewMemBus(bus.MemBusConfig{})
	defer b.Close()
	sub := b.SubscribeAll()
	defer sub.Close()

	act := NewAction(hashOf("act"), core.ActivationAnd,
		&Message{Text: "everyone"},
		&HostMessage{Message: Message{Text: "host"}},
	)
	g := chain(t, "client", act)
	client := runtime.CreateRoot(runtime.Services{Bus: b}).CreateSubcontextClient(&runtime.Model{Graph: g})
	if client.IsHost() {
		t.Fatal("client context should not be a host")
	}
	act.Activate(client)

	var texts []string
	for len(sub.Events()) > 0 {
		e := <-sub.Events()
		if e.Kind == runtime.EventComponentFired {
			texts = append(texts, fmt.Sprint(e.Payload["type"]))
		}
	}
	if len(texts) != 1 || texts[0] != TypeMessage {
		t.Errorf("client fired %v, want [message]", texts)
	}

	hs := newHarness(t, nil)
	start := NewStart(hashOf("start"), &HostMessage{Message: Message{Text: "host"}})
	hs.play(chain(t, "host", start, NewEnd(hashOf("end"), core.ActivationAnd)), nil, nil)
	hs.waitStopped()
	if got := len(hs.fired()); got != 1 {
		t.Errorf("host fired %d components, want 1", got)
	}
}

func TestAction_RoleFilter(t *testing.T) {
	pilot := core.NewIdentity("pilot")
	copilot := core.NewIdentity("copilot")

	tests := []struct {
		name      string
		identity  core.Hash
		wantFired int
	}{
		{"included identity fires", pilot.Hash, 1},
		{"other identity skips", copilot.Hash, 0},
		{"unfiltered run fires", 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := newHarness(t, nil)
			start := NewStart(hashOf("start"), core.RoleInclude{Identity: pilot})
			act := NewAction(hashOf("act"), core.ActivationAnd, &Message{Text: "pilot only"})
			end := NewEnd(hashOf("end"), core.ActivationAnd)

			hs.play(chain(t, "roles", start, act, end), nil, &core.LaunchParameters{IdentityHash: tt.identity})
			if reason := hs.waitStopped(); reason != runtime.StopCompleted {
				t.Fatalf("stop reason = %q, want completed", reason)
			}
			if got := len(hs.fired()); got != tt.wantFired {
				t.Errorf("fired %d components, want %d", got, tt.wantFired)
			}
		})
	}
}

func TestDelay_Completes(t *testing.T) {
	hs := newHarness(t, nil)
	start := NewStart(hashOf("start"))
	delay := NewDelay(hashOf("delay"), core.ActivationAnd, 20*time.Millisecond)
	end := NewEnd(hashOf("end"), core.ActivationAnd)

	hs.play(chain(t, "delay", start, delay, end), nil, nil)
	if reason := hs.waitStopped(); reason != runtime.StopCompleted {
		t.Fatalf("stop reason = %q, want completed", reason)
	}
	for _, e := range hs.recorded(runtime.EventNodeCompleted) {
		if e.NodeHash == delay.Hash() && e.Elapsed < 20*time.Millisecond {
			t.Errorf("delay completed after %v, want >= 20ms", e.Elapsed)
		}
	}
}

func TestDelay_CancelledByStop(t *testing.T) {
	hs := newHarness(t, nil)
	start := NewStart(hashOf("start"))
	delay := NewDelay(hashOf("delay"), core.ActivationAnd, time.Hour)
	end := NewEnd(hashOf("end"), core.ActivationAnd)

	hs.play(chain(t, "stop", start, delay, end), nil, nil)
	hs.eventually("delay active", func() bool { return hs.player.IsActive(delay) })
	hs.call(hs.player.Stop)
	if reason := hs.waitStopped(); reason != runtime.StopRequested {
		t.Errorf("stop reason = %q, want stopped", reason)
	}
}
