package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/petal-labs/scenarioflow/core"
	"github.com/petal-labs/scenarioflow/graph"
	"github.com/petal-labs/scenarioflow/roles"
)

type modelLoader map[string]*Model

func (l modelLoader) Load(name string) (*Model, error) {
	m, ok := l[name]
	if !ok {
		return nil, errors.New("not found")
	}
	return m, nil
}

func linearModel(t *testing.T, middle *testNode) *Model {
	t.Helper()
	g := graph.New("linear")
	start, end := newStart("start"), newEnd("end")
	for _, n := range []graph.FlowNode{start, middle, end} {
		g.AddNode(n)
	}
	connect(t, g, start, middle)
	connect(t, g, middle, end)
	return &Model{Name: "linear", Graph: g}
}

func TestSession_PlayToCompletion(t *testing.T) {
	var stopped int
	s := NewSession(Services{RoleFilter: roles.NewService(nil)}, PlayerConfig{
		Handler: func(e Event) {
			if e.Kind == EventScenarioStopped {
				stopped++
			}
		},
	})
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := s.Play(ctx, linearModel(t, newTestNode("mid")), &core.LaunchParameters{Scenario: "linear"})
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if res.Reason != StopCompleted || res.Completed != 3 || res.RunID == "" {
		t.Errorf("result = %+v", res)
	}
	if stopped != 1 {
		t.Errorf("wrapped handler saw %d stops, want 1", stopped)
	}
}

func TestSession_ContextCancelStopsRun(t *testing.T) {
	s := NewSession(Services{RoleFilter: roles.NewService(nil)}, PlayerConfig{})
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := s.Play(ctx, linearModel(t, newTestNode("mid").manual()), nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
	if res.Reason != StopRequested {
		t.Errorf("reason = %q, want %q", res.Reason, StopRequested)
	}
}

func TestSession_DeadEnd(t *testing.T) {
	s := NewSession(Services{RoleFilter: roles.NewService(nil)}, PlayerConfig{})
	defer s.Close()

	g := graph.New("dead-end")
	g.AddNode(newStart("s"))
	g.AddNode(newEnd("e"))
	res, err := s.Play(context.Background(), &Model{Name: "dead-end", Graph: g}, nil)
	if !errors.Is(err, ErrDeadEnd) {
		t.Fatalf("error = %v, want ErrDeadEnd", err)
	}
	if res.Reason != StopDeadEnd {
		t.Errorf("reason = %q", res.Reason)
	}
}

func TestSession_LoneStartIsNotDeadEnd(t *testing.T) {
	s := NewSession(Services{RoleFilter: roles.NewService(nil)}, PlayerConfig{})
	defer s.Close()

	g := graph.New("lone-start")
	g.AddNode(newStart("s"))
	res, err := s.Play(context.Background(), &Model{Name: "lone-start", Graph: g}, nil)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if res.Reason != StopCompleted || res.Completed != 1 {
		t.Errorf("result = %+v, want completed with 1 node", res)
	}
}

func TestRunScenario(t *testing.T) {
	services := Services{
		RoleFilter: roles.NewService(nil),
		Loader:     modelLoader{"linear": linearModel(t, newTestNode("mid"))},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := RunScenario(ctx, services, PlayerConfig{}, &core.LaunchParameters{Scenario: "linear"}); err != nil {
		t.Fatalf("RunScenario: %v", err)
	}
	if _, err := RunScenario(ctx, services, PlayerConfig{}, &core.LaunchParameters{Scenario: "missing"}); err == nil {
		t.Error("expected load error")
	}
	services.Loader = nil
	if _, err := RunScenario(ctx, services, PlayerConfig{}, &core.LaunchParameters{Scenario: "linear"}); !errors.Is(err, ErrNoLoader) {
		t.Errorf("error = %v, want ErrNoLoader", err)
	}
}
