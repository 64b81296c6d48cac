package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/petal-labs/scenarioflow/core"
)

// Run errors
var (
	ErrNoLoader = errors.New("runtime: no scenario loader")
	ErrDeadEnd  = errors.New("runtime: scenario reached a dead end")
)

// Result summarises a finished root run.
type Result struct {
	RunID     string
	Reason    string
	Completed int
	Elapsed   time.Duration
}

// Session is a root player running on its own loop, for callers outside
// any loop such as the CLI and the scheduler.
type Session struct {
	Loop   *Loop
	Player *Player

	cancel   context.CancelFunc
	loopDone chan struct{}

	mu     sync.Mutex
	result Result
}

// NewSession starts a loop and a root player on it. Close releases the
// loop.
func NewSession(services Services, cfg PlayerConfig) *Session {
	s := &Session{Loop: NewLoop(), loopDone: make(chan struct{})}

	next := cfg.Handler
	cfg.Handler = func(e Event) {
		if e.Kind == EventScenarioStopped && e.ParentRunID == "" {
			reason, _ := e.Payload["reason"].(string)
			completed, _ := e.Payload["completed_nodes"].(int)
			s.mu.Lock()
			s.result = Result{RunID: e.RunID, Reason: reason, Completed: completed, Elapsed: e.Elapsed}
			s.mu.Unlock()
		}
		if next != nil {
			next(e)
		}
	}
	s.Player = NewPlayer(s.Loop, services, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer close(s.loopDone)
		_ = s.Loop.Run(ctx)
	}()
	return s
}

// Play starts model and blocks until the run stops or ctx is done, in which
// case the run is stopped first. A dead-end stop is reported as ErrDeadEnd
// alongside the result.
func (s *Session) Play(ctx context.Context, model *Model, params *core.LaunchParameters) (Result, error) {
	var done <-chan struct{}
	if err := s.Loop.Call(ctx, func() {
		s.Player.Play(model.Graph, model.Scope, params)
		done = s.Player.Done()
	}); err != nil {
		return Result{}, err
	}

	select {
	case <-done:
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Loop.Call(stopCtx, s.Player.Stop); err != nil {
			return Result{}, err
		}
		<-done
	}

	s.mu.Lock()
	res := s.result
	s.mu.Unlock()
	if res.Reason == StopDeadEnd {
		return res, ErrDeadEnd
	}
	if res.Reason == StopRequested && ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, nil
}

// Close stops the loop and waits for it to exit.
func (s *Session) Close() {
	s.cancel()
	<-s.loopDone
}

// RunScenario loads params.Scenario through services.Loader and plays it to
// completion on a fresh session.
func RunScenario(ctx context.Context, services Services, cfg PlayerConfig, params *core.LaunchParameters) (Result, error) {
	if services.Loader == nil {
		return Result{}, ErrNoLoader
	}
	model, err := services.Loader.Load(params.Scenario)
	if err != nil {
		return Result{}, fmt.Errorf("runtime: load %q: %w", params.Scenario, err)
	}
	s := NewSession(services, cfg)
	defer s.Close()
	return s.Play(ctx, model, params)
}
