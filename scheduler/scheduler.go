// Package scheduler launches scenarios on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/petal-labs/scenarioflow/core"
)

const defaultPollInterval = 5 * time.Second

// Run statuses recorded on a schedule.
const (
	StatusRunning        = "running"
	StatusCompleted      = "completed"
	StatusFailed         = "failed"
	StatusSkippedOverlap = "skipped_overlap"
)

// Schedule errors
var (
	ErrNoRunner         = errors.New("scheduler: runner is nil")
	ErrScheduleNotFound = errors.New("scheduler: schedule not found")
	ErrInvalidSchedule  = errors.New("scheduler: invalid schedule")
)

// Runner plays one scenario to completion.
type Runner interface {
	Run(ctx context.Context, params *core.LaunchParameters) (runID string, err error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, params *core.LaunchParameters) (string, error)

func (f RunnerFunc) Run(ctx context.Context, params *core.LaunchParameters) (string, error) {
	return f(ctx, params)
}

// Schedule launches Launch.Scenario whenever Cron fires.
type Schedule struct {
	ID      string
	Cron    string
	Launch  core.LaunchParameters
	Enabled bool

	NextRunAt  time.Time
	LastRunAt  *time.Time
	LastStatus string
	LastError  string
	LastRunID  string
	Runs       int
}

// Config configures a Scheduler.
type Config struct {
	Runner       Runner
	PollInterval time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

// Scheduler periodically launches due schedules. A schedule whose previous
// run is still playing is skipped for that tick rather than overlapped.
type Scheduler struct {
	runner       Runner
	pollInterval time.Duration
	now          func() time.Time
	logger       *slog.Logger

	mu        sync.Mutex
	schedules map[string]*Schedule
	active    map[string]struct{}
	runs      sync.WaitGroup
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Runner == nil {
		return nil, ErrNoRunner
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		runner:       cfg.Runner,
		pollInterval: cfg.PollInterval,
		now:          cfg.Now,
		logger:       cfg.Logger,
		schedules:    make(map[string]*Schedule),
		active:       make(map[string]struct{}),
	}, nil
}

// Add registers or replaces a schedule and computes its next run.
func (s *Scheduler) Add(schedule Schedule) error {
	if schedule.ID == "" || schedule.Launch.Scenario == "" {
		return fmt.Errorf("%w: id and scenario are required", ErrInvalidSchedule)
	}
	next, err := NextRunUTC(schedule.Cron, s.now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	schedule.NextRunAt = next

	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[schedule.ID] = &schedule
	return nil
}

// Remove deletes a schedule. A run already in flight is not interrupted.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return fmt.Errorf("%w: %q", ErrScheduleNotFound, id)
	}
	delete(s.schedules, id)
	return nil
}

// Get returns a copy of a schedule.
func (s *Scheduler) Get(id string) (Schedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return Schedule{}, false
	}
	return *sched, true
}

// Schedules returns copies of every schedule, sorted by ID.
func (s *Scheduler) Schedules() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, *sched)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Start starts background polling. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.RunOnce(loopCtx)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.RunOnce(loopCtx)
			}
		}
	}()
	return nil
}

// Stop stops polling, cancels in-flight runs and waits for them to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	finished := make(chan struct{})
	go func() {
		if done != nil {
			<-done
		}
		s.runs.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce launches every enabled schedule that is due. Runs proceed in the
// background; use Stop or Wait to wait for them.
func (s *Scheduler) RunOnce(ctx context.Context) {
	now := s.now().UTC()

	s.mu.Lock()
	var due []Schedule
	for _, sched := range s.schedules {
		if !sched.Enabled || sched.NextRunAt.After(now) {
			continue
		}
		next, err := NextRunUTC(sched.Cron, now)
		if err != nil {
			sched.LastStatus = StatusFailed
			sched.LastError = err.Error()
			continue
		}
		sched.NextRunAt = next

		if _, running := s.active[sched.ID]; running {
			sched.LastStatus = StatusSkippedOverlap
			sched.LastError = "skipped because prior scheduled run is still active"
			s.logger.Warn("schedule skipped", "schedule_id", sched.ID, "scenario", sched.Launch.Scenario)
			continue
		}
		sched.LastStatus = StatusRunning
		sched.LastError = ""
		s.active[sched.ID] = struct{}{}
		due = append(due, *sched)
	}
	s.mu.Unlock()

	for _, sched := range due {
		s.runs.Add(1)
		go s.run(ctx, sched)
	}
}

// Wait blocks until every in-flight run has returned.
func (s *Scheduler) Wait() {
	s.runs.Wait()
}

func (s *Scheduler) run(ctx context.Context, sched Schedule) {
	defer s.runs.Done()

	params := sched.Launch
	s.logger.Info("schedule firing", "schedule_id", sched.ID, "scenario", params.Scenario)
	runID, runErr := s.runner.Run(ctx, &params)
	finish := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, sched.ID)

	latest, ok := s.schedules[sched.ID]
	if !ok {
		return
	}
	latest.LastRunAt = &finish
	latest.Runs++
	latest.LastRunID = runID
	if runErr != nil {
		latest.LastStatus = StatusFailed
		latest.LastError = runErr.Error()
		s.logger.Error("scheduled run failed", "schedule_id", sched.ID, "run_id", runID, "error", runErr)
		return
	}
	latest.LastStatus = StatusCompleted
	latest.LastError = ""
}
