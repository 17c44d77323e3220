// Package scheduler runs named recurring tasks behind a per-task guard.
//
// The Scheduler is a registry: it indexes tasks by name and drives each task's Guard from
// a gocron interval job. It has no execution logic of its own. The Guard makes sure a task
// never runs twice at once, recovers runs that exceed the watchdog threshold, honours the
// optional gating condition and logs timing anomalies.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// Scheduler manages scheduled tasks.
type Scheduler struct {
	cfg options
	log zerolog.Logger

	mu     sync.Mutex
	guards map[string]*Guard
	order  []string

	cron    *gocron.Scheduler
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// New creates an empty, stopped Scheduler.
func New(opts ...Option) *Scheduler {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Scheduler{
		cfg:    cfg,
		log:    cfg.Logger,
		guards: make(map[string]*Guard),
	}
}

// AddTask registers a task. cond may be nil. Duplicate names are rejected.
//
// Tasks added after Start are scheduled right away.
func (s *Scheduler) AddTask(name string, fn Func, interval time.Duration, cond Condition) error {
	t := Task{
		Name:      normalizeName(name),
		Interval:  interval,
		Fn:        fn,
		Condition: cond,
	}
	if err := t.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.guards[t.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTask, t.Name)
	}
	g := newGuard(t, s.cfg)
	if s.running {
		if err := s.scheduleLocked(g); err != nil {
			return err
		}
	}
	s.guards[t.Name] = g
	s.order = append(s.order, t.Name)

	s.log.Info().
		Str("task", t.Name).
		Dur("interval", t.Interval).
		Bool("gated", cond != nil).
		Msg("task registered")
	return nil
}

// Start activates the trigger for every registered task. It is a no-op when already
// started. ctx is handed to every payload and condition; Stop cancels it.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.cron = gocron.NewScheduler(s.cfg.Location)
	s.cron.TagsUnique()
	if s.cfg.MaxConcurrentJobs > 0 {
		s.cron.SetMaxConcurrentJobs(s.cfg.MaxConcurrentJobs, gocron.RescheduleMode)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, name := range s.order {
		if err := s.scheduleLocked(s.guards[name]); err != nil {
			s.cancel()
			s.cron.Clear()
			s.cron = nil
			return err
		}
	}

	s.cron.StartAsync()
	s.running = true
	s.log.Info().Int("tasks", len(s.order)).Msg("scheduler started")
	return nil
}

// scheduleLocked adds g's interval job to the live trigger. Each job fires in its own
// goroutine; the guard, not the trigger, is what keeps runs of one task from overlapping.
func (s *Scheduler) scheduleLocked(g *Guard) error {
	ctx := s.ctx
	_, err := s.cron.Every(g.task.Interval).
		Tag(g.task.Name).
		WaitForSchedule().
		Do(func() {
			g.OnTick(ctx)
		})
	if err != nil {
		return fmt.Errorf("schedule task %q: %w", g.task.Name, err)
	}
	return nil
}

// Stop deactivates the trigger. It is a no-op when not started. Payloads observe the
// cancellation of their context; Stop waits at most the stop timeout for them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cron := s.cron
	cancel := s.cancel
	s.cron = nil
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		cron.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.StopTimeout):
		s.log.Warn().Dur("timeout", s.cfg.StopTimeout).Msg("timed out waiting for tasks to finish")
	}
	s.log.Info().Msg("scheduler stopped")
}

// IsRunning reports whether the trigger is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow pushes one extra tick through the task's guard, outside the regular cadence.
// The usual overlap, stuck and gating rules apply.
func (s *Scheduler) RunNow(ctx context.Context, name string) (Outcome, error) {
	g, ok := s.guard(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrTaskNotFound, name)
	}
	return g.OnTick(ctx), nil
}

// Lookup returns the status of one task.
func (s *Scheduler) Lookup(name string) (Status, bool) {
	g, ok := s.guard(name)
	if !ok {
		return Status{}, false
	}
	return g.Status(), true
}

// Snapshot returns the status of every task in registration order.
func (s *Scheduler) Snapshot() []Status {
	s.mu.Lock()
	guards := make([]*Guard, 0, len(s.order))
	for _, name := range s.order {
		guards = append(guards, s.guards[name])
	}
	s.mu.Unlock()

	out := make([]Status, 0, len(guards))
	for _, g := range guards {
		out = append(out, g.Status())
	}
	return out
}

// NextRun returns when the trigger will next tick the task. It is zero while stopped.
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	jobs, err := s.cron.FindJobsByTag(normalizeName(name))
	if err != nil || len(jobs) == 0 {
		return time.Time{}
	}
	return jobs[0].NextRun()
}

func (s *Scheduler) guard(name string) (*Guard, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guards[normalizeName(name)]
	return g, ok
}
