package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Guard owns one task and its runtime state. Every tick for the task goes through OnTick,
// which decides whether to run the payload and keeps the bookkeeping consistent.
//
// Busy ticks are dropped, never queued. A run older than maxDuration is presumed stuck and
// its bookkeeping is reset so the next tick can start a fresh run; the stuck call itself is
// not interrupted. At most one tick evaluates the condition at a time; ticks arriving
// meanwhile are dropped like busy ticks.
type Guard struct {
	task        Task
	maxDuration time.Duration
	quiet       bool
	log         zerolog.Logger
	now         func() time.Time

	mu              sync.Mutex
	running         bool
	gating          bool
	runStartedAt    time.Time
	lastCompletedAt time.Time
	generation      uint64

	runCount     uint64
	failCount    uint64
	skipCount    uint64
	gatedCount   uint64
	stuckCount   uint64
	staleCount   uint64
	lastDuration time.Duration
	lastError    string
}

// NewGuard creates a guard for t. Options are the same as for the Scheduler;
// only logger, clock, watchdog threshold and quiet set apply.
func NewGuard(t Task, opts ...Option) (*Guard, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	t.Name = normalizeName(t.Name)
	if err := t.validate(); err != nil {
		return nil, err
	}
	return newGuard(t, o), nil
}

func newGuard(t Task, o options) *Guard {
	now := o.Clock
	if now == nil {
		now = time.Now
	}
	return &Guard{
		task:        t,
		maxDuration: o.MaxTaskDuration,
		quiet:       o.Quiet.Contains(t.Name),
		log:         o.Logger.With().Str("task", t.Name).Logger(),
		now:         now,
	}
}

// Task returns the guarded task definition.
func (g *Guard) Task() Task { return g.task }

// OnTick handles one tick. It blocks while the payload runs and never returns the payload's
// error: failures are logged and absorbed, and the Outcome is informational only.
func (g *Guard) OnTick(ctx context.Context) Outcome {
	if ctx == nil {
		ctx = context.Background()
	}

	if !g.admit() {
		return OutcomeSkipped
	}

	if g.task.Condition != nil && !g.evalCondition(ctx) {
		g.mu.Lock()
		g.gating = false
		g.gatedCount++
		g.mu.Unlock()
		return OutcomeGated
	}

	gen, startedAt, lastCompleted, ok := g.claim()
	if !ok {
		return OutcomeSkipped
	}

	if !lastCompleted.IsZero() && !g.quiet {
		sinceLast := startedAt.Sub(lastCompleted)
		g.log.Info().
			Dur("since_last", sinceLast).
			Dur("interval", g.task.Interval).
			Dur("drift", sinceLast-g.task.Interval).
			Msg("executing task")
	}

	return g.execute(ctx, gen, startedAt)
}

// admit returns false when a run is in flight and still within budget, or when another
// tick is evaluating the condition. A run over budget is force-released and the tick
// proceeds. For gated tasks an admitted tick holds the condition permit until it either
// gates out or claims the run.
func (g *Guard) admit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		elapsed := g.now().Sub(g.runStartedAt)
		if elapsed <= g.maxDuration {
			g.skipCount++
			return false
		}
		g.log.Warn().
			Dur("elapsed", elapsed).
			Dur("max_duration", g.maxDuration).
			Uint64("generation", g.generation).
			Msg("task stuck, forcing reset")
		g.running = false
		g.stuckCount++
	}
	if g.gating {
		g.skipCount++
		return false
	}
	if g.task.Condition != nil {
		g.gating = true
	}
	return true
}

func (g *Guard) evalCondition(ctx context.Context) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			g.log.Error().
				Str("panic", fmt.Sprint(p)).
				Bytes("stack", debug.Stack()).
				Msg("task condition panicked")
			ok = false
		}
	}()
	return g.task.Condition(ctx)
}

// claim marks the task running. It fails if another tick claimed it while the
// condition was being evaluated.
func (g *Guard) claim() (gen uint64, startedAt, lastCompleted time.Time, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.gating = false
	if g.running {
		g.skipCount++
		return 0, time.Time{}, time.Time{}, false
	}
	startedAt = g.now()
	if startedAt.Before(g.runStartedAt) {
		startedAt = g.runStartedAt
	}
	g.running = true
	g.runStartedAt = startedAt
	g.generation++
	g.runCount++
	return g.generation, startedAt, g.lastCompletedAt, true
}

func (g *Guard) execute(ctx context.Context, gen uint64, startedAt time.Time) (out Outcome) {
	var err error
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
			g.log.Error().Bytes("stack", debug.Stack()).Msg("task panicked")
		}
		out = g.complete(gen, startedAt, err)
	}()

	err = g.task.Fn(ctx)
	if err == nil {
		duration := g.now().Sub(startedAt)
		if float64(duration) > budgetWarnRatio*float64(g.task.Interval) {
			g.log.Warn().
				Dur("duration", duration).
				Dur("interval", g.task.Interval).
				Msg("task used more than 80% of its interval")
		}
	}
	return out
}

// complete releases the run claimed as gen. A completion whose generation is no longer
// current belongs to a run that was reset as stuck; it must not touch the newer run's state.
func (g *Guard) complete(gen uint64, startedAt time.Time, err error) Outcome {
	finishedAt := g.now()
	duration := finishedAt.Sub(startedAt)

	g.mu.Lock()
	stale := gen != g.generation
	if stale {
		g.staleCount++
	} else {
		g.running = false
		if finishedAt.After(g.lastCompletedAt) {
			g.lastCompletedAt = finishedAt
		}
		g.lastDuration = duration
	}
	if err != nil {
		g.failCount++
		g.lastError = err.Error()
	}
	current := g.generation
	g.mu.Unlock()

	if err != nil {
		g.log.Error().Err(err).Dur("duration", duration).Msg("task failed")
	}
	if stale {
		g.log.Warn().
			Uint64("generation", gen).
			Uint64("current_generation", current).
			Dur("duration", duration).
			Msg("stale run finished after reset, result discarded")
		return OutcomeStale
	}
	if err != nil {
		return OutcomeFailed
	}
	return OutcomeExecuted
}

// Status returns a snapshot of the task and its runtime state.
func (g *Guard) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := Status{
		Name:            g.task.Name,
		Interval:        g.task.Interval,
		Gated:           g.task.Condition != nil,
		State:           StateIdle,
		LastCompletedAt: g.lastCompletedAt,
		LastDuration:    g.lastDuration,
		LastError:       g.lastError,
		Generation:      g.generation,
		RunCount:        g.runCount,
		FailCount:       g.failCount,
		SkipCount:       g.skipCount,
		GatedCount:      g.gatedCount,
		StuckCount:      g.stuckCount,
		StaleCount:      g.staleCount,
	}
	if g.running {
		st.State = StateRunning
		st.RunStartedAt = g.runStartedAt
	}
	return st
}
