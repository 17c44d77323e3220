package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, sink *logSink, opts ...Option) *Scheduler {
	t.Helper()
	base := []Option{
		WithLogger(sink.logger()),
		WithStopTimeout(time.Second),
	}
	s := New(append(base, opts...)...)
	t.Cleanup(s.Stop)
	return s
}

func noop(ctx context.Context) error { return nil }

func TestAddTaskValidatesInput(t *testing.T) {
	s := newTestScheduler(t, &logSink{})

	assert.ErrorIs(t, s.AddTask("", noop, time.Second, nil), ErrInvalidTask)
	assert.ErrorIs(t, s.AddTask("x", nil, time.Second, nil), ErrInvalidTask)
	assert.ErrorIs(t, s.AddTask("x", noop, 0, nil), ErrInvalidTask)
	assert.ErrorIs(t, s.AddTask("x", noop, -time.Second, nil), ErrInvalidTask)
	assert.Empty(t, s.Snapshot())
}

func TestAddTaskRejectsDuplicates(t *testing.T) {
	s := newTestScheduler(t, &logSink{})

	require.NoError(t, s.AddTask("rsi_update", noop, time.Second, nil))
	err := s.AddTask(" rsi_update ", noop, 2*time.Second, nil)
	assert.ErrorIs(t, err, ErrDuplicateTask)

	st, ok := s.Lookup("rsi_update")
	require.True(t, ok)
	assert.Equal(t, time.Second, st.Interval, "the first registration wins")
}

func TestAddTaskLogsRegistration(t *testing.T) {
	sink := &logSink{}
	s := newTestScheduler(t, sink)

	require.NoError(t, s.AddTask("position_check", noop, 5*time.Second, func(ctx context.Context) bool { return true }))

	entries := sink.withMessage(t, "task registered")
	require.Len(t, entries, 1)
	assert.Equal(t, "info", entries[0]["level"])
	assert.Equal(t, "position_check", entries[0]["task"])
	assert.EqualValues(t, 5000, entries[0]["interval"])
	assert.Equal(t, true, entries[0]["gated"])
}

func TestSnapshotKeepsRegistrationOrder(t *testing.T) {
	s := newTestScheduler(t, &logSink{})
	names := []string{"market_data_refresh", "rsi_update", "market_analysis", "position_check"}
	for _, n := range names {
		require.NoError(t, s.AddTask(n, noop, time.Minute, nil))
	}

	snap := s.Snapshot()
	require.Len(t, snap, len(names))
	for i, st := range snap {
		assert.Equal(t, names[i], st.Name)
		assert.Equal(t, StateIdle, st.State)
		assert.True(t, st.LastCompletedAt.IsZero())
	}
}

func TestStartStopAreIdempotent(t *testing.T) {
	sink := &logSink{}
	s := newTestScheduler(t, sink)
	require.NoError(t, s.AddTask("a", noop, time.Hour, nil))

	assert.False(t, s.IsRunning())
	s.Stop()

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.False(t, s.NextRun("a").IsZero())
	assert.Len(t, sink.withMessage(t, "scheduler started"), 1)

	s.Stop()
	s.Stop()
	assert.False(t, s.IsRunning())
	assert.True(t, s.NextRun("a").IsZero())
	assert.Len(t, sink.withMessage(t, "scheduler stopped"), 1)
}

func TestStartTicksTasksOnInterval(t *testing.T) {
	s := newTestScheduler(t, &logSink{})
	var calls atomic.Int32
	require.NoError(t, s.AddTask("tick", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, 20*time.Millisecond, nil))

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	time.Sleep(30 * time.Millisecond)
	stopped := calls.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load(), "no ticks after Stop")
}

func TestTaskAddedAfterStartIsScheduled(t *testing.T) {
	s := newTestScheduler(t, &logSink{})
	require.NoError(t, s.Start(context.Background()))

	var calls atomic.Int32
	require.NoError(t, s.AddTask("late", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, 20*time.Millisecond, nil))

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestFailingTaskDoesNotAffectOthers(t *testing.T) {
	s := newTestScheduler(t, &logSink{})
	var good, bad atomic.Int32
	require.NoError(t, s.AddTask("bad", func(ctx context.Context) error {
		bad.Add(1)
		return errors.New("indicator api down")
	}, 20*time.Millisecond, nil))
	require.NoError(t, s.AddTask("good", func(ctx context.Context) error {
		good.Add(1)
		return nil
	}, 20*time.Millisecond, nil))

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		return good.Load() >= 3 && bad.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	st, ok := s.Lookup("bad")
	require.True(t, ok)
	assert.GreaterOrEqual(t, st.FailCount, uint64(3))
	assert.True(t, s.IsRunning())

	st, ok = s.Lookup("good")
	require.True(t, ok)
	assert.Zero(t, st.FailCount)
}

func TestSlowTaskIsNotRunConcurrently(t *testing.T) {
	s := newTestScheduler(t, &logSink{}, WithMaxTaskDuration(time.Minute))
	var inFlight, maxInFlight, calls atomic.Int32
	require.NoError(t, s.AddTask("slow", func(ctx context.Context) error {
		calls.Add(1)
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(80 * time.Millisecond)
		return nil
	}, 10*time.Millisecond, nil))

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		st, _ := s.Lookup("slow")
		return st.SkipCount >= 3 && calls.Load() >= 2
	}, 3*time.Second, 5*time.Millisecond)

	assert.EqualValues(t, 1, maxInFlight.Load())
}

func TestStopCancelsPayloadContext(t *testing.T) {
	s := newTestScheduler(t, &logSink{})
	started := make(chan struct{})
	var canceled atomic.Bool
	var once atomic.Bool
	require.NoError(t, s.AddTask("wait", func(ctx context.Context) error {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		<-ctx.Done()
		canceled.Store(true)
		return ctx.Err()
	}, 20*time.Millisecond, nil))

	require.NoError(t, s.Start(context.Background()))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task never started")
	}

	s.Stop()
	require.Eventually(t, canceled.Load, time.Second, time.Millisecond)
}

func TestRunNow(t *testing.T) {
	s := newTestScheduler(t, &logSink{})
	var calls atomic.Int32
	require.NoError(t, s.AddTask("market_analysis", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, time.Hour, nil))
	require.NoError(t, s.AddTask("gated", noop, time.Hour, func(ctx context.Context) bool { return false }))

	out, err := s.RunNow(context.Background(), "market_analysis")
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, out)
	assert.EqualValues(t, 1, calls.Load())

	out, err = s.RunNow(context.Background(), "gated")
	require.NoError(t, err)
	assert.Equal(t, OutcomeGated, out)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestQuietSet(t *testing.T) {
	qs := NewQuietSet("rsi_update", " ", " short_term_trend_analysis ")
	assert.True(t, qs.Contains("rsi_update"))
	assert.True(t, qs.Contains("short_term_trend_analysis"))
	assert.False(t, qs.Contains("market_analysis"))
	assert.Len(t, qs, 2)

	var empty QuietSet
	assert.False(t, empty.Contains("rsi_update"))
}

func TestOutcomeAndStateNames(t *testing.T) {
	assert.Equal(t, "executed", OutcomeExecuted.String())
	assert.Equal(t, "stale", OutcomeStale.String())
	assert.Equal(t, "Outcome(42)", Outcome(42).String())
	assert.Equal(t, "running", StateRunning.String())

	b, err := StateIdle.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "idle", string(b))
}

func TestHungConditionHoldsOneTickAtATime(t *testing.T) {
	s := newTestScheduler(t, &logSink{})
	var evaluating, runs atomic.Int32
	require.NoError(t, s.AddTask("position_check", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, 20*time.Millisecond, func(ctx context.Context) bool {
		evaluating.Add(1)
		defer evaluating.Add(-1)
		<-ctx.Done()
		return false
	}))

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		st, _ := s.Lookup("position_check")
		return st.SkipCount >= 3
	}, 2*time.Second, 5*time.Millisecond)

	assert.EqualValues(t, 1, evaluating.Load())
	assert.Zero(t, runs.Load())

	s.Stop()
	require.Eventually(t, func() bool { return evaluating.Load() == 0 }, time.Second, 5*time.Millisecond)
	st, _ := s.Lookup("position_check")
	assert.EqualValues(t, 1, st.GatedCount)
}

func TestMaxConcurrentJobsCapsParallelTicks(t *testing.T) {
	s := newTestScheduler(t, &logSink{}, WithMaxConcurrentJobs(1))
	var active, peak, runs atomic.Int32
	payload := func(ctx context.Context) error {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		runs.Add(1)
		select {
		case <-ctx.Done():
		case <-time.After(30 * time.Millisecond):
		}
		return nil
	}
	require.NoError(t, s.AddTask("market_data_refresh", payload, 10*time.Millisecond, nil))
	require.NoError(t, s.AddTask("rsi_update", payload, 10*time.Millisecond, nil))

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return runs.Load() >= 4 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	assert.EqualValues(t, 1, peak.Load())
}

func TestLocationIsHandedToTrigger(t *testing.T) {
	loc := time.FixedZone("ICT", 7*60*60)
	s := newTestScheduler(t, &logSink{}, WithLocation(loc))
	require.NoError(t, s.AddTask("data_cleanup", noop, time.Hour, nil))
	require.NoError(t, s.Start(context.Background()))

	s.mu.Lock()
	got := s.cron.Location()
	s.mu.Unlock()
	assert.Equal(t, loc, got)

	_, offset := s.NextRun("data_cleanup").Zone()
	assert.Equal(t, 7*60*60, offset)
}

func TestNilLocationFallsBackToUTC(t *testing.T) {
	s := New(WithLocation(nil))
	assert.Equal(t, time.UTC, s.cfg.Location)
}
