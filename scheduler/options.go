package scheduler

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultMaxTaskDuration is the watchdog threshold after which a run is presumed stuck.
	DefaultMaxTaskDuration = 60 * time.Second
	// DefaultStopTimeout bounds how long Stop waits for in-flight jobs.
	DefaultStopTimeout = 5 * time.Second

	// budgetWarnRatio is the share of its interval a run may use before a warning is logged.
	budgetWarnRatio = 0.8
)

type options struct {
	Logger            zerolog.Logger
	MaxTaskDuration   time.Duration
	Quiet             QuietSet
	Location          *time.Location
	Clock             func() time.Time
	MaxConcurrentJobs int
	StopTimeout       time.Duration
}

// Option applies configuration to the scheduler.
type Option func(*options)

func defaultOptions() options {
	return options{
		Logger:          log.Logger,
		MaxTaskDuration: DefaultMaxTaskDuration,
		Quiet:           NewQuietSet(DefaultQuietTasks...),
		Location:        time.UTC,
		Clock:           time.Now,
		StopTimeout:     DefaultStopTimeout,
	}
}

// WithLogger injects the logger used for every task event.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithMaxTaskDuration sets the watchdog threshold shared by all tasks.
func WithMaxTaskDuration(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.MaxTaskDuration = d
		}
	}
}

// WithQuietTasks replaces the set of tasks exempt from the drift log line.
func WithQuietTasks(names ...string) Option {
	return func(o *options) {
		o.Quiet = NewQuietSet(names...)
	}
}

// WithLocation sets the trigger timezone.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		o.Location = loc
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.Clock = now
	}
}

// WithMaxConcurrentJobs caps how many ticks the trigger runs at once across all tasks.
// Ticks over the cap are dropped and picked up at their next interval.
func WithMaxConcurrentJobs(n int) Option {
	return func(o *options) {
		o.MaxConcurrentJobs = n
	}
}

// WithStopTimeout bounds how long Stop waits for in-flight jobs.
func WithStopTimeout(d time.Duration) Option {
	return func(o *options) {
		o.StopTimeout = d
	}
}
