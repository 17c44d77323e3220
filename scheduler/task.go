package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidTask is returned by AddTask when the name, payload or interval is unusable.
	ErrInvalidTask = errors.New("scheduler: invalid task")
	// ErrDuplicateTask is returned by AddTask when the name is already registered.
	ErrDuplicateTask = errors.New("scheduler: duplicate task")
	// ErrTaskNotFound is returned by RunNow for unknown names.
	ErrTaskNotFound = errors.New("scheduler: task not found")
)

// Func is the payload executed on each accepted tick.
type Func func(ctx context.Context) error

// Condition gates a tick. When it returns false the tick is a complete no-op.
type Condition func(ctx context.Context) bool

// Task is a named unit of recurring work. It never changes after registration.
type Task struct {
	Name      string
	Interval  time.Duration
	Fn        Func
	Condition Condition
}

func (t Task) validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidTask)
	}
	if t.Fn == nil {
		return fmt.Errorf("%w: %q has no payload", ErrInvalidTask, t.Name)
	}
	if t.Interval <= 0 {
		return fmt.Errorf("%w: %q interval=%s (must be > 0)", ErrInvalidTask, t.Name, t.Interval)
	}
	return nil
}

func normalizeName(name string) string {
	return strings.TrimSpace(name)
}

// State is the coarse state of a task.
type State int

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText lets State render as its name in JSON responses.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Outcome reports what a single tick did.
type Outcome int

const (
	// OutcomeExecuted means the payload ran and returned nil.
	OutcomeExecuted Outcome = iota
	// OutcomeFailed means the payload ran and returned an error or panicked.
	OutcomeFailed
	// OutcomeSkipped means a previous run was still in flight and within its time budget,
	// or another tick was still evaluating the condition.
	OutcomeSkipped
	// OutcomeGated means the condition returned false.
	OutcomeGated
	// OutcomeStale means the payload finished after its run had been reset as stuck.
	OutcomeStale
)

func (o Outcome) String() string {
	switch o {
	case OutcomeExecuted:
		return "executed"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeGated:
		return "gated"
	case OutcomeStale:
		return "stale"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// MarshalText lets Outcome render as its name in JSON responses.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Status is a point-in-time view of one task.
type Status struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Gated    bool          `json:"gated"`
	State    State         `json:"state"`

	RunStartedAt    time.Time     `json:"run_started_at,omitempty"`
	LastCompletedAt time.Time     `json:"last_completed_at,omitempty"`
	LastDuration    time.Duration `json:"last_duration"`

	// LastError is the most recent failure; it is not cleared on success.
	LastError string `json:"last_error,omitempty"`

	Generation uint64 `json:"generation"`
	RunCount   uint64 `json:"run_count"`
	FailCount  uint64 `json:"fail_count"`
	SkipCount  uint64 `json:"skip_count"`
	GatedCount uint64 `json:"gated_count"`
	StuckCount uint64 `json:"stuck_count"`
	StaleCount uint64 `json:"stale_count"`
}

// Running reports whether a run is currently claimed.
func (s Status) Running() bool { return s.State == StateRunning }
