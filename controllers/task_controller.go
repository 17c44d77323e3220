package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"go_trading_bot/scheduler"
)

// TaskRegistry is the read and trigger surface of the scheduler
type TaskRegistry interface {
	IsRunning() bool
	Snapshot() []scheduler.Status
	Lookup(name string) (scheduler.Status, bool)
	NextRun(name string) time.Time
	RunNow(ctx context.Context, name string) (scheduler.Outcome, error)
}

// TaskController exposes scheduled task status
type TaskController struct {
	registry TaskRegistry
	log      zerolog.Logger
}

// NewTaskController creates a new task controller
func NewTaskController(registry TaskRegistry, log zerolog.Logger) *TaskController {
	return &TaskController{registry: registry, log: log}
}

// taskView adds human readable durations and the next trigger time to a Status.
type taskView struct {
	scheduler.Status
	IntervalText     string     `json:"interval_text"`
	LastDurationText string     `json:"last_duration_text"`
	NextRun          *time.Time `json:"next_run,omitempty"`
}

func (tc *TaskController) view(st scheduler.Status) taskView {
	v := taskView{
		Status:           st,
		IntervalText:     st.Interval.String(),
		LastDurationText: st.LastDuration.String(),
	}
	if next := tc.registry.NextRun(st.Name); !next.IsZero() {
		v.NextRun = &next
	}
	return v
}

// ListTasks returns every registered task
// GET /api/v1/tasks
func (tc *TaskController) ListTasks(c *gin.Context) {
	snap := tc.registry.Snapshot()
	tasks := make([]taskView, 0, len(snap))
	for _, st := range snap {
		tasks = append(tasks, tc.view(st))
	}
	c.JSON(http.StatusOK, gin.H{
		"running": tc.registry.IsRunning(),
		"count":   len(tasks),
		"tasks":   tasks,
	})
}

// GetTask returns one task
// GET /api/v1/tasks/:name
func (tc *TaskController) GetTask(c *gin.Context) {
	st, ok := tc.registry.Lookup(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	c.JSON(http.StatusOK, tc.view(st))
}

// RunTask pushes an extra tick through the task's guard
// POST /api/v1/tasks/:name/run
func (tc *TaskController) RunTask(c *gin.Context) {
	name := c.Param("name")
	out, err := tc.registry.RunNow(c.Request.Context(), name)
	if errors.Is(err, scheduler.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	user, _ := c.Get("user_id")
	tc.log.Info().
		Str("task", name).
		Stringer("outcome", out).
		Interface("user", user).
		Msg("manual task run")

	st, _ := tc.registry.Lookup(name)
	c.JSON(http.StatusOK, gin.H{
		"outcome": out,
		"task":    tc.view(st),
	})
}
