package scheduler

import (
	"bufio"
	"bytes"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// logSink collects zerolog JSON lines written from several goroutines.
type logSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *logSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *logSink) logger() zerolog.Logger {
	return zerolog.New(s)
}

func (s *logSink) entries(t *testing.T) []map[string]any {
	t.Helper()
	s.mu.Lock()
	data := append([]byte(nil), s.buf.Bytes()...)
	s.mu.Unlock()

	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func (s *logSink) withMessage(t *testing.T, msg string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, e := range s.entries(t) {
		if e["message"] == msg {
			out = append(out, e)
		}
	}
	return out
}

func newTestGuard(t *testing.T, task Task, clock *fakeClock, sink *logSink, opts ...Option) *Guard {
	t.Helper()
	base := []Option{
		WithClock(clock.Now),
		WithLogger(sink.logger()),
		WithMaxTaskDuration(60 * time.Second),
	}
	g, err := NewGuard(task, append(base, opts...)...)
	require.NoError(t, err)
	return g
}

// waitRunning blocks until g has claimed a run.
func waitRunning(t *testing.T, g *Guard) {
	t.Helper()
	require.Eventually(t, func() bool {
		return g.Status().Running()
	}, time.Second, time.Millisecond)
}
