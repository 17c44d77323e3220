package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSplitsErrorLog(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	l, closer, err := New(Options{
		Level:    "debug",
		File:     filepath.Join(dir, "trading.log"),
		ErrorLog: filepath.Join(dir, "error.log"),
		Console:  &console,
		NoColor:  true,
	})
	require.NoError(t, err)

	l.Info().Str("task", "rsi_update").Msg("executing task")
	l.Error().Str("task", "market_analysis").Msg("task failed")
	require.NoError(t, closer.Close())

	all, err := os.ReadFile(filepath.Join(dir, "trading.log"))
	require.NoError(t, err)
	assert.Contains(t, string(all), `"message":"executing task"`)
	assert.Contains(t, string(all), `"message":"task failed"`)

	errs, err := os.ReadFile(filepath.Join(dir, "error.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(errs), "executing task")
	assert.Contains(t, string(errs), `"task":"market_analysis"`)

	assert.Contains(t, console.String(), "executing task")
	assert.Contains(t, console.String(), "task=rsi_update")
}

func TestNewHonoursLevel(t *testing.T) {
	var console bytes.Buffer
	l, _, err := New(Options{Level: "warning", Console: &console, NoColor: true})
	require.NoError(t, err)

	l.Info().Msg("hidden")
	l.Warn().Msg("shown")
	assert.NotContains(t, console.String(), "hidden")
	assert.Contains(t, console.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, lvl)

	lvl, err = ParseLevel(" DEBUG ")
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}
