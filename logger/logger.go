// Package logger builds the process-wide zerolog logger: a console writer, a rotating
// file with every record and a second rotating file that only keeps errors.
package logger

import (
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// Rotation limits for both log files.
	MaxSizeMB  = 1
	MaxBackups = 5
)

// Options configures New. Empty file paths disable the matching file.
type Options struct {
	Level    string
	File     string
	ErrorLog string
	Console  io.Writer
	// NoColor disables ANSI colors on the console writer.
	NoColor bool
}

// New returns a logger writing to the configured sinks. The returned Closer flushes and
// closes the rotating files.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	var (
		writers []io.Writer
		closers multiCloser
	)
	if opts.Console != nil {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        opts.Console,
			TimeFormat: time.DateTime,
			NoColor:    opts.NoColor,
		})
	}
	if opts.File != "" {
		f := rotating(opts.File)
		writers = append(writers, f)
		closers = append(closers, f)
	}
	if opts.ErrorLog != "" {
		f := rotating(opts.ErrorLog)
		writers = append(writers, &errorLevelWriter{Writer: f})
		closers = append(closers, f)
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	l := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()
	return l, closers, nil
}

// ParseLevel maps a level name to a zerolog level; blank means info.
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	if s == "warning" {
		s = "warn"
	}
	return zerolog.ParseLevel(s)
}

func rotating(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    MaxSizeMB,
		MaxBackups: MaxBackups,
	}
}

// errorLevelWriter drops records below error level.
type errorLevelWriter struct {
	io.Writer
}

func (w *errorLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.ErrorLevel || level == zerolog.NoLevel {
		return len(p), nil
	}
	return w.Writer.Write(p)
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
