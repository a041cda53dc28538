// Package logging configures the zerolog logger used across busysync and
// carries it on a context.Context.
//
// Output is human-readable when stderr is a terminal and JSON otherwise
// (or whenever LOG_FORMAT=json). The level comes from LOG_LEVEL, or from the
// --verbose flag which forces debug.
package logging

import (
	"context"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type contextKey struct{}

var defaultLogger atomic.Pointer[zerolog.Logger]

func init() {
	logger := New(os.Stderr, levelFromEnv())
	defaultLogger.Store(&logger)
}

// Options controls how Setup builds the process logger.
type Options struct {
	Verbose bool
	Format  string // "console", "json" or "" for auto-detect
	Output  io.Writer
}

// Setup builds the process-wide default logger and returns it.
func Setup(opts Options) *zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	format := opts.Format
	if format == "" {
		format = os.Getenv("LOG_FORMAT")
	}
	if format == "" && isTerminal(out) {
		format = "console"
	}
	if format == "console" {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.DateTime,
			NoColor:    os.Getenv("NO_COLOR") != "",
		}
	}

	level := levelFromEnv()
	if opts.Verbose {
		level = zerolog.DebugLevel
	}

	logger := New(out, level)
	defaultLogger.Store(&logger)
	return &logger
}

// New creates a timestamped logger writing to w at the given level.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	if level <= zerolog.DebugLevel {
		logger = logger.With().Caller().Logger()
	}
	return logger
}

// Default returns the process-wide logger.
func Default() *zerolog.Logger {
	return defaultLogger.Load()
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	if logger == nil {
		logger = Default()
	}
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger carried by ctx, or the default logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return Default()
	}
	if logger, ok := ctx.Value(contextKey{}).(*zerolog.Logger); ok && logger != nil {
		return logger
	}
	return Default()
}

func levelFromEnv() zerolog.Level {
	raw := os.Getenv("LOG_LEVEL")
	if raw == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(raw)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
