// Package logging provides structured logging for the simulation core.
package logging

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger is the structured logging interface used across the simulation core.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	WithContext(ctx context.Context) Logger
}

type slogLogger struct {
	logger *slog.Logger
}

// Format is the log output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config controls logger construction.
type Config struct {
	Level   slog.Level
	Format  Format
	Output  *os.File
	Version string
}

// DefaultConfig returns sensible defaults: info level, text output on stdout.
func DefaultConfig() *Config {
	return &Config{
		Level:   slog.LevelInfo,
		Format:  FormatText,
		Output:  os.Stdout,
		Version: "unknown",
	}
}

// NewLogger builds a Logger from Config, defaulting to DefaultConfig when nil.
func NewLogger(cfg *Config) Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level: cfg.Level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, a.Value.Time().Format(time.RFC3339Nano))
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler).With("service", "batsim", "version", cfg.Version)
	return &slogLogger{logger: logger}
}

// NewNop returns a logger that discards every record, for tests.
func NewNop() Logger {
	return &slogLogger{logger: slog.New(slog.NewTextHandler(nopWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func (l *slogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *slogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{logger: l.logger.With(args...)}
}

// WithContext attaches the simulated-time value carried on ctx (if any) as a
// log attribute, so every line emitted during a handler can be correlated to
// the logical instant it fired at.
func (l *slogLogger) WithContext(ctx context.Context) Logger {
	if now := ctx.Value(simTimeKey{}); now != nil {
		return l.With("sim_time", now)
	}
	return l
}

type simTimeKey struct{}

// WithSimTime returns a context carrying the current simulated time, for
// loggers created via WithContext to pick up.
func WithSimTime(ctx context.Context, now float64) context.Context {
	return context.WithValue(ctx, simTimeKey{}, now)
}
