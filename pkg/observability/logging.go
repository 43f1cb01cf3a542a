// Package observability wires structured logging and optional
// OpenTelemetry export for the batch pipelines.
package observability

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOptions selects the handler for the process logger.
type LogOptions struct {
	Level  string // debug | info | warn | error
	Format string // json | text
	File   string // when set, logs also rotate into this file
}

// NewLogger builds a slog.Logger per opts. Unknown levels fall back to
// info; unknown formats fall back to text.
func NewLogger(opts LogOptions) *slog.Logger {
	var level slog.Level
	switch opts.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var sink io.Writer = os.Stderr
	if opts.File != "" {
		sink = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    20, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if opts.Format == "json" {
		handler = slog.NewJSONHandler(sink, handlerOpts)
	} else {
		handler = slog.NewTextHandler(sink, handlerOpts)
	}
	return slog.New(handler)
}

// SetupDefault installs the configured logger as the process default
// and returns it.
func SetupDefault(opts LogOptions) *slog.Logger {
	logger := NewLogger(opts)
	slog.SetDefault(logger)
	return logger
}
