// Package logger provides structured logging functionality for the reactor
// service. It uses Go's slog package with configurable levels and formats.
package logger

import (
	"log/slog"
	"os"
)

// New creates a new slog Logger with the specified level and format.
// Format "json" produces JSON output, anything else produces text.
func New(levelStr, format string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
