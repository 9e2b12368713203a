// Package logging provides structured logging configuration and utilities.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Config holds logging configuration.
type Config struct {
	// Level is one of debug, info, warn, error. Unknown values fall back
	// to info.
	Level string
	// Pretty selects human-readable text output instead of JSON, for
	// interactive use.
	Pretty bool
}

// NewLogger builds a logger writing to stderr. Long-running processes use
// JSON output so log shippers can parse it; the Pretty form is for running
// single passes by hand.
func NewLogger(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Pretty {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
