// Package logging initializes the coordinator's structured logger,
// adapted directly from libs/go/core/logging: an env-driven choice between
// a JSON handler (production) and a text handler (local development), plus
// an env-driven level.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init returns a *slog.Logger tagged with "service", configured by
// WAVECOORD_JSON_LOG ("1"/"true" selects JSON) and WAVECOORD_LOG_LEVEL
// (debug/info/warn/error, default info).
func Init(service string) *slog.Logger {
	level := parseLevel(os.Getenv("WAVECOORD_LOG_LEVEL"))

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if isTruthy(os.Getenv("WAVECOORD_JSON_LOG")) {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

func isTruthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
