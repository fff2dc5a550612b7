// Package logging wires the process-wide slog logger from environment
// configuration, matching the teacher's libs/go/core/logging package.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the default slog logger for service and returns it.
func Init(service string) *slog.Logger {
	var handler slog.Handler
	level := levelFromEnv()
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(os.Getenv("ECONOS_JSON_LOG"), "true") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	return logger
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("ECONOS_LOG_LEVEL")) {
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
