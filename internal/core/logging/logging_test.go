package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestLevelFromEnvDefaultsToInfo(t *testing.T) {
	t.Setenv("ECONOS_LOG_LEVEL", "")
	if got := levelFromEnv(); got != slog.LevelInfo {
		t.Fatalf("expected LevelInfo by default, got %v", got)
	}
}

func TestLevelFromEnvHonorsOverrides(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for env, want := range cases {
		t.Setenv("ECONOS_LOG_LEVEL", env)
		if got := levelFromEnv(); got != want {
			t.Errorf("levelFromEnv() with ECONOS_LOG_LEVEL=%q = %v, want %v", env, got, want)
		}
	}
}

func TestInitSetsServiceFieldAndRespectsLevel(t *testing.T) {
	t.Setenv("ECONOS_LOG_LEVEL", "warn")
	t.Setenv("ECONOS_JSON_LOG", "true")

	logger := Init("master")

	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("expected info-level logging to be disabled when ECONOS_LOG_LEVEL=warn")
	}
	if !logger.Enabled(context.Background(), slog.LevelWarn) {
		t.Fatal("expected warn-level logging to remain enabled")
	}
	if slog.Default() != logger {
		t.Fatal("expected Init to install the returned logger as the package default")
	}
}

func TestInitDefaultsToTextHandlerWhenJSONLogUnset(t *testing.T) {
	t.Setenv("ECONOS_JSON_LOG", "")
	t.Setenv("ECONOS_LOG_LEVEL", "debug")

	logger := Init("master")
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected debug-level logging to be enabled")
	}
}
