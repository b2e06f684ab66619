package env

import (
	"log/slog"
	"testing"
	"time"
)

func TestGet(t *testing.T) {
	t.Setenv("CHAINGUARD_TEST_VALUE", "set")
	if got := Get("CHAINGUARD_TEST_VALUE", "default"); got != "set" {
		t.Errorf("expected set, got %s", got)
	}
	if got := Get("CHAINGUARD_TEST_MISSING", "default"); got != "default" {
		t.Errorf("expected default, got %s", got)
	}
}

func TestGetDuration(t *testing.T) {
	t.Setenv("CHAINGUARD_TEST_DURATION", "45s")
	if got := GetDuration("CHAINGUARD_TEST_DURATION", time.Second); got != 45*time.Second {
		t.Errorf("expected 45s, got %s", got)
	}
	t.Setenv("CHAINGUARD_TEST_DURATION", "soon")
	if got := GetDuration("CHAINGUARD_TEST_DURATION", time.Second); got != time.Second {
		t.Errorf("expected fallback for malformed value, got %s", got)
	}
}

func TestGetInt64(t *testing.T) {
	t.Setenv("CHAINGUARD_TEST_INT", "11155111")
	if got := GetInt64("CHAINGUARD_TEST_INT", 1); got != 11155111 {
		t.Errorf("expected 11155111, got %d", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.raw)
			if got := ParseLogLevel(slog.LevelInfo); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
