package logger

import (
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, c := range cases {
		if got := ParseLevel(c.in); got != c.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestInit(t *testing.T) {
	if log := Init("test", slog.LevelInfo, "text"); log == nil {
		t.Fatal("expected non-nil logger")
	}
	if log := Init("test", slog.LevelInfo, "json"); log == nil {
		t.Fatal("expected non-nil logger")
	}
}
