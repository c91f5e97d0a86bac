package core

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"trading-corev1/internal/config"
	"trading-corev1/internal/model"
	"trading-corev1/internal/replay"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load(filepath.Join(writeYAML(t, dir, `
instruments: [NIFTY]
timeframes: [1m]
engine:
  decision_timeframe: 1m
journal:
  path: `+filepath.Join(dir, "journal.db")+`
replay:
  enabled: true
  path: `+filepath.Join(dir, "ticks.db")+`
  speed: 0
gateway:
  addr: 127.0.0.1:0
metrics:
  addr: 127.0.0.1:0
`)))
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func writeYAML(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "core.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func recordTicks(t *testing.T, path string, n int) {
	t.Helper()
	rec, err := replay.OpenRecorder(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2025, 3, 3, 9, 15, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		err := rec.Record(model.Tick{
			Instrument: "NIFTY",
			TS:         base.Add(time.Duration(i) * time.Second),
			Price:      2500000 + int64(i)*100,
			Qty:        50,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestCore_ReplayRunBuildsBars(t *testing.T) {
	cfg := baseConfig(t)
	recordTicks(t, cfg.Replay.Path, 130) // spans three 1m buckets

	c, err := New(cfg, discard())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	st := c.Store()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	// Replay ran to completion; at least the first two buckets must have
	// closed and landed in the recent-bars window before the store closed.
	// The store is closed after Run, so query results were captured by the
	// pipeline itself: re-open semantics are memory-store no-ops.
	bars, err := st.RecentBars(context.Background(), "NIFTY", model.TF1m, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) < 2 {
		t.Fatalf("closed bars = %d, want >= 2", len(bars))
	}
	if !bars[0].Closed || bars[0].Open != 2500000 {
		t.Errorf("first bar = %+v", bars[0])
	}
}

func TestNew_RejectsUnknownAgent(t *testing.T) {
	cfg := baseConfig(t)
	recordTicks(t, cfg.Replay.Path, 1)
	cfg.Agents.Enabled = []string{"astrology"}

	if _, err := New(cfg, discard()); err == nil {
		t.Fatal("expected error for unknown agent")
	}
}
