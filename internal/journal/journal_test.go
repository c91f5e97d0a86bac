package journal

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"trading-corev1/internal/model"
)

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_DecisionRoundTrip(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()

	d := model.TradingDecision{
		Instrument:     "NIFTY",
		Action:         model.ActionBuy,
		Confidence:     0.62,
		PositionAction: model.PosOpenNew,
		Rationale:      "BUY backed by trend(0.80)",
		Contributing: []model.AgentVerdict{
			{AgentID: "trend", Instrument: "NIFTY", Action: model.ActionBuy, Confidence: 0.8},
		},
		CycleAt: time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC),
	}
	if err := j.RecordDecision(ctx, d); err != nil {
		t.Fatal(err)
	}

	got, err := j.RecentDecisions(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d decisions, want 1", len(got))
	}
	if got[0].Instrument != "NIFTY" || got[0].Action != "BUY" {
		t.Errorf("record = %+v", got[0])
	}
	if got[0].Confidence != 0.62 {
		t.Errorf("confidence = %v", got[0].Confidence)
	}
}

func TestJournal_FillsNewestFirst(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()

	for i, id := range []string{"sig-1", "sig-2", "sig-3"} {
		err := j.RecordFill(ctx, model.ExecutionReport{
			Instrument: "NIFTY",
			SignalID:   id,
			Status:     model.ExecFilled,
			Side:       model.SideLong,
			Quantity:   50,
			AvgPrice:   2500000 + int64(i),
			TS:         time.Date(2026, 2, 2, 10, i, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := j.RecentFills(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d fills, want 2", len(got))
	}
	if got[0].SignalID != "sig-3" || got[1].SignalID != "sig-2" {
		t.Errorf("order wrong: %s, %s", got[0].SignalID, got[1].SignalID)
	}
}
