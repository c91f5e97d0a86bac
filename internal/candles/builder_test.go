package candles

import (
	"context"
	"testing"
	"time"

	"trading-corev1/internal/bus"
	"trading-corev1/internal/model"
	"trading-corev1/internal/store"
)

func tickAt(sym string, ts time.Time, price int64) model.Tick {
	return model.Tick{Instrument: sym, TS: ts, Price: price, Qty: 10}
}

// Five ticks at 1-minute spacing produce four closed 1m bars after the
// sixth tick arrives (each bar closes when the next bucket starts).
func TestMinuteBarsCloseOnRollover(t *testing.T) {
	ctx := context.Background()
	br := bus.New(64)
	mem := store.NewMemory()
	sub, _ := br.Subscribe("market:ohlc:INSTX:1m")
	b := New([]model.Timeframe{model.TF1m}, br, mem)

	start := time.Date(2025, 1, 6, 9, 15, 0, 0, time.UTC)
	prices := []int64{10000, 10200, 10100, 10300, 10500, 10400}
	for i, p := range prices {
		b.OnTick(ctx, tickAt("INSTX", start.Add(time.Duration(i)*time.Minute), p))
	}

	var closed []model.Bar
	for len(sub.C()) > 0 {
		env := <-sub.C()
		closed = append(closed, env.Payload.(model.Bar))
	}
	if len(closed) != 5 {
		t.Fatalf("closed bars = %d, want 5", len(closed))
	}
	for i, bar := range closed {
		if !bar.Closed {
			t.Fatalf("bar %d not marked closed", i)
		}
		if bar.Open != prices[i] || bar.Close != prices[i] {
			t.Fatalf("bar %d OHLC = %d/%d, want %d", i, bar.Open, bar.Close, prices[i])
		}
		if got := bar.StartAt; !got.Equal(start.Add(time.Duration(i) * time.Minute)) {
			t.Fatalf("bar %d start = %v", i, got)
		}
	}

	// The sixth tick's bar is still in flight and visible via snapshot.
	cur, err := mem.CurrentBar(ctx, "INSTX", model.TF1m)
	if err != nil || cur.Close != 10400 || cur.Closed {
		t.Fatalf("current bar: %+v, %v", cur, err)
	}
}

func TestIntraBucketOHLCInvariant(t *testing.T) {
	ctx := context.Background()
	br := bus.New(64)
	mem := store.NewMemory()
	sub, _ := br.Subscribe("market:ohlc:**")
	b := New([]model.Timeframe{model.TF1m}, br, mem)

	start := time.Date(2025, 1, 6, 9, 15, 0, 0, time.UTC)
	for i, p := range []int64{10000, 10500, 9800, 10200} {
		b.OnTick(ctx, tickAt("NIFTY", start.Add(time.Duration(i)*time.Second), p))
	}
	// Roll into the next bucket to close.
	b.OnTick(ctx, tickAt("NIFTY", start.Add(time.Minute), 10100))

	env := <-sub.C()
	bar := env.Payload.(model.Bar)
	if bar.Open != 10000 || bar.High != 10500 || bar.Low != 9800 || bar.Close != 10200 {
		t.Fatalf("OHLC = %d/%d/%d/%d", bar.Open, bar.High, bar.Low, bar.Close)
	}
	if bar.Volume != 40 || bar.Ticks != 4 {
		t.Fatalf("volume=%d ticks=%d", bar.Volume, bar.Ticks)
	}
	lo, hi := min64(bar.Open, bar.Close), max64(bar.Open, bar.Close)
	if !(bar.Low <= lo && hi <= bar.High) {
		t.Fatal("low ≤ min(open,close) ≤ max(open,close) ≤ high violated")
	}
}

func TestGapDoesNotFabricateBars(t *testing.T) {
	ctx := context.Background()
	br := bus.New(64)
	mem := store.NewMemory()
	sub, _ := br.Subscribe("market:ohlc:**")
	b := New([]model.Timeframe{model.TF1m}, br, mem)

	start := time.Date(2025, 1, 6, 9, 15, 0, 0, time.UTC)
	b.OnTick(ctx, tickAt("NIFTY", start, 10000))
	// Ten minutes of silence, then one tick.
	b.OnTick(ctx, tickAt("NIFTY", start.Add(10*time.Minute), 10100))

	if got := len(sub.C()); got != 1 {
		t.Fatalf("emitted %d bars across the gap, want exactly 1", got)
	}
	env := <-sub.C()
	bar := env.Payload.(model.Bar)
	if !bar.StartAt.Equal(start) || bar.Close != 10000 {
		t.Fatalf("stale bar closed wrong: %+v", bar)
	}
}

func TestOutOfOrderTickDroppedAndCounted(t *testing.T) {
	ctx := context.Background()
	br := bus.New(64)
	mem := store.NewMemory()
	b := New([]model.Timeframe{model.TF1m}, br, mem)

	dropped := 0
	b.OnOutOfOrder = func() { dropped++ }

	start := time.Date(2025, 1, 6, 9, 15, 30, 0, time.UTC)
	b.OnTick(ctx, tickAt("NIFTY", start, 10000))
	b.OnTick(ctx, tickAt("NIFTY", start.Add(-time.Second), 9900)) // late

	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	cur, _ := mem.CurrentBar(ctx, "NIFTY", model.TF1m)
	if cur.Low != 10000 {
		t.Fatalf("late tick leaked into bar: low=%d", cur.Low)
	}
}

func TestMultipleTimeframes(t *testing.T) {
	ctx := context.Background()
	br := bus.New(64)
	mem := store.NewMemory()
	sub1m, _ := br.Subscribe("market:ohlc:NIFTY:1m")
	sub5m, _ := br.Subscribe("market:ohlc:NIFTY:5m")
	b := New([]model.Timeframe{model.TF1m, model.TF5m}, br, mem)

	start := time.Date(2025, 1, 6, 9, 15, 0, 0, time.UTC)
	for i := 0; i <= 5; i++ {
		b.OnTick(ctx, tickAt("NIFTY", start.Add(time.Duration(i)*time.Minute), int64(10000+i)))
	}

	if got := len(sub1m.C()); got != 5 {
		t.Fatalf("1m closed bars = %d, want 5", got)
	}
	if got := len(sub5m.C()); got != 1 {
		t.Fatalf("5m closed bars = %d, want 1", got)
	}
	env := <-sub5m.C()
	bar := env.Payload.(model.Bar)
	if bar.Open != 10000 || bar.Close != 10004 || bar.Volume != 50 {
		t.Fatalf("5m bar: %+v", bar)
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
