package indicator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"trading-corev1/internal/bus"
	"trading-corev1/internal/model"
	"trading-corev1/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func closedBar(i int, closePaise int64) model.Bar {
	start := time.Date(2026, 2, 2, 9, 15, 0, 0, time.UTC)
	return model.Bar{
		Instrument: "NIFTY", TF: model.TF1m,
		StartAt: start.Add(time.Duration(i) * time.Minute),
		Open:    closePaise, High: closePaise, Low: closePaise, Close: closePaise,
		Volume: 100, Ticks: 1, Closed: true,
	}
}

func TestEngine_PublishesSetOnClosedBar(t *testing.T) {
	broker := bus.New(64)
	mem := store.NewMemory()
	eng := NewEngine(broker, mem, 0, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(done)
	}()

	// Wait for the engine's subscription to register before publishing.
	waitSubscribers(t, broker, 1)

	out, err := broker.Subscribe("indicators:NIFTY:1m")
	if err != nil {
		t.Fatal(err)
	}
	defer broker.Unsubscribe(out)

	bar := closedBar(0, 1000000)
	broker.Publish(bar.Channel(), bar)

	select {
	case env := <-out.C():
		set, ok := env.Payload.(model.IndicatorSet)
		if !ok {
			t.Fatalf("payload is %T, want IndicatorSet", env.Payload)
		}
		if set.Instrument != "NIFTY" || set.TF != model.TF1m {
			t.Errorf("set identity = %s/%s", set.Instrument, set.TF)
		}
		if !set.TS.Equal(bar.StartAt) {
			t.Errorf("set TS = %v, want bar StartAt %v", set.TS, bar.StartAt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no indicator set published")
	}

	// Snapshot also persisted.
	got, err := mem.LatestIndicators(context.Background(), "NIFTY", model.TF1m)
	if err != nil {
		t.Fatalf("LatestIndicators: %v", err)
	}
	if got.Instrument != "NIFTY" {
		t.Errorf("stored set instrument = %q", got.Instrument)
	}

	cancel()
	<-done
}

func TestEngine_IgnoresOpenBars(t *testing.T) {
	broker := bus.New(64)
	eng := NewEngine(broker, store.NewMemory(), 0, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)
	waitSubscribers(t, broker, 1)

	out, err := broker.Subscribe("indicators:**")
	if err != nil {
		t.Fatal(err)
	}
	defer broker.Unsubscribe(out)

	open := closedBar(0, 1000000)
	open.Closed = false
	broker.Publish(open.Channel(), open)

	closed := closedBar(1, 1000100)
	broker.Publish(closed.Channel(), closed)

	select {
	case env := <-out.C():
		set := env.Payload.(model.IndicatorSet)
		if !set.TS.Equal(closed.StartAt) {
			t.Errorf("first published set TS = %v, want the closed bar's %v", set.TS, closed.StartAt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("closed bar produced no indicator set")
	}

	select {
	case env := <-out.C():
		t.Fatalf("unexpected second set: %+v", env.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngine_OneBankPerSeries(t *testing.T) {
	broker := bus.New(64)
	eng := NewEngine(broker, store.NewMemory(), 0, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)
	waitSubscribers(t, broker, 1)

	out, _ := broker.Subscribe("indicators:**")
	defer broker.Unsubscribe(out)

	b1 := closedBar(0, 1000000)
	b2 := closedBar(0, 1000000)
	b2.Instrument = "BANKNIFTY"
	b3 := closedBar(0, 1000000)
	b3.TF = model.TF5m

	for _, b := range []model.Bar{b1, b2, b3} {
		broker.Publish(b.Channel(), b)
	}
	for i := 0; i < 3; i++ {
		select {
		case <-out.C():
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of 3 sets arrived", i)
		}
	}
	if eng.Banks() != 3 {
		t.Errorf("Banks() = %d, want 3", eng.Banks())
	}
}

func waitSubscribers(t *testing.T, b *bus.Broker, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.SubscriberCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("broker never reached %d subscribers", n)
		}
		time.Sleep(time.Millisecond)
	}
}
