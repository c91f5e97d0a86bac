package signalmon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trading-corev1/internal/bus"
	"trading-corev1/internal/clock"
	"trading-corev1/internal/condition"
	"trading-corev1/internal/model"
	"trading-corev1/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeExec struct {
	mu    sync.Mutex
	calls []model.Signal
	fail  error
	posID string
}

func (f *fakeExec) Execute(_ context.Context, sig model.Signal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sig)
	if f.fail != nil {
		return "", f.fail
	}
	if f.posID == "" {
		return "pos-1", nil
	}
	return f.posID, nil
}

func (f *fakeExec) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func priceSignal(id string, threshold float64, created time.Time, ttl time.Duration) model.Signal {
	return model.Signal{
		ID:             id,
		Instrument:     "NIFTY",
		TF:             model.TF1m,
		Action:         model.ActionBuy,
		Status:         model.StatusPending,
		Confidence:     0.8,
		Condition:      condition.Marshal(condition.Leaf("price", condition.OpGE, threshold)),
		PositionAction: model.PosOpenNew,
		Quantity:       50,
		CreatedAt:      created,
		ExpiresAt:      created.Add(ttl),
	}
}

func tickAt(priceRupees float64, ts time.Time) model.Tick {
	return model.Tick{
		Instrument: "NIFTY", TS: ts,
		Price: int64(priceRupees * 100), Qty: 50,
	}
}

// waitStatus polls the store until the signal reaches want.
func waitStatus(t *testing.T, st model.TickStore, id string, want model.SignalStatus) model.Signal {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		sig, err := st.GetSignal(context.Background(), id)
		if err == nil && sig.Status == want {
			return *sig
		}
		if time.Now().After(deadline) {
			got := "missing"
			if err == nil {
				got = string(sig.Status)
			}
			t.Fatalf("signal %s never reached %s (last: %s)", id, want, got)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestMonitor_PriceConditionTriggersAndExecutes(t *testing.T) {
	t0 := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewVirtual(t0)
	mem := store.NewMemory()
	exec := &fakeExec{posID: "pos-42"}
	broker := bus.New(64)
	m := New(broker, mem, exec, clk, testLogger())

	trig, _ := broker.Subscribe("engine:signal:triggered:NIFTY")
	defer broker.Unsubscribe(trig)

	sig := priceSignal("s1", 105, t0, time.Minute)
	mem.PutSignal(context.Background(), sig)
	m.Track(sig)

	ctx := context.Background()
	// Below threshold: no transition.
	clk.Advance(t0.Add(30 * time.Second))
	m.onTick(ctx, tickAt(104, clk.Now()))
	if st, _ := m.Status("s1"); st != model.StatusPending {
		t.Fatalf("status after price 104 = %s, want PENDING", st)
	}

	// Above threshold: TRIGGERED then EXECUTED with the position attached.
	clk.Advance(t0.Add(40 * time.Second))
	m.onTick(ctx, tickAt(106, clk.Now()))

	got := waitStatus(t, mem, "s1", model.StatusExecuted)
	if got.PositionID != "pos-42" {
		t.Errorf("position_id = %q, want pos-42", got.PositionID)
	}
	if got.TriggeredAt.IsZero() {
		t.Error("triggered_at not recorded")
	}

	select {
	case env := <-trig.C():
		if env.Channel != "engine:signal:triggered:NIFTY" {
			t.Errorf("trigger channel = %s", env.Channel)
		}
	case <-time.After(time.Second):
		t.Error("no trigger event published")
	}
	if exec.callCount() != 1 {
		t.Errorf("executor called %d times, want 1", exec.callCount())
	}
}

func TestMonitor_ExpiresWithoutTrigger(t *testing.T) {
	t0 := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewVirtual(t0)
	mem := store.NewMemory()
	m := New(bus.New(64), mem, &fakeExec{}, clk, testLogger())

	sig := priceSignal("s1", 105, t0, time.Minute)
	mem.PutSignal(context.Background(), sig)
	m.Track(sig)

	ctx := context.Background()
	m.onTick(ctx, tickAt(104, t0.Add(30*time.Second)))

	clk.Advance(t0.Add(61 * time.Second))
	m.scanExpiry(ctx)

	got := waitStatus(t, mem, "s1", model.StatusExpired)
	if got.Reason != "ttl" {
		t.Errorf("expiry reason = %q, want ttl", got.Reason)
	}
	if m.Tracked() != 0 {
		t.Errorf("expired signal still tracked")
	}
}

func TestMonitor_SameSampleNeverDoubleTriggers(t *testing.T) {
	t0 := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewVirtual(t0)
	mem := store.NewMemory()
	exec := &fakeExec{}
	m := New(bus.New(64), mem, exec, clk, testLogger())

	sig := priceSignal("s1", 105, t0, time.Hour)
	mem.PutSignal(context.Background(), sig)
	m.Track(sig)

	ctx := context.Background()
	// The same triggering sample delivered repeatedly, including racing.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.onTick(ctx, tickAt(106, t0.Add(time.Second)))
		}()
	}
	wg.Wait()

	waitStatus(t, mem, "s1", model.StatusExecuted)
	if exec.callCount() != 1 {
		t.Errorf("executor called %d times, want exactly 1", exec.callCount())
	}
}

func TestMonitor_ExecutorFailureRevertsToPending(t *testing.T) {
	t0 := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewVirtual(t0)
	mem := store.NewMemory()
	exec := &fakeExec{fail: errors.New("broker down")}
	m := New(bus.New(64), mem, exec, clk, testLogger())

	sig := priceSignal("s1", 105, t0, time.Hour)
	mem.PutSignal(context.Background(), sig)
	m.Track(sig)

	ctx := context.Background()
	m.onTick(ctx, tickAt(106, t0.Add(time.Second)))
	waitStatus(t, mem, "s1", model.StatusPending)

	// Heals, and the same signal triggers again on the next sample.
	exec.mu.Lock()
	exec.fail = nil
	exec.mu.Unlock()
	m.onTick(ctx, tickAt(107, t0.Add(2*time.Second)))
	waitStatus(t, mem, "s1", model.StatusExecuted)
	if exec.callCount() != 2 {
		t.Errorf("executor called %d times, want 2", exec.callCount())
	}
}

func TestMonitor_ExecutorFailurePastTTLExpires(t *testing.T) {
	t0 := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewVirtual(t0)
	mem := store.NewMemory()
	// Executor stalls until the TTL has passed, then fails.
	release := make(chan struct{})
	stall := execFunc(func(context.Context, model.Signal) (string, error) {
		<-release
		return "", errors.New("broker down")
	})
	m := New(bus.New(64), mem, stall, clk, testLogger())

	sig := priceSignal("s1", 105, t0, time.Minute)
	mem.PutSignal(context.Background(), sig)
	m.Track(sig)

	ctx := context.Background()
	m.onTick(ctx, tickAt(106, t0.Add(time.Second)))
	clk.Advance(t0.Add(2 * time.Minute))
	close(release)
	waitStatus(t, mem, "s1", model.StatusExpired)
}

func TestMonitor_RecoveryReachesSameStatuses(t *testing.T) {
	t0 := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	mem := store.NewMemory()
	ctx := context.Background()

	pending := priceSignal("sp", 105, t0, time.Hour)
	mem.PutSignal(ctx, pending)
	executed := priceSignal("se", 105, t0, time.Hour)
	executed.Status = model.StatusExecuted
	executed.PositionID = "pos-9"
	mem.PutSignal(ctx, executed)
	expired := priceSignal("sx", 105, t0, time.Hour)
	expired.Status = model.StatusExpired
	mem.PutSignal(ctx, expired)

	clk := clock.NewVirtual(t0)
	exec := &fakeExec{}
	m := New(bus.New(64), mem, exec, clk, testLogger())
	if err := m.recover(ctx); err != nil {
		t.Fatal(err)
	}
	if m.Tracked() != 2 {
		t.Fatalf("recovered %d signals, want 2 (expired excluded)", m.Tracked())
	}

	// The same triggering sample produces the same outcome after restart.
	m.onTick(ctx, tickAt(106, t0.Add(time.Second)))
	waitStatus(t, mem, "sp", model.StatusExecuted)
	if st, _ := m.Status("se"); st != model.StatusExecuted {
		t.Errorf("already-executed signal changed to %s", st)
	}
	if exec.callCount() != 1 {
		t.Errorf("executor called %d times, want 1", exec.callCount())
	}
}

func TestMonitor_ConflictingTriggerSuperseded(t *testing.T) {
	t0 := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewVirtual(t0)
	mem := store.NewMemory()

	// Slow executor keeps the first trigger in the lane while the second
	// arrives.
	release := make(chan struct{})
	var calls atomic.Int64
	slow := execFunc(func(_ context.Context, sig model.Signal) (string, error) {
		calls.Add(1)
		<-release
		return "pos-" + sig.ID, nil
	})
	m := New(bus.New(64), mem, slow, clk, testLogger())

	ctx := context.Background()
	buy := priceSignal("buy", 105, t0, time.Hour)
	sell := priceSignal("sell", 105, t0.Add(time.Second), time.Hour)
	sell.Action = model.ActionSell
	mem.PutSignal(ctx, buy)
	mem.PutSignal(ctx, sell)
	m.Track(buy)
	m.Track(sell)

	m.onTick(ctx, tickAt(106, t0.Add(2*time.Second)))
	// Both conditions are true; the later-created SELL must lose.
	deadline := time.Now().Add(2 * time.Second)
	for {
		sig, err := mem.GetSignal(ctx, "sell")
		if err == nil && sig.Status == model.StatusCancelled {
			if sig.Reason != "superseded" {
				t.Errorf("cancel reason = %q, want superseded", sig.Reason)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sell signal never cancelled as superseded")
		}
		time.Sleep(2 * time.Millisecond)
	}
	close(release)
	waitStatus(t, mem, "buy", model.StatusExecuted)
	if calls.Load() != 1 {
		t.Errorf("executor ran %d signals, want 1", calls.Load())
	}
}

func TestMonitor_ClosedOnPositionCloseReport(t *testing.T) {
	t0 := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewVirtual(t0)
	mem := store.NewMemory()
	m := New(bus.New(64), mem, &fakeExec{}, clk, testLogger())

	sig := priceSignal("s1", 105, t0, time.Hour)
	sig.Status = model.StatusExecuted
	sig.PositionID = "pos-7"
	mem.PutSignal(context.Background(), sig)
	m.Track(sig)

	m.onExecutionReport(context.Background(), model.ExecutionReport{
		Instrument: "NIFTY", PositionID: "pos-7",
		Status: model.ExecClosed, TS: t0.Add(time.Minute),
	})
	waitStatus(t, mem, "s1", model.StatusClosed)
	if m.Tracked() != 0 {
		t.Error("closed signal still tracked")
	}
}

func TestMonitor_CloseReportRetiresEveryMatchingSignal(t *testing.T) {
	t0 := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewVirtual(t0)
	mem := store.NewMemory()
	m := New(bus.New(64), mem, &fakeExec{}, clk, testLogger())

	ctx := context.Background()
	// An opener and an add-on, both filled into the same position.
	open := priceSignal("s-open", 105, t0, time.Hour)
	open.Status = model.StatusExecuted
	open.PositionID = "pos-7"
	addOn := priceSignal("s-add", 106, t0, time.Hour)
	addOn.Status = model.StatusExecuted
	addOn.PositionID = "pos-7"
	addOn.PositionAction = model.PosAddToLong
	mem.PutSignal(ctx, open)
	mem.PutSignal(ctx, addOn)
	m.Track(open)
	m.Track(addOn)

	m.onExecutionReport(ctx, model.ExecutionReport{
		Instrument: "NIFTY", PositionID: "pos-7",
		Status: model.ExecClosed, TS: t0.Add(time.Minute),
	})
	waitStatus(t, mem, "s-open", model.StatusClosed)
	waitStatus(t, mem, "s-add", model.StatusClosed)
	if m.Tracked() != 0 {
		t.Errorf("%d signals still tracked after close report, want 0", m.Tracked())
	}
}

func TestMonitor_CloseOutSettlesWithoutReport(t *testing.T) {
	t0 := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewVirtual(t0)
	mem := store.NewMemory()
	exec := &fakeExec{posID: "pos-7"}
	m := New(bus.New(64), mem, exec, clk, testLogger())

	ctx := context.Background()
	// The close report is published by the executor before the lane records
	// the EXECUTED transition, so the close-out must not depend on it.
	exit := priceSignal("s-exit", 105, t0, time.Hour)
	exit.Action = model.ActionExit
	exit.PositionAction = model.PosCloseLong
	mem.PutSignal(ctx, exit)
	m.Track(exit)

	m.onTick(ctx, tickAt(106, t0.Add(time.Second)))
	waitStatus(t, mem, "s-exit", model.StatusClosed)
	deadline := time.Now().Add(2 * time.Second)
	for m.Tracked() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("%d signals still tracked after close-out, want 0", m.Tracked())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestMonitor_CrossConditionUsesPreviousSample(t *testing.T) {
	t0 := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewVirtual(t0)
	mem := store.NewMemory()
	exec := &fakeExec{}
	m := New(bus.New(64), mem, exec, clk, testLogger())

	sig := priceSignal("s1", 0, t0, time.Hour)
	sig.Condition = condition.Marshal(condition.CrossUp(model.IndEMA20, model.IndEMA50))
	mem.PutSignal(context.Background(), sig)
	m.Track(sig)

	ctx := context.Background()
	set := func(e20, e50 float64, ts time.Time) model.IndicatorSet {
		return model.IndicatorSet{
			Instrument: "NIFTY", TF: model.TF1m, TS: ts,
			Values: map[string]*float64{
				model.IndEMA20: &e20,
				model.IndEMA50: &e50,
			},
		}
	}
	// First sample: below. No prev sample yet, cross cannot fire.
	m.onIndicators(ctx, set(99, 100, t0))
	if st, _ := m.Status("s1"); st != model.StatusPending {
		t.Fatalf("status = %s before cross", st)
	}
	// Second sample: crosses above.
	m.onIndicators(ctx, set(101, 100, t0.Add(time.Minute)))
	waitStatus(t, mem, "s1", model.StatusExecuted)
}

// execFunc adapts a function to the Executor interface.
type execFunc func(ctx context.Context, sig model.Signal) (string, error)

func (f execFunc) Execute(ctx context.Context, sig model.Signal) (string, error) {
	return f(ctx, sig)
}
