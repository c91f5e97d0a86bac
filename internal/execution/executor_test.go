package execution

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"trading-corev1/internal/bus"
	"trading-corev1/internal/clock"
	"trading-corev1/internal/model"
	"trading-corev1/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buySignal(qty int64) model.Signal {
	return model.Signal{
		ID:             "sig-1",
		Instrument:     "NIFTY",
		TF:             model.TF5m,
		Action:         model.ActionBuy,
		Status:         model.StatusTriggered,
		Confidence:     0.8,
		PositionAction: model.PosOpenNew,
		Quantity:       qty,
		CreatedAt:      time.Now(),
		ExpiresAt:      time.Now().Add(time.Hour),
	}
}

func fixedPrice(paise int64) PriceSource {
	return func(string) (int64, bool) { return paise, true }
}

func newTestExecutor(price int64) (*Executor, *store.Memory, *bus.Broker, *clock.Virtual) {
	mem := store.NewMemory()
	broker := bus.New(64)
	clk := clock.NewVirtual(time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC))
	paper := NewPaperAdapter(fixedPrice(price), clk, 0)
	return New(paper, mem, broker, clk, nil, testLogger()), mem, broker, clk
}

func TestExecute_OpenNewCreatesPosition(t *testing.T) {
	e, mem, broker, _ := newTestExecutor(2500000)
	rep, _ := broker.Subscribe("trading:executed:NIFTY")

	posID, err := e.Execute(context.Background(), buySignal(50))
	if err != nil {
		t.Fatal(err)
	}
	pos, err := mem.GetPosition(context.Background(), posID)
	if err != nil {
		t.Fatal(err)
	}
	if pos.Side != model.SideLong || pos.Quantity != 50 {
		t.Errorf("position = %s qty %d, want LONG 50", pos.Side, pos.Quantity)
	}
	if pos.AvgPrice != 2500000 {
		t.Errorf("avg price = %d, want 2500000", pos.AvgPrice)
	}
	if pos.OpeningSignalID != "sig-1" {
		t.Errorf("opening signal = %q", pos.OpeningSignalID)
	}

	select {
	case env := <-rep.C():
		r := env.Payload.(model.ExecutionReport)
		if r.Status != model.ExecFilled || r.PositionID != posID {
			t.Errorf("report = %+v", r)
		}
	default:
		t.Error("no execution report published")
	}
}

func TestExecute_AddToLongRecomputesAvg(t *testing.T) {
	e, mem, _, _ := newTestExecutor(2500000)
	ctx := context.Background()
	posID, err := e.Execute(ctx, buySignal(50))
	if err != nil {
		t.Fatal(err)
	}

	// Second fill at a higher price, half size.
	e.adapter = NewPaperAdapter(fixedPrice(2600000), e.clk, 0)
	add := buySignal(25)
	add.ID = "sig-2"
	add.PositionAction = model.PosAddToLong
	gotID, err := e.Execute(ctx, add)
	if err != nil {
		t.Fatal(err)
	}
	if gotID != posID {
		t.Errorf("add affected position %s, want %s", gotID, posID)
	}
	pos, _ := mem.GetPosition(ctx, posID)
	if pos.Quantity != 75 {
		t.Errorf("quantity = %d, want 75", pos.Quantity)
	}
	want := (int64(2500000)*50 + int64(2600000)*25) / 75
	if pos.AvgPrice != want {
		t.Errorf("avg price = %d, want %d", pos.AvgPrice, want)
	}
}

func TestExecute_CloseLongRealizesPnL(t *testing.T) {
	e, mem, broker, _ := newTestExecutor(2500000)
	ctx := context.Background()
	posID, err := e.Execute(ctx, buySignal(50))
	if err != nil {
		t.Fatal(err)
	}

	rep, _ := broker.Subscribe("trading:executed:NIFTY")

	// Exit at +100 rupees.
	e.adapter = NewPaperAdapter(fixedPrice(2510000), e.clk, 0)
	exit := buySignal(50)
	exit.ID = "sig-close"
	exit.Action = model.ActionExit
	exit.PositionAction = model.PosCloseLong
	if _, err := e.Execute(ctx, exit); err != nil {
		t.Fatal(err)
	}

	pos, _ := mem.GetPosition(ctx, posID)
	if pos.Status != model.PositionClosed {
		t.Errorf("status = %s, want CLOSED", pos.Status)
	}
	if pos.RealizedPnL != 10000*50 {
		t.Errorf("realized pnl = %d, want %d", pos.RealizedPnL, 10000*50)
	}
	if pos.ClosingSignalID != "sig-close" {
		t.Errorf("closing signal = %q", pos.ClosingSignalID)
	}

	select {
	case env := <-rep.C():
		r := env.Payload.(model.ExecutionReport)
		if r.Status != model.ExecClosed {
			t.Errorf("report status = %s, want closed", r.Status)
		}
	default:
		t.Error("no close report published")
	}
}

func TestClose_Idempotent(t *testing.T) {
	e, mem, _, _ := newTestExecutor(2500000)
	ctx := context.Background()
	posID, err := e.Execute(ctx, buySignal(50))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Close(ctx, posID, "manual"); err != nil {
		t.Fatal(err)
	}
	pos, _ := mem.GetPosition(ctx, posID)
	pnlAfterFirst := pos.RealizedPnL
	// Second close is a no-op.
	if err := e.Close(ctx, posID, "manual"); err != nil {
		t.Fatal(err)
	}
	pos, _ = mem.GetPosition(ctx, posID)
	if pos.RealizedPnL != pnlAfterFirst {
		t.Error("second close mutated the position")
	}
}

// flakyAdapter fails with a retryable error until the remaining counter
// reaches zero.
type flakyAdapter struct {
	mu        sync.Mutex
	failures  int
	attempts  int
	delegate  model.BrokerAdapter
	retryable bool
}

func (f *flakyAdapter) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	f.mu.Lock()
	f.attempts++
	shouldFail := f.failures > 0
	if shouldFail {
		f.failures--
	}
	f.mu.Unlock()
	if shouldFail {
		return model.OrderResult{}, &model.BrokerError{
			Code: "NETWORK", Msg: "connection reset", Retryable: f.retryable,
		}
	}
	return f.delegate.PlaceOrder(ctx, req)
}

func (f *flakyAdapter) CancelOrder(ctx context.Context, id string) error { return nil }
func (f *flakyAdapter) Positions(ctx context.Context) ([]model.Position, error) {
	return nil, nil
}

func TestExecute_RetryableErrorRetriesWithBackoff(t *testing.T) {
	mem := store.NewMemory()
	broker := bus.New(64)
	clk := clock.NewVirtual(time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC))
	flaky := &flakyAdapter{
		failures:  2,
		retryable: true,
		delegate:  NewPaperAdapter(fixedPrice(2500000), clk, 0),
	}
	e := New(flaky, mem, broker, clk, nil, testLogger())

	done := make(chan error, 1)
	go func() {
		_, err := e.Execute(context.Background(), buySignal(50))
		done <- err
	}()

	// Walk the virtual clock through both backoff waits (500ms, 1s).
	deadline := time.Now().Add(2 * time.Second)
	for {
		clk.AdvanceBy(250 * time.Millisecond)
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("execute failed despite retries: %v", err)
			}
			if flaky.attempts != 3 {
				t.Errorf("attempts = %d, want 3", flaky.attempts)
			}
			return
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("execute never completed")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestExecute_FatalErrorDoesNotRetry(t *testing.T) {
	mem := store.NewMemory()
	broker := bus.New(64)
	clk := clock.NewVirtual(time.Now())
	flaky := &flakyAdapter{
		failures:  5,
		retryable: false,
		delegate:  NewPaperAdapter(fixedPrice(2500000), clk, 0),
	}
	e := New(flaky, mem, broker, clk, nil, testLogger())
	rep, _ := broker.Subscribe("trading:executed:NIFTY")

	if _, err := e.Execute(context.Background(), buySignal(50)); err == nil {
		t.Fatal("expected failure on fatal error")
	}
	if flaky.attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on fatal)", flaky.attempts)
	}
	select {
	case env := <-rep.C():
		r := env.Payload.(model.ExecutionReport)
		if r.Status != model.ExecRejected {
			t.Errorf("report status = %s, want rejected", r.Status)
		}
	default:
		t.Error("no rejection report published")
	}
}

func TestPaperAdapter_SlippageMovesAgainstTaker(t *testing.T) {
	clk := clock.NewVirtual(time.Now())
	p := NewPaperAdapter(fixedPrice(1000000), clk, 10) // 0.1%
	buy, err := p.PlaceOrder(context.Background(), model.OrderRequest{
		Instrument: "NIFTY", Side: model.SideLong, Quantity: 50, Type: model.OrderMarket,
	})
	if err != nil {
		t.Fatal(err)
	}
	if buy.AvgPrice != 1001000 {
		t.Errorf("buy fill = %d, want 1001000", buy.AvgPrice)
	}
	sell, _ := p.PlaceOrder(context.Background(), model.OrderRequest{
		Instrument: "NIFTY", Side: model.SideShort, Quantity: 50, Type: model.OrderMarket,
	})
	if sell.AvgPrice != 999000 {
		t.Errorf("sell fill = %d, want 999000", sell.AvgPrice)
	}
	if len(p.Fills()) != 2 {
		t.Errorf("fills = %d, want 2", len(p.Fills()))
	}
}
