package notification

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"trading-corev1/internal/bus"
	"trading-corev1/internal/clock"
	"trading-corev1/internal/model"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type capture struct {
	mu     sync.Mutex
	alerts []Alert
}

func (c *capture) Send(_ context.Context, a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *capture) snapshot() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Alert(nil), c.alerts...)
}

func TestDispatcher_SignalAndExecutionAlerts(t *testing.T) {
	broker := bus.New(8)
	sink := &capture{}
	clk := clock.NewVirtual(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC))
	d := NewDispatcher(broker, clk, []Notifier{sink}, discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	waitSubs(t, broker, 3)
	broker.Publish("engine:signal:triggered:NIFTY", model.Signal{
		ID: "s1", Instrument: "NIFTY", Action: model.ActionBuy,
		Confidence: 0.8, Quantity: 50, EntryPrice: 2500050,
	})
	waitAlerts(t, sink, 1)
	broker.Publish("trading:executed:NIFTY", model.ExecutionReport{
		Instrument: "NIFTY", Status: model.ExecRejected, Reason: "RMS limit",
	})

	alerts := waitAlerts(t, sink, 2)
	if alerts[0].Title != "NIFTY BUY signal triggered" {
		t.Errorf("title = %q", alerts[0].Title)
	}
	if alerts[0].Message != "confidence 0.80, qty 50, entry 25000.50" {
		t.Errorf("message = %q", alerts[0].Message)
	}
	if alerts[1].Level != LevelWarning || alerts[1].Message != "RMS limit" {
		t.Errorf("rejection alert = %+v", alerts[1])
	}
}

func TestWebhook_PostsAlertJSON(t *testing.T) {
	var got Alert
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	w := NewWebhook(ts.URL)
	err := w.Send(context.Background(), Alert{Level: LevelInfo, Title: "test", Message: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "test" || got.Level != LevelInfo {
		t.Errorf("got %+v", got)
	}
}

func TestWebhook_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	if err := NewWebhook(ts.URL).Send(context.Background(), Alert{Title: "x"}); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestEscapeMarkdown(t *testing.T) {
	if got := escapeMarkdown("P&L -1.50 (open)"); got != `P&L \-1\.50 \(open\)` {
		t.Errorf("got %q", got)
	}
}

func TestRupees(t *testing.T) {
	cases := []struct {
		paise int64
		want  string
	}{
		{2500050, "25000.50"},
		{-150, "-1.50"},
		{5, "0.05"},
		{0, "0.00"},
	}
	for _, c := range cases {
		if got := rupees(c.paise); got != c.want {
			t.Errorf("rupees(%d) = %q, want %q", c.paise, got, c.want)
		}
	}
}

func waitSubs(t *testing.T, b *bus.Broker, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.SubscriberCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, want %d", b.SubscriberCount(), n)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitAlerts(t *testing.T, c *capture, n int) []Alert {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		alerts := c.snapshot()
		if len(alerts) >= n {
			return alerts
		}
		if time.Now().After(deadline) {
			t.Fatalf("alerts = %d, want %d", len(alerts), n)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
