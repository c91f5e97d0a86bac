// Package portfolio maintains a live P&L view over the position book:
// realized P&L accumulated from close-out reports, unrealized P&L marked
// against the latest ticks, and exposure totals. The view is read-only
// with respect to trading; it never places or blocks orders itself.
package portfolio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"trading-corev1/internal/bus"
	"trading-corev1/internal/clock"
	"trading-corev1/internal/model"
)

// publishInterval is how often the summary lands on trading:portfolio.
const publishInterval = 30 * time.Second

// Summary is the portfolio snapshot published for dashboards.
type Summary struct {
	RealizedPnL   int64     `json:"realized_pnl"`   // paise
	UnrealizedPnL int64     `json:"unrealized_pnl"` // paise
	TotalPnL      int64     `json:"total_pnl"`      // paise
	Exposure      int64     `json:"exposure"`       // paise, abs sum of open value
	OpenPositions int       `json:"open_positions"`
	ClosedTrades  int       `json:"closed_trades"`
	Warnings      []string  `json:"warnings,omitempty"`
	TS            time.Time `json:"ts"`
}

// Limits are soft risk thresholds. Breaches are surfaced as warnings on
// the summary and logged; enforcement stays with the orchestrator's
// position gate.
type Limits struct {
	MaxDailyLoss int64 // paise, 0 disables
	MaxExposure  int64 // paise, 0 disables
}

// Tracker follows execution reports and serves summaries.
type Tracker struct {
	broker      *bus.Broker
	store       model.TickStore
	clk         clock.Clock
	instruments []string
	limits      Limits
	log         *slog.Logger

	mu       sync.Mutex
	realized int64
	closed   int
	seen     map[string]struct{} // position IDs already realized
}

// New creates a tracker over the given instruments.
func New(broker *bus.Broker, store model.TickStore, clk clock.Clock, instruments []string, limits Limits, log *slog.Logger) *Tracker {
	return &Tracker{
		broker:      broker,
		store:       store,
		clk:         clk,
		instruments: instruments,
		limits:      limits,
		log:         log.With("component", "portfolio"),
		seen:        make(map[string]struct{}),
	}
}

// Run consumes close-out reports and publishes periodic summaries until
// ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	sub, err := t.broker.Subscribe("trading:executed:*")
	if err != nil {
		return err
	}
	defer t.broker.Unsubscribe(sub)

	pub := t.clk.After(publishInterval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-sub.C():
			if !ok {
				return nil
			}
			if rep, ok := env.Payload.(model.ExecutionReport); ok {
				t.onReport(ctx, rep)
			}
		case <-pub:
			t.publish(ctx)
			pub = t.clk.After(publishInterval)
		}
	}
}

// onReport folds a close-out into realized P&L. The closed position
// carries its own realized figure; the report is just the cue to read it.
func (t *Tracker) onReport(ctx context.Context, rep model.ExecutionReport) {
	if rep.Status != model.ExecClosed || rep.PositionID == "" {
		return
	}
	t.mu.Lock()
	if _, dup := t.seen[rep.PositionID]; dup {
		t.mu.Unlock()
		return
	}
	t.seen[rep.PositionID] = struct{}{}
	t.mu.Unlock()

	pos, err := t.store.GetPosition(ctx, rep.PositionID)
	if err != nil {
		t.log.Warn("closed position not found", "position_id", rep.PositionID, "err", err)
		return
	}
	t.mu.Lock()
	t.realized += pos.RealizedPnL
	t.closed++
	t.mu.Unlock()
}

// Snapshot computes the current summary.
func (t *Tracker) Snapshot(ctx context.Context) (Summary, error) {
	t.mu.Lock()
	s := Summary{
		RealizedPnL:  t.realized,
		ClosedTrades: t.closed,
		TS:           t.clk.Now(),
	}
	t.mu.Unlock()

	for _, inst := range t.instruments {
		open, err := t.store.OpenPositions(ctx, inst)
		if err != nil {
			return Summary{}, err
		}
		for i := range open {
			p := &open[i]
			s.OpenPositions++
			s.Exposure += p.AvgPrice * p.Quantity
			if tick, err := t.store.LatestTick(ctx, inst); err == nil {
				s.UnrealizedPnL += p.UnrealizedPnL(tick.Price)
			}
		}
	}
	s.TotalPnL = s.RealizedPnL + s.UnrealizedPnL
	s.Warnings = t.warnings(s)
	return s, nil
}

func (t *Tracker) warnings(s Summary) []string {
	var w []string
	if t.limits.MaxDailyLoss > 0 && s.TotalPnL < -t.limits.MaxDailyLoss {
		w = append(w, "daily loss limit breached")
	}
	if t.limits.MaxExposure > 0 && s.Exposure > t.limits.MaxExposure {
		w = append(w, "exposure limit breached")
	}
	return w
}

func (t *Tracker) publish(ctx context.Context) {
	s, err := t.Snapshot(ctx)
	if err != nil {
		t.log.Warn("summary failed", "err", err)
		return
	}
	for _, warning := range s.Warnings {
		t.log.Warn("risk limit", "warning", warning, "total_pnl", s.TotalPnL, "exposure", s.Exposure)
	}
	t.broker.Publish("trading:portfolio", s)
}
