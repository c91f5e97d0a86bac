package indicator

import (
	"context"
	"log/slog"
	"time"

	"trading-corev1/internal/bus"
	"trading-corev1/internal/model"
)

// Engine consumes closed bars off the bus and maintains one Bank per
// (instrument, timeframe). On each closed bar it publishes the refreshed
// IndicatorSet on indicators:{instrument}:{tf} and persists the snapshot.
type Engine struct {
	broker *bus.Broker
	store  model.TickStore
	log    *slog.Logger

	sessionBoundary time.Duration
	banks           map[string]*Bank // keyed by instrument|tf
	published       uint64
}

// NewEngine creates an indicator engine. sessionBoundary is the daily
// VWAP reset offset from midnight in the trading timezone.
func NewEngine(broker *bus.Broker, store model.TickStore, sessionBoundary time.Duration, log *slog.Logger) *Engine {
	return &Engine{
		broker:          broker,
		store:           store,
		log:             log.With("component", "indicator"),
		sessionBoundary: sessionBoundary,
		banks:           make(map[string]*Bank),
	}
}

// Run subscribes to every bar channel and blocks until ctx is cancelled.
// Only closed bars update the banks; in-progress bar updates are ignored.
func (e *Engine) Run(ctx context.Context) error {
	sub, err := e.broker.Subscribe("market:ohlc:*:*")
	if err != nil {
		return err
	}
	defer e.broker.Unsubscribe(sub)

	e.log.Info("indicator engine started", "boundary", e.sessionBoundary.String())
	for {
		select {
		case <-ctx.Done():
			e.log.Info("indicator engine stopped", "published", e.published)
			return ctx.Err()
		case env, ok := <-sub.C():
			if !ok {
				return nil
			}
			bar, ok := env.Payload.(model.Bar)
			if !ok {
				continue
			}
			if !bar.Closed {
				continue
			}
			e.onBarClosed(ctx, bar)
		}
	}
}

func (e *Engine) onBarClosed(ctx context.Context, bar model.Bar) {
	key := bar.Key()
	bank, ok := e.banks[key]
	if !ok {
		bank = NewBank(bar.Instrument, bar.TF, e.sessionBoundary)
		e.banks[key] = bank
		e.log.Info("bank created", "instrument", bar.Instrument, "tf", bar.TF.String())
	}
	bank.Update(bar)

	set := bank.Snapshot(bar.StartAt)
	if err := e.store.PutIndicators(ctx, set); err != nil {
		e.log.Error("indicator store write failed",
			"instrument", bar.Instrument, "tf", bar.TF.String(), "err", err)
	}
	e.broker.Publish(set.Channel(), set)
	e.published++
}

// Banks returns the number of live (instrument, timeframe) banks.
func (e *Engine) Banks() int { return len(e.banks) }
