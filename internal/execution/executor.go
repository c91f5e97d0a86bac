// Package execution applies triggered signals to a broker adapter (paper
// or live) and maintains the position book. It is the sole writer to
// position state.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"trading-corev1/internal/bus"
	"trading-corev1/internal/clock"
	"trading-corev1/internal/model"
)

// FillRecorder persists fills for audit. The journal implements it; nil
// disables recording.
type FillRecorder interface {
	RecordFill(ctx context.Context, rep model.ExecutionReport) error
}

// maxAttempts bounds retries for retryable broker errors.
const maxAttempts = 3

// Executor translates signals into broker orders and updates positions.
type Executor struct {
	adapter model.BrokerAdapter
	store   model.TickStore
	broker  *bus.Broker
	clk     clock.Clock
	journal FillRecorder
	log     *slog.Logger

	backoff time.Duration // initial retry backoff, doubled per attempt

	// OnRetry is an optional metric hook fired per retry attempt.
	OnRetry func()
}

// New creates an executor over the given broker adapter.
func New(adapter model.BrokerAdapter, store model.TickStore, broker *bus.Broker, clk clock.Clock, journal FillRecorder, log *slog.Logger) *Executor {
	return &Executor{
		adapter: adapter,
		store:   store,
		broker:  broker,
		clk:     clk,
		journal: journal,
		log:     log.With("component", "executor"),
		backoff: 500 * time.Millisecond,
	}
}

// Execute places the order for a triggered signal and applies the result
// to the position book. Returns the affected position's id.
func (e *Executor) Execute(ctx context.Context, sig model.Signal) (string, error) {
	req, err := e.orderFor(sig)
	if err != nil {
		return "", err
	}

	res, err := e.placeWithRetry(ctx, req)
	if err != nil {
		e.publishReport(model.ExecutionReport{
			Instrument: sig.Instrument,
			SignalID:   sig.ID,
			Status:     model.ExecRejected,
			Side:       req.Side,
			Quantity:   req.Quantity,
			Reason:     err.Error(),
			TS:         e.clk.Now(),
		})
		return "", err
	}

	posID, err := e.applyToBook(ctx, sig, req, res)
	if err != nil {
		return "", err
	}

	rep := model.ExecutionReport{
		Instrument: sig.Instrument,
		SignalID:   sig.ID,
		PositionID: posID,
		OrderID:    res.OrderID,
		Status:     model.ExecFilled,
		Side:       req.Side,
		Quantity:   req.Quantity,
		AvgPrice:   res.AvgPrice,
		TS:         e.clk.Now(),
	}
	if isClose(sig.PositionAction) {
		rep.Status = model.ExecClosed
	}
	e.publishReport(rep)
	e.log.Info("order filled",
		"signal_id", sig.ID,
		"instrument", sig.Instrument,
		"side", string(req.Side),
		"qty", req.Quantity,
		"avg_price", res.AvgPrice,
		"position_id", posID)
	return posID, nil
}

// orderFor maps a signal onto a broker order request.
func (e *Executor) orderFor(sig model.Signal) (model.OrderRequest, error) {
	req := model.OrderRequest{
		Instrument: sig.Instrument,
		Quantity:   sig.Quantity,
		Type:       model.OrderMarket,
	}
	if sig.EntryPrice > 0 {
		req.Type = model.OrderLimit
		req.Price = sig.EntryPrice
	}
	switch sig.PositionAction {
	case model.PosOpenNew, model.PosAddToLong:
		req.Side = model.SideLong
		if sig.Action == model.ActionSell {
			req.Side = model.SideShort
		}
	case model.PosAddToShort:
		req.Side = model.SideShort
	case model.PosCloseLong:
		// Closing a long sells it back.
		req.Side = model.SideShort
	case model.PosCloseShort:
		req.Side = model.SideLong
	default:
		return req, fmt.Errorf("execution: signal %s has no actionable position action %q",
			sig.ID, sig.PositionAction)
	}
	return req, nil
}

// placeWithRetry retries retryable broker errors with exponential backoff.
func (e *Executor) placeWithRetry(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	var last error
	wait := e.backoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := e.adapter.PlaceOrder(ctx, req)
		if err == nil {
			return res, nil
		}
		last = err
		if !model.IsRetryable(err) {
			return model.OrderResult{}, err
		}
		e.log.Warn("retryable order failure",
			"instrument", req.Instrument, "attempt", attempt, "err", err)
		if e.OnRetry != nil {
			e.OnRetry()
		}
		if attempt < maxAttempts {
			if err := clock.Sleep(ctx, e.clk, wait); err != nil {
				return model.OrderResult{}, err
			}
			wait *= 2
		}
	}
	return model.OrderResult{}, fmt.Errorf("execution: giving up after %d attempts: %w", maxAttempts, last)
}

// applyToBook mutates the position set per the signal's position action.
func (e *Executor) applyToBook(ctx context.Context, sig model.Signal, req model.OrderRequest, res model.OrderResult) (string, error) {
	switch sig.PositionAction {
	case model.PosOpenNew:
		pos := model.Position{
			ID:              uuid.NewString(),
			Instrument:      sig.Instrument,
			Side:            req.Side,
			Quantity:        req.Quantity,
			EntryPrice:      res.AvgPrice,
			AvgPrice:        res.AvgPrice,
			OpenedAt:        e.clk.Now(),
			Status:          model.PositionOpen,
			StopLoss:        sig.StopLoss,
			TakeProfit:      sig.TakeProfit,
			OpeningSignalID: sig.ID,
		}
		return pos.ID, e.store.PutPosition(ctx, pos)

	case model.PosAddToLong, model.PosAddToShort:
		pos, err := e.openPosition(ctx, sig.Instrument)
		if err != nil {
			return "", err
		}
		oldValue := pos.AvgPrice * pos.Quantity
		addValue := res.AvgPrice * req.Quantity
		pos.Quantity += req.Quantity
		pos.AvgPrice = (oldValue + addValue) / pos.Quantity
		return pos.ID, e.store.PutPosition(ctx, *pos)

	case model.PosCloseLong, model.PosCloseShort:
		pos, err := e.openPosition(ctx, sig.Instrument)
		if err != nil {
			return "", err
		}
		e.closePosition(pos, res.AvgPrice, sig.ID)
		return pos.ID, e.store.PutPosition(ctx, *pos)
	}
	return "", fmt.Errorf("execution: unsupported position action %q", sig.PositionAction)
}

// Close flattens a position by id. Idempotent: closing a closed position
// is a no-op.
func (e *Executor) Close(ctx context.Context, positionID, reason string) error {
	pos, err := e.store.GetPosition(ctx, positionID)
	if err != nil {
		return err
	}
	if pos.Status == model.PositionClosed {
		return nil
	}

	req := model.OrderRequest{
		Instrument: pos.Instrument,
		Side:       model.SideShort, // sell back the long
		Quantity:   pos.Quantity,
		Type:       model.OrderMarket,
	}
	if pos.Side == model.SideShort {
		req.Side = model.SideLong
	}
	res, err := e.placeWithRetry(ctx, req)
	if err != nil {
		return err
	}
	e.closePosition(pos, res.AvgPrice, "")
	if err := e.store.PutPosition(ctx, *pos); err != nil {
		return err
	}
	e.publishReport(model.ExecutionReport{
		Instrument: pos.Instrument,
		PositionID: pos.ID,
		OrderID:    res.OrderID,
		Status:     model.ExecClosed,
		Side:       req.Side,
		Quantity:   req.Quantity,
		AvgPrice:   res.AvgPrice,
		Reason:     reason,
		TS:         e.clk.Now(),
	})
	e.log.Info("position closed",
		"position_id", pos.ID, "instrument", pos.Instrument,
		"realized_pnl", pos.RealizedPnL, "reason", reason)
	return nil
}

func (e *Executor) closePosition(pos *model.Position, exitPrice int64, closingSignalID string) {
	diff := exitPrice - pos.AvgPrice
	if pos.Side == model.SideShort {
		diff = -diff
	}
	pos.RealizedPnL = diff * pos.Quantity
	pos.Status = model.PositionClosed
	pos.ClosedAt = e.clk.Now()
	pos.ClosingSignalID = closingSignalID
}

func (e *Executor) openPosition(ctx context.Context, instrument string) (*model.Position, error) {
	open, err := e.store.OpenPositions(ctx, instrument)
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, fmt.Errorf("execution: no open position for %s", instrument)
	}
	return &open[0], nil
}

func (e *Executor) publishReport(rep model.ExecutionReport) {
	e.broker.Publish(rep.Channel(), rep)
	if e.journal != nil {
		if err := e.journal.RecordFill(context.Background(), rep); err != nil {
			e.log.Warn("fill journal failed", "signal_id", rep.SignalID, "err", err)
		}
	}
}

func isClose(pa model.PositionAction) bool {
	return pa == model.PosCloseLong || pa == model.PosCloseShort
}
