package model

import (
	"context"
	"errors"
	"fmt"
)

// ── Storage Port ──

// TickStore is the durable latest-snapshot store for ticks, bars,
// indicators, signals, and positions. Writes are last-writer-wins per key;
// no multi-key transactions are required.
type TickStore interface {
	PutTick(ctx context.Context, t Tick) error
	LatestTick(ctx context.Context, instrument string) (*Tick, error)

	// PutBar writes a bar; unclosed bars land on the "current" key, closed
	// bars also on their bucket key and the recent-bars window.
	PutBar(ctx context.Context, b Bar) error
	CurrentBar(ctx context.Context, instrument string, tf Timeframe) (*Bar, error)
	// RecentBars returns up to n most recent closed bars, oldest first.
	RecentBars(ctx context.Context, instrument string, tf Timeframe, n int) ([]Bar, error)

	PutIndicators(ctx context.Context, s IndicatorSet) error
	LatestIndicators(ctx context.Context, instrument string, tf Timeframe) (*IndicatorSet, error)

	PutSignal(ctx context.Context, s Signal) error
	GetSignal(ctx context.Context, id string) (*Signal, error)
	// SignalsByStatus returns all signals currently in any of the given states.
	SignalsByStatus(ctx context.Context, statuses ...SignalStatus) ([]Signal, error)

	PutPosition(ctx context.Context, p Position) error
	GetPosition(ctx context.Context, id string) (*Position, error)
	OpenPositions(ctx context.Context, instrument string) ([]Position, error)

	Close() error
}

// ErrNotFound is returned by store reads when no value exists for the key.
var ErrNotFound = errors.New("store: not found")

// Storage key layout. Any KV backend must use exactly these keys.
func KeyTickLatest(instrument string) string { return "tick:" + instrument + ":latest" }
func KeyBarCurrent(instrument string, tf Timeframe) string {
	return "ohlc:" + instrument + ":" + tf.String() + ":current"
}
func KeyBarBucket(instrument string, tf Timeframe, bucket int64) string {
	return fmt.Sprintf("ohlc:%s:%s:%d", instrument, tf, bucket)
}
func KeyIndicatorsLatest(instrument string, tf Timeframe) string {
	return "indicators:" + instrument + ":" + tf.String() + ":latest"
}
func KeySignal(id string) string                { return "signal:" + id }
func KeySignalsPending(instrument string) string { return "signals:pending:" + instrument }

// ── Broker Port ──

// OrderType distinguishes market and limit orders.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// OrderRequest is a broker order derived from a triggered signal.
type OrderRequest struct {
	Instrument string    `json:"instrument"`
	Side       Side      `json:"side"`
	Quantity   int64     `json:"qty"`
	Type       OrderType `json:"type"`
	Price      int64     `json:"price,omitempty"` // paise, required for LIMIT
}

// OrderResult is the broker's acknowledgement of an order.
type OrderResult struct {
	OrderID  string `json:"order_id"`
	Status   string `json:"status"` // FILLED, PLACED, REJECTED
	AvgPrice int64  `json:"avg_price"` // paise
}

// BrokerAdapter abstracts the execution venue (paper or live).
type BrokerAdapter interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	Positions(ctx context.Context) ([]Position, error)
}

// BrokerError carries the §7 taxonomy split: retryable (network, 5xx)
// versus fatal (validation, insufficient funds).
type BrokerError struct {
	Code      string
	Msg       string
	Retryable bool
}

func (e *BrokerError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("broker %s (%s): %s", e.Code, kind, e.Msg)
}

// IsRetryable reports whether err should be retried with backoff.
func IsRetryable(err error) bool {
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Retryable
	}
	return false
}

// ── Upstream Tick Source Port ──

// TickSource is an upstream provider pushing tick events into the pipeline
// (live broker socket or historical replayer).
type TickSource interface {
	// Stream emits ticks on out until ctx is cancelled or the source ends.
	Stream(ctx context.Context, out chan<- Tick) error
}
