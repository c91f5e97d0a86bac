package model

import (
	"encoding/json"
	"time"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// Position is a held exposure resulting from executed signals.
// All prices are in paise. At most one position is open per instrument.
type Position struct {
	ID              string         `json:"position_id"`
	Instrument      string         `json:"instrument"`
	Side            Side           `json:"side"`
	Quantity        int64          `json:"quantity"` // always > 0
	EntryPrice      int64          `json:"entry_price"`
	AvgPrice        int64          `json:"avg_price"`
	OpenedAt        time.Time      `json:"opened_at"`
	ClosedAt        time.Time      `json:"closed_at,omitempty"`
	Status          PositionStatus `json:"status"`
	StopLoss        int64          `json:"stop_loss,omitempty"`
	TakeProfit      int64          `json:"take_profit,omitempty"`
	OpeningSignalID string         `json:"opening_signal_id,omitempty"`
	ClosingSignalID string         `json:"closing_signal_id,omitempty"`
	RealizedPnL     int64          `json:"realized_pnl,omitempty"` // paise, set on close
}

// UnrealizedPnL returns the open P&L in paise at the given last price.
func (p *Position) UnrealizedPnL(lastPrice int64) int64 {
	if p.Status != PositionOpen {
		return 0
	}
	diff := lastPrice - p.AvgPrice
	if p.Side == SideShort {
		diff = -diff
	}
	return diff * p.Quantity
}

// JSON returns the JSON-encoded position.
func (p *Position) JSON() []byte {
	b, _ := json.Marshal(p)
	return b
}
