package model

import (
	"encoding/json"
	"time"
)

// Execution report statuses.
const (
	ExecFilled   = "filled"
	ExecRejected = "rejected"
	ExecClosed   = "closed"
)

// ExecutionReport is published on trading:executed:{instrument} for every
// execution outcome, including rejections and position closes.
type ExecutionReport struct {
	Instrument string    `json:"instrument"`
	SignalID   string    `json:"signal_id,omitempty"`
	PositionID string    `json:"position_id,omitempty"`
	OrderID    string    `json:"order_id,omitempty"`
	Status     string    `json:"status"` // filled, rejected, closed
	Side       Side      `json:"side,omitempty"`
	Quantity   int64     `json:"quantity,omitempty"`
	AvgPrice   int64     `json:"avg_price,omitempty"` // paise
	Reason     string    `json:"reason,omitempty"`
	TS         time.Time `json:"ts"`
}

// Channel returns the pub/sub channel execution reports are published on.
func (r *ExecutionReport) Channel() string {
	return "trading:executed:" + r.Instrument
}

// JSON returns the JSON-encoded report.
func (r *ExecutionReport) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
