package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action is a trading action produced by agents and decisions.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
	ActionExit Action = "EXIT"
)

// SignalStatus is the lifecycle state of a conditional signal.
type SignalStatus string

const (
	StatusPending   SignalStatus = "PENDING"
	StatusTriggered SignalStatus = "TRIGGERED"
	StatusExecuted  SignalStatus = "EXECUTED"
	StatusExpired   SignalStatus = "EXPIRED"
	StatusCancelled SignalStatus = "CANCELLED"
	StatusClosed    SignalStatus = "CLOSED"
)

// validTransitions encodes the signal state machine. TRIGGERED→PENDING is
// deliberately absent: the executor-failure revert goes through Revertible.
var validTransitions = map[SignalStatus][]SignalStatus{
	StatusPending:   {StatusTriggered, StatusExpired, StatusCancelled},
	StatusTriggered: {StatusExecuted, StatusCancelled},
	StatusExecuted:  {StatusClosed},
}

// CanTransition reports whether from→to is a legal forward transition.
func CanTransition(from, to SignalStatus) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// PositionAction tells the executor how a decision maps onto the position set.
type PositionAction string

const (
	PosOpenNew    PositionAction = "OPEN_NEW"
	PosAddToLong  PositionAction = "ADD_TO_LONG"
	PosAddToShort PositionAction = "ADD_TO_SHORT"
	PosCloseLong  PositionAction = "CLOSE_LONG"
	PosCloseShort PositionAction = "CLOSE_SHORT"
	PosNone       PositionAction = "NONE"
)

// Signal is a conditional order intent. Condition is a JSON-encoded
// predicate tree (see internal/condition); free-text conditions are
// rejected at creation time by the parser.
type Signal struct {
	ID             string          `json:"signal_id"`
	Instrument     string          `json:"instrument"`
	TF             Timeframe       `json:"tf"`
	Action         Action          `json:"action"`
	Status         SignalStatus    `json:"status"`
	Confidence     float64         `json:"confidence"` // [0,1]
	Condition      json.RawMessage `json:"condition"`
	PositionAction PositionAction  `json:"position_action"`
	EntryPrice     int64           `json:"entry_price,omitempty"` // paise, 0 = market
	StopLoss       int64           `json:"stop_loss,omitempty"`   // paise
	TakeProfit     int64           `json:"take_profit,omitempty"` // paise
	Quantity       int64           `json:"quantity"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
	TriggeredAt    time.Time       `json:"triggered_at,omitempty"`
	PositionID     string          `json:"position_id,omitempty"`
	Reason         string          `json:"reason,omitempty"` // machine-readable cancel/expire reason
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

// Validate checks structural invariants at creation time.
func (s *Signal) Validate() error {
	if s.ID == "" || s.Instrument == "" {
		return fmt.Errorf("signal: missing id or instrument")
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal %s: confidence %v out of range", s.ID, s.Confidence)
	}
	if s.ExpiresAt.Before(s.CreatedAt) {
		return fmt.Errorf("signal %s: expires_at before created_at", s.ID)
	}
	return s.validateBracket()
}

// validateBracket enforces sl < entry < tp for BUY (mirrored for SELL)
// whenever all three prices are set.
func (s *Signal) validateBracket() error {
	if s.EntryPrice == 0 || s.StopLoss == 0 || s.TakeProfit == 0 {
		return nil
	}
	switch s.Action {
	case ActionBuy:
		if !(s.StopLoss < s.EntryPrice && s.EntryPrice < s.TakeProfit) {
			return fmt.Errorf("signal %s: BUY bracket violated (sl=%d entry=%d tp=%d)",
				s.ID, s.StopLoss, s.EntryPrice, s.TakeProfit)
		}
	case ActionSell:
		if !(s.TakeProfit < s.EntryPrice && s.EntryPrice < s.StopLoss) {
			return fmt.Errorf("signal %s: SELL bracket violated (sl=%d entry=%d tp=%d)",
				s.ID, s.StopLoss, s.EntryPrice, s.TakeProfit)
		}
	}
	return nil
}

// Channel returns the pub/sub channel new signals are published on.
func (s *Signal) Channel() string {
	return "engine:signal:" + s.Instrument
}

// JSON returns the JSON-encoded signal.
func (s *Signal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
