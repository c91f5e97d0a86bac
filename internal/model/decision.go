package model

import (
	"encoding/json"
	"time"
)

// AgentVerdict is one analyzer's opinion for one cycle. Verdicts are
// aggregated into a TradingDecision and then discarded (journal aside).
type AgentVerdict struct {
	AgentID    string          `json:"agent_id"`
	Instrument string          `json:"instrument"`
	Action     Action          `json:"action"`
	Confidence float64         `json:"confidence"` // [0,1]
	Reasoning  string          `json:"reasoning"`
	Features   map[string]any  `json:"features,omitempty"`
	Condition  json.RawMessage `json:"condition,omitempty"` // optional trigger predicate
}

// TradingDecision is the orchestrator's consolidated, position-aware output
// for one instrument in one cycle.
type TradingDecision struct {
	Instrument     string         `json:"instrument"`
	Action         Action         `json:"action"`
	Confidence     float64        `json:"confidence"`
	EntryPrice     int64          `json:"entry_price,omitempty"` // paise, 0 = market
	StopLoss       int64          `json:"stop_loss,omitempty"`
	TakeProfit     int64          `json:"take_profit,omitempty"`
	PositionAction PositionAction `json:"position_action"`
	Rationale      string         `json:"rationale"`
	Contributing   []AgentVerdict `json:"contributing"`
	CycleAt        time.Time      `json:"cycle_at"`
}

// Channel returns the pub/sub channel decisions are published on.
func (d *TradingDecision) Channel() string {
	return "engine:decision:" + d.Instrument
}

// JSON returns the JSON-encoded decision.
func (d *TradingDecision) JSON() []byte {
	b, _ := json.Marshal(d)
	return b
}
