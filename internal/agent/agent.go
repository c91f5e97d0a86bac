// Package agent contains the analyzer agents the orchestrator polls each
// decision cycle. Every agent reads the same immutable snapshot and returns
// an independent verdict; the orchestrator owns weighting and aggregation.
package agent

import (
	"context"
	"time"

	"trading-corev1/internal/model"
)

// Snapshot is the read-only market view one cycle hands to every agent.
// Taken once at cycle start so all agents score the same data.
type Snapshot struct {
	Instrument string
	TF         model.Timeframe
	Now        time.Time

	LastTick   *model.Tick
	Indicators *model.IndicatorSet
	RecentBars []model.Bar // oldest first
	Positions  []model.Position
}

// Price returns the last traded price in rupees, falling back to the most
// recent bar close when no tick is available.
func (s *Snapshot) Price() (float64, bool) {
	if s.LastTick != nil {
		return s.LastTick.PriceRupees(), true
	}
	if n := len(s.RecentBars); n > 0 {
		return float64(s.RecentBars[n-1].Close) / 100.0, true
	}
	return 0, false
}

// Ind returns an indicator value from the snapshot, ok=false when absent
// or not yet warmed up.
func (s *Snapshot) Ind(name string) (float64, bool) {
	if s.Indicators == nil {
		return 0, false
	}
	return s.Indicators.Get(name)
}

// Agent is one analyzer. Analyze must be side-effect free; an error verdict
// is scored as HOLD with zero confidence by the orchestrator.
type Agent interface {
	ID() string
	Analyze(ctx context.Context, snap Snapshot) (model.AgentVerdict, error)
}

// hold is the neutral verdict every agent falls back to when its inputs
// are not ready.
func hold(id, instrument, reason string) model.AgentVerdict {
	return model.AgentVerdict{
		AgentID:    id,
		Instrument: instrument,
		Action:     model.ActionHold,
		Confidence: 0,
		Reasoning:  reason,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
