package agent

import (
	"context"
	"fmt"

	"trading-corev1/internal/condition"
	"trading-corev1/internal/model"
)

// Momentum scores RSI extremes and MACD histogram direction. Oversold RSI
// with a positive MACD histogram is a reversal-entry BUY; the verdict
// carries a confirmation predicate so the entry waits for RSI to turn.
type Momentum struct {
	oversold   float64
	overbought float64
}

func NewMomentum() *Momentum {
	return &Momentum{oversold: 30, overbought: 70}
}

func (a *Momentum) ID() string { return "momentum" }

func (a *Momentum) Analyze(_ context.Context, snap Snapshot) (model.AgentVerdict, error) {
	rsi, ok := snap.Ind(model.IndRSI14)
	if !ok {
		return hold(a.ID(), snap.Instrument, "rsi warming up"), nil
	}
	hist, hasHist := snap.Ind(model.IndMACDHist)

	v := model.AgentVerdict{
		AgentID:    a.ID(),
		Instrument: snap.Instrument,
		Features:   map[string]any{"rsi_14": rsi},
	}
	if hasHist {
		v.Features["macd_hist"] = hist
	}

	switch {
	case rsi <= a.oversold:
		v.Action = model.ActionBuy
		v.Confidence = clamp01(0.5 + (a.oversold-rsi)/60)
		v.Reasoning = fmt.Sprintf("rsi %.1f oversold", rsi)
		if hasHist && hist > 0 {
			v.Confidence = clamp01(v.Confidence + 0.15)
			v.Reasoning += ", macd histogram positive"
		}
		// Wait for momentum to actually turn before entering.
		v.Condition = condition.Marshal(condition.Leaf(model.IndRSI14, condition.OpGT, a.oversold))
	case rsi >= a.overbought:
		v.Action = model.ActionSell
		v.Confidence = clamp01(0.5 + (rsi-a.overbought)/60)
		v.Reasoning = fmt.Sprintf("rsi %.1f overbought", rsi)
		if hasHist && hist < 0 {
			v.Confidence = clamp01(v.Confidence + 0.15)
			v.Reasoning += ", macd histogram negative"
		}
		v.Condition = condition.Marshal(condition.Leaf(model.IndRSI14, condition.OpLT, a.overbought))
	case hasHist && hist > 0 && rsi > 50:
		v.Action = model.ActionBuy
		v.Confidence = 0.45
		v.Reasoning = fmt.Sprintf("positive momentum: rsi %.1f, macd histogram %.3f", rsi, hist)
	case hasHist && hist < 0 && rsi < 50:
		v.Action = model.ActionSell
		v.Confidence = 0.45
		v.Reasoning = fmt.Sprintf("negative momentum: rsi %.1f, macd histogram %.3f", rsi, hist)
	default:
		v.Action = model.ActionHold
		v.Confidence = 0.3
		v.Reasoning = "momentum neutral"
	}
	return v, nil
}
