package agent

import (
	"context"
	"fmt"

	"trading-corev1/internal/model"
)

// Volatility reads Bollinger band position and ATR. Price pinned to a band
// suggests mean reversion; ATR expansion against an open position argues
// for EXIT rather than a fresh entry.
type Volatility struct{}

func NewVolatility() *Volatility { return &Volatility{} }

func (a *Volatility) ID() string { return "volatility" }

func (a *Volatility) Analyze(_ context.Context, snap Snapshot) (model.AgentVerdict, error) {
	price, ok := snap.Price()
	if !ok {
		return hold(a.ID(), snap.Instrument, "no price"), nil
	}
	upper, ok1 := snap.Ind(model.IndBBUpper)
	lower, ok2 := snap.Ind(model.IndBBLower)
	mid, ok3 := snap.Ind(model.IndBBMid)
	if !ok1 || !ok2 || !ok3 {
		return hold(a.ID(), snap.Instrument, "bollinger warming up"), nil
	}

	v := model.AgentVerdict{
		AgentID:    a.ID(),
		Instrument: snap.Instrument,
		Features: map[string]any{
			"bb_upper": upper, "bb_lower": lower, "bb_mid": mid, "price": price,
		},
	}
	if atr, ok := snap.Ind(model.IndATR14); ok {
		v.Features["atr_14"] = atr
		// ATR above 2% of price is a disorderly market; protect open
		// positions instead of initiating.
		if atr > price*0.02 && len(snap.Positions) > 0 {
			v.Action = model.ActionExit
			v.Confidence = 0.6
			v.Reasoning = fmt.Sprintf("atr %.2f above 2%% of price with open exposure", atr)
			return v, nil
		}
	}

	width := upper - lower
	if width <= 0 {
		return hold(a.ID(), snap.Instrument, "bands collapsed"), nil
	}
	// 0 at the lower band, 1 at the upper.
	pos := (price - lower) / width

	switch {
	case pos <= 0.05:
		v.Action = model.ActionBuy
		v.Confidence = clamp01(0.5 + (0.05-pos)*4)
		v.Reasoning = fmt.Sprintf("price %.2f at lower band %.2f", price, lower)
	case pos >= 0.95:
		v.Action = model.ActionSell
		v.Confidence = clamp01(0.5 + (pos-0.95)*4)
		v.Reasoning = fmt.Sprintf("price %.2f at upper band %.2f", price, upper)
	default:
		v.Action = model.ActionHold
		v.Confidence = 0.3
		v.Reasoning = fmt.Sprintf("price inside bands (%.0f%% of width)", pos*100)
	}
	return v, nil
}
