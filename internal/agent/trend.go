package agent

import (
	"context"
	"fmt"

	"trading-corev1/internal/model"
)

// Trend scores moving-average alignment confirmed by ADX. Price above both
// EMAs with EMA20 > EMA50 is an uptrend; strength scales confidence.
type Trend struct{}

func NewTrend() *Trend { return &Trend{} }

func (a *Trend) ID() string { return "trend" }

func (a *Trend) Analyze(_ context.Context, snap Snapshot) (model.AgentVerdict, error) {
	price, ok := snap.Price()
	if !ok {
		return hold(a.ID(), snap.Instrument, "no price"), nil
	}
	ema20, ok1 := snap.Ind(model.IndEMA20)
	ema50, ok2 := snap.Ind(model.IndEMA50)
	if !ok1 || !ok2 {
		return hold(a.ID(), snap.Instrument, "moving averages warming up"), nil
	}

	// ADX below 20 means no trend worth following; missing ADX degrades to
	// a weak default strength rather than silencing the agent.
	strength := 0.4
	adx, hasADX := snap.Ind(model.IndADX14)
	if hasADX {
		if adx < 20 {
			return hold(a.ID(), snap.Instrument,
				fmt.Sprintf("adx %.1f below trend threshold", adx)), nil
		}
		strength = clamp01((adx - 20) / 40) // 20→0, 60+→1
	}

	v := model.AgentVerdict{
		AgentID:    a.ID(),
		Instrument: snap.Instrument,
		Features: map[string]any{
			"ema_20": ema20, "ema_50": ema50, "price": price,
		},
	}
	if hasADX {
		v.Features["adx_14"] = adx
	}

	switch {
	case price > ema20 && ema20 > ema50:
		v.Action = model.ActionBuy
		v.Confidence = 0.5 + 0.5*strength
		v.Reasoning = fmt.Sprintf("uptrend: price %.2f > ema20 %.2f > ema50 %.2f", price, ema20, ema50)
	case price < ema20 && ema20 < ema50:
		v.Action = model.ActionSell
		v.Confidence = 0.5 + 0.5*strength
		v.Reasoning = fmt.Sprintf("downtrend: price %.2f < ema20 %.2f < ema50 %.2f", price, ema20, ema50)
	default:
		v.Action = model.ActionHold
		v.Confidence = 0.3
		v.Reasoning = "moving averages not aligned"
	}
	return v, nil
}
