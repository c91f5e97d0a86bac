package agent

import (
	"context"
	"fmt"

	"trading-corev1/internal/model"
)

// Volume reads the volume ratio against its rolling average and the price's
// side of session VWAP. Volume surges confirm direction; thin tape holds.
type Volume struct {
	surge float64 // ratio above which volume counts as a surge
}

func NewVolume() *Volume { return &Volume{surge: 1.5} }

func (a *Volume) ID() string { return "volume" }

func (a *Volume) Analyze(_ context.Context, snap Snapshot) (model.AgentVerdict, error) {
	price, ok := snap.Price()
	if !ok {
		return hold(a.ID(), snap.Instrument, "no price"), nil
	}
	ratio, ok1 := snap.Ind(model.IndVolumeRatio)
	vwap, ok2 := snap.Ind(model.IndVWAP)
	if !ok1 || !ok2 {
		return hold(a.ID(), snap.Instrument, "volume profile warming up"), nil
	}

	v := model.AgentVerdict{
		AgentID:    a.ID(),
		Instrument: snap.Instrument,
		Features:   map[string]any{"volume_ratio": ratio, "vwap": vwap, "price": price},
	}

	if ratio < a.surge {
		v.Action = model.ActionHold
		v.Confidence = 0.3
		v.Reasoning = fmt.Sprintf("volume ratio %.2f below surge threshold %.1f", ratio, a.surge)
		return v, nil
	}

	conf := clamp01(0.4 + (ratio-a.surge)/3)
	if price > vwap {
		v.Action = model.ActionBuy
		v.Confidence = conf
		v.Reasoning = fmt.Sprintf("volume surge %.1fx with price %.2f above vwap %.2f", ratio, price, vwap)
	} else {
		v.Action = model.ActionSell
		v.Confidence = conf
		v.Reasoning = fmt.Sprintf("volume surge %.1fx with price %.2f below vwap %.2f", ratio, price, vwap)
	}
	return v, nil
}
