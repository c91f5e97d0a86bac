package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"trading-corev1/internal/model"
)

// GateInput is the position context Aggregate gates against.
type GateInput struct {
	// Open positions for the decision's instrument.
	InstrumentPositions []model.Position
	// Open position count across all instruments.
	TotalOpen    int
	MaxPositions int
}

// Aggregate folds one cycle's verdicts into a position-aware decision.
// Pure function: same verdicts, weights and positions give the same
// decision every time.
func Aggregate(instrument string, verdicts []model.AgentVerdict, weights map[string]float64, gate GateInput) model.TradingDecision {
	scores := map[model.Action]float64{}
	total := 0.0
	for _, v := range verdicts {
		w, ok := weights[v.AgentID]
		if !ok {
			w = 1.0
		}
		scores[v.Action] += w * v.Confidence
		total += w * v.Confidence
	}

	// Iterating in priority order makes strict > a conservative tie-break.
	chosen := model.ActionHold
	best := -1.0
	for _, a := range []model.Action{model.ActionExit, model.ActionHold, model.ActionBuy, model.ActionSell} {
		s, ok := scores[a]
		if !ok {
			continue
		}
		if s > best {
			chosen, best = a, s
		}
	}

	conf := 0.0
	if total > 0 {
		conf = scores[chosen] / total
	}

	d := model.TradingDecision{
		Instrument:   instrument,
		Action:       chosen,
		Confidence:   conf,
		Contributing: verdicts,
		Rationale:    rationale(chosen, verdicts),
	}
	d.PositionAction = gatePosition(&d, gate)
	return d
}

// gatePosition maps the chosen action onto the open-position set. It may
// rewrite d.Action to EXIT when the vote contradicts an open position.
func gatePosition(d *model.TradingDecision, gate GateInput) model.PositionAction {
	var open *model.Position
	for i := range gate.InstrumentPositions {
		if gate.InstrumentPositions[i].Status == model.PositionOpen {
			open = &gate.InstrumentPositions[i]
			break
		}
	}

	switch d.Action {
	case model.ActionHold:
		return model.PosNone

	case model.ActionExit:
		if open == nil {
			return model.PosNone
		}
		if open.Side == model.SideShort {
			return model.PosCloseShort
		}
		return model.PosCloseLong

	case model.ActionBuy:
		if open != nil {
			if open.Side == model.SideLong {
				return model.PosAddToLong
			}
			// Vote contradicts the open short; flatten instead of flipping.
			d.Action = model.ActionExit
			return model.PosCloseShort
		}
		if gate.TotalOpen >= gate.MaxPositions {
			return model.PosNone
		}
		return model.PosOpenNew

	case model.ActionSell:
		if open != nil {
			if open.Side == model.SideShort {
				return model.PosAddToShort
			}
			d.Action = model.ActionExit
			return model.PosCloseLong
		}
		if gate.TotalOpen >= gate.MaxPositions {
			return model.PosNone
		}
		return model.PosOpenNew
	}
	return model.PosNone
}

// rationale summarizes which agents backed the chosen action.
func rationale(chosen model.Action, verdicts []model.AgentVerdict) string {
	backers := make([]string, 0, len(verdicts))
	for _, v := range verdicts {
		if v.Action == chosen {
			backers = append(backers, fmt.Sprintf("%s(%.2f)", v.AgentID, v.Confidence))
		}
	}
	sort.Strings(backers)
	if len(backers) == 0 {
		return "no agent backed " + string(chosen)
	}
	return string(chosen) + " backed by " + strings.Join(backers, ", ")
}

// strongestCondition picks the trigger predicate from the highest-weighted
// backer of the chosen action that attached one. Empty when none did.
func strongestCondition(chosen model.Action, verdicts []model.AgentVerdict, weights map[string]float64) []byte {
	bestScore := -1.0
	var cond []byte
	for _, v := range verdicts {
		if v.Action != chosen || len(v.Condition) == 0 {
			continue
		}
		w, ok := weights[v.AgentID]
		if !ok {
			w = 1.0
		}
		if s := w * v.Confidence; s > bestScore {
			bestScore = s
			cond = v.Condition
		}
	}
	return cond
}
