package indicator

import "trading-corev1/internal/model"

// ewma is the float-level EMA recurrence shared by EMA, MACD and the MACD
// signal line: seeded with the SMA of the first period values, then
// EMA_t = α·v + (1-α)·EMA_{t-1} with α = 2/(period+1).
type ewma struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

func newEWMA(period int) ewma {
	return ewma{period: period, multiplier: 2.0 / float64(period+1)}
}

func (e *ewma) add(v float64) {
	e.count++
	if e.count <= e.period {
		e.sum += v
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}
	e.current = v*e.multiplier + e.current*(1-e.multiplier)
}

func (e *ewma) value() float64 { return e.current }
func (e *ewma) ready() bool    { return e.count >= e.period }

// EMA calculates Exponential Moving Average of closes. O(1) per update.
type EMA struct {
	core ewma
}

// NewEMA creates an EMA indicator with the given period.
func NewEMA(period int) *EMA {
	return &EMA{core: newEWMA(period)}
}

func (e *EMA) Update(bar model.Bar) { e.core.add(closeRupees(bar)) }
func (e *EMA) Value() float64       { return e.core.value() }
func (e *EMA) Ready() bool          { return e.core.ready() }
