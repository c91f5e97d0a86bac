package indicator

import "trading-corev1/internal/model"

// ATR calculates Average True Range with Wilder's smoothing.
// TR = max(high−low, |high−prevClose|, |low−prevClose|).
type ATR struct {
	period    int
	count     int
	prevClose float64
	sum       float64
	current   float64
}

// NewATR creates an ATR indicator with the given period (typically 14).
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

func (a *ATR) Update(bar model.Bar) {
	high := float64(bar.High) / 100.0
	low := float64(bar.Low) / 100.0
	cl := closeRupees(bar)
	a.count++

	if a.count == 1 {
		// No previous close; TR degrades to high−low.
		a.sum = high - low
		a.prevClose = cl
		return
	}

	tr := high - low
	if d := abs(high - a.prevClose); d > tr {
		tr = d
	}
	if d := abs(low - a.prevClose); d > tr {
		tr = d
	}
	a.prevClose = cl

	if a.count <= a.period {
		a.sum += tr
		if a.count == a.period {
			a.current = a.sum / float64(a.period)
		}
		return
	}

	p := float64(a.period)
	a.current = (a.current*(p-1) + tr) / p
}

func (a *ATR) Value() float64 { return a.current }
func (a *ATR) Ready() bool    { return a.count >= a.period }

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
