package indicator

import "trading-corev1/internal/model"

// ADX calculates the Average Directional Index using Wilder's method:
// smoothed +DM/−DM/TR → DI+/DI− → DX → ADX (Wilder average of DX).
// Ready after 2×period bars (period for DI, period more for ADX).
type ADX struct {
	period int
	count  int

	prevHigh  float64
	prevLow   float64
	prevClose float64

	smTR  float64 // Wilder-smoothed true range
	smPDM float64 // Wilder-smoothed +DM
	smNDM float64 // Wilder-smoothed −DM

	dxCount int
	dxSum   float64
	current float64
}

// NewADX creates an ADX indicator with the given period (typically 14).
func NewADX(period int) *ADX {
	return &ADX{period: period}
}

func (a *ADX) Update(bar model.Bar) {
	high := float64(bar.High) / 100.0
	low := float64(bar.Low) / 100.0
	cl := closeRupees(bar)
	a.count++

	if a.count == 1 {
		a.prevHigh, a.prevLow, a.prevClose = high, low, cl
		return
	}

	upMove := high - a.prevHigh
	downMove := a.prevLow - low
	pdm, ndm := 0.0, 0.0
	if upMove > downMove && upMove > 0 {
		pdm = upMove
	}
	if downMove > upMove && downMove > 0 {
		ndm = downMove
	}

	tr := high - low
	if d := abs(high - a.prevClose); d > tr {
		tr = d
	}
	if d := abs(low - a.prevClose); d > tr {
		tr = d
	}
	a.prevHigh, a.prevLow, a.prevClose = high, low, cl

	p := float64(a.period)
	if a.count <= a.period+1 {
		// Accumulation for the first smoothed values.
		a.smTR += tr
		a.smPDM += pdm
		a.smNDM += ndm
		if a.count < a.period+1 {
			return
		}
	} else {
		a.smTR = a.smTR - a.smTR/p + tr
		a.smPDM = a.smPDM - a.smPDM/p + pdm
		a.smNDM = a.smNDM - a.smNDM/p + ndm
	}

	if a.smTR == 0 {
		return
	}
	diPlus := 100 * a.smPDM / a.smTR
	diMinus := 100 * a.smNDM / a.smTR
	diSum := diPlus + diMinus
	if diSum == 0 {
		return
	}
	dx := 100 * abs(diPlus-diMinus) / diSum

	a.dxCount++
	if a.dxCount <= a.period {
		a.dxSum += dx
		if a.dxCount == a.period {
			a.current = a.dxSum / p
		}
		return
	}
	a.current = (a.current*(p-1) + dx) / p
}

func (a *ADX) Value() float64 { return a.current }
func (a *ADX) Ready() bool    { return a.dxCount >= a.period }
