package indicator

import (
	"math"

	"trading-corev1/internal/model"
)

// Bollinger calculates Bollinger Bands: mid = SMA(period), band = k ×
// population standard deviation of the last period closes. Standard
// parameters are (20, 2).
type Bollinger struct {
	sma   *SMA
	k     float64
	upper float64
	lower float64
}

// NewBollinger creates a Bollinger indicator.
func NewBollinger(period int, k float64) *Bollinger {
	return &Bollinger{sma: NewSMA(period), k: k}
}

func (b *Bollinger) Update(bar model.Bar) {
	b.sma.Update(bar)
	if !b.sma.Ready() {
		return
	}
	mid := b.sma.Value()
	variance := 0.0
	for _, v := range b.sma.Window() {
		d := v - mid
		variance += d * d
	}
	variance /= float64(b.sma.period)
	sd := math.Sqrt(variance)
	b.upper = mid + b.k*sd
	b.lower = mid - b.k*sd
}

// Value returns the middle band (SMA).
func (b *Bollinger) Value() float64 { return b.sma.Value() }

func (b *Bollinger) Upper() float64 { return b.upper }
func (b *Bollinger) Lower() float64 { return b.lower }
func (b *Bollinger) Ready() bool    { return b.sma.Ready() }
