package indicator

import "trading-corev1/internal/model"

// VolumeSMA tracks the rolling average bar volume and the ratio of the
// latest bar's volume to that average. Standard period is 20.
type VolumeSMA struct {
	sma   *SMA
	ratio float64
}

// NewVolumeSMA creates a volume average indicator.
func NewVolumeSMA(period int) *VolumeSMA {
	return &VolumeSMA{sma: NewSMA(period)}
}

func (v *VolumeSMA) Update(bar model.Bar) {
	vol := float64(bar.Volume)
	v.sma.Add(vol)
	if v.sma.Ready() && v.sma.Value() > 0 {
		v.ratio = vol / v.sma.Value()
	}
}

// Value returns the average volume over the window.
func (v *VolumeSMA) Value() float64 { return v.sma.Value() }

// Ratio returns latest volume divided by the average. Meaningless before Ready.
func (v *VolumeSMA) Ratio() float64 { return v.ratio }

func (v *VolumeSMA) Ready() bool { return v.sma.Ready() }
