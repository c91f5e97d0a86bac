package indicator

import (
	"time"

	"trading-corev1/internal/markethours"
	"trading-corev1/internal/model"
)

// VWAP calculates the volume-weighted average price, cumulative since the
// daily session boundary. Uses the typical price (H+L+C)/3 per bar and
// resets when a bar crosses into a new session.
type VWAP struct {
	boundary time.Duration
	session  time.Time
	cumPV    float64
	cumVol   float64
	current  float64
	ready    bool
}

// NewVWAP creates a VWAP indicator. boundary is the daily reset offset from
// midnight in the trading timezone (0 = midnight).
func NewVWAP(boundary time.Duration) *VWAP {
	return &VWAP{boundary: boundary}
}

func (v *VWAP) Update(bar model.Bar) {
	ss := markethours.SessionStart(bar.StartAt, v.boundary)
	if !ss.Equal(v.session) {
		v.session = ss
		v.cumPV = 0
		v.cumVol = 0
		v.ready = false
	}
	if bar.Volume <= 0 {
		// Index bars often carry no volume; VWAP stays at its last value.
		return
	}
	typical := (float64(bar.High) + float64(bar.Low) + float64(bar.Close)) / 300.0
	v.cumPV += typical * float64(bar.Volume)
	v.cumVol += float64(bar.Volume)
	v.current = v.cumPV / v.cumVol
	v.ready = true
}

func (v *VWAP) Value() float64 { return v.current }
func (v *VWAP) Ready() bool    { return v.ready }
