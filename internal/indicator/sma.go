package indicator

import "trading-corev1/internal/model"

// SMA calculates Simple Moving Average over a rolling window of closes.
// Uses a preallocated circular buffer for a zero-allocation hot path.
type SMA struct {
	period  int
	buf     []float64
	idx     int
	count   int
	sum     float64
	current float64
}

// NewSMA creates an SMA indicator with the given period.
func NewSMA(period int) *SMA {
	return &SMA{period: period, buf: make([]float64, period)}
}

func (s *SMA) Update(bar model.Bar) {
	s.Add(closeRupees(bar))
}

// Add feeds a raw value; used directly by composite indicators.
func (s *SMA) Add(v float64) {
	if s.count >= s.period {
		s.sum -= s.buf[s.idx]
	}
	s.buf[s.idx] = v
	s.sum += v
	s.idx = (s.idx + 1) % s.period
	s.count++
	if s.count >= s.period {
		s.current = s.sum / float64(s.period)
	}
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.count >= s.period }

// Window returns the buffered values, oldest first. Only valid once Ready.
func (s *SMA) Window() []float64 {
	out := make([]float64, 0, s.period)
	start := s.idx // oldest slot once the buffer has wrapped
	for i := 0; i < s.period; i++ {
		out = append(out, s.buf[(start+i)%s.period])
	}
	return out
}
