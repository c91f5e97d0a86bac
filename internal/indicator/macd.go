package indicator

import "trading-corev1/internal/model"

// MACD calculates Moving Average Convergence Divergence:
// value = EMA_fast − EMA_slow, signal = EMA of the value, hist = value − signal.
// Standard parameters are (12, 26, 9).
type MACD struct {
	fast   ewma
	slow   ewma
	signal ewma
	value  float64
	hist   float64
}

// NewMACD creates a MACD indicator.
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   newEWMA(fast),
		slow:   newEWMA(slow),
		signal: newEWMA(signal),
	}
}

func (m *MACD) Update(bar model.Bar) {
	price := closeRupees(bar)
	m.fast.add(price)
	m.slow.add(price)
	if !m.slow.ready() {
		return
	}
	m.value = m.fast.value() - m.slow.value()
	m.signal.add(m.value)
	if m.signal.ready() {
		m.hist = m.value - m.signal.value()
	}
}

// Value returns the MACD line.
func (m *MACD) Value() float64 { return m.value }

// Signal returns the signal line. Meaningless before SignalReady.
func (m *MACD) Signal() float64 { return m.signal.value() }

// Hist returns value − signal.
func (m *MACD) Hist() float64 { return m.hist }

// Ready reports the MACD line being available (slow EMA seeded).
func (m *MACD) Ready() bool { return m.slow.ready() }

// SignalReady reports the signal line (and histogram) being available.
func (m *MACD) SignalReady() bool { return m.signal.ready() }
