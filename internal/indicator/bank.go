package indicator

import (
	"time"

	"trading-corev1/internal/model"
)

// Bank holds the full indicator battery for one (instrument, timeframe)
// series. Each closed bar is fed to every indicator once; Snapshot then
// assembles an IndicatorSet where not-yet-ready indicators are nil.
type Bank struct {
	instrument string
	tf         model.Timeframe

	rsi    *RSI
	macd   *MACD
	atr    *ATR
	sma20  *SMA
	sma50  *SMA
	ema20  *EMA
	ema50  *EMA
	bb     *Bollinger
	adx    *ADX
	vwap   *VWAP
	volume *VolumeSMA

	bars int
}

// NewBank creates a bank with the standard parameter set: RSI(14),
// MACD(12,26,9), ATR(14), SMA(20/50), EMA(20/50), BB(20,2), ADX(14),
// session VWAP, volume SMA(20).
func NewBank(instrument string, tf model.Timeframe, sessionBoundary time.Duration) *Bank {
	return &Bank{
		instrument: instrument,
		tf:         tf,
		rsi:        NewRSI(14),
		macd:       NewMACD(12, 26, 9),
		atr:        NewATR(14),
		sma20:      NewSMA(20),
		sma50:      NewSMA(50),
		ema20:      NewEMA(20),
		ema50:      NewEMA(50),
		bb:         NewBollinger(20, 2),
		adx:        NewADX(14),
		vwap:       NewVWAP(sessionBoundary),
		volume:     NewVolumeSMA(20),
	}
}

// Update feeds one closed bar through every indicator.
func (b *Bank) Update(bar model.Bar) {
	b.bars++
	b.rsi.Update(bar)
	b.macd.Update(bar)
	b.atr.Update(bar)
	b.sma20.Update(bar)
	b.sma50.Update(bar)
	b.ema20.Update(bar)
	b.ema50.Update(bar)
	b.bb.Update(bar)
	b.adx.Update(bar)
	b.vwap.Update(bar)
	b.volume.Update(bar)
}

// Bars returns the number of closed bars fed so far.
func (b *Bank) Bars() int { return b.bars }

// Snapshot assembles the current IndicatorSet, stamped with the closing
// bar's start time. Indicators whose window is insufficient report nil.
func (b *Bank) Snapshot(ts time.Time) model.IndicatorSet {
	vals := make(map[string]*float64, len(model.IndicatorNames))
	for _, name := range model.IndicatorNames {
		vals[name] = nil
	}

	put := func(name string, v float64) {
		c := v
		vals[name] = &c
	}

	if b.rsi.Ready() {
		put(model.IndRSI14, b.rsi.Value())
	}
	if b.macd.Ready() {
		put(model.IndMACDValue, b.macd.Value())
		if b.macd.SignalReady() {
			put(model.IndMACDSignal, b.macd.Signal())
			put(model.IndMACDHist, b.macd.Hist())
		}
	}
	if b.atr.Ready() {
		put(model.IndATR14, b.atr.Value())
	}
	if b.sma20.Ready() {
		put(model.IndSMA20, b.sma20.Value())
	}
	if b.sma50.Ready() {
		put(model.IndSMA50, b.sma50.Value())
	}
	if b.ema20.Ready() {
		put(model.IndEMA20, b.ema20.Value())
	}
	if b.ema50.Ready() {
		put(model.IndEMA50, b.ema50.Value())
	}
	if b.bb.Ready() {
		put(model.IndBBUpper, b.bb.Upper())
		put(model.IndBBMid, b.bb.Value())
		put(model.IndBBLower, b.bb.Lower())
	}
	if b.adx.Ready() {
		put(model.IndADX14, b.adx.Value())
	}
	if b.vwap.Ready() {
		put(model.IndVWAP, b.vwap.Value())
	}
	if b.volume.Ready() {
		put(model.IndVolumeSMA, b.volume.Value())
		put(model.IndVolumeRatio, b.volume.Ratio())
	}

	return model.IndicatorSet{
		Instrument: b.instrument,
		TF:         b.tf,
		TS:         ts,
		Values:     vals,
	}
}
