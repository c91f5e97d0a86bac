package model

import (
	"encoding/json"
	"time"
)

// Indicator names published in an IndicatorSet. The name space is fixed;
// a nil value means the rolling window is not yet sufficient.
const (
	IndRSI14       = "rsi_14"
	IndMACDValue   = "macd_value"
	IndMACDSignal  = "macd_signal"
	IndMACDHist    = "macd_hist"
	IndATR14       = "atr_14"
	IndSMA20       = "sma_20"
	IndSMA50       = "sma_50"
	IndEMA20       = "ema_20"
	IndEMA50       = "ema_50"
	IndBBUpper     = "bb_upper"
	IndBBMid       = "bb_mid"
	IndBBLower     = "bb_lower"
	IndADX14       = "adx_14"
	IndVWAP        = "vwap"
	IndVolumeSMA   = "volume_sma"
	IndVolumeRatio = "volume_ratio"
)

// IndicatorNames lists every published indicator name.
var IndicatorNames = []string{
	IndRSI14, IndMACDValue, IndMACDSignal, IndMACDHist, IndATR14,
	IndSMA20, IndSMA50, IndEMA20, IndEMA50,
	IndBBUpper, IndBBMid, IndBBLower, IndADX14, IndVWAP,
	IndVolumeSMA, IndVolumeRatio,
}

// IndicatorSet holds all indicator values for one (instrument, TF) at one
// bar close. Values are in rupees (float64); nil means insufficient window.
type IndicatorSet struct {
	Instrument string              `json:"instrument"`
	TF         Timeframe           `json:"tf"`
	TS         time.Time           `json:"ts"` // closing bar's StartAt
	Values     map[string]*float64 `json:"values"`
}

// Channel returns the pub/sub channel this set is published on.
func (s *IndicatorSet) Channel() string {
	return "indicators:" + s.Instrument + ":" + s.TF.String()
}

// Get returns (value, true) if name is present and ready.
func (s *IndicatorSet) Get(name string) (float64, bool) {
	if v, ok := s.Values[name]; ok && v != nil {
		return *v, true
	}
	return 0, false
}

// JSON returns the JSON-encoded set.
func (s *IndicatorSet) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
