package model

import (
	"encoding/json"
	"time"
)

// Bar represents an OHLC candle for one instrument and timeframe.
// All prices are in paise (int64) to avoid floating-point drift.
// Identity is (Instrument, TF, StartAt).
type Bar struct {
	Instrument string    `json:"instrument"`
	TF         Timeframe `json:"tf"`
	StartAt    time.Time `json:"start_at"` // bucket start (UTC, TF-aligned)
	Open       int64     `json:"open"`     // paise
	High       int64     `json:"high"`     // paise
	Low        int64     `json:"low"`      // paise
	Close      int64     `json:"close"`    // paise
	Volume     int64     `json:"volume"`   // cumulative quantity
	Ticks      int       `json:"ticks"`    // number of ticks aggregated
	Closed     bool      `json:"closed"`   // false while the bucket is still open
}

// Key returns "instrument|tf" for per-series state maps.
func (b *Bar) Key() string {
	return b.Instrument + "|" + b.TF.String()
}

// Channel returns the pub/sub channel closed bars are published on.
func (b *Bar) Channel() string {
	return "market:ohlc:" + b.Instrument + ":" + b.TF.String()
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	buf, _ := json.Marshal(b)
	return buf
}
