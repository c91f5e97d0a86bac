package model

import (
	"encoding/json"
	"time"
)

// Tick represents a single market data tick for one instrument.
// Price is stored as int64 in paise (1 INR = 100 paise) to avoid float drift.
type Tick struct {
	Instrument string    `json:"instrument"`
	TS         time.Time `json:"ts"` // UTC timestamp
	Price      int64     `json:"price"` // paise (LTP)
	Qty        int64     `json:"qty"`   // last traded quantity
	Bid        int64     `json:"bid,omitempty"`
	Ask        int64     `json:"ask,omitempty"`
	OI         int64     `json:"oi,omitempty"` // open interest (derivatives)
}

// PriceRupees returns the last traded price in rupees.
func (t *Tick) PriceRupees() float64 {
	return float64(t.Price) / 100.0
}

// JSON returns the JSON-encoded tick (ignoring errors for hot-path usage).
func (t *Tick) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}
