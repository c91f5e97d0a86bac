package model

import (
	"fmt"
	"time"
)

// Timeframe is a candle aggregation period in seconds.
// The set of valid timeframes is fixed and ordered.
type Timeframe int

const (
	TF1m  Timeframe = 60
	TF3m  Timeframe = 180
	TF5m  Timeframe = 300
	TF15m Timeframe = 900
	TF30m Timeframe = 1800
	TF1h  Timeframe = 3600
	TF1d  Timeframe = 86400
)

// AllTimeframes lists every valid timeframe in ascending order.
var AllTimeframes = []Timeframe{TF1m, TF3m, TF5m, TF15m, TF30m, TF1h, TF1d}

var tfNames = map[Timeframe]string{
	TF1m: "1m", TF3m: "3m", TF5m: "5m", TF15m: "15m",
	TF30m: "30m", TF1h: "1h", TF1d: "1d",
}

// String returns the canonical short name ("1m", "5m", ...).
func (tf Timeframe) String() string {
	if s, ok := tfNames[tf]; ok {
		return s
	}
	return fmt.Sprintf("%ds", int(tf))
}

// Duration returns the timeframe as a time.Duration.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf) * time.Second
}

// Seconds returns the timeframe length in seconds.
func (tf Timeframe) Seconds() int64 { return int64(tf) }

// Valid reports whether tf is one of the recognized timeframes.
func (tf Timeframe) Valid() bool {
	_, ok := tfNames[tf]
	return ok
}

// Bucket returns the bucket start (Unix seconds) containing ts.
func (tf Timeframe) Bucket(ts time.Time) int64 {
	sec := ts.Unix()
	return sec - sec%int64(tf)
}

// ParseTimeframe parses a short name like "5m" or "1h".
func ParseTimeframe(s string) (Timeframe, error) {
	for tf, name := range tfNames {
		if name == s {
			return tf, nil
		}
	}
	return 0, fmt.Errorf("unknown timeframe %q", s)
}
