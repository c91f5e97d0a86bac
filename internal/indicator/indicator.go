// Package indicator provides technical indicator calculations over closed
// bars. Every indicator is incremental — O(1) per bar, no history scans —
// and reports Ready() only once its window is sufficient. Values are in
// rupees (float64); bar prices arrive as int64 paise.
package indicator

import "trading-corev1/internal/model"

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Update feeds a new closed bar and recalculates.
	Update(bar model.Bar)

	// Value returns the current calculated value. Meaningless before Ready.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// closeRupees converts a bar's close from paise to rupees.
func closeRupees(b model.Bar) float64 { return float64(b.Close) / 100.0 }
