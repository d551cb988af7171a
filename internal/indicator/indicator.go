// Package indicator provides technical indicator calculations over candle data.
//
// Indicators are O(1)-per-update state machines. The Pipeline feeds a fresh
// set of them the whole window on every evaluation, so no state survives from
// one closed candle to the next.
package indicator

import "signal-enginev1/internal/model"

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "EMA", "RSI").
	Name() string

	// Update feeds a new candle and recalculates.
	Update(candle model.Candle)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}
