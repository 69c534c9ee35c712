// Package indicator provides technical indicator calculations over price data.
//
// Each indicator is a small stateful accumulator updated in O(1) per point.
// All indicators implement the Accumulator interface: Push feeds one point
// incrementally, Seed replays a full history through the same Push path, so
// incremental and batch computation agree numerically by construction.
package indicator

import "signalwatch/internal/model"

// Accumulator is the interface for all technical indicators.
type Accumulator interface {
	// Key returns the parameter-tuple key (e.g. "RSI_14", "MACD_12_26_9").
	Key() string

	// Push feeds a new price point and recalculates.
	Push(p model.PricePoint)

	// Seed resets the accumulator and replays a full history through Push.
	Seed(history []model.PricePoint)

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Fields returns the current values as unified-series fields keyed by
	// field name. Returns nil until Ready.
	Fields() map[string]float64
}