// Package model defines the core data types shared across the pipeline:
// price points from the feed, indicator values, unified series points,
// alert rules and triggered signals.
package model

import (
	"encoding/json"
	"time"
)

// PricePoint represents a single price update for one instrument.
// A live tick carries only Price; a historical bar also carries OHLCV.
// Timestamps are UTC and non-decreasing within one feed.
type PricePoint struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"`
	Price  float64   `json:"price"`

	// Optional bar fields (zero when the point came from a live tick).
	Open   float64 `json:"open,omitempty"`
	High   float64 `json:"high,omitempty"`
	Low    float64 `json:"low,omitempty"`
	Close  float64 `json:"close,omitempty"`
	Volume float64 `json:"volume,omitempty"`
}

// Bar reports whether this point carries OHLC data.
func (p *PricePoint) Bar() bool {
	return p.High != 0 || p.Low != 0
}

// HighLow returns the high/low range of the point. Tick points collapse
// the range onto the last price, which keeps Stochastic math well defined.
func (p *PricePoint) HighLow() (high, low float64) {
	if p.Bar() {
		return p.High, p.Low
	}
	return p.Price, p.Price
}

// ClosePrice returns the closing price of a bar, or the last price for a
// tick point.
func (p *PricePoint) ClosePrice() float64 {
	if p.Bar() && p.Close != 0 {
		return p.Close
	}
	return p.Price
}

// JSON returns the JSON-encoded point (ignoring errors for hot-path usage).
func (p *PricePoint) JSON() []byte {
	b, _ := json.Marshal(p)
	return b
}
