package model

import (
	"encoding/json"
	"time"
)

// FieldPrice is the unified-series key for the raw price.
const FieldPrice = "PRICE"

// UnifiedPoint is one row of the time-aligned multi-field series: the price
// and every indicator value that exists for one time bucket. Fields is
// sparse — slower indicators are absent until their window fills, so a
// bucket may gain fields over time.
type UnifiedPoint struct {
	TS     time.Time          `json:"ts"`
	Fields map[string]float64 `json:"fields"`
}

// Field returns the named field value and whether it is present.
func (u *UnifiedPoint) Field(key string) (float64, bool) {
	v, ok := u.Fields[key]
	return v, ok
}

// JSON returns the JSON-encoded point.
func (u *UnifiedPoint) JSON() []byte {
	b, _ := json.Marshal(u)
	return b
}
