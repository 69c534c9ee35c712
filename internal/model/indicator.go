package model

import (
	"encoding/json"
	"time"
)

// IndicatorUpdate is the serializable event pushed downstream after each
// accepted tick: every field the indicator engine produced for that
// timestamp. Fields are sparse — an indicator is absent until its minimum
// window is reached.
type IndicatorUpdate struct {
	Symbol string             `json:"symbol"`
	TS     time.Time          `json:"ts"`
	Fields map[string]float64 `json:"fields"`
}

// JSON returns the JSON-encoded update.
func (u *IndicatorUpdate) JSON() []byte {
	b, _ := json.Marshal(u)
	return b
}
