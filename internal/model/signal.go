package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// TriggeredSignal is produced by the rule engine when a rule matches at a
// series point. Ephemeral — the alert dispatcher decides whether it results
// in an outbound notification.
type TriggeredSignal struct {
	RuleID   int64       `json:"rule_id"`
	RuleName string      `json:"rule_name"`
	Action   Action      `json:"action"`
	TS       time.Time   `json:"ts"`
	Price    float64     `json:"price,omitempty"`
	Matched  []Condition `json:"matched"`
}

// DedupKey returns the at-most-once delivery key for this signal:
// one outbound alert per rule per data point.
func (s *TriggeredSignal) DedupKey() string {
	return strconv.FormatInt(s.RuleID, 10) + "@" + strconv.FormatInt(s.TS.UnixNano(), 10)
}

// JSON returns the JSON-encoded signal.
func (s *TriggeredSignal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
