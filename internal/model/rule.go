package model

// Operator is a condition comparison operator.
type Operator string

const (
	OpGT           Operator = "GT"
	OpLT           Operator = "LT"
	OpGTE          Operator = "GTE"
	OpLTE          Operator = "LTE"
	OpEQ           Operator = "EQ" // equality within 1e-4 tolerance
	OpBetween      Operator = "BETWEEN"
	OpCrossesAbove Operator = "CROSSES_ABOVE"
	OpCrossesBelow Operator = "CROSSES_BELOW"
	OpIncreasing   Operator = "INCREASING"
	OpDecreasing   Operator = "DECREASING"
	OpFlat         Operator = "FLAT"
)

// Combinator joins a rule's conditions.
type Combinator string

const (
	CombAND Combinator = "AND"
	CombOR  Combinator = "OR"
)

// Action is the signal a triggered rule raises.
type Action string

const (
	ActionBuy     Action = "BUY"
	ActionSell    Action = "SELL"
	ActionNeutral Action = "NEUTRAL"
)

// Condition is one declarative test against the unified series.
//
// IndicatorKey names a unified-series field, e.g. "PRICE", "RSI_14",
// "MACD_12_26_9" or "STOCH_K_14_3_3". For crossover operators CompareKey
// may name a second field; when it is empty the crossover is against
// Operand. BETWEEN uses [Operand, OperandHigh] inclusive. Lookback applies
// to INCREASING/DECREASING/FLAT and is at least 1.
type Condition struct {
	ID           int64    `json:"id"`
	IndicatorKey string   `json:"indicator_key"`
	Operator     Operator `json:"operator"`
	Operand      float64  `json:"operand"`
	OperandHigh  float64  `json:"operand_high,omitempty"`
	CompareKey   string   `json:"compare_key,omitempty"`
	Lookback     int      `json:"lookback,omitempty"`
}

// Rule is a user-defined alert rule. Rules are owned and mutated by the
// CRUD store; the pipeline only reads enabled rules.
type Rule struct {
	ID         int64       `json:"id"`
	Name       string      `json:"name"`
	Enabled    bool        `json:"enabled"`
	Action     Action      `json:"action"`
	Combinator Combinator  `json:"combinator"`
	Conditions []Condition `json:"conditions"`
}
