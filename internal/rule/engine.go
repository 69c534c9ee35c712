// Package rule evaluates declarative alert rules against the unified series.
//
// A condition that cannot be evaluated — unknown field, not enough history,
// malformed operator — is simply false: missing data means "not triggered",
// and one bad rule never blocks evaluation of the others.
package rule

import (
	"log/slog"
	"math"

	"signalwatch/internal/model"
)

// eqTolerance is the absolute tolerance for the EQ operator.
const eqTolerance = 1e-4

// flatTolerance is the relative band for the FLAT operator: the value moved
// by less than 1% of its current magnitude over the lookback.
const flatTolerance = 0.01

// Engine evaluates rules against a unified series.
type Engine struct {
	log *slog.Logger
}

// NewEngine creates a rule engine.
func NewEngine(log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{log: log.With(slog.String("component", "rule"))}
}

// EvaluateCondition evaluates one condition at the given series index.
// Never panics and never errors: any missing value yields false.
func (e *Engine) EvaluateCondition(c model.Condition, series []model.UnifiedPoint, idx int) bool {
	if idx < 0 || idx >= len(series) {
		return false
	}
	cur, ok := series[idx].Field(c.IndicatorKey)
	if !ok {
		return false
	}

	switch c.Operator {
	case model.OpGT:
		return cur > c.Operand
	case model.OpLT:
		return cur < c.Operand
	case model.OpGTE:
		return cur >= c.Operand
	case model.OpLTE:
		return cur <= c.Operand
	case model.OpEQ:
		return math.Abs(cur-c.Operand) <= eqTolerance
	case model.OpBetween:
		lo, hi := c.Operand, c.OperandHigh
		if hi < lo {
			lo, hi = hi, lo
		}
		return cur >= lo && cur <= hi

	case model.OpCrossesAbove, model.OpCrossesBelow:
		if idx == 0 {
			return false
		}
		prev, ok := series[idx-1].Field(c.IndicatorKey)
		if !ok {
			return false
		}
		curRef, prevRef := c.Operand, c.Operand
		if c.CompareKey != "" {
			if curRef, ok = series[idx].Field(c.CompareKey); !ok {
				return false
			}
			if prevRef, ok = series[idx-1].Field(c.CompareKey); !ok {
				return false
			}
		}
		if c.Operator == model.OpCrossesAbove {
			return prev <= prevRef && cur > curRef
		}
		return prev >= prevRef && cur < curRef

	case model.OpIncreasing, model.OpDecreasing, model.OpFlat:
		lookback := c.Lookback
		if lookback < 1 {
			lookback = 1
		}
		if idx-lookback < 0 {
			return false
		}
		past, ok := series[idx-lookback].Field(c.IndicatorKey)
		if !ok {
			return false
		}
		switch c.Operator {
		case model.OpIncreasing:
			return cur > past
		case model.OpDecreasing:
			return cur < past
		default:
			return math.Abs(cur-past) < flatTolerance*math.Abs(cur)
		}

	default:
		e.log.Warn("unknown operator", slog.String("operator", string(c.Operator)))
		return false
	}
}

// EvaluateRule evaluates one rule at one series index. AND requires every
// condition true at that index and records all of them as matched; OR
// requires at least one and records exactly the matching subset.
// Returns nil when the rule does not trigger.
func (e *Engine) EvaluateRule(r model.Rule, series []model.UnifiedPoint, idx int) *model.TriggeredSignal {
	if len(r.Conditions) == 0 || idx < 0 || idx >= len(series) {
		return nil
	}

	var matched []model.Condition
	for _, c := range r.Conditions {
		if e.EvaluateCondition(c, series, idx) {
			matched = append(matched, c)
		} else if r.Combinator == model.CombAND {
			// One false condition sinks an AND rule — no partial matches.
			return nil
		}
	}
	if len(matched) == 0 {
		return nil
	}

	sig := &model.TriggeredSignal{
		RuleID:   r.ID,
		RuleName: r.Name,
		Action:   r.Action,
		TS:       series[idx].TS,
		Matched:  matched,
	}
	if price, ok := series[idx].Field(model.FieldPrice); ok {
		sig.Price = price
	}
	return sig
}

// EvaluateAll evaluates every enabled rule against the latest series point
// only. This is the live-tick mode.
func (e *Engine) EvaluateAll(rules []model.Rule, series []model.UnifiedPoint) []model.TriggeredSignal {
	if len(series) == 0 {
		return nil
	}
	return e.evaluateAt(rules, series, len(series)-1)
}

// EvaluateAllPoints evaluates every enabled rule at every series index.
// O(rules × points × conditions) — backfill mode, runs once per
// full-history load.
func (e *Engine) EvaluateAllPoints(rules []model.Rule, series []model.UnifiedPoint) []model.TriggeredSignal {
	var out []model.TriggeredSignal
	for idx := range series {
		out = append(out, e.evaluateAt(rules, series, idx)...)
	}
	return out
}

func (e *Engine) evaluateAt(rules []model.Rule, series []model.UnifiedPoint, idx int) []model.TriggeredSignal {
	var out []model.TriggeredSignal
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		sig := e.evaluateGuarded(r, series, idx)
		if sig != nil {
			out = append(out, *sig)
		}
	}
	return out
}

// evaluateGuarded isolates a malformed rule: a panic during evaluation is
// logged and treated as not-triggered so it cannot block other rules.
func (e *Engine) evaluateGuarded(r model.Rule, series []model.UnifiedPoint, idx int) (sig *model.TriggeredSignal) {
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Error("rule evaluation panic",
				slog.Int64("rule_id", r.ID),
				slog.String("rule", r.Name),
				slog.Any("panic", rec))
			sig = nil
		}
	}()
	return e.EvaluateRule(r, series, idx)
}
