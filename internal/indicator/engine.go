package indicator

import (
	"fmt"
	"time"

	"signalwatch/internal/model"
)

// Spec describes one indicator instance by type and parameter tuple.
// Distinct parameter tuples are independent series.
type Spec struct {
	Type string // "RSI", "MACD", "STOCH", "BB"

	Period int // RSI, BB

	Fast       int // MACD
	Slow       int // MACD
	SignalSpan int // MACD

	KPeriod   int // STOCH
	DPeriod   int // STOCH
	Smoothing int // STOCH

	StdDevMult float64 // BB
}

// Build creates a fresh accumulator for this spec.
func (s Spec) Build() (Accumulator, error) {
	switch s.Type {
	case "RSI":
		return NewRSI(s.Period), nil
	case "MACD":
		return NewMACD(s.Fast, s.Slow, s.SignalSpan), nil
	case "STOCH":
		return NewStochastic(s.KPeriod, s.DPeriod, s.Smoothing), nil
	case "BB":
		return NewBollinger(s.Period, s.StdDevMult), nil
	default:
		return nil, fmt.Errorf("indicator: unknown type %q", s.Type)
	}
}

// Sample is one timestamped set of fields produced by an accumulator.
type Sample struct {
	TS     time.Time
	Fields map[string]float64
}

// Engine owns one accumulator and one value history per parameter tuple.
// Designed for single-goroutine usage — no locks needed. Histories are
// append-only per accepted point and bounded to maxHistory samples.
type Engine struct {
	specs      []Spec
	accs       []Accumulator
	histories  map[string][]Sample
	maxHistory int
}

// NewEngine creates an indicator engine for the given specs.
// maxHistory bounds each cached series (0 means unbounded).
func NewEngine(specs []Spec, maxHistory int) (*Engine, error) {
	accs := make([]Accumulator, len(specs))
	for i, sp := range specs {
		acc, err := sp.Build()
		if err != nil {
			return nil, err
		}
		accs[i] = acc
	}
	return &Engine{
		specs:      specs,
		accs:       accs,
		histories:  make(map[string][]Sample, len(specs)),
		maxHistory: maxHistory,
	}, nil
}

// Keys returns the parameter-tuple keys of all configured accumulators.
func (e *Engine) Keys() []string {
	keys := make([]string, len(e.accs))
	for i, acc := range e.accs {
		keys[i] = acc.Key()
	}
	return keys
}

// Push feeds one accepted point to every accumulator and appends a sample
// to each ready series. Returns the merged fields of all ready indicators
// at this point (nil when none is ready yet).
func (e *Engine) Push(p model.PricePoint) map[string]float64 {
	var merged map[string]float64
	for _, acc := range e.accs {
		acc.Push(p)
		fields := acc.Fields()
		if fields == nil {
			continue
		}
		e.append(acc.Key(), Sample{TS: p.TS, Fields: fields})
		if merged == nil {
			merged = make(map[string]float64, len(fields))
		}
		for k, v := range fields {
			merged[k] = v
		}
	}
	return merged
}

// SeedAll resets every accumulator and replays a full history through the
// incremental path, rebuilding the cached series. Used for backfill — the
// resulting histories are identical to what tick-by-tick Push would build.
func (e *Engine) SeedAll(history []model.PricePoint) {
	for _, acc := range e.accs {
		acc.Seed(nil)
	}
	e.histories = make(map[string][]Sample, len(e.accs))
	for _, p := range history {
		e.Push(p)
	}
}

// History returns the cached series for a parameter-tuple key.
// The returned slice is shared — callers must not mutate it.
func (e *Engine) History(key string) []Sample {
	return e.histories[key]
}

// Histories returns all cached series keyed by parameter tuple.
func (e *Engine) Histories() map[string][]Sample {
	return e.histories
}

// ComputeBatch recomputes a full series for an arbitrary spec over the given
// history without touching the engine cache. Used for uncached parameter
// tuples. The result matches incremental computation point for point.
func ComputeBatch(sp Spec, history []model.PricePoint) ([]Sample, error) {
	acc, err := sp.Build()
	if err != nil {
		return nil, err
	}
	var out []Sample
	for _, p := range history {
		acc.Push(p)
		if fields := acc.Fields(); fields != nil {
			out = append(out, Sample{TS: p.TS, Fields: fields})
		}
	}
	return out, nil
}

func (e *Engine) append(key string, s Sample) {
	h := append(e.histories[key], s)
	if e.maxHistory > 0 && len(h) > e.maxHistory {
		h = h[len(h)-e.maxHistory:]
	}
	e.histories[key] = h
}
