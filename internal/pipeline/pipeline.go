// Package pipeline wires the per-symbol processing chain: price buffer,
// indicator engine, fan-out bus, unified series builder, rule engine and
// alert dispatcher. One Pipeline instance serves one symbol; every tick
// runs the full chain synchronously on the caller's goroutine.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"signalwatch/internal/alert"
	"signalwatch/internal/fanout"
	"signalwatch/internal/indicator"
	"signalwatch/internal/metrics"
	"signalwatch/internal/model"
	"signalwatch/internal/pricebuf"
	"signalwatch/internal/rule"
	"signalwatch/internal/series"
)

// RuleSource provides the current enabled rule set. Satisfied by
// rulestore.Store; tests supply a static implementation.
type RuleSource interface {
	Rules() []model.Rule
}

// StaticRules is a fixed RuleSource for tests and the demo binary.
type StaticRules []model.Rule

func (s StaticRules) Rules() []model.Rule { return s }

// Config holds pipeline construction parameters.
type Config struct {
	Symbol         string
	BufferCapacity int
	Granularity    time.Duration
	Specs          []indicator.Spec
}

// Pipeline is the per-symbol processing chain.
type Pipeline struct {
	symbol     string
	buf        *pricebuf.Buffer
	engine     *indicator.Engine
	bus        *fanout.FanOut
	builder    *series.Builder
	rules      RuleSource
	ruleEng    *rule.Engine
	dispatcher *alert.Dispatcher
	met        *metrics.Metrics
	health     *metrics.HealthStatus
	log        *slog.Logger

	// OnSignals, when set, receives every evaluated batch of triggered
	// signals before dispatch (pre-dedup). Used for downstream publishing.
	OnSignals func([]model.TriggeredSignal)

	// Ticks and backfill mutate shared accumulator state and must not
	// interleave.
	mu sync.Mutex
}

// New builds a pipeline. met and health may be nil.
func New(cfg Config, rules RuleSource, dispatcher *alert.Dispatcher,
	met *metrics.Metrics, health *metrics.HealthStatus, log *slog.Logger) (*Pipeline, error) {
	if log == nil {
		log = slog.Default()
	}
	eng, err := indicator.NewEngine(cfg.Specs, cfg.BufferCapacity)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		symbol:     cfg.Symbol,
		buf:        pricebuf.New(cfg.BufferCapacity),
		engine:     eng,
		bus:        fanout.New(log),
		builder:    series.New(cfg.Granularity),
		rules:      rules,
		ruleEng:    rule.NewEngine(log),
		dispatcher: dispatcher,
		met:        met,
		health:     health,
		log:        log.With(slog.String("component", "pipeline"), slog.String("symbol", cfg.Symbol)),
	}

	if met != nil {
		dispatcher.OnSent = met.AlertsSent.Inc
		dispatcher.OnDedup = met.AlertsDeduped.Inc
		dispatcher.OnError = met.NotifyErrors.Inc
		p.bus.OnDrop = met.SubscribersDropped.Inc
	}
	return p, nil
}

// Bus exposes the fan-out so sinks can subscribe before ticks flow.
func (p *Pipeline) Bus() *fanout.FanOut { return p.bus }

// Buffer exposes the price buffer for inspection.
func (p *Pipeline) Buffer() *pricebuf.Buffer { return p.buf }

// HandleTick runs the full chain for one live tick: buffer append,
// incremental indicator update, fan-out, unified series rebuild, rule
// evaluation at the latest point, alert dispatch.
func (p *Pipeline) HandleTick(ctx context.Context, point model.PricePoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.buf.Append(point) {
		if p.met != nil {
			p.met.TicksRejected.Inc()
		}
		p.log.Debug("rejected out-of-order tick", slog.Time("ts", point.TS))
		return
	}
	if p.met != nil {
		p.met.TicksTotal.Inc()
	}
	if p.health != nil {
		p.health.SetLastTickTime(point.TS)
	}

	start := time.Now()
	fields := p.engine.Push(point)
	if p.met != nil {
		p.met.IndicatorComputeDur.Observe(time.Since(start).Seconds())
	}

	p.bus.Publish(fanout.Event{Point: point, Indicators: fields})

	signals := p.evaluate(false)
	if p.OnSignals != nil && len(signals) > 0 {
		p.OnSignals(signals)
	}
	p.dispatcher.Dispatch(ctx, signals)
}

// HandleHistory ingests the one-time backfill batch: seeds the buffer and
// every accumulator from the bars, then sweeps rules over the full series
// so alerts that would have fired during the gap are raised (and recorded
// for dedup) before live ticks resume.
func (p *Pipeline) HandleHistory(ctx context.Context, bars []model.PricePoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	accepted := 0
	for _, b := range bars {
		if p.buf.Append(b) {
			accepted++
		}
	}
	if p.met != nil {
		p.met.BackfillBars.Add(float64(accepted))
	}
	p.log.Info("history ingested", slog.Int("bars", len(bars)), slog.Int("accepted", accepted))

	p.engine.SeedAll(p.buf.Snapshot())

	signals := p.evaluate(true)
	if p.OnSignals != nil && len(signals) > 0 {
		p.OnSignals(signals)
	}
	p.dispatcher.Dispatch(ctx, signals)
}

// evaluate rebuilds the unified series and runs the rule engine, at the
// latest point only or over the full history.
func (p *Pipeline) evaluate(fullSweep bool) []model.TriggeredSignal {
	start := time.Now()
	points := p.builder.Build(p.buf.Snapshot(), p.engine.Histories())
	if p.met != nil {
		p.met.SeriesBuildDur.Observe(time.Since(start).Seconds())
	}

	rules := p.rules.Rules()
	var signals []model.TriggeredSignal
	if fullSweep {
		signals = p.ruleEng.EvaluateAllPoints(rules, points)
	} else {
		signals = p.ruleEng.EvaluateAll(rules, points)
	}

	if p.met != nil {
		p.met.RulesEvaluated.Add(float64(len(rules)))
		for _, sig := range signals {
			p.met.SignalsTriggered.WithLabelValues(string(sig.Action)).Inc()
		}
	}
	return signals
}
