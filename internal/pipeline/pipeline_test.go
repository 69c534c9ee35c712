package pipeline

import (
	"context"
	"testing"
	"time"

	"signalwatch/internal/alert"
	"signalwatch/internal/fanout"
	"signalwatch/internal/indicator"
	"signalwatch/internal/model"
)

var base = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

type captureNotifier struct {
	sent []alert.Notification
}

func (c *captureNotifier) Send(_ context.Context, n alert.Notification) error {
	c.sent = append(c.sent, n)
	return nil
}

func tick(sec int, price float64) model.PricePoint {
	return model.PricePoint{
		Symbol: "TEST",
		TS:     base.Add(time.Duration(sec) * time.Second),
		Price:  price,
	}
}

func newTestPipeline(t *testing.T, rules []model.Rule, specs []indicator.Spec) (*Pipeline, *captureNotifier) {
	t.Helper()
	notifier := &captureNotifier{}
	dispatcher := alert.NewDispatcher(notifier, nil)
	p, err := New(Config{
		Symbol:         "TEST",
		BufferCapacity: 100,
		Granularity:    time.Second,
		Specs:          specs,
	}, StaticRules(rules), dispatcher, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, notifier
}

func TestPipeline_PriceRuleTriggersOnce(t *testing.T) {
	rules := []model.Rule{{
		ID: 1, Name: "price spike", Enabled: true,
		Action: model.ActionSell, Combinator: model.CombAND,
		Conditions: []model.Condition{
			{IndicatorKey: model.FieldPrice, Operator: model.OpGT, Operand: 105},
		},
	}}
	p, notifier := newTestPipeline(t, rules, nil)
	ctx := context.Background()

	for i, price := range []float64{100, 102, 104, 106} {
		p.HandleTick(ctx, tick(i, price))
	}

	if len(notifier.sent) != 1 {
		t.Fatalf("alerts = %d, want 1 (only the 106 tick exceeds 105)", len(notifier.sent))
	}

	// Re-delivering the same tick is rejected by the buffer and must not
	// produce a second alert.
	p.HandleTick(ctx, tick(3, 106))
	if len(notifier.sent) != 1 {
		t.Errorf("alerts after duplicate tick = %d, want 1", len(notifier.sent))
	}
}

func TestPipeline_IndicatorRuleTriggersWhenReady(t *testing.T) {
	rules := []model.Rule{{
		ID: 1, Name: "oversold", Enabled: true,
		Action: model.ActionBuy, Combinator: model.CombAND,
		Conditions: []model.Condition{
			{IndicatorKey: "RSI_3", Operator: model.OpLT, Operand: 30},
		},
	}}
	p, notifier := newTestPipeline(t, rules, []indicator.Spec{{Type: "RSI", Period: 3}})
	ctx := context.Background()

	// Strictly falling prices: RSI_3 is 0 from the moment it is ready
	// (4th point). Before that the condition has no data and is false.
	for i, price := range []float64{100, 99, 98} {
		p.HandleTick(ctx, tick(i, price))
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("alerts before RSI warmup = %d, want 0", len(notifier.sent))
	}

	p.HandleTick(ctx, tick(3, 97))
	if len(notifier.sent) != 1 {
		t.Fatalf("alerts at first ready point = %d, want 1", len(notifier.sent))
	}

	// The next falling tick is a new data point and alerts again.
	p.HandleTick(ctx, tick(4, 96))
	if len(notifier.sent) != 2 {
		t.Errorf("alerts = %d, want 2", len(notifier.sent))
	}
}

func TestPipeline_BackfillSweepAndDedup(t *testing.T) {
	rules := []model.Rule{{
		ID: 1, Name: "price spike", Enabled: true,
		Action: model.ActionSell, Combinator: model.CombAND,
		Conditions: []model.Condition{
			{IndicatorKey: model.FieldPrice, Operator: model.OpGT, Operand: 105},
		},
	}}
	p, notifier := newTestPipeline(t, rules, nil)
	ctx := context.Background()

	bars := []model.PricePoint{
		tick(0, 100), tick(1, 106), tick(2, 104), tick(3, 107),
	}
	p.HandleHistory(ctx, bars)

	// The full sweep raises one alert per triggering point in the gap.
	if len(notifier.sent) != 2 {
		t.Fatalf("backfill alerts = %d, want 2 (points at 106 and 107)", len(notifier.sent))
	}

	// Replaying the same history must not re-alert: the buffer rejects the
	// stale bars and the dedup records from the sweep still stand.
	p.HandleHistory(ctx, bars)
	if len(notifier.sent) != 2 {
		t.Errorf("alerts after replay = %d, want 2", len(notifier.sent))
	}

	// Live ticks resume after the backfill seamlessly.
	p.HandleTick(ctx, tick(4, 108))
	if len(notifier.sent) != 3 {
		t.Errorf("alerts after live resume = %d, want 3", len(notifier.sent))
	}
	if p.Buffer().Len() != 5 {
		t.Errorf("buffer length = %d, want 5", p.Buffer().Len())
	}
}

func TestPipeline_OnSignalsHook(t *testing.T) {
	rules := []model.Rule{{
		ID: 1, Name: "price spike", Enabled: true,
		Action: model.ActionSell, Combinator: model.CombAND,
		Conditions: []model.Condition{
			{IndicatorKey: model.FieldPrice, Operator: model.OpGT, Operand: 105},
		},
	}}
	p, _ := newTestPipeline(t, rules, nil)

	var hooked []model.TriggeredSignal
	p.OnSignals = func(signals []model.TriggeredSignal) {
		hooked = append(hooked, signals...)
	}

	ctx := context.Background()
	p.HandleTick(ctx, tick(0, 110))
	if len(hooked) != 1 || hooked[0].RuleName != "price spike" {
		t.Errorf("OnSignals hook got %+v, want the triggered signal", hooked)
	}
}

func TestPipeline_FanOutReceivesEveryAcceptedTick(t *testing.T) {
	p, _ := newTestPipeline(t, nil, []indicator.Spec{{Type: "RSI", Period: 3}})
	ctx := context.Background()

	var events []fanout.Event
	p.Bus().Subscribe(func(ev fanout.Event) { events = append(events, ev) })

	for i, price := range []float64{100, 99, 98, 97} {
		p.HandleTick(ctx, tick(i, price))
	}
	p.HandleTick(ctx, tick(3, 97)) // duplicate, rejected

	if len(events) != 4 {
		t.Fatalf("fanout events = %d, want 4 (rejected tick not published)", len(events))
	}
	if events[3].Indicators == nil {
		t.Error("4th event should carry the ready RSI field")
	}
	if _, ok := events[0].Indicators["RSI_3"]; ok {
		t.Error("1st event should not carry RSI before warmup")
	}
}
