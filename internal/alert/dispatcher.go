package alert

import (
	"context"
	"log/slog"

	"signalwatch/internal/model"
)

// Dispatcher forwards triggered signals to a notifier with at-most-once
// delivery per (rule, data point). The dedup set lives for the process
// lifetime; a send failure is logged without retry and without undoing the
// dedup record, so a flapping sink cannot cause a notification storm.
type Dispatcher struct {
	notifier Notifier
	seen     map[string]struct{}
	log      *slog.Logger

	// Optional metrics hooks
	OnSent  func()
	OnDedup func()
	OnError func()
}

// NewDispatcher creates a dispatcher that forwards to the given notifier.
func NewDispatcher(notifier Notifier, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		notifier: notifier,
		seen:     make(map[string]struct{}),
		log:      log.With(slog.String("component", "alert")),
	}
}

// Dispatch processes a batch of triggered signals in order.
func (d *Dispatcher) Dispatch(ctx context.Context, signals []model.TriggeredSignal) {
	for i := range signals {
		d.dispatchOne(ctx, signals[i])
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, sig model.TriggeredSignal) {
	key := sig.DedupKey()
	if _, dup := d.seen[key]; dup {
		if d.OnDedup != nil {
			d.OnDedup()
		}
		return
	}
	// Record before sending: a failed send must not be retried on the next
	// re-delivered tick.
	d.seen[key] = struct{}{}

	if err := d.notifier.Send(ctx, Format(sig)); err != nil {
		d.log.Warn("notification send failed",
			slog.Int64("rule_id", sig.RuleID),
			slog.String("rule", sig.RuleName),
			slog.Any("error", err))
		if d.OnError != nil {
			d.OnError()
		}
		return
	}
	if d.OnSent != nil {
		d.OnSent()
	}
	d.log.Info("alert dispatched",
		slog.Int64("rule_id", sig.RuleID),
		slog.String("rule", sig.RuleName),
		slog.String("action", string(sig.Action)),
		slog.Time("ts", sig.TS))
}

// Dispatched returns the number of distinct (rule, point) pairs recorded.
func (d *Dispatcher) Dispatched() int {
	return len(d.seen)
}
