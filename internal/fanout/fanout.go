// Package fanout distributes each accepted tick event to an ordered list of
// subscriber callbacks: live push channels, the rule evaluation hook, the
// downstream publisher.
package fanout

import (
	"log/slog"
	"sync"

	"signalwatch/internal/model"
)

// Event is what subscribers receive per accepted tick: the point itself and
// the indicator fields recomputed for it. Indicators is sparse — an
// indicator is absent until its minimum window is reached.
type Event struct {
	Point      model.PricePoint
	Indicators map[string]float64
}

// Callback handles one event. Callbacks run synchronously on the pipeline
// goroutine, in subscription order.
type Callback func(Event)

type subscriber struct {
	id int
	cb Callback
}

// FanOut is the subscriber registry. A callback that panics is recovered,
// logged and auto-unsubscribed; remaining subscribers still receive the
// event and all subsequent events.
type FanOut struct {
	mu     sync.Mutex
	subs   []subscriber
	nextID int
	log    *slog.Logger

	// OnDrop, when set, is called once per subscriber removed after a panic.
	OnDrop func()
}

// New creates a FanOut.
func New(log *slog.Logger) *FanOut {
	if log == nil {
		log = slog.Default()
	}
	return &FanOut{log: log.With(slog.String("component", "fanout"))}
}

// Subscribe appends a callback and returns its subscription id.
func (f *FanOut) Subscribe(cb Callback) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.subs = append(f.subs, subscriber{id: f.nextID, cb: cb})
	return f.nextID
}

// Unsubscribe removes the callback with the given id.
// Returns false when the id is unknown.
func (f *FanOut) Unsubscribe(id int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.subs {
		if s.id == id {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of active subscribers.
func (f *FanOut) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Publish invokes every callback synchronously, in subscription order, with
// the same event. Failing callbacks are dropped without aborting delivery.
func (f *FanOut) Publish(ev Event) {
	f.mu.Lock()
	subs := make([]subscriber, len(f.subs))
	copy(subs, f.subs)
	f.mu.Unlock()

	for _, s := range subs {
		if !f.deliver(s, ev) {
			f.Unsubscribe(s.id)
			if f.OnDrop != nil {
				f.OnDrop()
			}
		}
	}
}

// deliver runs one callback, recovering a panic. Returns false when the
// subscriber must be dropped.
func (f *FanOut) deliver(s subscriber, ev Event) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			f.log.Error("subscriber panicked, unsubscribing",
				slog.Int("subscriber", s.id),
				slog.Any("panic", rec))
			ok = false
		}
	}()
	s.cb(ev)
	return true
}
