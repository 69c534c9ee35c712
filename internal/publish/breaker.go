package publish

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned when the publish breaker is rejecting calls.
var ErrBreakerOpen = errors.New("publish breaker is open")

// BreakerState represents the breaker state.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // publishes pass through
	BreakerOpen                         // tripped, publishes skipped until the retry deadline
	BreakerHalfOpen                     // one probe publish allowed through
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker keeps a dead Redis off the tick hot path. After maxFailures
// consecutive publish failures it opens and skips every call until the
// retry deadline, then lets a single probe publish through. A successful
// probe closes it again; a failed probe pushes the deadline out.
type Breaker struct {
	maxFailures int
	retryAfter  time.Duration

	mu       sync.Mutex
	state    BreakerState
	failures int
	deadline time.Time // earliest instant an open breaker allows a probe

	// OnStateChange is called on state transitions (optional). Runs under
	// the breaker lock; must not call back into the breaker.
	OnStateChange func(from, to BreakerState)
}

// NewBreaker creates a breaker that opens after maxFailures consecutive
// failures and probes again retryAfter later.
func NewBreaker(maxFailures int, retryAfter time.Duration) *Breaker {
	return &Breaker{maxFailures: maxFailures, retryAfter: retryAfter}
}

// Execute runs fn unless the breaker is open with an unexpired deadline,
// in which case it returns ErrBreakerOpen without calling fn.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allow() {
		return ErrBreakerOpen
	}
	err := fn()
	b.record(err)
	return err
}

// allow decides whether a call may proceed, moving an expired open breaker
// to half-open so the call acts as the probe.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen {
		if time.Now().Before(b.deadline) {
			return false
		}
		b.transition(BreakerHalfOpen)
	}
	return true
}

// record applies one call outcome to the breaker state.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state == BreakerHalfOpen {
			b.transition(BreakerClosed)
		}
		b.failures = 0
		return
	}

	b.failures++
	b.deadline = time.Now().Add(b.retryAfter)
	if b.state == BreakerHalfOpen || b.failures >= b.maxFailures {
		b.transition(BreakerOpen)
	}
}

// CurrentState returns the current breaker state.
func (b *Breaker) CurrentState() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count since the last success.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if to == BreakerClosed {
		b.failures = 0
	}
	if b.OnStateChange != nil {
		b.OnStateChange(from, to)
	}
}
