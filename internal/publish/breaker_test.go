package publish

import (
	"errors"
	"testing"
	"time"
)

func TestBreaker_StartsClosed(t *testing.T) {
	b := NewBreaker(3, 100*time.Millisecond)
	if b.CurrentState() != BreakerClosed {
		t.Errorf("expected closed, got %v", b.CurrentState())
	}
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	b := NewBreaker(3, 100*time.Millisecond)
	errFail := errors.New("fail")

	for i := 0; i < 3; i++ {
		if err := b.Execute(func() error { return errFail }); err != errFail {
			t.Fatalf("expected errFail, got %v", err)
		}
	}

	if b.CurrentState() != BreakerOpen {
		t.Errorf("expected open after 3 failures, got %v", b.CurrentState())
	}

	// Publishes are now skipped immediately
	if err := b.Execute(func() error { return nil }); err != ErrBreakerOpen {
		t.Errorf("expected ErrBreakerOpen, got %v", err)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := NewBreaker(2, 50*time.Millisecond)
	errFail := errors.New("fail")
	for i := 0; i < 2; i++ {
		b.Execute(func() error { return errFail })
	}
	if b.CurrentState() != BreakerOpen {
		t.Fatal("expected open")
	}

	time.Sleep(60 * time.Millisecond)

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if b.CurrentState() != BreakerClosed {
		t.Errorf("expected closed after successful probe, got %v", b.CurrentState())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(2, 50*time.Millisecond)
	errFail := errors.New("fail")
	for i := 0; i < 2; i++ {
		b.Execute(func() error { return errFail })
	}

	time.Sleep(60 * time.Millisecond)
	b.Execute(func() error { return errFail })

	if b.CurrentState() != BreakerOpen {
		t.Errorf("expected open after failed probe, got %v", b.CurrentState())
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, 100*time.Millisecond)
	errFail := errors.New("fail")

	b.Execute(func() error { return errFail })
	b.Execute(func() error { return errFail })
	if b.Failures() != 2 {
		t.Errorf("Failures() = %d, want 2", b.Failures())
	}
	b.Execute(func() error { return nil }) // resets counter
	if b.Failures() != 0 {
		t.Errorf("Failures() after success = %d, want 0", b.Failures())
	}

	b.Execute(func() error { return errFail })
	b.Execute(func() error { return errFail })

	if b.CurrentState() != BreakerClosed {
		t.Errorf("expected closed (counter reset by success), got %v", b.CurrentState())
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	var transitions []BreakerState
	b := NewBreaker(1, 50*time.Millisecond)
	b.OnStateChange = func(_, to BreakerState) {
		transitions = append(transitions, to)
	}

	b.Execute(func() error { return errors.New("fail") })
	if len(transitions) != 1 || transitions[0] != BreakerOpen {
		t.Errorf("expected [open], got %v", transitions)
	}

	time.Sleep(60 * time.Millisecond)
	b.Execute(func() error { return nil })

	if len(transitions) != 3 || transitions[1] != BreakerHalfOpen || transitions[2] != BreakerClosed {
		t.Errorf("expected [open half-open closed], got %v", transitions)
	}
}
