package entitle

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, reset time.Duration) (*DefaultCircuitBreaker, *fakeClock, *[]CircuitBreakerState) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	var transitions []CircuitBreakerState
	cb := NewDefaultCircuitBreaker(threshold, reset, func(s CircuitBreakerState) {
		transitions = append(transitions, s)
	})
	cb.now = clock.Now
	return cb, clock, &transitions
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _, transitions := newTestBreaker(3, time.Minute)
	ctx := context.Background()
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: expected boom, got %v", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
	if len(*transitions) != 1 || (*transitions)[0] != StateOpen {
		t.Errorf("transitions = %v", *transitions)
	}
}

func TestCircuitBreaker_HalfOpenTrial(t *testing.T) {
	cb, clock, _ := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errors.New("down") })
	clock.Advance(time.Minute)

	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half_open", cb.State())
	}

	// A failed trial re-opens.
	_ = cb.Execute(ctx, func() error { return errors.New("still down") })
	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	clock.Advance(time.Minute)
	if err := cb.Execute(ctx, func() error { return nil }); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed", cb.State())
	}
}

func TestCircuitBreaker_IsFailureClassifier(t *testing.T) {
	cb, _, _ := newTestBreaker(1, time.Minute)
	cb.IsFailure = IsOutage

	err := cb.Execute(context.Background(), func() error { return ErrSubscriptionNotFound })
	if !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected passthrough error, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("not-found must not trip the breaker, state = %s", cb.State())
	}
}

func TestCircuitBreaker_CanceledContext(t *testing.T) {
	cb, _, _ := newTestBreaker(1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := cb.Execute(ctx, func() error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenAdmitsOneCall(t *testing.T) {
	cb, clock, _ := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errors.New("down") })
	clock.Advance(time.Minute)

	started := make(chan struct{})
	finish := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func() error {
			close(started)
			<-finish
			return nil
		})
	}()
	<-started

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second caller during trial: expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("second caller must not reach the store")
	}

	close(finish)
	if err := <-done; err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed", cb.State())
	}
}

func TestCircuitBreaker_ContextErrorsDoNotTrip(t *testing.T) {
	cb, clock, _ := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	for _, cerr := range []error{context.Canceled, context.DeadlineExceeded} {
		if err := cb.Execute(ctx, func() error { return cerr }); !errors.Is(err, cerr) {
			t.Fatalf("expected %v, got %v", cerr, err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("client disconnects tripped the breaker: %s", cb.State())
	}

	// a canceled trial frees the slot without closing the circuit
	_ = cb.Execute(ctx, func() error { return errors.New("down") })
	clock.Advance(time.Minute)
	_ = cb.Execute(ctx, func() error { return context.Canceled })
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half_open", cb.State())
	}
	if err := cb.Execute(ctx, func() error { return nil }); err != nil {
		t.Errorf("next trial should be admitted, got %v", err)
	}
}

func TestIsOutage(t *testing.T) {
	outages := []error{errors.New("connection refused"), ErrPersistence}
	answers := []error{nil, ErrCheckoutNotFound, ErrSubscriptionNotFound, ErrDuplicateCheckout,
		ErrInvalidRecord, context.Canceled, context.DeadlineExceeded}

	for _, err := range outages {
		if !IsOutage(err) {
			t.Errorf("IsOutage(%v) = false, want true", err)
		}
	}
	for _, err := range answers {
		if IsOutage(err) {
			t.Errorf("IsOutage(%v) = true, want false", err)
		}
	}
}
