package entitle

import (
	"context"
	"errors"
	"fmt"
)

// CircuitBreakerStore wraps a Store with circuit breaker protection.
// Not-found and duplicate results are answers, not outages, and never trip the breaker.
type CircuitBreakerStore struct {
	store Store
	cb    CircuitBreaker
}

// NewCircuitBreakerStore wraps store. A DefaultCircuitBreaker without an
// IsFailure classifier is given one that ignores lookup misses.
func NewCircuitBreakerStore(store Store, cb CircuitBreaker) *CircuitBreakerStore {
	if dcb, ok := cb.(*DefaultCircuitBreaker); ok && dcb.IsFailure == nil {
		dcb.IsFailure = IsOutage
	}
	return &CircuitBreakerStore{store: store, cb: cb}
}

// IsOutage reports whether err indicates the store is unavailable rather than a
// normal negative answer or a caller giving up.
func IsOutage(err error) bool {
	return err != nil &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!errors.Is(err, ErrCheckoutNotFound) &&
		!errors.Is(err, ErrSubscriptionNotFound) &&
		!errors.Is(err, ErrDuplicateCheckout) &&
		!errors.Is(err, ErrInvalidRecord)
}

func (s *CircuitBreakerStore) exec(ctx context.Context, fn func() error) error {
	err := s.cb.Execute(ctx, fn)
	if errors.Is(err, ErrCircuitOpen) {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return err
}

func (s *CircuitBreakerStore) CreateCheckout(ctx context.Context, c *Checkout) error {
	return s.exec(ctx, func() error {
		return s.store.CreateCheckout(ctx, c)
	})
}

func (s *CircuitBreakerStore) GetCheckout(ctx context.Context, requestID string) (*Checkout, error) {
	var c *Checkout
	err := s.exec(ctx, func() error {
		var e error
		c, e = s.store.GetCheckout(ctx, requestID)
		return e
	})
	return c, err
}

func (s *CircuitBreakerStore) UpdateCheckout(ctx context.Context, requestID string, upd *CheckoutUpdate) error {
	return s.exec(ctx, func() error {
		return s.store.UpdateCheckout(ctx, requestID, upd)
	})
}

func (s *CircuitBreakerStore) UpsertCustomer(ctx context.Context, c *Customer) error {
	return s.exec(ctx, func() error {
		return s.store.UpsertCustomer(ctx, c)
	})
}

func (s *CircuitBreakerStore) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	var sub *Subscription
	err := s.exec(ctx, func() error {
		var e error
		sub, e = s.store.GetSubscription(ctx, id)
		return e
	})
	return sub, err
}

func (s *CircuitBreakerStore) UpsertSubscription(ctx context.Context, sub *Subscription) error {
	return s.exec(ctx, func() error {
		return s.store.UpsertSubscription(ctx, sub)
	})
}

func (s *CircuitBreakerStore) UpdateSubscription(ctx context.Context, id string, patch *SubscriptionPatch) error {
	return s.exec(ctx, func() error {
		return s.store.UpdateSubscription(ctx, id, patch)
	})
}

func (s *CircuitBreakerStore) ListSubscriptions(ctx context.Context, userID string, limit int) ([]*Subscription, error) {
	var subs []*Subscription
	err := s.exec(ctx, func() error {
		var e error
		subs, e = s.store.ListSubscriptions(ctx, userID, limit)
		return e
	})
	return subs, err
}

var _ Store = (*CircuitBreakerStore)(nil)
