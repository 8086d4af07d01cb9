// Package memory provides an in-memory implementation of entitle.Store.
// It is intended for tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mihaimyh/goentitle/pkg/entitle"
)

// Storage implements entitle.Store using in-memory maps.
type Storage struct {
	mu            sync.RWMutex
	checkouts     map[string]*entitle.Checkout
	customers     map[string]*entitle.Customer
	subscriptions map[string]*entitle.Subscription
}

// New creates an empty store.
func New() *Storage {
	return &Storage{
		checkouts:     make(map[string]*entitle.Checkout),
		customers:     make(map[string]*entitle.Customer),
		subscriptions: make(map[string]*entitle.Subscription),
	}
}

// CreateCheckout implements entitle.Store
func (s *Storage) CreateCheckout(_ context.Context, c *entitle.Checkout) error {
	if c == nil || c.RequestID == "" || c.UserID == "" {
		return fmt.Errorf("%w: checkout requires request id and user id", entitle.ErrInvalidRecord)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.checkouts[c.RequestID]; ok {
		return entitle.ErrDuplicateCheckout
	}
	cp := *c
	s.checkouts[c.RequestID] = &cp
	return nil
}

// GetCheckout implements entitle.Store
func (s *Storage) GetCheckout(_ context.Context, requestID string) (*entitle.Checkout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.checkouts[requestID]
	if !ok {
		return nil, entitle.ErrCheckoutNotFound
	}
	cp := *c
	return &cp, nil
}

// UpdateCheckout implements entitle.Store
func (s *Storage) UpdateCheckout(_ context.Context, requestID string, upd *entitle.CheckoutUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.checkouts[requestID]
	if !ok {
		return entitle.ErrCheckoutNotFound
	}
	if upd.Status != "" {
		c.Status = upd.Status
	}
	if upd.ProviderCheckoutID != "" {
		c.ProviderCheckoutID = upd.ProviderCheckoutID
	}
	c.UpdatedAt = upd.UpdatedAt
	return nil
}

// UpsertCustomer implements entitle.Store
func (s *Storage) UpsertCustomer(_ context.Context, c *entitle.Customer) error {
	if c == nil || c.ProviderCustomerID == "" || c.UserID == "" {
		return fmt.Errorf("%w: customer requires provider id and user id", entitle.ErrInvalidRecord)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.customers[c.ProviderCustomerID]
	if !ok {
		cp := *c
		s.customers[c.ProviderCustomerID] = &cp
		return nil
	}
	existing.UserID = c.UserID
	if c.Email != "" {
		existing.Email = c.Email
	}
	existing.UpdatedAt = c.UpdatedAt
	return nil
}

// GetCustomer returns the stored customer. It is not part of entitle.Store.
func (s *Storage) GetCustomer(_ context.Context, providerCustomerID string) (*entitle.Customer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[providerCustomerID]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}

// GetSubscription implements entitle.Store
func (s *Storage) GetSubscription(_ context.Context, id string) (*entitle.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, entitle.ErrSubscriptionNotFound
	}
	return sub.Clone(), nil
}

// UpsertSubscription implements entitle.Store
func (s *Storage) UpsertSubscription(_ context.Context, sub *entitle.Subscription) error {
	if sub == nil || sub.ProviderSubscriptionID == "" || sub.UserID == "" {
		return fmt.Errorf("%w: subscription requires provider id and user id", entitle.ErrInvalidRecord)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.subscriptions[sub.ProviderSubscriptionID]
	if !ok {
		s.subscriptions[sub.ProviderSubscriptionID] = sub.Clone()
		return nil
	}
	existing.Merge(sub)
	return nil
}

// UpdateSubscription implements entitle.Store
func (s *Storage) UpdateSubscription(_ context.Context, id string, patch *entitle.SubscriptionPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return entitle.ErrSubscriptionNotFound
	}
	patch.Apply(sub)
	return nil
}

// ListSubscriptions implements entitle.Store
func (s *Storage) ListSubscriptions(_ context.Context, userID string, limit int) ([]*entitle.Subscription, error) {
	s.mu.RLock()
	var subs []*entitle.Subscription
	for _, sub := range s.subscriptions {
		if sub.UserID == userID {
			subs = append(subs, sub.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool {
		if subs[i].UpdatedAt.Equal(subs[j].UpdatedAt) {
			return subs[i].ProviderSubscriptionID < subs[j].ProviderSubscriptionID
		}
		return subs[i].UpdatedAt.After(subs[j].UpdatedAt)
	})
	if limit > 0 && len(subs) > limit {
		subs = subs[:limit]
	}
	return subs, nil
}

// Clear removes all data.
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkouts = make(map[string]*entitle.Checkout)
	s.customers = make(map[string]*entitle.Customer)
	s.subscriptions = make(map[string]*entitle.Subscription)
}

var _ entitle.Store = (*Storage)(nil)
