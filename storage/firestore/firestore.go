// Package firestore provides a Firestore implementation of the entitle.Store interface.
//
// ListSubscriptions filters on userId and orders by updatedAt, which needs a
// composite index on the subscriptions collection.
package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/goentitle/pkg/entitle"
)

// Storage implements entitle.Store using Google Cloud Firestore
type Storage struct {
	client                  *firestore.Client
	checkoutsCollection     string
	customersCollection     string
	subscriptionsCollection string
}

// Config holds Firestore storage configuration
type Config struct {
	// CheckoutsCollection is keyed by request id
	// Default: "billing_checkouts"
	CheckoutsCollection string

	// CustomersCollection is keyed by provider customer id
	// Default: "billing_customers"
	CustomersCollection string

	// SubscriptionsCollection is keyed by provider subscription id
	// Default: "billing_subscriptions"
	SubscriptionsCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.CheckoutsCollection == "" {
		config.CheckoutsCollection = "billing_checkouts"
	}
	if config.CustomersCollection == "" {
		config.CustomersCollection = "billing_customers"
	}
	if config.SubscriptionsCollection == "" {
		config.SubscriptionsCollection = "billing_subscriptions"
	}

	return &Storage{
		client:                  client,
		checkoutsCollection:     config.CheckoutsCollection,
		customersCollection:     config.CustomersCollection,
		subscriptionsCollection: config.SubscriptionsCollection,
	}, nil
}

// CreateCheckout implements entitle.Store
func (s *Storage) CreateCheckout(ctx context.Context, c *entitle.Checkout) error {
	if c == nil || c.RequestID == "" || c.UserID == "" {
		return fmt.Errorf("%w: checkout requires request id and user id", entitle.ErrInvalidRecord)
	}

	data := map[string]interface{}{
		"userId":          c.UserID,
		"planKey":         c.PlanKey,
		"creemProductId":  c.ProviderProductID,
		"status":          string(c.Status),
		"creemCheckoutId": c.ProviderCheckoutID,
		"createdAt":       c.CreatedAt,
		"updatedAt":       c.UpdatedAt,
	}

	_, err := s.client.Collection(s.checkoutsCollection).Doc(c.RequestID).Create(ctx, data)
	if status.Code(err) == codes.AlreadyExists {
		return entitle.ErrDuplicateCheckout
	}
	if err != nil {
		return fmt.Errorf("failed to create checkout: %w", err)
	}
	return nil
}

// GetCheckout implements entitle.Store
func (s *Storage) GetCheckout(ctx context.Context, requestID string) (*entitle.Checkout, error) {
	snap, err := s.client.Collection(s.checkoutsCollection).Doc(requestID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, entitle.ErrCheckoutNotFound
		}
		return nil, fmt.Errorf("failed to get checkout: %w", err)
	}
	if !snap.Exists() {
		return nil, entitle.ErrCheckoutNotFound
	}

	return decodeCheckout(requestID, snap.Data()), nil
}

// UpdateCheckout implements entitle.Store
func (s *Storage) UpdateCheckout(ctx context.Context, requestID string, upd *entitle.CheckoutUpdate) error {
	updates := []firestore.Update{{Path: "updatedAt", Value: upd.UpdatedAt}}
	if upd.Status != "" {
		updates = append(updates, firestore.Update{Path: "status", Value: string(upd.Status)})
	}
	if upd.ProviderCheckoutID != "" {
		updates = append(updates, firestore.Update{Path: "creemCheckoutId", Value: upd.ProviderCheckoutID})
	}

	_, err := s.client.Collection(s.checkoutsCollection).Doc(requestID).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return entitle.ErrCheckoutNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update checkout: %w", err)
	}
	return nil
}

// UpsertCustomer implements entitle.Store
func (s *Storage) UpsertCustomer(ctx context.Context, c *entitle.Customer) error {
	if c == nil || c.ProviderCustomerID == "" || c.UserID == "" {
		return fmt.Errorf("%w: customer requires provider id and user id", entitle.ErrInvalidRecord)
	}

	doc := s.client.Collection(s.customersCollection).Doc(c.ProviderCustomerID)
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		data := map[string]interface{}{
			"userId":    c.UserID,
			"updatedAt": c.UpdatedAt,
		}
		if c.Email != "" {
			data["email"] = c.Email
		}
		if snap == nil || !snap.Exists() {
			data["createdAt"] = c.CreatedAt
		}
		return tx.Set(doc, data, firestore.MergeAll)
	})
	if err != nil {
		return fmt.Errorf("failed to upsert customer: %w", err)
	}
	return nil
}

// GetSubscription implements entitle.Store
func (s *Storage) GetSubscription(ctx context.Context, id string) (*entitle.Subscription, error) {
	snap, err := s.client.Collection(s.subscriptionsCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, entitle.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if !snap.Exists() {
		return nil, entitle.ErrSubscriptionNotFound
	}
	return decodeSubscription(id, snap.Data()), nil
}

// UpsertSubscription implements entitle.Store
func (s *Storage) UpsertSubscription(ctx context.Context, sub *entitle.Subscription) error {
	if sub == nil || sub.ProviderSubscriptionID == "" || sub.UserID == "" {
		return fmt.Errorf("%w: subscription requires provider id and user id", entitle.ErrInvalidRecord)
	}

	_, err := s.client.Collection(s.subscriptionsCollection).
		Doc(sub.ProviderSubscriptionID).
		Set(ctx, encodeSubscription(sub), firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// UpdateSubscription implements entitle.Store
func (s *Storage) UpdateSubscription(ctx context.Context, id string, patch *entitle.SubscriptionPatch) error {
	doc := s.client.Collection(s.subscriptionsCollection).Doc(id)

	updates := patchUpdates(patch)
	if len(updates) == 0 {
		// Update rejects an empty field list; still report a missing row.
		_, err := s.GetSubscription(ctx, id)
		return err
	}

	_, err := doc.Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return entitle.ErrSubscriptionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

// ListSubscriptions implements entitle.Store
func (s *Storage) ListSubscriptions(ctx context.Context, userID string, limit int) ([]*entitle.Subscription, error) {
	q := s.client.Collection(s.subscriptionsCollection).
		Where("userId", "==", userID).
		OrderBy("updatedAt", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var subs []*entitle.Subscription
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list subscriptions: %w", err)
		}
		subs = append(subs, decodeSubscription(snap.Ref.ID, snap.Data()))
	}
	return subs, nil
}

// Close closes the underlying client
func (s *Storage) Close() error {
	return s.client.Close()
}

func encodeSubscription(sub *entitle.Subscription) map[string]interface{} {
	data := map[string]interface{}{
		"userId":    sub.UserID,
		"planKey":   sub.PlanKey,
		"status":    sub.Status,
		"updatedAt": sub.UpdatedAt,
	}
	if sub.ProviderCustomerID != "" {
		data["creemCustomerId"] = sub.ProviderCustomerID
	}
	if sub.ProviderProductID != "" {
		data["creemProductId"] = sub.ProviderProductID
	}
	if sub.CurrentPeriodStart != nil {
		data["currentPeriodStartDate"] = *sub.CurrentPeriodStart
	}
	if sub.CurrentPeriodEnd != nil {
		data["currentPeriodEndDate"] = *sub.CurrentPeriodEnd
	}
	if sub.CanceledAt != nil {
		data["canceledAt"] = *sub.CanceledAt
	}
	if len(sub.Raw) > 0 {
		data["raw"] = string(sub.Raw)
	}
	return data
}

func patchUpdates(p *entitle.SubscriptionPatch) []firestore.Update {
	var updates []firestore.Update
	if p.Status != nil {
		updates = append(updates, firestore.Update{Path: "status", Value: *p.Status})
	}
	if p.ProviderCustomerID != nil {
		updates = append(updates, firestore.Update{Path: "creemCustomerId", Value: *p.ProviderCustomerID})
	}
	if p.ProviderProductID != nil {
		updates = append(updates, firestore.Update{Path: "creemProductId", Value: *p.ProviderProductID})
	}
	if p.CurrentPeriodStart != nil {
		updates = append(updates, firestore.Update{Path: "currentPeriodStartDate", Value: *p.CurrentPeriodStart})
	}
	if p.CurrentPeriodEnd != nil {
		updates = append(updates, firestore.Update{Path: "currentPeriodEndDate", Value: *p.CurrentPeriodEnd})
	}
	if p.CanceledAt != nil {
		updates = append(updates, firestore.Update{Path: "canceledAt", Value: *p.CanceledAt})
	}
	if len(p.Raw) > 0 {
		updates = append(updates, firestore.Update{Path: "raw", Value: string(p.Raw)})
	}
	if !p.UpdatedAt.IsZero() {
		updates = append(updates, firestore.Update{Path: "updatedAt", Value: p.UpdatedAt})
	}
	return updates
}

func decodeCheckout(requestID string, data map[string]interface{}) *entitle.Checkout {
	return &entitle.Checkout{
		RequestID:          requestID,
		UserID:             getString(data, "userId"),
		PlanKey:            getString(data, "planKey"),
		ProviderProductID:  getString(data, "creemProductId"),
		Status:             entitle.CheckoutStatus(getString(data, "status")),
		ProviderCheckoutID: getString(data, "creemCheckoutId"),
		CreatedAt:          getTime(data, "createdAt"),
		UpdatedAt:          getTime(data, "updatedAt"),
	}
}

func decodeSubscription(id string, data map[string]interface{}) *entitle.Subscription {
	sub := &entitle.Subscription{
		ProviderSubscriptionID: id,
		UserID:                 getString(data, "userId"),
		PlanKey:                getString(data, "planKey"),
		Status:                 getString(data, "status"),
		ProviderCustomerID:     getString(data, "creemCustomerId"),
		ProviderProductID:      getString(data, "creemProductId"),
		CurrentPeriodStart:     getTimePtr(data, "currentPeriodStartDate"),
		CurrentPeriodEnd:       getTimePtr(data, "currentPeriodEndDate"),
		CanceledAt:             getTimePtr(data, "canceledAt"),
		UpdatedAt:              getTime(data, "updatedAt"),
	}
	if raw := getString(data, "raw"); raw != "" {
		sub.Raw = json.RawMessage(raw)
	}
	return sub
}

// Helper functions for type conversion from Firestore data

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v.UTC()
	}
	return time.Time{}
}

func getTimePtr(data map[string]interface{}, key string) *time.Time {
	t := getTime(data, key)
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ entitle.Store = (*Storage)(nil)
