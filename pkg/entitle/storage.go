package entitle

import "context"

// Store persists checkouts, customers and subscriptions.
//
// Implementations must make each single-row write atomic. Upserts keyed by
// provider id collapse repeated deliveries into one row.
type Store interface {
	// CreateCheckout inserts a new checkout. Returns ErrDuplicateCheckout if the request id exists.
	CreateCheckout(ctx context.Context, c *Checkout) error

	// GetCheckout returns ErrCheckoutNotFound when no row matches.
	GetCheckout(ctx context.Context, requestID string) (*Checkout, error)

	// UpdateCheckout transitions a checkout. Returns ErrCheckoutNotFound when no row matches.
	UpdateCheckout(ctx context.Context, requestID string, upd *CheckoutUpdate) error

	// UpsertCustomer inserts or refreshes the customer keyed by provider customer id.
	// An empty email does not clear a stored one.
	UpsertCustomer(ctx context.Context, c *Customer) error

	// GetSubscription returns ErrSubscriptionNotFound when no row matches.
	GetSubscription(ctx context.Context, providerSubscriptionID string) (*Subscription, error)

	// UpsertSubscription inserts or refreshes the subscription keyed by provider id
	// following Subscription.Merge semantics.
	UpsertSubscription(ctx context.Context, s *Subscription) error

	// UpdateSubscription applies a partial update to an existing row.
	// Returns ErrSubscriptionNotFound without writing when the row is missing.
	UpdateSubscription(ctx context.Context, providerSubscriptionID string, patch *SubscriptionPatch) error

	// ListSubscriptions returns at most limit rows for the user, most recently updated first.
	ListSubscriptions(ctx context.Context, userID string, limit int) ([]*Subscription, error)
}
