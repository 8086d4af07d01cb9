package billing

import "time"

// WebhookEvent summarizes a delivery that changed local state.
// It is passed to Config.WebhookCallback after the store writes succeed.
type WebhookEvent struct {
	// UserID is the internal user identifier
	UserID string

	// Provider is the billing provider name
	Provider string

	// EventType is the provider event type, e.g. "checkout.completed" or "subscription.canceled"
	EventType string

	// SubscriptionID is the provider subscription id, if any
	SubscriptionID string

	// PreviousStatus is the subscription status before the update (empty for new rows)
	PreviousStatus string

	// NewStatus is the subscription status after the update
	NewStatus string

	// PlanKey is the plan the subscription belongs to
	PlanKey string

	// ReceivedAt is when the delivery was processed
	ReceivedAt time.Time

	// ExpiresAt is the end of the current period (nil if unknown)
	ExpiresAt *time.Time
}
