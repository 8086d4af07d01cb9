package billing

import (
	"context"
	"net/http"

	"github.com/mihaimyh/goentitle/pkg/entitle"
)

// Provider is the interface a billing backend implements.
type Provider interface {
	// Name returns the provider name (e.g., "creem")
	Name() string

	// WebhookHandler returns the HTTP handler that verifies and reconciles deliveries.
	WebhookHandler() http.Handler

	// CreateCheckout starts a hosted checkout for the user and returns the URL to redirect to.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

// CheckoutRequest is a user's request to buy a plan.
type CheckoutRequest struct {
	User    entitle.Identity
	PlanKey string
	// SuccessURL is where the provider sends the user after paying.
	SuccessURL string
}

// CheckoutSession is the result of a successful checkout creation.
type CheckoutSession struct {
	RequestID          string
	ProviderCheckoutID string
	URL                string
}
