package billing

import (
	"context"
	"net/http"

	"github.com/mihaimyh/goentitle/pkg/entitle"
)

// Config defines the standard configuration all providers accept.
type Config struct {
	// Store receives reconciled checkouts, customers and subscriptions.
	Store entitle.Store

	// WebhookSecret is the shared secret used to verify webhook signatures.
	// An empty secret rejects every delivery.
	WebhookSecret string

	// APIKey is used for outbound API calls to the billing provider.
	APIKey string

	// BaseURL overrides the provider API base URL.
	BaseURL string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// Metrics is optional. Use billing/metrics/prometheus.DefaultMetrics(namespace) for Prometheus.
	Metrics Metrics

	// Logger is optional.
	Logger entitle.Logger

	// WebhookCallback is invoked after a delivery changed local state.
	// A returned error fails the delivery so the provider retries it.
	WebhookCallback func(ctx context.Context, event WebhookEvent) error
}
