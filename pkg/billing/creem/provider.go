// Package creem integrates the Creem payment provider: webhook verification
// and reconciliation, and hosted checkout creation.
package creem

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mihaimyh/goentitle/pkg/billing"
	"github.com/mihaimyh/goentitle/pkg/billing/internal"
	"github.com/mihaimyh/goentitle/pkg/entitle"
)

const (
	providerName             = "creem"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100

	// LiveBaseURL is the production API.
	LiveBaseURL = "https://api.creem.io"
	// TestBaseURL is the sandbox API.
	TestBaseURL = "https://test-api.creem.io"
)

var httpURLPattern = regexp.MustCompile(`^https?://`)

// ResolveBaseURL picks the API base URL: an explicit value wins (trailing
// slashes trimmed, must be http or https), otherwise test mode selects the sandbox.
func ResolveBaseURL(explicit string, testMode bool) (string, error) {
	if explicit = strings.TrimRight(strings.TrimSpace(explicit), "/"); explicit != "" {
		if !httpURLPattern.MatchString(explicit) {
			return "", fmt.Errorf("invalid Creem base URL %q: must start with http:// or https://", explicit)
		}
		return explicit, nil
	}
	if testMode {
		return TestBaseURL, nil
	}
	return LiveBaseURL, nil
}

// Config extends billing.Config with Creem-specific options.
type Config struct {
	billing.Config

	// Products maps plan keys to Creem product ids.
	Products map[string]string

	// RateLimitRequests per RateLimitWindow per client IP on the webhook endpoint.
	// Defaults: 100 per minute.
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Now is the clock stamped on written rows. Default: time.Now.
	Now func() time.Time

	// NewRequestID generates checkout correlation ids. Default: "chk_" + UUIDv4.
	NewRequestID func() string
}

// Provider implements billing.Provider for Creem.
type Provider struct {
	store         entitle.Store
	reconciler    *Reconciler
	httpClient    *http.Client
	rateLimiter   *internal.RateLimiter
	webhookSecret string
	apiKey        string
	baseURL       string
	products      map[string]string
	metrics       billing.Metrics
	logger        entitle.Logger
	callback      func(ctx context.Context, event billing.WebhookEvent) error
	now           func() time.Time
	newRequestID  func() string
}

// NewProvider validates config and applies defaults.
func NewProvider(config Config) (*Provider, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("%w: store is required", billing.ErrProviderNotConfigured)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	baseURL, err := ResolveBaseURL(config.BaseURL, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrProviderNotConfigured, err)
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	logger := config.Logger
	if logger == nil {
		logger = &entitle.NoopLogger{}
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	newRequestID := config.NewRequestID
	if newRequestID == nil {
		newRequestID = func() string { return "chk_" + uuid.NewString() }
	}

	limit := config.RateLimitRequests
	if limit <= 0 {
		limit = defaultRateLimitRequests
	}
	window := config.RateLimitWindow
	if window <= 0 {
		window = defaultRateLimitWindow
	}

	products := make(map[string]string, len(config.Products))
	for plan, product := range config.Products {
		if !entitle.ValidPlanKey(plan) {
			return nil, fmt.Errorf("%w: %s", entitle.ErrUnknownPlan, plan)
		}
		if product = strings.TrimSpace(product); product != "" {
			products[plan] = product
		}
	}

	return &Provider{
		store:         config.Store,
		reconciler:    NewReconciler(config.Store, logger, now),
		httpClient:    httpClient,
		rateLimiter:   internal.NewRateLimiter(limit, window),
		webhookSecret: strings.TrimSpace(config.WebhookSecret),
		apiKey:        strings.TrimSpace(config.APIKey),
		baseURL:       baseURL,
		products:      products,
		metrics:       metrics,
		logger:        logger,
		callback:      config.WebhookCallback,
		now:           now,
		newRequestID:  newRequestID,
	}, nil
}

// Name implements billing.Provider
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler implements billing.Provider
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

// Reconciler exposes the reconciler for callers that receive events out of band.
func (p *Provider) Reconciler() *Reconciler {
	return p.reconciler
}

var _ billing.Provider = (*Provider)(nil)
