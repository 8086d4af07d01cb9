package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mihaimyh/goentitle/pkg/billing"
	"github.com/mihaimyh/goentitle/pkg/entitle"
	"github.com/mihaimyh/goentitle/pkg/gateway/openrouter"
)

// Authenticator identifies the caller of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (entitle.Identity, error)
}

// CheckoutCreator starts a hosted checkout. billing.Provider satisfies it.
type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error)
}

// ImageGateway runs an image prompt against a model. *openrouter.Client satisfies it.
type ImageGateway interface {
	EditImage(ctx context.Context, req openrouter.ImageRequest) (*openrouter.ImageResult, error)
}

// Config holds configuration for the billing API handlers
type Config struct {
	// Resolver answers entitlement questions (required)
	Resolver *entitle.Resolver

	// Auth identifies the caller (required)
	Auth Authenticator

	// Checkout creates provider checkouts. If nil, the checkout endpoint answers 503.
	Checkout CheckoutCreator

	// Gateway serves the vision endpoint. If nil, the vision endpoint answers 503.
	Gateway ImageGateway

	// Models is the catalog vision requests choose from. Default: built-in ids.
	Models *entitle.ModelCatalog

	// SiteURL is the public origin used for checkout success redirects.
	// If empty, the origin is derived from forwarded headers.
	SiteURL string

	Metrics billing.Metrics
	Logger  entitle.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Resolver == nil {
		return fmt.Errorf("resolver is required")
	}
	if c.Auth == nil {
		return fmt.Errorf("auth is required")
	}
	return nil
}

// NewHandler creates the billing API handlers with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Models == nil {
		config.Models = entitle.NewModelCatalog(entitle.ModelIDs{})
	}
	if config.Metrics == nil {
		config.Metrics = &billing.NoopMetrics{}
	}
	if config.Logger == nil {
		config.Logger = &entitle.NoopLogger{}
	}
	return &Handler{config: config}, nil
}
