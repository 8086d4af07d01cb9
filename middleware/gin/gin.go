// Package gin provides Gin middleware that gates routes on an entitlement
package gin

import (
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/goentitle/pkg/auth"
	"github.com/mihaimyh/goentitle/pkg/billing"
	"github.com/mihaimyh/goentitle/pkg/entitle"
)

// EntitlementKey is the Gin context key holding the resolved *entitle.Entitlement
const EntitlementKey = "goentitle.entitlement"

// IdentityExtractor identifies the caller from a Gin context
// Return an error if the user is not authenticated
type IdentityExtractor func(c *gongin.Context) (entitle.Identity, error)

// Config holds middleware configuration
type Config struct {
	// Resolver answers entitlement questions (required)
	Resolver *entitle.Resolver

	// GetIdentity identifies the caller (required)
	GetIdentity IdentityExtractor

	// MinTier is the lowest tier allowed through.
	// Default: TierPro
	MinTier entitle.Tier

	Metrics billing.Metrics

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 JSON
	OnUnauthorized func(c *gongin.Context)

	// OnPaymentRequired is called when the user has no qualifying subscription
	// If nil, returns 402 JSON
	OnPaymentRequired func(c *gongin.Context)

	// OnForbidden is called when the user's tier is below MinTier
	// If nil, returns 403 JSON with the current and required tier
	OnForbidden func(c *gongin.Context, ent *entitle.Entitlement)

	// OnError is called when the entitlement cannot be resolved
	// If nil, returns 503 JSON
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that aborts unless the caller is entitled
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Resolver == nil {
		panic("goentitle/gin: Config.Resolver is required")
	}
	if cfg.GetIdentity == nil {
		panic("goentitle/gin: Config.GetIdentity is required")
	}

	if cfg.MinTier == "" {
		cfg.MinTier = entitle.TierPro
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &billing.NoopMetrics{}
	}

	return func(c *gongin.Context) {
		id, err := cfg.GetIdentity(c)
		if err != nil || id.UserID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				defaultUnauthorized(c)
			}
			c.Abort()
			return
		}

		ent, err := cfg.Resolver.Resolve(c.Request.Context(), id)
		if err != nil {
			cfg.Metrics.RecordEntitlementCheck("", "error")
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				defaultError(c)
			}
			c.Abort()
			return
		}

		if !ent.Entitled {
			cfg.Metrics.RecordEntitlementCheck("", "denied")
			if cfg.OnPaymentRequired != nil {
				cfg.OnPaymentRequired(c)
			} else {
				defaultPaymentRequired(c)
			}
			c.Abort()
			return
		}

		if !ent.Tier.Allows(cfg.MinTier) {
			cfg.Metrics.RecordEntitlementCheck(string(ent.Tier), "denied")
			if cfg.OnForbidden != nil {
				cfg.OnForbidden(c, ent)
			} else {
				defaultForbidden(c, ent, cfg.MinTier)
			}
			c.Abort()
			return
		}

		cfg.Metrics.RecordEntitlementCheck(string(ent.Tier), "entitled")
		c.Set(EntitlementKey, ent)
		c.Next()
	}
}

// Default error handlers

func defaultUnauthorized(c *gongin.Context) {
	c.JSON(http.StatusUnauthorized, gongin.H{"error": "Not authenticated"})
}

func defaultPaymentRequired(c *gongin.Context) {
	c.JSON(http.StatusPaymentRequired, gongin.H{"error": "Subscription required"})
}

func defaultForbidden(c *gongin.Context, ent *entitle.Entitlement, required entitle.Tier) {
	c.JSON(http.StatusForbidden, gongin.H{
		"error":    "Plan does not include this feature",
		"tier":     ent.Tier,
		"required": required,
	})
}

func defaultError(c *gongin.Context) {
	c.JSON(http.StatusServiceUnavailable, gongin.H{"error": "Billing store unavailable"})
}

// Entitlement returns the entitlement set by Middleware, or nil
func Entitlement(c *gongin.Context) *entitle.Entitlement {
	if val, exists := c.Get(EntitlementKey); exists {
		if ent, ok := val.(*entitle.Entitlement); ok {
			return ent
		}
	}
	return nil
}

// Convenience extractors for identity

// FromAuthenticator returns an IdentityExtractor backed by bearer token verification
func FromAuthenticator(a *auth.Authenticator) IdentityExtractor {
	return func(c *gongin.Context) (entitle.Identity, error) {
		return a.Authenticate(c.Request)
	}
}

// FromContext returns an IdentityExtractor that reads an entitle.Identity
// stored by an upstream auth middleware via c.Set(key, identity).
func FromContext(key string) IdentityExtractor {
	return func(c *gongin.Context) (entitle.Identity, error) {
		if val, exists := c.Get(key); exists {
			if id, ok := val.(entitle.Identity); ok {
				return id, nil
			}
		}
		return entitle.Identity{}, auth.ErrNoToken
	}
}

// FromHeaders returns an IdentityExtractor that trusts headers set by an upstream proxy
func FromHeaders(userHeader, emailHeader string) IdentityExtractor {
	return func(c *gongin.Context) (entitle.Identity, error) {
		uid := c.GetHeader(userHeader)
		if uid == "" {
			return entitle.Identity{}, auth.ErrNoToken
		}
		return entitle.Identity{UserID: uid, Email: c.GetHeader(emailHeader)}, nil
	}
}
