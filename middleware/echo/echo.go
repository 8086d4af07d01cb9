// Package echo provides Echo middleware that gates routes on an entitlement
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/goentitle/pkg/auth"
	"github.com/mihaimyh/goentitle/pkg/billing"
	"github.com/mihaimyh/goentitle/pkg/entitle"
)

// EntitlementKey is the Echo context key holding the resolved *entitle.Entitlement
const EntitlementKey = "goentitle.entitlement"

// IdentityExtractor identifies the caller from an Echo context
// Return an error if the user is not authenticated
type IdentityExtractor func(c echo.Context) (entitle.Identity, error)

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
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error

	// OnPaymentRequired is called when the user has no qualifying subscription
	// If nil, returns 402 Payment Required
	OnPaymentRequired func(c echo.Context) error

	// OnForbidden is called when the user's tier is below MinTier
	// If nil, returns 403 Forbidden
	OnForbidden func(c echo.Context, ent *entitle.Entitlement) error

	// OnError is called when the entitlement cannot be resolved
	// If nil, returns 503 Service Unavailable
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that only calls next for entitled users
func Middleware(cfg Config) echo.MiddlewareFunc {
	if cfg.Resolver == nil {
		panic("goentitle/echo: Config.Resolver is required")
	}
	if cfg.GetIdentity == nil {
		panic("goentitle/echo: Config.GetIdentity is required")
	}
	if cfg.MinTier == "" {
		cfg.MinTier = entitle.TierPro
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &billing.NoopMetrics{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, err := cfg.GetIdentity(c)
			if err != nil || id.UserID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			ent, err := cfg.Resolver.Resolve(c.Request().Context(), id)
			if err != nil {
				cfg.Metrics.RecordEntitlementCheck("", "error")
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Service Unavailable"})
			}

			if !ent.Entitled {
				cfg.Metrics.RecordEntitlementCheck("", "denied")
				if cfg.OnPaymentRequired != nil {
					return cfg.OnPaymentRequired(c)
				}
				return c.JSON(http.StatusPaymentRequired, map[string]string{"error": "Subscription required"})
			}

			if !ent.Tier.Allows(cfg.MinTier) {
				cfg.Metrics.RecordEntitlementCheck(string(ent.Tier), "denied")
				if cfg.OnForbidden != nil {
					return cfg.OnForbidden(c, ent)
				}
				return c.JSON(http.StatusForbidden, map[string]interface{}{
					"error":    "Plan does not include this feature",
					"tier":     ent.Tier,
					"required": cfg.MinTier,
				})
			}

			cfg.Metrics.RecordEntitlementCheck(string(ent.Tier), "entitled")
			c.Set(EntitlementKey, ent)
			return next(c)
		}
	}
}

// Entitlement returns the entitlement set by Middleware, or nil
func Entitlement(c echo.Context) *entitle.Entitlement {
	ent, _ := c.Get(EntitlementKey).(*entitle.Entitlement)
	return ent
}

// FromAuthenticator returns an IdentityExtractor backed by bearer token verification
func FromAuthenticator(a *auth.Authenticator) IdentityExtractor {
	return func(c echo.Context) (entitle.Identity, error) {
		return a.Authenticate(c.Request())
	}
}

// FromContext returns an IdentityExtractor that reads an entitle.Identity
// stored by an upstream auth middleware via c.Set(key, identity).
func FromContext(key string) IdentityExtractor {
	return func(c echo.Context) (entitle.Identity, error) {
		if id, ok := c.Get(key).(entitle.Identity); ok {
			return id, nil
		}
		return entitle.Identity{}, auth.ErrNoToken
	}
}

// FromHeaders returns an IdentityExtractor that trusts headers set by an upstream proxy
func FromHeaders(userHeader, emailHeader string) IdentityExtractor {
	return func(c echo.Context) (entitle.Identity, error) {
		h := c.Request().Header
		uid := h.Get(userHeader)
		if uid == "" {
			return entitle.Identity{}, auth.ErrNoToken
		}
		return entitle.Identity{UserID: uid, Email: h.Get(emailHeader)}, nil
	}
}
