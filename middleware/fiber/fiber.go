// Package fiber provides Fiber middleware that gates routes on an entitlement
package fiber

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/goentitle/pkg/auth"
	"github.com/mihaimyh/goentitle/pkg/billing"
	"github.com/mihaimyh/goentitle/pkg/entitle"
)

// EntitlementKey is the Fiber locals key holding the resolved *entitle.Entitlement
const EntitlementKey = "goentitle.entitlement"

// IdentityExtractor identifies the caller from a Fiber context
// Return an error if the user is not authenticated
type IdentityExtractor func(c *fiber.Ctx) (entitle.Identity, error)

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
	OnUnauthorized func(c *fiber.Ctx) error

	// OnPaymentRequired is called when the user has no qualifying subscription
	// If nil, returns 402 Payment Required
	OnPaymentRequired func(c *fiber.Ctx) error

	// OnForbidden is called when the user's tier is below MinTier
	// If nil, returns 403 Forbidden
	OnForbidden func(c *fiber.Ctx, ent *entitle.Entitlement) error

	// OnError is called when the entitlement cannot be resolved
	// If nil, returns 503 Service Unavailable
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that only calls Next for entitled users
func Middleware(cfg Config) fiber.Handler {
	if cfg.Resolver == nil {
		panic("goentitle/fiber: Config.Resolver is required")
	}
	if cfg.GetIdentity == nil {
		panic("goentitle/fiber: Config.GetIdentity is required")
	}
	if cfg.MinTier == "" {
		cfg.MinTier = entitle.TierPro
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &billing.NoopMetrics{}
	}

	return func(c *fiber.Ctx) error {
		id, err := cfg.GetIdentity(c)
		if err != nil || id.UserID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}

		// fasthttp has no request context; UserContext carries cancellation
		ent, err := cfg.Resolver.Resolve(c.UserContext(), id)
		if err != nil {
			cfg.Metrics.RecordEntitlementCheck("", "error")
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Service Unavailable"})
		}

		if !ent.Entitled {
			cfg.Metrics.RecordEntitlementCheck("", "denied")
			if cfg.OnPaymentRequired != nil {
				return cfg.OnPaymentRequired(c)
			}
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "Subscription required"})
		}

		if !ent.Tier.Allows(cfg.MinTier) {
			cfg.Metrics.RecordEntitlementCheck(string(ent.Tier), "denied")
			if cfg.OnForbidden != nil {
				return cfg.OnForbidden(c, ent)
			}
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":    "Plan does not include this feature",
				"tier":     ent.Tier,
				"required": cfg.MinTier,
			})
		}

		cfg.Metrics.RecordEntitlementCheck(string(ent.Tier), "entitled")
		c.Locals(EntitlementKey, ent)
		return c.Next()
	}
}

// Entitlement returns the entitlement set by Middleware, or nil
func Entitlement(c *fiber.Ctx) *entitle.Entitlement {
	ent, _ := c.Locals(EntitlementKey).(*entitle.Entitlement)
	return ent
}

// FromBearerToken returns an IdentityExtractor that verifies the Authorization header
func FromBearerToken(v auth.TokenVerifier) IdentityExtractor {
	return func(c *fiber.Ctx) (entitle.Identity, error) {
		token, ok := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return entitle.Identity{}, auth.ErrNoToken
		}
		return v.Verify(c.UserContext(), token)
	}
}

// FromLocals returns an IdentityExtractor that reads an entitle.Identity
// stored by an upstream auth middleware via c.Locals(key, identity).
func FromLocals(key string) IdentityExtractor {
	return func(c *fiber.Ctx) (entitle.Identity, error) {
		if id, ok := c.Locals(key).(entitle.Identity); ok {
			return id, nil
		}
		return entitle.Identity{}, auth.ErrNoToken
	}
}

// FromHeaders returns an IdentityExtractor that trusts headers set by an upstream proxy
func FromHeaders(userHeader, emailHeader string) IdentityExtractor {
	return func(c *fiber.Ctx) (entitle.Identity, error) {
		uid := c.Get(userHeader)
		if uid == "" {
			return entitle.Identity{}, auth.ErrNoToken
		}
		id := entitle.Identity{UserID: uid}
		if emailHeader != "" {
			id.Email = c.Get(emailHeader)
		}
		return id, nil
	}
}
