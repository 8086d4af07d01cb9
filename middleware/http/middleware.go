// Package http provides net/http middleware that gates handlers on an entitlement
package http

import (
	"context"
	"net/http"

	"github.com/mihaimyh/goentitle/pkg/auth"
	"github.com/mihaimyh/goentitle/pkg/billing"
	"github.com/mihaimyh/goentitle/pkg/entitle"
)

// IdentityExtractor identifies the caller of a request.
// Return an error if the user is not authenticated.
type IdentityExtractor func(r *http.Request) (entitle.Identity, error)

// Config holds middleware configuration
type Config struct {
	// Resolver answers entitlement questions (required)
	Resolver *entitle.Resolver

	// GetIdentity identifies the caller (required)
	GetIdentity IdentityExtractor

	// MinTier is the lowest tier allowed through.
	// Default: TierPro (any paid plan)
	MinTier entitle.Tier

	// Metrics records each decision. Optional.
	Metrics billing.Metrics

	// OnUnauthorized is called when the caller is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnPaymentRequired is called when the caller holds no qualifying subscription
	// If nil, returns 402 Payment Required
	OnPaymentRequired func(w http.ResponseWriter, r *http.Request)

	// OnForbidden is called when the caller's tier is below MinTier
	// If nil, returns 403 Forbidden
	OnForbidden func(w http.ResponseWriter, r *http.Request, ent *entitle.Entitlement)

	// OnError is called when the store cannot be read
	// If nil, returns 503 Service Unavailable
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that only lets entitled callers through.
// The resolved entitlement is available to the next handler via FromContext.
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.Resolver == nil {
		panic("goentitle/http: Config.Resolver is required")
	}
	if config.GetIdentity == nil {
		panic("goentitle/http: Config.GetIdentity is required")
	}
	if config.MinTier == "" {
		config.MinTier = entitle.TierPro
	}
	if config.Metrics == nil {
		config.Metrics = &billing.NoopMetrics{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := config.GetIdentity(r)
			if err != nil || id.UserID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			ent, err := config.Resolver.Resolve(r.Context(), id)
			if err != nil {
				config.Metrics.RecordEntitlementCheck("", "error")
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
				}
				return
			}

			if !ent.Entitled {
				config.Metrics.RecordEntitlementCheck("", "denied")
				if config.OnPaymentRequired != nil {
					config.OnPaymentRequired(w, r)
				} else {
					http.Error(w, "Payment Required", http.StatusPaymentRequired)
				}
				return
			}

			if !ent.Tier.Allows(config.MinTier) {
				config.Metrics.RecordEntitlementCheck(string(ent.Tier), "denied")
				if config.OnForbidden != nil {
					config.OnForbidden(w, r, ent)
				} else {
					http.Error(w, "Forbidden", http.StatusForbidden)
				}
				return
			}

			config.Metrics.RecordEntitlementCheck(string(ent.Tier), "entitled")
			next.ServeHTTP(w, r.WithContext(WithEntitlement(r.Context(), ent)))
		})
	}
}

// HandlerFunc creates an HTTP middleware for entitlement checks (HandlerFunc version)
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return middleware(next).ServeHTTP
	}
}

// Common extractors for convenience

// FromAuthenticator returns an IdentityExtractor backed by bearer token verification
func FromAuthenticator(a *auth.Authenticator) IdentityExtractor {
	return a.Authenticate
}

// FromHeaders returns an IdentityExtractor that trusts headers set by an upstream proxy
func FromHeaders(userHeader, emailHeader string) IdentityExtractor {
	return func(r *http.Request) (entitle.Identity, error) {
		uid := r.Header.Get(userHeader)
		if uid == "" {
			return entitle.Identity{}, auth.ErrNoToken
		}
		id := entitle.Identity{UserID: uid}
		if emailHeader != "" {
			id.Email = r.Header.Get(emailHeader)
		}
		return id, nil
	}
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// EntitlementKey is the context key for the resolved entitlement
	EntitlementKey ContextKey = "entitle:entitlement"
)

// WithEntitlement adds an entitlement to the context
func WithEntitlement(ctx context.Context, ent *entitle.Entitlement) context.Context {
	return context.WithValue(ctx, EntitlementKey, ent)
}

// FromContext returns the entitlement stored by the middleware, or nil
func FromContext(ctx context.Context) *entitle.Entitlement {
	ent, _ := ctx.Value(EntitlementKey).(*entitle.Entitlement)
	return ent
}
