package entitle

import (
	"context"
	"fmt"
	"time"
)

// DefaultWindow bounds how many subscription rows a resolution reads.
const DefaultWindow = 10

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	Store Store

	// Override is consulted before any subscription is read. Optional.
	Override Override

	// Window caps the rows scanned per resolution. Default: DefaultWindow.
	Window int

	Logger Logger

	// Now is the clock used to judge period ends. Default: time.Now.
	Now func() time.Time
}

// Resolver answers "is this user entitled, and at what tier" at request time.
// It only ever reads from the store.
type Resolver struct {
	store    Store
	override Override
	window   int
	logger   Logger
	now      func() time.Time
}

// NewResolver validates cfg and applies defaults.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("resolver: store is required")
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = &NoopLogger{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Resolver{
		store:    cfg.Store,
		override: cfg.Override,
		window:   cfg.Window,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}, nil
}

// Resolve returns the entitlement for id. A store failure is returned wrapped
// in ErrPersistence; callers decide whether to fail open or closed.
func (r *Resolver) Resolve(ctx context.Context, id Identity) (*Entitlement, error) {
	if r.override != nil && r.override.Granted(ctx, id) {
		r.logger.Debug("entitlement granted by override", Field{"userId", id.UserID})
		return &Entitlement{
			Entitled: true,
			PlanKey:  PlanPlusYearly,
			Tier:     TierPlus,
			Override: true,
		}, nil
	}
	if id.UserID == "" {
		return &Entitlement{}, nil
	}

	subs, err := r.store.ListSubscriptions(ctx, id.UserID, r.window)
	if err != nil {
		r.logger.Error("failed to list subscriptions",
			Field{"userId", id.UserID},
			Field{"error", err},
		)
		return nil, fmt.Errorf("%w: list subscriptions: %w", ErrPersistence, err)
	}

	now := r.now()
	for _, sub := range subs {
		if Qualifies(sub, now) {
			return &Entitlement{
				Entitled: true,
				PlanKey:  sub.PlanKey,
				Tier:     TierFromPlanKey(sub.PlanKey),
			}, nil
		}
	}
	return &Entitlement{}, nil
}

// Qualifies reports whether a subscription grants access at now: it must be
// active or trialing and its current period must not have ended.
func Qualifies(sub *Subscription, now time.Time) bool {
	if sub == nil {
		return false
	}
	if sub.Status != StatusActive && sub.Status != StatusTrialing {
		return false
	}
	return sub.CurrentPeriodEnd == nil || sub.CurrentPeriodEnd.After(now)
}
