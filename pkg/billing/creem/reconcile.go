package creem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/goentitle/pkg/entitle"
)

// Outcome describes what a reconciliation did.
type Outcome string

const (
	OutcomeApplied           Outcome = "applied"
	OutcomeIgnored           Outcome = "ignored"
	OutcomeMissingReference  Outcome = "missing_reference"
	OutcomeReferenceNotFound Outcome = "reference_not_found"
)

// Result reports the effect of one event.
type Result struct {
	Outcome        Outcome
	UserID         string
	PlanKey        string
	SubscriptionID string
	PreviousStatus string
	NewStatus      string
	PeriodEnd      *time.Time
}

// Reconciler applies normalized events to the store. Every write is an
// idempotent upsert or partial update, so re-delivered and reordered events
// converge on the same rows.
type Reconciler struct {
	store  entitle.Store
	logger entitle.Logger
	now    func() time.Time
}

// NewReconciler creates a reconciler. logger and now may be nil.
func NewReconciler(store entitle.Store, logger entitle.Logger, now func() time.Time) *Reconciler {
	if logger == nil {
		logger = &entitle.NoopLogger{}
	}
	if now == nil {
		now = time.Now
	}
	return &Reconciler{store: store, logger: logger, now: now}
}

// Apply reconciles ev. Returned errors wrap entitle.ErrPersistence; everything
// else, including unknown references, is a successful no-op.
func (r *Reconciler) Apply(ctx context.Context, ev *Event) (*Result, error) {
	switch ev.Kind {
	case KindCheckoutCompleted:
		return r.applyCheckout(ctx, ev)
	case KindSubscription:
		return r.applySubscription(ctx, ev)
	default:
		r.logger.Debug("ignoring webhook event", entitle.Field{Key: "eventType", Value: ev.Type})
		return &Result{Outcome: OutcomeIgnored}, nil
	}
}

func (r *Reconciler) applyCheckout(ctx context.Context, ev *Event) (*Result, error) {
	if ev.CheckoutRef == "" {
		r.logger.Warn("checkout.completed without request_id", entitle.Field{Key: "checkoutId", Value: ev.ProviderCheckoutID})
		return &Result{Outcome: OutcomeMissingReference}, nil
	}

	checkout, err := r.store.GetCheckout(ctx, ev.CheckoutRef)
	if errors.Is(err, entitle.ErrCheckoutNotFound) {
		r.logger.Warn("checkout.completed for unknown checkout", entitle.Field{Key: "requestId", Value: ev.CheckoutRef})
		return &Result{Outcome: OutcomeReferenceNotFound}, nil
	}
	if err != nil {
		return nil, persistenceError("get checkout", err)
	}

	res := &Result{
		Outcome:        OutcomeApplied,
		UserID:         checkout.UserID,
		PlanKey:        checkout.PlanKey,
		SubscriptionID: ev.SubscriptionRef,
		PeriodEnd:      ev.PeriodEnd,
	}

	// Once the row exists, subscription.* events own its status and period;
	// a redelivered checkout must not roll them back.
	var prev *entitle.Subscription
	if ev.SubscriptionRef != "" {
		prev, err = r.store.GetSubscription(ctx, ev.SubscriptionRef)
		switch {
		case err == nil:
			res.PreviousStatus = prev.Status
			res.NewStatus = prev.Status
			res.PeriodEnd = prev.CurrentPeriodEnd
		case errors.Is(err, entitle.ErrSubscriptionNotFound):
			prev = nil
		default:
			return nil, persistenceError("get subscription", err)
		}
	}

	now := r.now().UTC()

	// The three writes do not depend on each other; all are attempted and any
	// failure fails the delivery so the provider retries it.
	var g errgroup.Group
	g.Go(func() error {
		err := r.store.UpdateCheckout(ctx, checkout.RequestID, &entitle.CheckoutUpdate{
			Status:             entitle.CheckoutCompleted,
			ProviderCheckoutID: ev.ProviderCheckoutID,
			UpdatedAt:          now,
		})
		if err != nil {
			return fmt.Errorf("complete checkout: %w", err)
		}
		return nil
	})

	if ev.CustomerRef != "" {
		g.Go(func() error {
			err := r.store.UpsertCustomer(ctx, &entitle.Customer{
				ProviderCustomerID: ev.CustomerRef,
				UserID:             checkout.UserID,
				Email:              ev.CustomerEmail,
				CreatedAt:          now,
				UpdatedAt:          now,
			})
			if err != nil {
				return fmt.Errorf("upsert customer: %w", err)
			}
			return nil
		})
	}

	if ev.SubscriptionRef != "" && prev == nil {
		status := ev.Status
		if status == "" {
			status = entitle.StatusActive
		}
		product := ev.ProductRef
		if product == "" {
			product = checkout.ProviderProductID
		}
		res.NewStatus = status

		g.Go(func() error {
			err := r.store.UpsertSubscription(ctx, &entitle.Subscription{
				ProviderSubscriptionID: ev.SubscriptionRef,
				UserID:                 checkout.UserID,
				PlanKey:                checkout.PlanKey,
				Status:                 status,
				ProviderCustomerID:     ev.CustomerRef,
				ProviderProductID:      product,
				CurrentPeriodStart:     ev.PeriodStart,
				CurrentPeriodEnd:       ev.PeriodEnd,
				CanceledAt:             ev.CanceledAt,
				Raw:                    ev.Raw,
				UpdatedAt:              now,
			})
			if err != nil {
				return fmt.Errorf("upsert subscription: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		r.logger.Error("checkout reconciliation failed",
			entitle.Field{Key: "requestId", Value: checkout.RequestID},
			entitle.Field{Key: "error", Value: err},
		)
		return nil, persistenceError("reconcile checkout", err)
	}

	r.logger.Info("checkout completed",
		entitle.Field{Key: "requestId", Value: checkout.RequestID},
		entitle.Field{Key: "userId", Value: checkout.UserID},
		entitle.Field{Key: "subscriptionId", Value: ev.SubscriptionRef},
	)
	return res, nil
}

func (r *Reconciler) applySubscription(ctx context.Context, ev *Event) (*Result, error) {
	if ev.SubscriptionRef == "" {
		r.logger.Warn("subscription event without id", entitle.Field{Key: "eventType", Value: ev.Type})
		return &Result{Outcome: OutcomeMissingReference}, nil
	}

	existing, err := r.store.GetSubscription(ctx, ev.SubscriptionRef)
	if errors.Is(err, entitle.ErrSubscriptionNotFound) {
		// Only checkout.completed creates rows; the checkout may not have been delivered yet.
		r.logger.Info("subscription event for unknown subscription",
			entitle.Field{Key: "eventType", Value: ev.Type},
			entitle.Field{Key: "subscriptionId", Value: ev.SubscriptionRef},
		)
		return &Result{Outcome: OutcomeReferenceNotFound}, nil
	}
	if err != nil {
		return nil, persistenceError("get subscription", err)
	}

	patch := &entitle.SubscriptionPatch{
		CurrentPeriodStart: ev.PeriodStart,
		CurrentPeriodEnd:   ev.PeriodEnd,
		CanceledAt:         ev.CanceledAt,
		Raw:                ev.Raw,
		UpdatedAt:          r.now().UTC(),
	}
	if ev.Status != "" {
		patch.Status = &ev.Status
	}
	if ev.CustomerRef != "" {
		patch.ProviderCustomerID = &ev.CustomerRef
	}
	if ev.ProductRef != "" {
		patch.ProviderProductID = &ev.ProductRef
	}

	err = r.store.UpdateSubscription(ctx, ev.SubscriptionRef, patch)
	if errors.Is(err, entitle.ErrSubscriptionNotFound) {
		return &Result{Outcome: OutcomeReferenceNotFound}, nil
	}
	if err != nil {
		return nil, persistenceError("update subscription", err)
	}

	res := &Result{
		Outcome:        OutcomeApplied,
		UserID:         existing.UserID,
		PlanKey:        existing.PlanKey,
		SubscriptionID: ev.SubscriptionRef,
		PreviousStatus: existing.Status,
		NewStatus:      existing.Status,
		PeriodEnd:      existing.CurrentPeriodEnd,
	}
	if patch.Status != nil {
		res.NewStatus = *patch.Status
	}
	if ev.PeriodEnd != nil {
		res.PeriodEnd = ev.PeriodEnd
	}

	r.logger.Info("subscription updated",
		entitle.Field{Key: "subscriptionId", Value: ev.SubscriptionRef},
		entitle.Field{Key: "userId", Value: existing.UserID},
		entitle.Field{Key: "from", Value: res.PreviousStatus},
		entitle.Field{Key: "to", Value: res.NewStatus},
	)
	return res, nil
}

func persistenceError(op string, err error) error {
	if errors.Is(err, entitle.ErrPersistence) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", entitle.ErrPersistence, op, err)
}
