package entitle

import (
	"encoding/json"
	"time"
)

// CheckoutStatus is the lifecycle state of a locally initiated checkout.
type CheckoutStatus string

const (
	CheckoutCreated    CheckoutStatus = "created"
	CheckoutRedirected CheckoutStatus = "redirected"
	CheckoutCompleted  CheckoutStatus = "completed"
	CheckoutFailed     CheckoutStatus = "failed"
)

// Subscription statuses known to the provider. Unknown values are stored as received.
const (
	StatusActive   = "active"
	StatusTrialing = "trialing"
	StatusPaused   = "paused"
	StatusExpired  = "expired"
	StatusCanceled = "canceled"
)

// KnownStatus reports whether s is one of the provider statuses this package understands.
func KnownStatus(s string) bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPaused, StatusExpired, StatusCanceled:
		return true
	}
	return false
}

// Checkout records a purchase initiated by a user.
// RequestID is generated locally and doubles as the correlation key echoed
// back by the provider on checkout.completed.
type Checkout struct {
	RequestID          string
	UserID             string
	PlanKey            string
	ProviderProductID  string
	Status             CheckoutStatus
	ProviderCheckoutID string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CheckoutUpdate transitions a checkout. Empty ProviderCheckoutID leaves the stored value.
type CheckoutUpdate struct {
	Status             CheckoutStatus
	ProviderCheckoutID string
	UpdatedAt          time.Time
}

// Customer links a provider customer to a local user.
type Customer struct {
	ProviderCustomerID string
	UserID             string
	Email              string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Subscription is the local mirror of a provider subscription.
type Subscription struct {
	ProviderSubscriptionID string
	UserID                 string
	PlanKey                string
	Status                 string
	ProviderCustomerID     string
	ProviderProductID      string
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	CanceledAt             *time.Time
	Raw                    json.RawMessage
	UpdatedAt              time.Time
}

// SubscriptionPatch carries the fields present in a lifecycle event.
// Nil fields are left untouched by UpdateSubscription.
type SubscriptionPatch struct {
	Status             *string
	ProviderCustomerID *string
	ProviderProductID  *string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CanceledAt         *time.Time
	Raw                json.RawMessage
	UpdatedAt          time.Time
}

// Apply copies the set fields of p onto sub.
func (p *SubscriptionPatch) Apply(sub *Subscription) {
	if p.Status != nil {
		sub.Status = *p.Status
	}
	if p.ProviderCustomerID != nil {
		sub.ProviderCustomerID = *p.ProviderCustomerID
	}
	if p.ProviderProductID != nil {
		sub.ProviderProductID = *p.ProviderProductID
	}
	if p.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = timePtr(*p.CurrentPeriodStart)
	}
	if p.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = timePtr(*p.CurrentPeriodEnd)
	}
	if p.CanceledAt != nil {
		sub.CanceledAt = timePtr(*p.CanceledAt)
	}
	if len(p.Raw) > 0 {
		sub.Raw = append(json.RawMessage(nil), p.Raw...)
	}
	if !p.UpdatedAt.IsZero() {
		sub.UpdatedAt = p.UpdatedAt
	}
}

// Merge folds an incoming upsert into an existing row: required fields are
// overwritten, optional fields only when the incoming value is set.
func (s *Subscription) Merge(in *Subscription) {
	s.UserID = in.UserID
	s.PlanKey = in.PlanKey
	s.Status = in.Status
	s.UpdatedAt = in.UpdatedAt
	if in.ProviderCustomerID != "" {
		s.ProviderCustomerID = in.ProviderCustomerID
	}
	if in.ProviderProductID != "" {
		s.ProviderProductID = in.ProviderProductID
	}
	if in.CurrentPeriodStart != nil {
		s.CurrentPeriodStart = timePtr(*in.CurrentPeriodStart)
	}
	if in.CurrentPeriodEnd != nil {
		s.CurrentPeriodEnd = timePtr(*in.CurrentPeriodEnd)
	}
	if in.CanceledAt != nil {
		s.CanceledAt = timePtr(*in.CanceledAt)
	}
	if len(in.Raw) > 0 {
		s.Raw = append(json.RawMessage(nil), in.Raw...)
	}
}

// Clone returns a deep copy.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	if s.CurrentPeriodStart != nil {
		c.CurrentPeriodStart = timePtr(*s.CurrentPeriodStart)
	}
	if s.CurrentPeriodEnd != nil {
		c.CurrentPeriodEnd = timePtr(*s.CurrentPeriodEnd)
	}
	if s.CanceledAt != nil {
		c.CanceledAt = timePtr(*s.CanceledAt)
	}
	if s.Raw != nil {
		c.Raw = append(json.RawMessage(nil), s.Raw...)
	}
	return &c
}

// Identity is an authenticated principal as reported by the identity provider.
type Identity struct {
	UserID string
	Email  string
}

// Entitlement is the resolver's answer for a user at a point in time.
type Entitlement struct {
	Entitled bool   `json:"entitled"`
	PlanKey  string `json:"planKey,omitempty"`
	Tier     Tier   `json:"tier,omitempty"`
	// Override is set when the grant came from the override strategy rather than a subscription.
	Override bool `json:"superVIP,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	return &t
}
