package creem

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/mihaimyh/goentitle/pkg/entitle"
)

// Kind classifies a delivery for the reconciler.
type Kind string

const (
	KindCheckoutCompleted Kind = "checkout"
	KindSubscription      Kind = "subscription"
	KindIgnored           Kind = "ignored"
)

const (
	eventCheckoutCompleted  = "checkout.completed"
	subscriptionEventPrefix = "subscription."
)

// Event is a provider delivery reduced to the fields reconciliation needs.
// Empty strings and nil times mean the field was absent.
type Event struct {
	Type string
	Kind Kind

	CheckoutRef        string
	ProviderCheckoutID string
	SubscriptionRef    string
	CustomerRef        string
	CustomerEmail      string
	ProductRef         string
	Status             string

	PeriodStart *time.Time
	PeriodEnd   *time.Time
	CanceledAt  *time.Time

	// Raw is the subject object re-encoded as JSON.
	Raw json.RawMessage
}

// Normalize maps a parsed payload onto an Event. It never fails for unknown
// event types; those come back as KindIgnored.
func Normalize(payload map[string]any) *Event {
	ev := &Event{Type: eventType(payload), Kind: KindIgnored}
	switch {
	case ev.Type == eventCheckoutCompleted:
		ev.Kind = KindCheckoutCompleted
	case strings.HasPrefix(ev.Type, subscriptionEventPrefix):
		ev.Kind = KindSubscription
	default:
		return ev
	}

	// A missing or non-object subject leaves every reference empty and the
	// reconciler treats the delivery as a no-op.
	obj, ok := subjectOf(payload).(map[string]any)
	if !ok {
		return ev
	}
	if raw, err := json.Marshal(obj); err == nil {
		ev.Raw = raw
	}
	if ev.Kind == KindCheckoutCompleted {
		normalizeCheckout(ev, obj)
	} else {
		normalizeSubscription(ev, obj)
	}
	return ev
}

// eventType prefers eventType and falls back to type; the first non-empty wins.
func eventType(payload map[string]any) string {
	if t := stringField(payload, "eventType"); t != "" {
		return t
	}
	return stringField(payload, "type")
}

// subjectOf returns object, else data.object, else data.
func subjectOf(payload map[string]any) any {
	if v, ok := payload["object"]; ok && v != nil {
		return v
	}
	data, ok := payload["data"]
	if !ok {
		return nil
	}
	if m, isObj := data.(map[string]any); isObj {
		if inner, has := m["object"]; has && inner != nil {
			return inner
		}
	}
	return data
}

func normalizeCheckout(ev *Event, obj map[string]any) {
	ev.CheckoutRef = stringField(obj, "request_id")
	ev.ProviderCheckoutID = stringField(obj, "id")
	ev.SubscriptionRef = refField(obj, "subscription")
	ev.CustomerRef = refField(obj, "customer")
	ev.ProductRef = refField(obj, "product")

	if customer := objectField(obj, "customer"); customer != nil {
		ev.CustomerEmail = stringField(customer, "email")
	}
	if sub := objectField(obj, "subscription"); sub != nil {
		ev.Status = stringField(sub, "status")
		ev.PeriodStart = timeField(sub, "current_period_start_date")
		ev.PeriodEnd = timeField(sub, "current_period_end_date")
		ev.CanceledAt = timeField(sub, "canceled_at")
	}
}

func normalizeSubscription(ev *Event, obj map[string]any) {
	ev.SubscriptionRef = stringField(obj, "id")
	ev.CustomerRef = refField(obj, "customer")
	ev.ProductRef = refField(obj, "product")
	ev.PeriodStart = timeField(obj, "current_period_start_date")
	ev.PeriodEnd = timeField(obj, "current_period_end_date")
	ev.CanceledAt = timeField(obj, "canceled_at")

	suffix := strings.TrimPrefix(ev.Type, subscriptionEventPrefix)
	switch {
	case entitle.KnownStatus(suffix):
		ev.Status = suffix
	case stringField(obj, "status") != "":
		ev.Status = stringField(obj, "status")
	default:
		ev.Status = suffix
	}
}
