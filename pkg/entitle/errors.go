package entitle

import "errors"

var (
	// ErrCheckoutNotFound is returned when no checkout exists for a request id
	ErrCheckoutNotFound = errors.New("checkout not found")

	// ErrSubscriptionNotFound is returned when no subscription exists for a provider subscription id
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrDuplicateCheckout is returned when a checkout with the same request id already exists
	ErrDuplicateCheckout = errors.New("checkout already exists")

	// ErrInvalidRecord is returned when a record is missing its key or owner
	ErrInvalidRecord = errors.New("invalid record")

	// ErrPersistence wraps any store failure surfaced to callers.
	// Webhook deliveries that hit it are answered with a retryable status.
	ErrPersistence = errors.New("persistence failure")

	// ErrUnknownPlan is returned when a plan key is not in the catalog
	ErrUnknownPlan = errors.New("unknown plan")

	// ErrUnknownModel is returned when a model key is not in the catalog
	ErrUnknownModel = errors.New("unknown model")

	// ErrInvalidOverride is returned when an override entry cannot be parsed
	ErrInvalidOverride = errors.New("invalid override entry")

	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)
