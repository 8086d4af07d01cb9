package billing

import "time"

// Metrics defines the interface for tracking billing provider operations.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the billing provider.
	// status: "success" or "error"
	RecordWebhookEvent(provider, eventType, status string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordWebhookError records a rejected or failed delivery.
	// errorType: e.g. "auth_failed", "invalid_payload", "processing_error"
	RecordWebhookError(provider, errorType string)

	// RecordReconcile records the outcome of applying a normalized event.
	// outcome: "applied", "ignored", "reference_not_found", "missing_reference"
	RecordReconcile(provider, kind, outcome string)

	// RecordStatusChange records a subscription status transition.
	RecordStatusChange(provider, fromStatus, toStatus string)

	// RecordCheckout records a checkout creation attempt. status: "redirected" or "failed".
	RecordCheckout(provider, planKey, status string)

	// RecordAPICall records an API call to the billing provider.
	// status: HTTP status code as string, or "error" on transport failure
	RecordAPICall(provider, endpoint, status string)

	// RecordAPICallDuration records how long an API call took.
	RecordAPICallDuration(provider, endpoint string, duration time.Duration)

	// RecordEntitlementCheck records a resolver decision. result: "entitled", "denied", "error".
	RecordEntitlementCheck(tier, result string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordReconcile(_, _, _ string)                               {}
func (n *NoopMetrics) RecordStatusChange(_, _, _ string)                            {}
func (n *NoopMetrics) RecordCheckout(_, _, _ string)                                {}
func (n *NoopMetrics) RecordAPICall(_, _, _ string)                                 {}
func (n *NoopMetrics) RecordAPICallDuration(_, _ string, _ time.Duration)           {}
func (n *NoopMetrics) RecordEntitlementCheck(_, _ string)                           {}
