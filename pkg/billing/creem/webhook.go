package creem

import (
	"errors"
	"net/http"
	"time"

	"github.com/mihaimyh/goentitle/pkg/billing"
	"github.com/mihaimyh/goentitle/pkg/billing/internal"
	"github.com/mihaimyh/goentitle/pkg/entitle"
)

// handleWebhook verifies, normalizes and reconciles one delivery.
//
// Status codes: 401 bad signature, 400 malformed payload, 500 store failure
// (the provider retries), 200 otherwise including no-ops.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		internal.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := internal.ReadBodyStrict(w, r, internal.MaxWebhookBody)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			internal.WriteError(w, http.StatusRequestEntityTooLarge, "payload too large")
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
			return
		}
		// An empty body cannot carry a valid signature either.
		if errors.Is(err, internal.ErrEmptyBody) && VerifyRequest(r, p.webhookSecret, nil) != nil {
			internal.WriteError(w, http.StatusUnauthorized, "invalid signature")
			p.metrics.RecordWebhookError(providerName, "auth_failed")
			return
		}
		internal.WriteError(w, http.StatusBadRequest, "invalid payload")
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return
	}

	if err := VerifyRequest(r, p.webhookSecret, body); errors.Is(err, billing.ErrInvalidWebhookSignature) {
		p.logger.Warn("webhook signature rejected",
			entitle.Field{Key: "remoteIp", Value: internal.ClientIP(r)},
			entitle.Field{Key: "error", Value: err},
		)
		internal.WriteError(w, http.StatusUnauthorized, "invalid signature")
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	payload, err := ParsePayload(body)
	if err != nil {
		internal.WriteError(w, http.StatusBadRequest, "invalid payload")
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return
	}

	ev := Normalize(payload)
	eventType := ev.Type
	if eventType == "" {
		eventType = "unknown"
	}

	res, err := p.reconciler.Apply(r.Context(), ev)
	if err == nil && res.Outcome == OutcomeApplied && p.callback != nil {
		err = p.callback(r.Context(), billing.WebhookEvent{
			UserID:         res.UserID,
			Provider:       providerName,
			EventType:      ev.Type,
			SubscriptionID: res.SubscriptionID,
			PreviousStatus: res.PreviousStatus,
			NewStatus:      res.NewStatus,
			PlanKey:        res.PlanKey,
			ReceivedAt:     p.now().UTC(),
			ExpiresAt:      res.PeriodEnd,
		})
		if err != nil {
			p.metrics.RecordWebhookError(providerName, "callback_error")
		}
	}
	if err != nil {
		p.logger.Error("webhook processing failed",
			entitle.Field{Key: "eventType", Value: eventType},
			entitle.Field{Key: "error", Value: err},
		)
		internal.WriteError(w, http.StatusInternalServerError, "failed to process webhook")
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "processing_error")
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
		return
	}

	p.metrics.RecordReconcile(providerName, string(ev.Kind), string(res.Outcome))
	if res.Outcome == OutcomeApplied && res.PreviousStatus != res.NewStatus {
		p.metrics.RecordStatusChange(providerName, res.PreviousStatus, res.NewStatus)
	}

	_ = internal.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
	p.metrics.RecordWebhookEvent(providerName, eventType, "success")
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}
