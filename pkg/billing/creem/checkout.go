package creem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mihaimyh/goentitle/pkg/billing"
	"github.com/mihaimyh/goentitle/pkg/entitle"
)

const (
	checkoutsEndpoint   = "/v1/checkouts"
	maxResponseBody     = 1 << 20
	maxErrorDetailBytes = 500
)

type checkoutRequest struct {
	ProductID  string            `json:"product_id"`
	RequestID  string            `json:"request_id"`
	SuccessURL string            `json:"success_url,omitempty"`
	Customer   *checkoutCustomer `json:"customer,omitempty"`
	Metadata   map[string]string `json:"metadata"`
}

type checkoutCustomer struct {
	Email string `json:"email"`
}

type checkoutResponse struct {
	ID             string `json:"id"`
	CheckoutURL    string `json:"checkout_url"`
	CheckoutURLAlt string `json:"checkoutUrl"`
}

// ProductForPlan returns the configured Creem product id for a plan key.
func (p *Provider) ProductForPlan(planKey string) (string, error) {
	if !entitle.ValidPlanKey(planKey) {
		return "", fmt.Errorf("%w: %s", entitle.ErrUnknownPlan, planKey)
	}
	product, ok := p.products[planKey]
	if !ok {
		return "", fmt.Errorf("%w: %s", billing.ErrPlanNotConfigured, planKey)
	}
	return product, nil
}

// CreateCheckout records a checkout locally, asks Creem for a hosted checkout
// page and returns its URL. The local row ends in redirected on success and
// failed on any provider error.
func (p *Provider) CreateCheckout(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	if req.User.UserID == "" {
		return nil, fmt.Errorf("%w: checkout requires a user", entitle.ErrInvalidRecord)
	}
	productID, err := p.ProductForPlan(req.PlanKey)
	if err != nil {
		p.metrics.RecordCheckout(providerName, req.PlanKey, "plan_not_found")
		return nil, err
	}
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: API key is not set", billing.ErrProviderNotConfigured)
	}

	now := p.now().UTC()
	checkout := &entitle.Checkout{
		RequestID:         p.newRequestID(),
		UserID:            req.User.UserID,
		PlanKey:           req.PlanKey,
		ProviderProductID: productID,
		Status:            entitle.CheckoutCreated,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := p.store.CreateCheckout(ctx, checkout); err != nil {
		return nil, persistenceError("create checkout", err)
	}

	resp, err := p.postCheckout(ctx, &checkoutRequest{
		ProductID:  productID,
		RequestID:  checkout.RequestID,
		SuccessURL: req.SuccessURL,
		Customer:   customerFor(req.User),
		Metadata: map[string]string{
			"referenceId": req.User.UserID,
			"userId":      req.User.UserID,
			"plan":        req.PlanKey,
		},
	})
	if err != nil {
		p.markCheckout(ctx, checkout.RequestID, entitle.CheckoutFailed, "")
		p.metrics.RecordCheckout(providerName, req.PlanKey, string(entitle.CheckoutFailed))
		p.logger.Error("creem checkout failed",
			entitle.Field{Key: "requestId", Value: checkout.RequestID},
			entitle.Field{Key: "error", Value: err},
		)
		return nil, err
	}

	p.markCheckout(ctx, checkout.RequestID, entitle.CheckoutRedirected, resp.ID)
	p.metrics.RecordCheckout(providerName, req.PlanKey, string(entitle.CheckoutRedirected))

	return &billing.CheckoutSession{
		RequestID:          checkout.RequestID,
		ProviderCheckoutID: resp.ID,
		URL:                resp.url(),
	}, nil
}

func customerFor(id entitle.Identity) *checkoutCustomer {
	if id.Email == "" {
		return nil
	}
	return &checkoutCustomer{Email: id.Email}
}

func (r *checkoutResponse) url() string {
	if r.CheckoutURL != "" {
		return r.CheckoutURL
	}
	return r.CheckoutURLAlt
}

// markCheckout records a status transition. A failure here is logged rather
// than returned: checkout.completed still finds the row by request id.
func (p *Provider) markCheckout(ctx context.Context, requestID string, status entitle.CheckoutStatus, providerID string) {
	err := p.store.UpdateCheckout(ctx, requestID, &entitle.CheckoutUpdate{
		Status:             status,
		ProviderCheckoutID: providerID,
		UpdatedAt:          p.now().UTC(),
	})
	if err != nil {
		p.logger.Warn("failed to update checkout status",
			entitle.Field{Key: "requestId", Value: requestID},
			entitle.Field{Key: "status", Value: string(status)},
			entitle.Field{Key: "error", Value: err},
		)
	}
}

func (p *Provider) postCheckout(ctx context.Context, body *checkoutRequest) (*checkoutResponse, error) {
	startTime := time.Now()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode checkout request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+checkoutsEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build checkout request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.metrics.RecordAPICall(providerName, checkoutsEndpoint, "error")
		p.metrics.RecordAPICallDuration(providerName, checkoutsEndpoint, time.Since(startTime))
		return nil, fmt.Errorf("%w: %v", billing.ErrProviderAPIError, err)
	}
	defer httpResp.Body.Close()

	p.metrics.RecordAPICall(providerName, checkoutsEndpoint, strconv.Itoa(httpResp.StatusCode))
	p.metrics.RecordAPICallDuration(providerName, checkoutsEndpoint, time.Since(startTime))

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", billing.ErrProviderAPIError, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d: %s", billing.ErrProviderAPIError, httpResp.StatusCode, truncate(raw))
	}

	var out checkoutResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: non-JSON response (%s): %s",
			billing.ErrProviderAPIError, httpResp.Header.Get("Content-Type"), truncate(raw))
	}
	if out.url() == "" {
		return nil, fmt.Errorf("%w: response missing checkout_url", billing.ErrProviderAPIError)
	}
	return &out, nil
}

func truncate(b []byte) string {
	if len(b) > maxErrorDetailBytes {
		b = b[:maxErrorDetailBytes]
	}
	return string(b)
}
