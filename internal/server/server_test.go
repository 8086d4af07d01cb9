package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpMiddleware "github.com/mihaimyh/goentitle/middleware/http"
	"github.com/mihaimyh/goentitle/pkg/api"
	"github.com/mihaimyh/goentitle/pkg/auth"
	"github.com/mihaimyh/goentitle/pkg/auth/supabase"
	"github.com/mihaimyh/goentitle/pkg/billing"
	"github.com/mihaimyh/goentitle/pkg/billing/creem"
	promMetrics "github.com/mihaimyh/goentitle/pkg/billing/metrics/prometheus"
	"github.com/mihaimyh/goentitle/pkg/entitle"
	"github.com/mihaimyh/goentitle/storage/memory"
)

const (
	jwtSecret     = "super-secret-jwt-token-with-at-least-32-characters"
	webhookSecret = "whsec_test"
)

type testServer struct {
	store   *memory.Storage
	handler http.Handler
	creem   *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	creemAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkouts" || r.Header.Get("x-api-key") != "creem_key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"ch_1","checkout_url":"https://creem.example/c/ch_1"}`)
	}))
	t.Cleanup(creemAPI.Close)

	store := memory.New()
	metrics := promMetrics.NewMetrics(prometheus.NewRegistry(), "test")

	provider, err := creem.NewProvider(creem.Config{
		Config: billing.Config{
			Store:         store,
			WebhookSecret: webhookSecret,
			APIKey:        "creem_key",
			BaseURL:       creemAPI.URL,
			Metrics:       metrics,
		},
		Products:     map[string]string{entitle.PlanTeamMonthly: "prod_team"},
		NewRequestID: func() string { return "chk_test" },
	})
	require.NoError(t, err)

	verifier, err := supabase.NewVerifier(supabase.Config{JWTSecret: jwtSecret})
	require.NoError(t, err)
	authenticator := &auth.Authenticator{Verifier: verifier}

	resolver, err := entitle.NewResolver(entitle.ResolverConfig{Store: store})
	require.NoError(t, err)

	handler, err := api.NewHandler(api.Config{
		Resolver: resolver,
		Auth:     authenticator,
		Checkout: provider,
		SiteURL:  "https://studio.example.com",
		Metrics:  metrics,
	})
	require.NoError(t, err)

	router := NewRouter(Config{
		Provider: provider,
		API:      handler,
		Gate: httpMiddleware.Middleware(httpMiddleware.Config{
			Resolver:    resolver,
			GetIdentity: httpMiddleware.FromAuthenticator(authenticator),
			Metrics:     metrics,
		}),
		Metrics: promhttp.Handler(),
		Ping:    func(context.Context) error { return nil },
		Logger:  zerolog.Nop(),
	})

	return &testServer{store: store, handler: router, creem: creemAPI}
}

func token(t *testing.T, userID, email string) string {
	t.Helper()
	claims := supabase.Claims{
		Email: email,
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{supabase.DefaultAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return signed
}

func (s *testServer) do(t *testing.T, method, path, body, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) webhook(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/creem/webhook", strings.NewReader(body))
	req.Header.Set(creem.SignatureHeader, creem.Sign(webhookSecret, []byte(body)))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestPurchaseLifecycle(t *testing.T) {
	s := newTestServer(t)
	tok := token(t, "user-1", "buyer@example.com")

	// before purchase
	rec := s.do(t, http.MethodGet, "/api/billing/status", "", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"authed":true,"entitled":false,"planKey":null,"tier":null}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/models", "", tok)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	// checkout
	rec = s.do(t, http.MethodPost, "/api/creem/checkout", `{"plan":"team_monthly"}`, tok)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"checkoutUrl":"https://creem.example/c/ch_1"}`, rec.Body.String())

	checkout, err := s.store.GetCheckout(context.Background(), "chk_test")
	require.NoError(t, err)
	assert.Equal(t, entitle.CheckoutRedirected, checkout.Status)
	assert.Equal(t, "ch_1", checkout.ProviderCheckoutID)

	// provider confirms payment
	end := time.Now().Add(30 * 24 * time.Hour).UTC().Format(time.RFC3339)
	rec = s.webhook(t, fmt.Sprintf(`{
		"eventType": "checkout.completed",
		"object": {
			"id": "ch_1",
			"request_id": "chk_test",
			"customer": {"id": "cus_1", "email": "buyer@example.com"},
			"product": "prod_team",
			"subscription": {"id": "sub_1", "status": "active", "current_period_end_date": %q}
		}
	}`, end))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	checkout, err = s.store.GetCheckout(context.Background(), "chk_test")
	require.NoError(t, err)
	assert.Equal(t, entitle.CheckoutCompleted, checkout.Status)

	rec = s.do(t, http.MethodGet, "/api/billing/status", "", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"authed":true,"entitled":true,"planKey":"team_monthly","tier":"team"}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/models", "", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	var models struct {
		Default string `json:"default"`
		Models  []struct {
			Key     string `json:"key"`
			Allowed bool   `json:"allowed"`
		} `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &models))
	assert.Equal(t, entitle.ModelNanoBananaPro, models.Default)
	require.Len(t, models.Models, 3)
	assert.True(t, models.Models[0].Allowed)
	assert.True(t, models.Models[1].Allowed)
	assert.False(t, models.Models[2].Allowed)

	// expiry revokes access
	rec = s.webhook(t, `{"eventType":"subscription.expired","object":{"id":"sub_1"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/billing/status", "", tok)
	assert.JSONEq(t, `{"authed":true,"entitled":false,"planKey":null,"tier":null}`, rec.Body.String())
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/creem/webhook", strings.NewReader(`{"eventType":"checkout.completed"}`))
	req.Header.Set(creem.SignatureHeader, strings.Repeat("0", 64))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_UnknownSubscriptionIsNoop(t *testing.T) {
	s := newTestServer(t)

	rec := s.webhook(t, `{"eventType":"subscription.canceled","object":{"id":"sub_ghost","status":"canceled"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err := s.store.GetSubscription(context.Background(), "sub_ghost")
	assert.True(t, errors.Is(err, entitle.ErrSubscriptionNotFound))
}

func TestStatus_Anonymous(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/billing/status", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"authed":false,"entitled":false,"planKey":null,"tier":null}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/billing/status", "", "not-a-jwt")
	assert.JSONEq(t, `{"authed":false,"entitled":false,"planKey":null,"tier":null}`, rec.Body.String())
}

func TestCheckout_RequiresAuth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/creem/checkout", `{"plan":"team_monthly"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouting(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/creem/checkout", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/creem/webhook", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = s.do(t, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth_PingFailure(t *testing.T) {
	h := healthHandler(func(context.Context) error { return errors.New("dial tcp: refused") })
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "refused")
}
