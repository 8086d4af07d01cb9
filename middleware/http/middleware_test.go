package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mihaimyh/goentitle/pkg/entitle"
	"github.com/mihaimyh/goentitle/storage/memory"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// Test helper to create a resolver over a seeded store
func setupTestResolver(t *testing.T, store entitle.Store) *entitle.Resolver {
	t.Helper()

	if store == nil {
		mem := memory.New()
		end := testNow.Add(24 * time.Hour)
		ctx := context.Background()
		for uid, plan := range map[string]string{
			"user-pro":  entitle.PlanProMonthly,
			"user-plus": entitle.PlanPlusYearly,
		} {
			if err := mem.UpsertSubscription(ctx, &entitle.Subscription{
				ProviderSubscriptionID: "sub_" + uid,
				UserID:                 uid,
				PlanKey:                plan,
				Status:                 entitle.StatusActive,
				CurrentPeriodEnd:       &end,
				UpdatedAt:              testNow,
			}); err != nil {
				t.Fatalf("Failed to seed subscription: %v", err)
			}
		}
		store = mem
	}

	resolver, err := entitle.NewResolver(entitle.ResolverConfig{
		Store: store,
		Now:   func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("Failed to create resolver: %v", err)
	}
	return resolver
}

type failingStore struct{ entitle.Store }

func (failingStore) ListSubscriptions(context.Context, string, int) ([]*entitle.Subscription, error) {
	return nil, errors.New("connection refused")
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ent := FromContext(r.Context())
		if ent == nil {
			t.Error("Expected entitlement in context")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(ent.PlanKey))
	})
}

func serve(h http.Handler, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/api/test", nil)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_Entitled(t *testing.T) {
	mw := Middleware(Config{
		Resolver:    setupTestResolver(t, nil),
		GetIdentity: FromHeaders("X-User-ID", ""),
	})

	rec := serve(mw(okHandler(t)), "user-pro")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != entitle.PlanProMonthly {
		t.Errorf("Expected plan in body, got %s", rec.Body.String())
	}
}

func TestMiddleware_MissingAuth(t *testing.T) {
	mw := Middleware(Config{
		Resolver:    setupTestResolver(t, nil),
		GetIdentity: FromHeaders("X-User-ID", ""),
	})

	rec := serve(mw(okHandler(t)), "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rec.Code)
	}
}

func TestMiddleware_NoSubscription(t *testing.T) {
	mw := Middleware(Config{
		Resolver:    setupTestResolver(t, nil),
		GetIdentity: FromHeaders("X-User-ID", ""),
	})

	rec := serve(mw(okHandler(t)), "user-none")
	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("Expected status 402, got %d", rec.Code)
	}
}

func TestMiddleware_MinTier(t *testing.T) {
	mw := Middleware(Config{
		Resolver:    setupTestResolver(t, nil),
		GetIdentity: FromHeaders("X-User-ID", ""),
		MinTier:     entitle.TierTeam,
	})
	h := mw(okHandler(t))

	if rec := serve(h, "user-pro"); rec.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 for pro, got %d", rec.Code)
	}
	if rec := serve(h, "user-plus"); rec.Code != http.StatusOK {
		t.Errorf("Expected status 200 for plus, got %d", rec.Code)
	}
}

func TestMiddleware_StoreError(t *testing.T) {
	var gotErr error
	mw := Middleware(Config{
		Resolver:    setupTestResolver(t, failingStore{}),
		GetIdentity: FromHeaders("X-User-ID", ""),
		OnError: func(w http.ResponseWriter, r *http.Request, err error) {
			gotErr = err
			w.WriteHeader(http.StatusServiceUnavailable)
		},
	})

	rec := serve(mw(okHandler(t)), "user-pro")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", rec.Code)
	}
	if !errors.Is(gotErr, entitle.ErrPersistence) {
		t.Errorf("Expected ErrPersistence, got %v", gotErr)
	}
}

func TestMiddleware_CustomHandlers(t *testing.T) {
	var forbiddenTier entitle.Tier
	mw := Middleware(Config{
		Resolver:    setupTestResolver(t, nil),
		GetIdentity: FromHeaders("X-User-ID", ""),
		MinTier:     entitle.TierPlus,
		OnUnauthorized: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		},
		OnPaymentRequired: func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/pricing", http.StatusFound)
		},
		OnForbidden: func(w http.ResponseWriter, r *http.Request, ent *entitle.Entitlement) {
			forbiddenTier = ent.Tier
			w.WriteHeader(http.StatusForbidden)
		},
	})
	h := mw(okHandler(t))

	if rec := serve(h, ""); rec.Code != http.StatusTeapot {
		t.Errorf("Expected custom unauthorized status, got %d", rec.Code)
	}
	rec := serve(h, "user-none")
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/pricing" {
		t.Errorf("Expected redirect to /pricing, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
	if rec := serve(h, "user-pro"); rec.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", rec.Code)
	}
	if forbiddenTier != entitle.TierPro {
		t.Errorf("Expected OnForbidden to see tier pro, got %q", forbiddenTier)
	}
}

func TestHandlerFunc(t *testing.T) {
	wrap := HandlerFunc(Config{
		Resolver:    setupTestResolver(t, nil),
		GetIdentity: FromHeaders("X-User-ID", ""),
	})
	h := wrap(okHandler(t).ServeHTTP)

	rec := serve(h, "user-plus")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
}

func TestMiddleware_PanicsWithoutResolver(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for missing resolver")
		}
	}()
	Middleware(Config{GetIdentity: FromHeaders("X-User-ID", "")})
}

func TestFromHeaders(t *testing.T) {
	extract := FromHeaders("X-User-ID", "X-User-Email")

	req := httptest.NewRequest("GET", "/", nil)
	if _, err := extract(req); err == nil {
		t.Error("Expected error for anonymous request")
	}

	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-User-Email", "u1@example.com")
	id, err := extract(req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if id.UserID != "u1" || id.Email != "u1@example.com" {
		t.Errorf("Unexpected identity: %+v", id)
	}
}

func TestFromContext_Empty(t *testing.T) {
	if ent := FromContext(context.Background()); ent != nil {
		t.Errorf("Expected nil entitlement, got %+v", ent)
	}
}
