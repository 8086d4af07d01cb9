package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mihaimyh/goentitle/internal/config"
	"github.com/mihaimyh/goentitle/internal/server"
	httpMiddleware "github.com/mihaimyh/goentitle/middleware/http"
	"github.com/mihaimyh/goentitle/pkg/api"
	"github.com/mihaimyh/goentitle/pkg/auth"
	"github.com/mihaimyh/goentitle/pkg/auth/supabase"
	"github.com/mihaimyh/goentitle/pkg/billing"
	"github.com/mihaimyh/goentitle/pkg/billing/creem"
	promMetrics "github.com/mihaimyh/goentitle/pkg/billing/metrics/prometheus"
	"github.com/mihaimyh/goentitle/pkg/entitle"
	zerologAdapter "github.com/mihaimyh/goentitle/pkg/entitle/logger/zerolog"
	"github.com/mihaimyh/goentitle/pkg/gateway/openrouter"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	},
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := cfg.NewLogger(os.Stderr)
	appLogger := zerologAdapter.NewLogger(logger)

	store, err := openStore(ctx, cfg, appLogger.With("storage"))
	if err != nil {
		return fmt.Errorf("open %s storage: %w", cfg.StorageBackend, err)
	}
	defer store.close()

	var billingStore entitle.Store = store
	if cfg.CircuitBreaker {
		cb := entitle.NewDefaultCircuitBreaker(5, 30*time.Second, func(state entitle.CircuitBreakerState) {
			logger.Warn().Str("state", string(state)).Msg("storage circuit breaker changed state")
		})
		billingStore = entitle.NewCircuitBreakerStore(store, cb)
	}

	metrics := promMetrics.NewMetrics(prometheus.DefaultRegisterer, cfg.MetricsNamespace)

	override, err := entitle.NewAllowList(cfg.SuperVIPEmails)
	if err != nil {
		return err
	}
	resolver, err := entitle.NewResolver(entitle.ResolverConfig{
		Store:    billingStore,
		Override: override,
		Logger:   appLogger.With("resolver"),
	})
	if err != nil {
		return err
	}

	webhookLog := logger.With().Str("component", "webhook").Logger()
	provider, err := creem.NewProvider(creem.Config{
		Config: billing.Config{
			Store:         billingStore,
			WebhookSecret: cfg.CreemWebhookSecret,
			APIKey:        cfg.CreemAPIKey,
			BaseURL:       cfg.CreemBaseURL,
			Metrics:       metrics,
			Logger:        appLogger.With("creem"),
			WebhookCallback: func(_ context.Context, ev billing.WebhookEvent) error {
				webhookLog.Info().
					Str("event", ev.EventType).
					Str("user_id", ev.UserID).
					Str("subscription_id", ev.SubscriptionID).
					Str("from", ev.PreviousStatus).
					Str("to", ev.NewStatus).
					Str("plan", ev.PlanKey).
					Msg("billing state changed")
				return nil
			},
		},
		Products: cfg.Products,
	})
	if err != nil {
		return err
	}
	if cfg.CreemWebhookSecret == "" {
		logger.Warn().Msg("CREEM_WEBHOOK_SECRET is not set; every webhook delivery will be rejected")
	}

	authenticator := &auth.Authenticator{CookieName: cfg.AuthCookieName}
	if cfg.SupabaseJWTSecret != "" {
		verifier, err := supabase.NewVerifier(supabase.Config{JWTSecret: cfg.SupabaseJWTSecret})
		if err != nil {
			return err
		}
		authenticator.Verifier = verifier
	} else {
		logger.Warn().Msg("SUPABASE_JWT_SECRET is not set; all callers are anonymous")
		authenticator.Verifier = rejectAll{}
	}

	models := entitle.NewModelCatalog(cfg.Models)
	gateway := openrouter.New(openrouter.Config{
		APIKey:   cfg.OpenRouterAPIKey,
		BaseURL:  cfg.OpenRouterBaseURL,
		SiteURL:  cfg.OpenRouterSiteURL,
		SiteName: cfg.OpenRouterSiteName,
	})

	handler, err := api.NewHandler(api.Config{
		Resolver: resolver,
		Auth:     authenticator,
		Checkout: provider,
		Gateway:  gateway,
		Models:   models,
		SiteURL:  cfg.SiteURL,
		Metrics:  metrics,
		Logger:   appLogger.With("api"),
	})
	if err != nil {
		return err
	}

	router := server.NewRouter(server.Config{
		Provider: provider,
		API:      handler,
		Gate: httpMiddleware.Middleware(httpMiddleware.Config{
			Resolver:    resolver,
			GetIdentity: httpMiddleware.FromAuthenticator(authenticator),
			Metrics:     metrics,
		}),
		Models:  models,
		Metrics: promhttp.Handler(),
		Ping:    store.ping,
		Logger:  logger,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// vision calls can take a while upstream
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Str("storage", cfg.StorageBackend).
			Str("creem", cfg.CreemBaseURL).
			Int("plans", len(cfg.Products)).
			Msg("entitled listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// rejectAll is the verifier used when no JWT secret is configured.
type rejectAll struct{}

func (rejectAll) Verify(context.Context, string) (entitle.Identity, error) {
	return entitle.Identity{}, auth.ErrInvalidToken
}
