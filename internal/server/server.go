// Package server assembles the HTTP surface of the entitled binary.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	httpMiddleware "github.com/mihaimyh/goentitle/middleware/http"
	"github.com/mihaimyh/goentitle/pkg/api"
	"github.com/mihaimyh/goentitle/pkg/billing"
	"github.com/mihaimyh/goentitle/pkg/entitle"
)

// Config wires the collaborators the router exposes.
type Config struct {
	// Provider serves the webhook endpoint (required)
	Provider billing.Provider

	// API serves status, checkout and vision (required)
	API *api.Handler

	// Gate protects entitled-only routes such as the model list (required)
	Gate func(http.Handler) http.Handler

	// Models is the catalog listed on /api/models
	Models *entitle.ModelCatalog

	// Metrics is mounted on /metrics when set
	Metrics http.Handler

	// Ping reports store health on /healthz when set
	Ping func(ctx context.Context) error

	Logger zerolog.Logger
}

// NewRouter builds the chi router for all endpoints.
func NewRouter(cfg Config) http.Handler {
	if cfg.Models == nil {
		cfg.Models = entitle.NewModelCatalog(entitle.ModelIDs{})
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthHandler(cfg.Ping))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		// The webhook handler does its own method check so wrong methods get a 405 body.
		r.Handle("/creem/webhook", cfg.Provider.WebhookHandler())
		r.Post("/creem/checkout", cfg.API.CreateCheckout)
		r.Get("/billing/status", cfg.API.Status)
		r.Post("/vision", cfg.API.Vision)

		r.With(cfg.Gate).Get("/models", modelsHandler(cfg.Models))
	})

	return r
}

type modelView struct {
	entitle.ModelOption
	Allowed bool `json:"allowed"`
}

// modelsHandler lists the catalog, flagging which models the caller's tier covers.
func modelsHandler(models *entitle.ModelCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var tier entitle.Tier
		if ent := httpMiddleware.FromContext(r.Context()); ent != nil {
			tier = ent.Tier
		}
		opts := models.Options()
		out := make([]modelView, 0, len(opts))
		for _, o := range opts {
			out = append(out, modelView{ModelOption: o, Allowed: tier.Allows(o.MinTier)})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"default": entitle.DefaultModelKey(tier),
			"models":  out,
		})
	}
}

func healthHandler(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// requestLogger logs one line per request with zerolog.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			event := logger.Info()
			if status >= http.StatusInternalServerError {
				event = logger.Warn()
			}
			event.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}
