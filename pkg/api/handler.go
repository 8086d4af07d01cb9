package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mihaimyh/goentitle/pkg/billing"
	"github.com/mihaimyh/goentitle/pkg/entitle"
	"github.com/mihaimyh/goentitle/pkg/gateway/openrouter"
)

const maxRequestBody = 16 << 20

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Handler serves the billing status, checkout and vision endpoints
type Handler struct {
	config Config
}

// Status reports the caller's entitlement. Anonymous callers get a 200 with
// authed=false; a store failure is a 503.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id, err := h.config.Auth.Authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusOK, StatusResponse{})
		return
	}

	ent, err := h.config.Resolver.Resolve(r.Context(), id)
	if err != nil {
		h.config.Metrics.RecordEntitlementCheck("", "error")
		h.config.Logger.Error("entitlement lookup failed",
			entitle.Field{Key: "userId", Value: id.UserID},
			entitle.Field{Key: "error", Value: err},
		)
		writeJSON(w, http.StatusServiceUnavailable, StatusResponse{
			Authed: true,
			Error:  "Billing store unavailable. Run the billing migrations and check the database connection.",
		})
		return
	}
	h.recordCheck(ent)

	resp := StatusResponse{Authed: true, Entitled: ent.Entitled, SuperVIP: ent.Override}
	if ent.Entitled {
		planKey, tier := ent.PlanKey, ent.Tier
		resp.PlanKey = &planKey
		resp.Tier = &tier
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateCheckout starts a provider checkout for the requested plan and returns
// the hosted page URL.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if details, err := decodeAndValidate(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Details: details})
		return
	}

	id, err := h.config.Auth.Authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	if h.config.Checkout == nil {
		writeError(w, http.StatusServiceUnavailable, "Checkout is not configured")
		return
	}

	session, err := h.config.Checkout.CreateCheckout(r.Context(), billing.CheckoutRequest{
		User:       id,
		PlanKey:    req.Plan,
		SuccessURL: h.publicOrigin(r) + "/pricing/success?plan=" + url.QueryEscape(req.Plan),
	})
	if err != nil {
		h.config.Logger.Error("checkout creation failed",
			entitle.Field{Key: "userId", Value: id.UserID},
			entitle.Field{Key: "plan", Value: req.Plan},
			entitle.Field{Key: "error", Value: err},
		)
		switch {
		case errors.Is(err, billing.ErrProviderAPIError):
			writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "Creem checkout failed", Details: []string{err.Error()}})
		case errors.Is(err, entitle.ErrPersistence):
			writeError(w, http.StatusInternalServerError, "Failed to create checkout record")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, CheckoutResponse{CheckoutURL: session.URL})
}

// Vision runs an image prompt for an entitled caller on the best model their
// tier allows, or on the requested model if the tier covers it.
func (h *Handler) Vision(w http.ResponseWriter, r *http.Request) {
	id, err := h.config.Auth.Authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Please sign in to generate images.")
		return
	}

	ent, err := h.config.Resolver.Resolve(r.Context(), id)
	if err != nil {
		h.config.Metrics.RecordEntitlementCheck("", "error")
		writeError(w, http.StatusServiceUnavailable, "Billing not configured. Please finish database setup.")
		return
	}
	h.recordCheck(ent)
	if !ent.Entitled {
		writeError(w, http.StatusPaymentRequired, "Subscription required. Please upgrade on /pricing.")
		return
	}

	var req VisionRequest
	details, err := decodeAndValidate(r, &req)
	if err == nil && req.ImageURL == "" && req.ImageDataURL == "" {
		details, err = []string{"imageUrl: Either imageUrl or imageDataUrl is required"}, errors.New("missing image")
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Details: details})
		return
	}

	modelKey := req.ModelKey
	if modelKey == "" {
		modelKey = entitle.DefaultModelKey(ent.Tier)
	}
	if !h.config.Models.CanUse(ent.Tier, modelKey) {
		writeError(w, http.StatusForbidden, "This model requires a higher plan. Please upgrade on /pricing.")
		return
	}
	option, err := h.config.Models.Lookup(modelKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unknown model")
		return
	}

	if h.config.Gateway == nil {
		writeError(w, http.StatusServiceUnavailable, "Image generation is not configured")
		return
	}

	image := req.ImageURL
	if image == "" {
		image = req.ImageDataURL
	}
	res, err := h.config.Gateway.EditImage(r.Context(), openrouter.ImageRequest{
		Model:  option.Model,
		Prompt: req.Prompt,
		Image:  image,
	})
	if err != nil {
		h.config.Logger.Error("vision request failed",
			entitle.Field{Key: "userId", Value: id.UserID},
			entitle.Field{Key: "model", Value: option.Model},
			entitle.Field{Key: "error", Value: err},
		)
		var apiErr *openrouter.APIError
		if errors.As(err, &apiErr) {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	images := res.Images
	if images == nil {
		images = []string{}
	}
	writeJSON(w, http.StatusOK, VisionResponse{
		Model:  option.Model,
		Text:   res.Text,
		Images: images,
		Usage:  res.Usage,
	})
}

func (h *Handler) recordCheck(ent *entitle.Entitlement) {
	result := "denied"
	if ent.Entitled {
		result = "entitled"
	}
	h.config.Metrics.RecordEntitlementCheck(string(ent.Tier), result)
}

// publicOrigin prefers the configured site URL, then forwarded headers.
func (h *Handler) publicOrigin(r *http.Request) string {
	if h.config.SiteURL != "" {
		return cleanOrigin(h.config.SiteURL)
	}

	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		proto = "http"
		if r.TLS != nil {
			proto = "https"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return cleanOrigin(proto + "://" + host)
}

func cleanOrigin(v string) string {
	return strings.TrimRight(strings.TrimSpace(v), "/")
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// The returned details name each failing field.
func decodeAndValidate(r *http.Request, dst interface{}) ([]string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return []string{"body: unreadable"}, err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return []string{"body: invalid JSON"}, err
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, err
		}
		details := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
		}
		return details, err
	}
	return nil, nil
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}
