package api

import (
	"encoding/json"

	"github.com/mihaimyh/goentitle/pkg/entitle"
)

// StatusResponse is the billing state shown to the signed-in user.
// PlanKey and Tier are null when the user holds no qualifying subscription.
type StatusResponse struct {
	Authed   bool          `json:"authed"`
	Entitled bool          `json:"entitled"`
	PlanKey  *string       `json:"planKey"`
	Tier     *entitle.Tier `json:"tier"`
	SuperVIP bool          `json:"superVIP,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// CheckoutRequest is the body of POST /api/creem/checkout.
type CheckoutRequest struct {
	Plan string `json:"plan" validate:"required,oneof=pro_monthly pro_yearly team_monthly team_yearly plus_monthly plus_yearly"`
}

// CheckoutResponse carries the hosted checkout page to redirect to.
type CheckoutResponse struct {
	CheckoutURL string `json:"checkoutUrl"`
}

// VisionRequest is the body of POST /api/vision. One of ImageURL or
// ImageDataURL is required.
type VisionRequest struct {
	ModelKey     string `json:"modelKey" validate:"omitempty,oneof=nano_banana nano_banana_pro nano_banana_plus"`
	Prompt       string `json:"prompt" validate:"required"`
	ImageURL     string `json:"imageUrl" validate:"omitempty,url"`
	ImageDataURL string `json:"imageDataUrl" validate:"omitempty,startswith=data:image/"`
}

// VisionResponse is the model output.
type VisionResponse struct {
	Model  string          `json:"model"`
	Text   string          `json:"text"`
	Images []string        `json:"images"`
	Usage  json.RawMessage `json:"usage"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}
