// Package openrouter is a minimal client for the OpenRouter chat-completions
// API, used to run image-editing prompts against multimodal models.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the public OpenRouter API root.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

const (
	completionsEndpoint = "/chat/completions"
	maxResponseBody     = 32 << 20
	maxErrorDetailBytes = 500
)

// ErrNotConfigured is returned when no API key is set
var ErrNotConfigured = errors.New("openrouter: API key is not set")

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openrouter: status %d: %s", e.StatusCode, e.Body)
}

// Config configures a Client.
type Config struct {
	APIKey string

	// BaseURL defaults to DefaultBaseURL
	BaseURL string

	// SiteURL and SiteName are sent as HTTP-Referer and X-Title for attribution
	SiteURL  string
	SiteName string

	// HTTPClient defaults to a client with a 120s timeout
	HTTPClient *http.Client
}

// Client calls the chat-completions endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	siteURL    string
	siteName   string
	httpClient *http.Client
}

// New creates a Client. A missing API key is reported on first use so that
// servers without the vision feature can still start.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		siteURL:    cfg.SiteURL,
		siteName:   cfg.SiteName,
		httpClient: cfg.HTTPClient,
	}
}

// ImageRequest asks a model to transform one input image.
type ImageRequest struct {
	Model  string
	Prompt string
	// Image is an http(s) URL or a data:image/... URL
	Image string
}

// ImageResult is the model's reply.
type ImageResult struct {
	Text   string
	Images []string
	// Usage is passed through verbatim; nil when the gateway omits it
	Usage json.RawMessage
}

type chatRequest struct {
	Model      string        `json:"model"`
	Modalities []string      `json:"modalities"`
	Stream     bool          `json:"stream"`
	Messages   []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
			Images  json.RawMessage `json:"images"`
		} `json:"message"`
	} `json:"choices"`
	Usage json.RawMessage `json:"usage"`
}

// EditImage sends the prompt and image and collects text and image outputs.
func (c *Client) EditImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	payload, err := json.Marshal(chatRequest{
		Model:      req.Model,
		Modalities: []string{"image", "text"},
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: req.Prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: req.Image}},
			},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("openrouter: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openrouter: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.siteURL != "" {
		httpReq.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		httpReq.Header.Set("X-Title", c.siteName)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openrouter: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("openrouter: read response: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		if len(raw) > maxErrorDetailBytes {
			raw = raw[:maxErrorDetailBytes]
		}
		return nil, &APIError{StatusCode: httpResp.StatusCode, Body: string(raw)}
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("openrouter: decode response: %w", err)
	}

	result := &ImageResult{}
	if len(resp.Usage) > 0 && string(resp.Usage) != "null" {
		result.Usage = resp.Usage
	}
	if len(resp.Choices) == 0 {
		return result, nil
	}

	msg := resp.Choices[0].Message
	content := decodeAny(msg.Content)
	result.Text = contentText(content)
	result.Images = dedupe(append(messageImages(decodeAny(msg.Images)), contentImages(content)...))
	return result, nil
}

func decodeAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// contentText accepts either a plain string or an array of typed parts and
// joins the text parts.
func contentText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var b strings.Builder
		for _, p := range v {
			part, ok := p.(map[string]any)
			if !ok || part["type"] != "text" {
				continue
			}
			if s, ok := part["text"].(string); ok {
				b.WriteString(s)
			}
		}
		return b.String()
	}
	return ""
}

// contentImages collects image parts from message content. Parts without a
// type are accepted as images when they carry a url.
func contentImages(content any) []string {
	parts, ok := content.([]any)
	if !ok {
		return nil
	}
	var urls []string
	for _, p := range parts {
		part, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if t, present := part["type"]; present && t != "image_url" && t != "image" {
			continue
		}
		if img, ok := part["image_url"].(map[string]any); ok {
			if u, ok := img["url"].(string); ok && u != "" {
				urls = append(urls, u)
			}
			continue
		}
		if u, ok := part["url"].(string); ok && u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// messageImages reads the images array some models return beside content.
func messageImages(images any) []string {
	items, ok := images.([]any)
	if !ok {
		return nil
	}
	var urls []string
	for _, it := range items {
		item, ok := it.(map[string]any)
		if !ok || item["type"] != "image_url" {
			continue
		}
		img, ok := item["image_url"].(map[string]any)
		if !ok {
			continue
		}
		if u, ok := img["url"].(string); ok && u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
