// Package auth turns request credentials into an entitle.Identity.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mihaimyh/goentitle/pkg/entitle"
)

var (
	// ErrNoToken is returned when the request carries no credentials
	ErrNoToken = errors.New("no access token")

	// ErrInvalidToken is returned when a token fails verification
	ErrInvalidToken = errors.New("invalid access token")
)

// TokenVerifier validates an access token issued by the identity provider.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (entitle.Identity, error)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Authenticator reads credentials from an *http.Request.
type Authenticator struct {
	Verifier TokenVerifier

	// CookieName, when set, is consulted if no Authorization header is present.
	CookieName string
}

// Authenticate returns ErrNoToken when the request is anonymous and
// ErrInvalidToken when credentials were presented but rejected.
func (a *Authenticator) Authenticate(r *http.Request) (entitle.Identity, error) {
	token, ok := BearerToken(r.Header.Get("Authorization"))
	if !ok && a.CookieName != "" {
		if c, err := r.Cookie(a.CookieName); err == nil && c.Value != "" {
			token, ok = c.Value, true
		}
	}
	if !ok {
		return entitle.Identity{}, ErrNoToken
	}
	return a.Verifier.Verify(r.Context(), token)
}
