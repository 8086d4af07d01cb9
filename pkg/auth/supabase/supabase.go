// Package supabase verifies Supabase access tokens locally with the project's
// JWT secret.
package supabase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mihaimyh/goentitle/pkg/auth"
	"github.com/mihaimyh/goentitle/pkg/entitle"
)

// DefaultAudience is the audience Supabase stamps on user sessions.
const DefaultAudience = "authenticated"

// Config configures a Verifier.
type Config struct {
	// JWTSecret is the project's HS256 signing secret (required)
	JWTSecret string

	// Audience is the expected aud claim. Default: DefaultAudience
	Audience string

	// Now overrides the clock used for exp/nbf checks
	Now func() time.Time
}

// Claims are the fields read from a Supabase access token.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier implements auth.TokenVerifier.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier creates a Verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("supabase: JWT secret is required")
	}
	if cfg.Audience == "" {
		cfg.Audience = DefaultAudience
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
	}
	if cfg.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(cfg.Now))
	}

	return &Verifier{
		secret: []byte(cfg.JWTSecret),
		parser: jwt.NewParser(opts...),
	}, nil
}

// Verify implements auth.TokenVerifier.
func (v *Verifier) Verify(_ context.Context, token string) (entitle.Identity, error) {
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return entitle.Identity{}, fmt.Errorf("%w: %w", auth.ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return entitle.Identity{}, fmt.Errorf("%w: missing sub claim", auth.ErrInvalidToken)
	}

	return entitle.Identity{
		UserID: claims.Subject,
		Email:  strings.TrimSpace(claims.Email),
	}, nil
}

var _ auth.TokenVerifier = (*Verifier)(nil)
