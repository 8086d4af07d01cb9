package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/goentitle/pkg/entitle"
)

type staticVerifier map[string]entitle.Identity

func (s staticVerifier) Verify(_ context.Context, token string) (entitle.Identity, error) {
	id, ok := s[token]
	if !ok {
		return entitle.Identity{}, ErrInvalidToken
	}
	return id, nil
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer  abc ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"Bearer   ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := BearerToken(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.want, got, tt.header)
	}
}

func TestAuthenticator(t *testing.T) {
	a := &Authenticator{
		Verifier:   staticVerifier{"good": {UserID: "user-1", Email: "a@example.com"}},
		CookieName: "sb-access-token",
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := a.Authenticate(r)
	assert.True(t, errors.Is(err, ErrNoToken))

	r.Header.Set("Authorization", "Bearer good")
	id, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "sb-access-token", Value: "good"})
	id, err = a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", id.Email)

	r.Header.Set("Authorization", "Bearer bad")
	_, err = a.Authenticate(r)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
