package entitle

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Override grants top-tier access outside of subscriptions.
type Override interface {
	Granted(ctx context.Context, id Identity) bool
}

// AllowList is an Override backed by a fixed set of email addresses.
// Matching is case-insensitive.
type AllowList struct {
	emails map[string]struct{}
}

var validate = validator.New()

// NewAllowList validates every entry as an email address. A malformed entry is
// a configuration error, not something to silently skip.
func NewAllowList(emails []string) (*AllowList, error) {
	al := &AllowList{emails: make(map[string]struct{}, len(emails))}
	for _, raw := range emails {
		e := strings.ToLower(strings.TrimSpace(raw))
		if e == "" {
			continue
		}
		if err := validate.Var(e, "email"); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidOverride, raw)
		}
		al.emails[e] = struct{}{}
	}
	return al, nil
}

// Granted reports whether the identity's email is on the list.
func (a *AllowList) Granted(_ context.Context, id Identity) bool {
	if a == nil || id.Email == "" {
		return false
	}
	_, ok := a.emails[strings.ToLower(strings.TrimSpace(id.Email))]
	return ok
}

// Len returns the number of entries.
func (a *AllowList) Len() int {
	if a == nil {
		return 0
	}
	return len(a.emails)
}
