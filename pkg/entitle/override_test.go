package entitle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowList(t *testing.T) {
	al, err := NewAllowList([]string{" VIP@Example.com ", "", "ops@example.org"})
	require.NoError(t, err)
	assert.Equal(t, 2, al.Len())

	ctx := context.Background()
	assert.True(t, al.Granted(ctx, Identity{UserID: "u1", Email: "vip@example.com"}))
	assert.True(t, al.Granted(ctx, Identity{Email: "Ops@Example.org"}))
	assert.False(t, al.Granted(ctx, Identity{Email: "someone@example.com"}))
	assert.False(t, al.Granted(ctx, Identity{UserID: "u1"}))
}

func TestAllowList_RejectsMalformedEntries(t *testing.T) {
	_, err := NewAllowList([]string{"vip@example.com", "not-an-email"})
	assert.ErrorIs(t, err, ErrInvalidOverride)

	_, err = NewAllowList([]string{"@example.com"})
	assert.ErrorIs(t, err, ErrInvalidOverride)
}

func TestAllowList_Nil(t *testing.T) {
	var al *AllowList
	assert.False(t, al.Granted(context.Background(), Identity{Email: "a@b.co"}))
	assert.Equal(t, 0, al.Len())
}
