package entitle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/goentitle/pkg/entitle"
	"github.com/mihaimyh/goentitle/storage/memory"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newResolver(t *testing.T, store entitle.Store, override entitle.Override) *entitle.Resolver {
	t.Helper()
	r, err := entitle.NewResolver(entitle.ResolverConfig{
		Store:    store,
		Override: override,
		Now:      func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return r
}

func seed(t *testing.T, s entitle.Store, id, plan, status string, end *time.Time, updated time.Time) {
	t.Helper()
	require.NoError(t, s.UpsertSubscription(context.Background(), &entitle.Subscription{
		ProviderSubscriptionID: id,
		UserID:                 "u1",
		PlanKey:                plan,
		Status:                 status,
		CurrentPeriodEnd:       end,
		UpdatedAt:              updated,
	}))
}

func at(t time.Time) *time.Time { return &t }

func TestResolver_NoSubscriptions(t *testing.T) {
	r := newResolver(t, memory.New(), nil)

	ent, err := r.Resolve(context.Background(), entitle.Identity{UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, ent.Entitled)
	assert.Empty(t, ent.PlanKey)
	assert.Empty(t, ent.Tier)
}

func TestResolver_ActiveFuturePeriod(t *testing.T) {
	s := memory.New()
	seed(t, s, "sub_1", entitle.PlanTeamYearly, entitle.StatusActive, at(fixedNow.Add(24*time.Hour)), fixedNow)

	ent, err := newResolver(t, s, nil).Resolve(context.Background(), entitle.Identity{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, &entitle.Entitlement{Entitled: true, PlanKey: entitle.PlanTeamYearly, Tier: entitle.TierTeam}, ent)
}

func TestResolver_ExpiredPeriodIsNotEntitled(t *testing.T) {
	s := memory.New()
	seed(t, s, "sub_1", entitle.PlanProMonthly, entitle.StatusActive, at(fixedNow.Add(-time.Hour)), fixedNow)

	ent, err := newResolver(t, s, nil).Resolve(context.Background(), entitle.Identity{UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, ent.Entitled)
}

func TestResolver_PeriodEndingExactlyNowIsNotEntitled(t *testing.T) {
	s := memory.New()
	seed(t, s, "sub_1", entitle.PlanProMonthly, entitle.StatusTrialing, at(fixedNow), fixedNow)

	ent, err := newResolver(t, s, nil).Resolve(context.Background(), entitle.Identity{UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, ent.Entitled)
}

func TestResolver_NilPeriodEndIsEntitled(t *testing.T) {
	s := memory.New()
	seed(t, s, "sub_1", entitle.PlanPlusMonthly, entitle.StatusTrialing, nil, fixedNow)

	ent, err := newResolver(t, s, nil).Resolve(context.Background(), entitle.Identity{UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, ent.Entitled)
	assert.Equal(t, entitle.TierPlus, ent.Tier)
}

func TestResolver_MostRecentQualifyingRowWins(t *testing.T) {
	s := memory.New()
	seed(t, s, "sub_old", entitle.PlanPlusYearly, entitle.StatusActive, nil, fixedNow.Add(-48*time.Hour))
	seed(t, s, "sub_new", entitle.PlanProMonthly, entitle.StatusActive, nil, fixedNow.Add(-time.Hour))
	seed(t, s, "sub_canceled", entitle.PlanTeamMonthly, entitle.StatusCanceled, nil, fixedNow)

	ent, err := newResolver(t, s, nil).Resolve(context.Background(), entitle.Identity{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, entitle.PlanProMonthly, ent.PlanKey)
	assert.Equal(t, entitle.TierPro, ent.Tier)
}

func TestResolver_OnlyScansWindow(t *testing.T) {
	s := memory.New()
	seed(t, s, "sub_qualifying", entitle.PlanProMonthly, entitle.StatusActive, nil, fixedNow.Add(-100*time.Hour))
	for i := 0; i < entitle.DefaultWindow; i++ {
		seed(t, s, "sub_expired_"+string(rune('a'+i)), entitle.PlanProMonthly, entitle.StatusExpired, nil,
			fixedNow.Add(-time.Duration(i)*time.Hour))
	}

	ent, err := newResolver(t, s, nil).Resolve(context.Background(), entitle.Identity{UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, ent.Entitled)
}

func TestResolver_OverrideShortCircuits(t *testing.T) {
	al, err := entitle.NewAllowList([]string{"vip@example.com"})
	require.NoError(t, err)

	r := newResolver(t, failingStore{}, al)
	ent, err := r.Resolve(context.Background(), entitle.Identity{UserID: "u1", Email: "VIP@example.com"})
	require.NoError(t, err)
	assert.Equal(t, &entitle.Entitlement{
		Entitled: true,
		PlanKey:  entitle.PlanPlusYearly,
		Tier:     entitle.TierPlus,
		Override: true,
	}, ent)
}

func TestResolver_StoreFailure(t *testing.T) {
	r := newResolver(t, failingStore{}, nil)

	_, err := r.Resolve(context.Background(), entitle.Identity{UserID: "u1"})
	assert.ErrorIs(t, err, entitle.ErrPersistence)
}

func TestQualifies_IffProperty(t *testing.T) {
	statuses := []string{
		entitle.StatusActive, entitle.StatusTrialing, entitle.StatusPaused,
		entitle.StatusExpired, entitle.StatusCanceled, "past_due",
	}
	ends := []*time.Time{nil, at(fixedNow.Add(-time.Second)), at(fixedNow), at(fixedNow.Add(time.Second))}

	for _, st := range statuses {
		for _, end := range ends {
			sub := &entitle.Subscription{Status: st, CurrentPeriodEnd: end}
			want := (st == entitle.StatusActive || st == entitle.StatusTrialing) &&
				(end == nil || end.After(fixedNow))
			assert.Equal(t, want, entitle.Qualifies(sub, fixedNow), "status=%s end=%v", st, end)
		}
	}
}

func TestNewResolver_RequiresStore(t *testing.T) {
	_, err := entitle.NewResolver(entitle.ResolverConfig{})
	assert.Error(t, err)
}

type failingStore struct{ entitle.Store }

func (failingStore) ListSubscriptions(context.Context, string, int) ([]*entitle.Subscription, error) {
	return nil, errors.New("connection refused")
}
