package entitle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierFromPlanKey(t *testing.T) {
	tests := map[string]Tier{
		"plus_yearly":  TierPlus,
		"plus_monthly": TierPlus,
		"team_monthly": TierTeam,
		"pro_yearly":   TierPro,
		"legacy":       TierPro,
		"":             TierPro,
		"PLUS_yearly":  TierPro,
	}
	for key, want := range tests {
		assert.Equal(t, want, TierFromPlanKey(key), "plan %q", key)
	}
}

func TestTier_Allows(t *testing.T) {
	assert.True(t, TierPlus.Allows(TierPro))
	assert.True(t, TierPlus.Allows(TierPlus))
	assert.True(t, TierTeam.Allows(TierTeam))
	assert.False(t, TierTeam.Allows(TierPlus))
	assert.False(t, TierPro.Allows(TierTeam))
	assert.False(t, Tier("").Allows(TierPro))
	assert.False(t, Tier("gold").Valid())
}

func TestValidPlanKey(t *testing.T) {
	for _, k := range PlanKeys {
		assert.True(t, ValidPlanKey(k), k)
	}
	assert.False(t, ValidPlanKey("enterprise_monthly"))
}

func TestModelCatalog(t *testing.T) {
	c := NewModelCatalog(ModelIDs{NanoBananaPro: "custom/model"})

	opt, err := c.Lookup(ModelNanoBananaPro)
	require.NoError(t, err)
	assert.Equal(t, "custom/model", opt.Model)
	assert.Equal(t, TierTeam, opt.MinTier)

	def, err := c.Lookup(ModelNanoBanana)
	require.NoError(t, err)
	assert.Equal(t, "google/gemini-2.5-flash-image", def.Model)

	_, err = c.Lookup("nope")
	assert.ErrorIs(t, err, ErrUnknownModel)

	assert.True(t, c.CanUse(TierPro, ModelNanoBanana))
	assert.False(t, c.CanUse(TierPro, ModelNanoBananaPro))
	assert.True(t, c.CanUse(TierPlus, ModelNanoBananaPlus))
	assert.False(t, c.CanUse(TierPlus, "nope"))

	assert.Len(t, c.Options(), 3)
}

func TestDefaultModelKey(t *testing.T) {
	assert.Equal(t, ModelNanoBanana, DefaultModelKey(TierPro))
	assert.Equal(t, ModelNanoBananaPro, DefaultModelKey(TierTeam))
	assert.Equal(t, ModelNanoBananaPlus, DefaultModelKey(TierPlus))
}
