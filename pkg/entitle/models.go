package entitle

import "fmt"

// Model keys offered to entitled users.
const (
	ModelNanoBanana     = "nano_banana"
	ModelNanoBananaPro  = "nano_banana_pro"
	ModelNanoBananaPlus = "nano_banana_plus"
)

// ModelOption is a selectable gateway model gated by a minimum tier.
type ModelOption struct {
	Key     string `json:"key"`
	Label   string `json:"label"`
	Model   string `json:"model"`
	MinTier Tier   `json:"minTier"`
}

// ModelIDs overrides the gateway model identifier per key. Empty values keep the default.
type ModelIDs struct {
	NanoBanana     string
	NanoBananaPro  string
	NanoBananaPlus string
}

// ModelCatalog is the ordered list of models and the tier each one requires.
type ModelCatalog struct {
	options []ModelOption
}

// NewModelCatalog builds the catalog, substituting any ids set in overrides.
func NewModelCatalog(overrides ModelIDs) *ModelCatalog {
	pick := func(v, def string) string {
		if v != "" {
			return v
		}
		return def
	}
	return &ModelCatalog{options: []ModelOption{
		{
			Key:     ModelNanoBanana,
			Label:   "Nano Banana (Gemini 2.5 Flash Image)",
			Model:   pick(overrides.NanoBanana, "google/gemini-2.5-flash-image"),
			MinTier: TierPro,
		},
		{
			Key:     ModelNanoBananaPro,
			Label:   "Nano Banana Pro (higher tier)",
			Model:   pick(overrides.NanoBananaPro, "google/gemini-2.5-flash-image-preview"),
			MinTier: TierTeam,
		},
		{
			Key:     ModelNanoBananaPlus,
			Label:   "Nano Banana Plus (highest tier)",
			Model:   pick(overrides.NanoBananaPlus, "google/gemini-3-pro-preview"),
			MinTier: TierPlus,
		},
	}}
}

// Options returns a copy of the catalog entries.
func (c *ModelCatalog) Options() []ModelOption {
	out := make([]ModelOption, len(c.options))
	copy(out, c.options)
	return out
}

// Lookup returns the option for key.
func (c *ModelCatalog) Lookup(key string) (ModelOption, error) {
	for _, o := range c.options {
		if o.Key == key {
			return o, nil
		}
	}
	return ModelOption{}, fmt.Errorf("%w: %s", ErrUnknownModel, key)
}

// CanUse reports whether tier may select the model. Unknown models are never allowed.
func (c *ModelCatalog) CanUse(tier Tier, key string) bool {
	o, err := c.Lookup(key)
	if err != nil {
		return false
	}
	return tier.Allows(o.MinTier)
}

// DefaultModelKey returns the best model a tier can use.
func DefaultModelKey(tier Tier) string {
	switch tier {
	case TierPlus:
		return ModelNanoBananaPlus
	case TierTeam:
		return ModelNanoBananaPro
	default:
		return ModelNanoBanana
	}
}
