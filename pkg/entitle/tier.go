package entitle

import "strings"

// Tier is a capability level derived from a plan key. It is never stored.
type Tier string

const (
	TierPro  Tier = "pro"
	TierTeam Tier = "team"
	TierPlus Tier = "plus"
)

// TierFromPlanKey maps a plan key onto its tier by prefix.
// Anything that is not plus_ or team_ is treated as pro.
func TierFromPlanKey(planKey string) Tier {
	switch {
	case strings.HasPrefix(planKey, "plus_"):
		return TierPlus
	case strings.HasPrefix(planKey, "team_"):
		return TierTeam
	default:
		return TierPro
	}
}

// Rank orders tiers pro < team < plus. Unknown tiers rank below pro.
func (t Tier) Rank() int {
	switch t {
	case TierPro:
		return 1
	case TierTeam:
		return 2
	case TierPlus:
		return 3
	}
	return 0
}

// Allows reports whether t meets the minimum tier.
func (t Tier) Allows(min Tier) bool {
	return t.Rank() > 0 && t.Rank() >= min.Rank()
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t.Rank() > 0
}

// Plan keys sold through checkout.
const (
	PlanProMonthly  = "pro_monthly"
	PlanProYearly   = "pro_yearly"
	PlanTeamMonthly = "team_monthly"
	PlanTeamYearly  = "team_yearly"
	PlanPlusMonthly = "plus_monthly"
	PlanPlusYearly  = "plus_yearly"
)

// PlanKeys lists every sellable plan in display order.
var PlanKeys = []string{
	PlanProMonthly,
	PlanProYearly,
	PlanTeamMonthly,
	PlanTeamYearly,
	PlanPlusMonthly,
	PlanPlusYearly,
}

// ValidPlanKey reports whether key is a sellable plan.
func ValidPlanKey(key string) bool {
	for _, k := range PlanKeys {
		if k == key {
			return true
		}
	}
	return false
}
