package ratelimit

import (
	"strings"

	"github.com/lumilearn/creditcore/internal/config"
)

// Tier is the coarse cost/throughput class of an AI model.
type Tier string

const (
	TierEconomy  Tier = "economy"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

// tierCaps is the static per-minute admission cap per tier.
var tierCaps = map[Tier]int{
	TierEconomy:  20,
	TierStandard: 10,
	TierPremium:  3,
}

// Cap returns the per-minute request cap for a tier.
func Cap(tier Tier) int {
	if cap, ok := tierCaps[tier]; ok {
		return cap
	}
	return tierCaps[TierStandard]
}

// fallbackTiers covers the known model families when the dynamic mapping is
// unavailable. Anything unknown degrades to standard, never to unlimited.
var fallbackTiers = map[string]Tier{
	"gemini-1.5-flash":   TierEconomy,
	"gemini-2.0-flash":   TierEconomy,
	"gpt-4o-mini":        TierEconomy,
	"claude-3-haiku":     TierEconomy,
	"gemini-1.5-pro":     TierStandard,
	"gpt-4o":             TierStandard,
	"claude-3-5-sonnet":  TierStandard,
	"o1":                 TierPremium,
	"o1-pro":             TierPremium,
	"claude-3-opus":      TierPremium,
	"gemini-1.5-pro-exp": TierPremium,
}

// TierResolver maps a model identifier to its tier, preferring the
// hot-reloaded configuration over the static fallback table.
type TierResolver struct {
	holder *config.ModelTierHolder
}

func NewTierResolver(holder *config.ModelTierHolder) *TierResolver {
	return &TierResolver{holder: holder}
}

func (r *TierResolver) Resolve(modelID string) Tier {
	modelID = strings.ToLower(strings.TrimSpace(modelID))

	if r != nil && r.holder.Ready() {
		if tier, ok := r.holder.Tier(modelID); ok {
			return normalizeTier(tier)
		}
		return TierStandard
	}
	if tier, ok := fallbackTiers[modelID]; ok {
		return tier
	}
	return TierStandard
}

func normalizeTier(raw string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(raw))) {
	case TierEconomy:
		return TierEconomy
	case TierPremium:
		return TierPremium
	default:
		return TierStandard
	}
}
