package catalog

import (
	"fmt"
	"strings"
)

// Tier is a trust/availability phase of service discovery.
type Tier string

const (
	TierOverride  Tier = "override"
	TierPostAuth  Tier = "postauth"
	TierSignin    Tier = "signin"
	TierPreAuth   Tier = "preauth"
	TierDiscovery Tier = "discovery"
)

var orderedTiers = []Tier{TierOverride, TierPostAuth, TierSignin, TierPreAuth, TierDiscovery}

// Tiers returns every tier, best ranked first.
func Tiers() []Tier {
	return append([]Tier(nil), orderedTiers...)
}

// Rank orders tiers for priority selection. Lower is better; unknown tiers
// rank last.
func (t Tier) Rank() int {
	for idx, candidate := range orderedTiers {
		if candidate == t {
			return idx
		}
	}
	return len(orderedTiers)
}

func (t Tier) Valid() bool {
	return t.Rank() < len(orderedTiers)
}

func (t Tier) String() string {
	return string(t)
}

func ParseTier(value string) (Tier, error) {
	tier := Tier(strings.ToLower(strings.TrimSpace(value)))
	if !tier.Valid() {
		return "", fmt.Errorf("catalog: invalid tier %q", value)
	}
	return tier, nil
}
