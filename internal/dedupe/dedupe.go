// Package dedupe collapses near-duplicate extracted variants to exactly one
// record per identity key. Dealer PDFs repeat the same variant across pages
// and pricing tables, so a raw parse pass routinely contains the same
// configuration several times with partially overlapping data.
package dedupe

import (
	"sort"

	"github.com/leasingborsen/lease-ingest/internal/identity"
	"github.com/leasingborsen/lease-ingest/internal/model"
)

// Resolve returns one variant per distinct identity key, preferring the most
// complete record and unioning pricing options across duplicates. Identity
// keys are assigned as a side effect. Output order follows first appearance
// of each key in the input.
func Resolve(variants []model.ExtractedVariant) []model.ExtractedVariant {
	byKey := make(map[string]model.ExtractedVariant, len(variants))
	firstSeen := make(map[string]int, len(variants))

	for i, v := range variants {
		v.IdentityKey = identity.Key(v)

		existing, ok := byKey[v.IdentityKey]
		if !ok {
			firstSeen[v.IdentityKey] = i
			byKey[v.IdentityKey] = v
			continue
		}
		byKey[v.IdentityKey] = merge(existing, v)
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return firstSeen[keys[i]] < firstSeen[keys[j]] })

	out := make([]model.ExtractedVariant, 0, len(keys))
	for _, k := range keys {
		out = append(out, byKey[k])
	}
	return out
}

// merge combines two records sharing an identity key. The more complete
// record wins as the base; on equal completeness the later record wins,
// since later parse passes tend to be corrections. Pricing options are
// always unioned, deduplicated by tier with last-write-wins for price.
func merge(earlier, later model.ExtractedVariant) model.ExtractedVariant {
	base, other := later, earlier
	if completeness(earlier) > completeness(later) {
		base, other = earlier, later
	}

	base.PricingOptions = unionPricing(earlier.PricingOptions, later.PricingOptions)

	// Fill gaps in the winning record from the losing one.
	if base.EngineSpec == "" {
		base.EngineSpec = other.EngineSpec
	}
	if base.Horsepower == 0 {
		base.Horsepower = other.Horsepower
	}
	if base.BatteryKwh == 0 {
		base.BatteryKwh = other.BatteryKwh
	}
	if base.Drivetrain == model.DrivetrainUnknown {
		base.Drivetrain = other.Drivetrain
	}
	if base.Transmission == model.TransmissionUnknown {
		base.Transmission = other.Transmission
	}
	return base
}

// completeness counts the non-empty optional fields of a variant, with
// pricing richness as a low-order component so it only breaks ties among
// records with equally many filled fields.
func completeness(v model.ExtractedVariant) int {
	score := 0
	if v.EngineSpec != "" {
		score += 1000
	}
	if v.Horsepower > 0 {
		score += 1000
	}
	if v.Powertrain == model.PowertrainElectric && v.BatteryKwh > 0 {
		score += 1000
	}
	if v.Drivetrain != model.DrivetrainUnknown {
		score += 1000
	}
	if v.Transmission != model.TransmissionUnknown {
		score += 1000
	}
	if len(v.PricingOptions) > 999 {
		return score + 999
	}
	return score + len(v.PricingOptions)
}

// unionPricing merges two pricing sets keyed by (periodMonths, annualKm),
// keeping input order of first appearance and letting the later set
// overwrite prices for overlapping tiers.
func unionPricing(earlier, later []model.PricingOption) []model.PricingOption {
	if len(earlier) == 0 {
		return later
	}

	byTier := make(map[model.PricingTier]int, len(earlier)+len(later))
	out := make([]model.PricingOption, 0, len(earlier)+len(later))
	for _, p := range earlier {
		if idx, ok := byTier[p.Tier()]; ok {
			out[idx] = p
			continue
		}
		byTier[p.Tier()] = len(out)
		out = append(out, p)
	}
	for _, p := range later {
		if idx, ok := byTier[p.Tier()]; ok {
			out[idx] = p
			continue
		}
		byTier[p.Tier()] = len(out)
		out = append(out, p)
	}
	return out
}
