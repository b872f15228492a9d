// Package diff compares a deduplicated parse pass against the listings
// currently stored for a seller and classifies every variant as a create,
// update, unchanged or delete candidate.
package diff

import (
	"github.com/leasingborsen/lease-ingest/internal/identity"
	"github.com/leasingborsen/lease-ingest/internal/model"
)

// Match records an extracted variant that is value-equal to its stored
// counterpart. Unchanged pairs are informational only and never become
// proposals.
type Match struct {
	ListingID   string `json:"listing_id"`
	IdentityKey string `json:"identity_key"`
}

// Result is the outcome of one comparison pass.
type Result struct {
	Proposals []model.ChangeProposal `json:"proposals"`
	Unchanged []Match                `json:"unchanged"`
}

// Compare matches extracted variants against stored listings for one seller.
// A stored listing matches an extracted variant iff the identity keys are
// equal; identity is recomputed on the stored side with the same function
// used at extraction so both sides normalize identically. Unmatched
// extracted variants become creates, differing matches become updates with a
// field-level diff, and stored listings no extracted variant claimed become
// delete candidates.
func Compare(extracted []model.ExtractedVariant, stored []model.StoredListing, sellerID string) Result {
	type storedEntry struct {
		listing model.StoredListing
		key     string
		claimed bool
	}

	entries := make([]*storedEntry, 0, len(stored))
	byKey := make(map[string]*storedEntry, len(stored))
	for _, l := range stored {
		if l.SellerID != sellerID {
			continue
		}
		e := &storedEntry{listing: l, key: identity.Key(l.Variant())}
		entries = append(entries, e)
		if _, dup := byKey[e.key]; !dup {
			// At most one listing per (seller, identity) matches; later rows
			// with the same key are legacy duplicates and fall through to
			// delete candidates.
			byKey[e.key] = e
		}
	}

	var res Result
	for _, v := range extracted {
		if v.IdentityKey == "" {
			v.IdentityKey = identity.Key(v)
		}

		entry, ok := byKey[v.IdentityKey]
		if !ok {
			res.Proposals = append(res.Proposals, model.ChangeProposal{
				Type:       model.ChangeCreate,
				Status:     model.ProposalPending,
				Extracted:  cloneVariant(v),
				Confidence: Confidence(v),
			})
			continue
		}
		entry.claimed = true

		fieldDiff := diffFields(v, entry.listing)
		if len(fieldDiff) == 0 {
			res.Unchanged = append(res.Unchanged, Match{
				ListingID:   entry.listing.ID,
				IdentityKey: v.IdentityKey,
			})
			continue
		}
		res.Proposals = append(res.Proposals, model.ChangeProposal{
			Type:              model.ChangeUpdate,
			Status:            model.ProposalPending,
			ExistingListingID: entry.listing.ID,
			Extracted:         cloneVariant(v),
			FieldDiff:         fieldDiff,
			Confidence:        Confidence(v),
		})
	}

	for _, e := range entries {
		if e.claimed {
			continue
		}
		res.Proposals = append(res.Proposals, model.ChangeProposal{
			Type:              model.ChangeDelete,
			Status:            model.ProposalPending,
			ExistingListingID: e.listing.ID,
			Confidence:        1.0,
		})
	}
	return res
}

// Confidence scores how complete the extracted side is: 1.0 minus 0.1 per
// missing optional field (horsepower, battery for electric, drivetrain),
// floored at 0.5. Used only to pre-select proposals for the reviewer.
func Confidence(v model.ExtractedVariant) float64 {
	score := 1.0
	if v.Horsepower == 0 {
		score -= 0.1
	}
	if v.Powertrain == model.PowertrainElectric && v.BatteryKwh == 0 {
		score -= 0.1
	}
	if v.Drivetrain == model.DrivetrainUnknown {
		score -= 0.1
	}
	if score < 0.5 {
		return 0.5
	}
	return score
}

// diffFields compares the extracted variant against its stored match
// field by field. Strings compare case-sensitively on already-normalized
// text; prices compare exactly in integer minor units. The pricing-option
// set reports as a single entry, not per tier.
func diffFields(v model.ExtractedVariant, l model.StoredListing) map[string]model.FieldChange {
	d := make(map[string]model.FieldChange)

	if v.Make != l.Make {
		d["make"] = model.FieldChange{Old: l.Make, New: v.Make}
	}
	if v.Model != l.Model {
		d["model"] = model.FieldChange{Old: l.Model, New: v.Model}
	}
	if v.VariantName != l.VariantName {
		d["variant_name"] = model.FieldChange{Old: l.VariantName, New: v.VariantName}
	}
	if v.EngineSpec != l.EngineSpec {
		d["engine_spec"] = model.FieldChange{Old: l.EngineSpec, New: v.EngineSpec}
	}
	if v.Transmission != l.Transmission {
		d["transmission"] = model.FieldChange{Old: l.Transmission, New: v.Transmission}
	}
	if v.Drivetrain != l.Drivetrain {
		d["drivetrain"] = model.FieldChange{Old: l.Drivetrain, New: v.Drivetrain}
	}
	if v.Powertrain != l.Powertrain {
		d["powertrain"] = model.FieldChange{Old: l.Powertrain, New: v.Powertrain}
	}
	if v.Horsepower != l.Horsepower {
		d["horsepower"] = model.FieldChange{Old: l.Horsepower, New: v.Horsepower}
	}
	if v.BatteryKwh != l.BatteryKwh {
		d["battery_kwh"] = model.FieldChange{Old: l.BatteryKwh, New: v.BatteryKwh}
	}
	if !pricingEqual(v.PricingOptions, l.PricingRecords) {
		d["pricing_options"] = model.FieldChange{Old: l.PricingRecords, New: v.PricingOptions}
	}
	return d
}

// pricingEqual compares two pricing sets by tier, ignoring order.
func pricingEqual(a, b []model.PricingOption) bool {
	am := tiersOf(a)
	bm := tiersOf(b)
	if len(am) != len(bm) {
		return false
	}
	for tier, pa := range am {
		pb, ok := bm[tier]
		if !ok || pa != pb {
			return false
		}
	}
	return true
}

func tiersOf(opts []model.PricingOption) map[model.PricingTier]model.PricingOption {
	m := make(map[model.PricingTier]model.PricingOption, len(opts))
	for _, p := range opts {
		m[p.Tier()] = p
	}
	return m
}

func cloneVariant(v model.ExtractedVariant) *model.ExtractedVariant {
	c := v
	c.PricingOptions = append([]model.PricingOption(nil), v.PricingOptions...)
	return &c
}
