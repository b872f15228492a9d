package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasingborsen/lease-ingest/internal/model"
)

func extractedYaris(hp int) model.ExtractedVariant {
	return model.ExtractedVariant{
		Make:         "Toyota",
		Model:        "Yaris",
		VariantName:  "Active",
		Powertrain:   model.PowertrainGasoline,
		Transmission: model.TransmissionManual,
		Drivetrain:   model.DrivetrainFWD,
		Horsepower:   hp,
		PricingOptions: []model.PricingOption{
			{MonthlyPrice: 299900, FirstPayment: 499500, PeriodMonths: 36, AnnualKm: 15000},
		},
	}
}

func storedYaris(id string, hp int) model.StoredListing {
	return model.StoredListing{
		ID:           id,
		SellerID:     "seller-1",
		Make:         "Toyota",
		Model:        "Yaris",
		VariantName:  "Active",
		Powertrain:   model.PowertrainGasoline,
		Transmission: model.TransmissionManual,
		Drivetrain:   model.DrivetrainFWD,
		Horsepower:   hp,
		PricingRecords: []model.PricingOption{
			{MonthlyPrice: 299900, FirstPayment: 499500, PeriodMonths: 36, AnnualKm: 15000},
		},
	}
}

func TestCompareClassifiesEveryVariant(t *testing.T) {
	unchanged := extractedYaris(116)

	updated := extractedYaris(116)
	updated.Model = "Corolla"
	updated.PricingOptions[0].MonthlyPrice = 349900

	fresh := model.ExtractedVariant{
		Make:        "Toyota",
		Model:       "bZ4X",
		VariantName: "Executive",
		Powertrain:  model.PowertrainElectric,
		Drivetrain:  model.DrivetrainAWD,
		Horsepower:  343,
		BatteryKwh:  74,
	}

	stored := []model.StoredListing{
		storedYaris("keep", 116),
		func() model.StoredListing {
			l := storedYaris("update-me", 116)
			l.Model = "Corolla"
			return l
		}(),
		func() model.StoredListing {
			l := storedYaris("delete-me", 192)
			l.Model = "Supra"
			return l
		}(),
	}

	res := Compare([]model.ExtractedVariant{unchanged, updated, fresh}, stored, "seller-1")

	require.Len(t, res.Unchanged, 1)
	assert.Equal(t, "keep", res.Unchanged[0].ListingID)

	byType := map[model.ChangeType][]model.ChangeProposal{}
	for _, p := range res.Proposals {
		byType[p.Type] = append(byType[p.Type], p)
	}
	require.Len(t, byType[model.ChangeCreate], 1)
	require.Len(t, byType[model.ChangeUpdate], 1)
	require.Len(t, byType[model.ChangeDelete], 1)

	create := byType[model.ChangeCreate][0]
	assert.Equal(t, "bZ4X", create.Extracted.Model)
	assert.Empty(t, create.ExistingListingID)

	update := byType[model.ChangeUpdate][0]
	assert.Equal(t, "update-me", update.ExistingListingID)
	require.Contains(t, update.FieldDiff, "pricing_options")

	del := byType[model.ChangeDelete][0]
	assert.Equal(t, "delete-me", del.ExistingListingID)
	assert.InDelta(t, 1.0, del.Confidence, 0.001)
	assert.Nil(t, del.Extracted)
}

func TestCompareIgnoresOtherSellers(t *testing.T) {
	other := storedYaris("foreign", 116)
	other.SellerID = "seller-2"

	res := Compare(nil, []model.StoredListing{other}, "seller-1")
	assert.Empty(t, res.Proposals)
	assert.Empty(t, res.Unchanged)
}

func TestCompareDuplicateStoredKeys(t *testing.T) {
	// Two stored rows with the same identity: the first is the match, the
	// second falls through to a delete candidate.
	a := storedYaris("first", 116)
	b := storedYaris("second", 116)

	res := Compare([]model.ExtractedVariant{extractedYaris(116)}, []model.StoredListing{a, b}, "seller-1")

	require.Len(t, res.Unchanged, 1)
	assert.Equal(t, "first", res.Unchanged[0].ListingID)
	require.Len(t, res.Proposals, 1)
	assert.Equal(t, model.ChangeDelete, res.Proposals[0].Type)
	assert.Equal(t, "second", res.Proposals[0].ExistingListingID)
}

func TestDiffFields(t *testing.T) {
	v := extractedYaris(125)
	v.EngineSpec = "1.5 benzin"
	l := storedYaris("l1", 116)

	d := diffFields(v, l)
	require.Contains(t, d, "horsepower")
	assert.Equal(t, 116, d["horsepower"].Old)
	assert.Equal(t, 125, d["horsepower"].New)
	require.Contains(t, d, "engine_spec")
	assert.NotContains(t, d, "make")
	assert.NotContains(t, d, "pricing_options")
}

func TestPricingEqualIgnoresOrder(t *testing.T) {
	a := []model.PricingOption{
		{MonthlyPrice: 1, PeriodMonths: 36, AnnualKm: 15000},
		{MonthlyPrice: 2, PeriodMonths: 36, AnnualKm: 20000},
	}
	b := []model.PricingOption{
		{MonthlyPrice: 2, PeriodMonths: 36, AnnualKm: 20000},
		{MonthlyPrice: 1, PeriodMonths: 36, AnnualKm: 15000},
	}
	assert.True(t, pricingEqual(a, b))

	b[0].MonthlyPrice = 3
	assert.False(t, pricingEqual(a, b))

	assert.False(t, pricingEqual(a, a[:1]))
	assert.True(t, pricingEqual(nil, nil))
}

func TestConfidence(t *testing.T) {
	full := extractedYaris(116)
	assert.InDelta(t, 1.0, Confidence(full), 0.001)

	noHP := extractedYaris(0)
	assert.InDelta(t, 0.9, Confidence(noHP), 0.001)

	electric := model.ExtractedVariant{
		Make:        "Toyota",
		Model:       "bZ4X",
		VariantName: "Active",
		Powertrain:  model.PowertrainElectric,
		Drivetrain:  model.DrivetrainUnknown,
	}
	// Missing horsepower, battery and drivetrain.
	assert.InDelta(t, 0.7, Confidence(electric), 0.001)
}

func TestCompareUsesPrecomputedIdentityKey(t *testing.T) {
	v := extractedYaris(116)
	v.IdentityKey = "custom_key_that_matches_nothing"

	res := Compare([]model.ExtractedVariant{v}, []model.StoredListing{storedYaris("l1", 116)}, "seller-1")

	// The precomputed key is trusted, so the stored listing goes unclaimed.
	byType := map[model.ChangeType]int{}
	for _, p := range res.Proposals {
		byType[p.Type]++
	}
	assert.Equal(t, 1, byType[model.ChangeCreate])
	assert.Equal(t, 1, byType[model.ChangeDelete])
}
