package dedupe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasingborsen/lease-ingest/internal/model"
)

func yaris(name string, hp int) model.ExtractedVariant {
	return model.ExtractedVariant{
		Make:         "Toyota",
		Model:        "Yaris",
		VariantName:  name,
		Powertrain:   model.PowertrainGasoline,
		Transmission: model.TransmissionManual,
		Drivetrain:   model.DrivetrainFWD,
		Horsepower:   hp,
	}
}

func TestResolveAssignsKeysAndKeepsDistinct(t *testing.T) {
	in := []model.ExtractedVariant{yaris("Active", 116), yaris("Style", 125)}
	out := Resolve(in)

	require.Len(t, out, 2)
	assert.NotEmpty(t, out[0].IdentityKey)
	assert.NotEmpty(t, out[1].IdentityKey)
	assert.NotEqual(t, out[0].IdentityKey, out[1].IdentityKey)
}

func TestResolveCollapsesDuplicates(t *testing.T) {
	a := yaris("Active", 116)
	a.PricingOptions = []model.PricingOption{
		{MonthlyPrice: 299900, PeriodMonths: 36, AnnualKm: 15000},
	}
	b := yaris("Active", 116)
	b.PricingOptions = []model.PricingOption{
		{MonthlyPrice: 319900, PeriodMonths: 36, AnnualKm: 20000},
	}

	out := Resolve([]model.ExtractedVariant{a, b})
	require.Len(t, out, 1)
	assert.Len(t, out[0].PricingOptions, 2)
}

func TestResolvePreservesFirstAppearanceOrder(t *testing.T) {
	in := []model.ExtractedVariant{
		yaris("Style", 125),
		yaris("Active", 116),
		yaris("Style", 125),
		yaris("Premium", 130),
	}
	out := Resolve(in)
	require.Len(t, out, 3)
	assert.Equal(t, "Style", out[0].VariantName)
	assert.Equal(t, "Active", out[1].VariantName)
	assert.Equal(t, "Premium", out[2].VariantName)
}

func TestMergePrefersMoreComplete(t *testing.T) {
	sparse := yaris("Active", 116)

	rich := yaris("Active", 116)
	rich.EngineSpec = "1.5 benzin"

	out := Resolve([]model.ExtractedVariant{rich, sparse})
	require.Len(t, out, 1)
	assert.Equal(t, "1.5 benzin", out[0].EngineSpec)
}

func TestMergeLaterWinsOnTie(t *testing.T) {
	first := yaris("Active", 116)
	first.EngineSpec = "1.5 benzin 3-cyl"
	second := yaris("Active", 116)
	second.EngineSpec = "1.5 benzin"

	out := Resolve([]model.ExtractedVariant{first, second})
	require.Len(t, out, 1)
	assert.Equal(t, "1.5 benzin", out[0].EngineSpec)
}

func TestMergeFillsGapsFromLoser(t *testing.T) {
	withBattery := model.ExtractedVariant{
		Make:         "Toyota",
		Model:        "bZ4X",
		VariantName:  "Active",
		Powertrain:   model.PowertrainElectric,
		Transmission: model.TransmissionAutomatic,
		Drivetrain:   model.DrivetrainAWD,
		Horsepower:   224,
		BatteryKwh:   74,
		EngineSpec:   "160 kW motor",
	}
	withoutEngine := withBattery
	withoutEngine.EngineSpec = ""

	out := Resolve([]model.ExtractedVariant{withoutEngine, withBattery})
	require.Len(t, out, 1)
	assert.Equal(t, "160 kW motor", out[0].EngineSpec)
	assert.InDelta(t, 74.0, out[0].BatteryKwh, 0.001)
}

func TestUnionPricingLastWriteWins(t *testing.T) {
	earlier := []model.PricingOption{
		{MonthlyPrice: 299900, PeriodMonths: 36, AnnualKm: 15000},
		{MonthlyPrice: 319900, PeriodMonths: 36, AnnualKm: 20000},
	}
	later := []model.PricingOption{
		{MonthlyPrice: 309900, PeriodMonths: 36, AnnualKm: 15000},
	}

	out := unionPricing(earlier, later)
	require.Len(t, out, 2)
	assert.Equal(t, int64(309900), out[0].MonthlyPrice)
	assert.Equal(t, int64(319900), out[1].MonthlyPrice)
}

func TestResolveEmptyInput(t *testing.T) {
	assert.Empty(t, Resolve(nil))
}
