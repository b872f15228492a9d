// Package model defines the data shapes shared by the extraction
// reconciliation pipeline: extracted variants, stored listings, change
// proposals and extraction sessions.
package model

import (
	"github.com/rotisserie/eris"
)

// Transmission is the gearbox type of a variant.
type Transmission string

const (
	TransmissionManual    Transmission = "manual"
	TransmissionAutomatic Transmission = "automatic"
	TransmissionUnknown   Transmission = "unknown"
)

// Drivetrain is the driven-axle configuration of a variant.
type Drivetrain string

const (
	DrivetrainFWD     Drivetrain = "fwd"
	DrivetrainAWD     Drivetrain = "awd"
	DrivetrainUnknown Drivetrain = "unknown"
)

// Powertrain categorizes the propulsion type of a variant.
type Powertrain string

const (
	PowertrainGasoline Powertrain = "gasoline"
	PowertrainDiesel   Powertrain = "diesel"
	PowertrainHybrid   Powertrain = "hybrid"
	PowertrainElectric Powertrain = "electric"
)

// PricingTier identifies one lease offer tier within a variant.
// Two offers with the same tier are the same offer; the price may differ
// between parse passes, in which case the later price wins.
type PricingTier struct {
	PeriodMonths int `json:"period_months"`
	AnnualKm     int `json:"annual_km"`
}

// PricingOption is one lease offer attached to a variant. Monetary amounts
// are integer minor-currency units (øre) so equality is exact.
type PricingOption struct {
	MonthlyPrice int64 `json:"monthly_price"`
	FirstPayment int64 `json:"first_payment"`
	PeriodMonths int   `json:"period_months"`
	AnnualKm     int   `json:"annual_km"`
}

// Tier returns the offer tier this option belongs to.
func (p PricingOption) Tier() PricingTier {
	return PricingTier{PeriodMonths: p.PeriodMonths, AnnualKm: p.AnnualKm}
}

// ExtractedVariant is one vehicle configuration parsed from a dealer price
// sheet. It is the transient input form; persisted listings are StoredListing.
type ExtractedVariant struct {
	Make           string          `json:"make"`
	Model          string          `json:"model"`
	VariantName    string          `json:"variant_name"`
	EngineSpec     string          `json:"engine_spec,omitempty"`
	Transmission   Transmission    `json:"transmission,omitempty"`
	Drivetrain     Drivetrain      `json:"drivetrain,omitempty"`
	Powertrain     Powertrain      `json:"powertrain"`
	Horsepower     int             `json:"horsepower,omitempty"`
	BatteryKwh     float64         `json:"battery_kwh,omitempty"`
	PricingOptions []PricingOption `json:"pricing_options,omitempty"`

	// IdentityKey is derived by identity.Key, never supplied by the parser.
	IdentityKey string `json:"identity_key,omitempty"`
}

// Validate checks the fields the pipeline cannot proceed without. Rows that
// fail validation are rejected at ingestion and never reach the comparator.
func (v *ExtractedVariant) Validate() error {
	switch {
	case v.Make == "":
		return eris.Wrap(ErrValidation, "variant missing make")
	case v.Model == "":
		return eris.Wrap(ErrValidation, "variant missing model")
	case v.VariantName == "":
		return eris.Wrap(ErrValidation, "variant missing variant name")
	}
	if v.Transmission == "" {
		v.Transmission = TransmissionUnknown
	}
	if v.Drivetrain == "" {
		v.Drivetrain = DrivetrainUnknown
	}
	return nil
}

// PricingByTier indexes pricing options by tier, later entries winning.
func (v *ExtractedVariant) PricingByTier() map[PricingTier]PricingOption {
	m := make(map[PricingTier]PricingOption, len(v.PricingOptions))
	for _, p := range v.PricingOptions {
		m[p.Tier()] = p
	}
	return m
}
