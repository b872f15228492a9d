package model

import "time"

// StoredListing is a persisted listing entity owned by the datastore. The
// pipeline reads it for comparison and mutates it only through the apply
// engine. Pricing rows are owned exclusively by their listing and are
// cascade-deleted with it.
type StoredListing struct {
	ID             string          `json:"id"`
	SellerID       string          `json:"seller_id"`
	Make           string          `json:"make"`
	Model          string          `json:"model"`
	VariantName    string          `json:"variant_name"`
	EngineSpec     string          `json:"engine_spec,omitempty"`
	Transmission   Transmission    `json:"transmission"`
	Drivetrain     Drivetrain      `json:"drivetrain"`
	Powertrain     Powertrain      `json:"powertrain"`
	Horsepower     int             `json:"horsepower,omitempty"`
	BatteryKwh     float64         `json:"battery_kwh,omitempty"`
	PricingRecords []PricingOption `json:"pricing_records,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Variant returns the extracted-variant view of a stored listing, used to
// recompute its identity key with the same function applied to fresh parses.
func (l *StoredListing) Variant() ExtractedVariant {
	return ExtractedVariant{
		Make:           l.Make,
		Model:          l.Model,
		VariantName:    l.VariantName,
		EngineSpec:     l.EngineSpec,
		Transmission:   l.Transmission,
		Drivetrain:     l.Drivetrain,
		Powertrain:     l.Powertrain,
		Horsepower:     l.Horsepower,
		BatteryKwh:     l.BatteryKwh,
		PricingOptions: l.PricingRecords,
	}
}
