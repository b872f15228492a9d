// Package identity derives stable, content-based keys for vehicle variants.
// The same variant extracted from two different parse runs must map to the
// same key, while genuinely distinct configurations (manual vs automatic,
// different motor power on a shared battery) must stay distinguishable.
package identity

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/leasingborsen/lease-ingest/internal/model"
)

var wordRe = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// automaticMarkers are free-text fragments that encode an automatic gearbox
// in Danish and English price-sheet engine descriptions. Structured
// transmission fields are frequently missing for gasoline variants, so the
// engine text is the only signal.
var automaticMarkers = []string{
	"automatgear",
	"automatic",
	"automatik",
	"aut.",
	"cvt",
	"dsg",
}

var manualMarkers = []string{
	"manual",
	"manuel",
}

// Key derives the identity key for a variant. It is a pure function and
// never fails: when every differentiator is missing it degrades to a
// normalized variant-name fallback so a key always exists.
func Key(v model.ExtractedVariant) string {
	transmission := ResolveTransmission(v)

	hasBattery := v.Powertrain == model.PowertrainElectric && v.BatteryKwh > 0
	if transmission == model.TransmissionUnknown &&
		v.Drivetrain == model.DrivetrainUnknown &&
		v.Horsepower == 0 && !hasBattery {
		// Malformed input: nothing differentiates trims, so key on the raw
		// variant name. Weaker dedup, but review still gets a result set.
		return modelToken(v.Model) + "_" + nameToken(v.VariantName)
	}

	tokens := []string{
		modelToken(v.Model),
		string(transmission),
		string(v.Drivetrain),
		string(v.Powertrain),
	}

	if v.Powertrain == model.PowertrainElectric {
		// Power differentiates electric trims that share a battery, and the
		// battery differentiates trims that share motor power.
		if hasBattery {
			tokens = append(tokens, strconv.Itoa(int(v.BatteryKwh+0.5))+"kwh")
		}
		tokens = append(tokens, strconv.Itoa(v.Horsepower)+"hp")
	} else {
		tokens = append(tokens, strconv.Itoa(v.Horsepower)+"hp")
	}

	return strings.Join(tokens, "_")
}

// ResolveTransmission returns the transmission for identity purposes: the
// structured field when present, otherwise a marker sniffed from the engine
// spec and variant name. Gasoline variants without an explicit automatic
// marker default to manual, matching how dealer sheets omit the gearbox for
// base manual trims.
func ResolveTransmission(v model.ExtractedVariant) model.Transmission {
	if v.Transmission == model.TransmissionManual || v.Transmission == model.TransmissionAutomatic {
		return v.Transmission
	}

	text := strings.ToLower(v.EngineSpec + " " + v.VariantName)
	for _, m := range automaticMarkers {
		if strings.Contains(text, m) {
			return model.TransmissionAutomatic
		}
	}
	for _, m := range manualMarkers {
		if strings.Contains(text, m) {
			return model.TransmissionManual
		}
	}
	if v.Powertrain == model.PowertrainGasoline && v.EngineSpec != "" {
		return model.TransmissionManual
	}
	return model.TransmissionUnknown
}

// modelToken lower-cases a model name and strips whitespace and dashes, so
// "AYGO X" and "Aygo-X" collapse to "aygox".
func modelToken(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))
	s = strings.NewReplacer(" ", "", "-", "", "\t", "").Replace(s)
	return s
}

// nameToken normalizes a free-text variant name: unicode-normalized,
// lower-cased, punctuation stripped, word-separated by underscores.
func nameToken(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))
	s = wordRe.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}
