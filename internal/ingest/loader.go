// Package ingest loads extraction-output documents into variant records.
// The upstream parser (PDF, spreadsheet, API - the loader does not care)
// exports either a JSON array or an XLSX sheet; rows that fail validation
// are reported and dropped so one bad row never sinks a parse pass.
package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/leasingborsen/lease-ingest/internal/model"
)

// RowError reports one rejected input row.
type RowError struct {
	Row int   `json:"row"`
	Err error `json:"-"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

// variantDoc is the wire form of one extracted variant. Monetary amounts
// arrive in major currency units (kroner, possibly fractional) and are
// converted to integer øre via decimal so no float artifacts survive.
type variantDoc struct {
	Make           string       `json:"make"`
	Model          string       `json:"model"`
	VariantName    string       `json:"variant_name"`
	EngineSpec     string       `json:"engine_spec"`
	Transmission   string       `json:"transmission"`
	Drivetrain     string       `json:"drivetrain"`
	Powertrain     string       `json:"powertrain"`
	Horsepower     int          `json:"horsepower"`
	BatteryKwh     float64      `json:"battery_kwh"`
	PricingOptions []pricingDoc `json:"pricing_options"`
}

type pricingDoc struct {
	MonthlyPrice json.Number `json:"monthly_price"`
	FirstPayment json.Number `json:"first_payment"`
	PeriodMonths int         `json:"period_months"`
	AnnualKm     int         `json:"annual_km"`
}

// LoadFile dispatches on the file extension.
func LoadFile(path string) ([]model.ExtractedVariant, []RowError, error) {
	switch {
	case strings.HasSuffix(path, ".json"):
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, eris.Wrap(err, "ingest: open json")
		}
		defer f.Close()
		return LoadJSON(f)
	case strings.HasSuffix(path, ".xlsx"):
		return LoadXLSX(path)
	default:
		return nil, nil, eris.Errorf("ingest: unsupported file type %q", path)
	}
}

// LoadJSON decodes a JSON array of extracted variants. Valid variants and
// per-row rejections are returned together; the error return is reserved
// for undecodable input.
func LoadJSON(r io.Reader) ([]model.ExtractedVariant, []RowError, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var docs []variantDoc
	if err := dec.Decode(&docs); err != nil {
		return nil, nil, eris.Wrap(err, "ingest: decode json")
	}

	var variants []model.ExtractedVariant
	var rejects []RowError
	for i, d := range docs {
		v, err := d.toVariant()
		if err != nil {
			rejects = append(rejects, RowError{Row: i + 1, Err: err})
			continue
		}
		variants = append(variants, v)
	}
	return variants, rejects, nil
}

func (d variantDoc) toVariant() (model.ExtractedVariant, error) {
	v := model.ExtractedVariant{
		Make:         strings.TrimSpace(d.Make),
		Model:        strings.TrimSpace(d.Model),
		VariantName:  strings.TrimSpace(d.VariantName),
		EngineSpec:   strings.TrimSpace(d.EngineSpec),
		Transmission: parseTransmission(d.Transmission),
		Drivetrain:   parseDrivetrain(d.Drivetrain),
		Powertrain:   model.Powertrain(strings.ToLower(strings.TrimSpace(d.Powertrain))),
		Horsepower:   d.Horsepower,
		BatteryKwh:   d.BatteryKwh,
	}

	switch v.Powertrain {
	case model.PowertrainGasoline, model.PowertrainDiesel, model.PowertrainHybrid, model.PowertrainElectric:
	case "":
		return v, eris.Wrap(model.ErrValidation, "variant missing powertrain")
	default:
		return v, eris.Wrapf(model.ErrValidation, "unknown powertrain %q", d.Powertrain)
	}

	for _, p := range d.PricingOptions {
		monthly, err := toMinorUnits(p.MonthlyPrice)
		if err != nil {
			return v, eris.Wrap(err, "monthly price")
		}
		first, err := toMinorUnits(p.FirstPayment)
		if err != nil {
			return v, eris.Wrap(err, "first payment")
		}
		v.PricingOptions = append(v.PricingOptions, model.PricingOption{
			MonthlyPrice: monthly,
			FirstPayment: first,
			PeriodMonths: p.PeriodMonths,
			AnnualKm:     p.AnnualKm,
		})
	}

	if err := v.Validate(); err != nil {
		return v, err
	}
	return v, nil
}

// toMinorUnits converts a major-unit amount ("3999" or "3999.50") to øre.
func toMinorUnits(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return 0, eris.Wrapf(model.ErrValidation, "amount %q: %v", n, err)
	}
	ore := d.Mul(decimal.NewFromInt(100))
	if !ore.IsInteger() {
		return 0, eris.Wrapf(model.ErrValidation, "amount %q has sub-øre precision", n)
	}
	return ore.IntPart(), nil
}

func parseTransmission(s string) model.Transmission {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "manual":
		return model.TransmissionManual
	case "automatic", "auto":
		return model.TransmissionAutomatic
	default:
		return model.TransmissionUnknown
	}
}

func parseDrivetrain(s string) model.Drivetrain {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fwd":
		return model.DrivetrainFWD
	case "awd", "4wd":
		return model.DrivetrainAWD
	default:
		return model.DrivetrainUnknown
	}
}

// jsonNumber normalizes a spreadsheet cell ("3.999,50" or "3999.5") into
// a json.Number for the shared minor-unit conversion.
func jsonNumber(s string) json.Number {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	return json.Number(s)
}

func parseInt(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func parseFloat(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
