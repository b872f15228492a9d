package ingest

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/leasingborsen/lease-ingest/internal/model"
)

// Expected header columns. One sheet row carries one pricing option; rows
// sharing make/model/variant/engine are folded into a single variant.
var xlsxColumns = []string{
	"make", "model", "variant_name", "engine_spec",
	"transmission", "drivetrain", "powertrain",
	"horsepower", "battery_kwh",
	"monthly_price", "first_payment", "period_months", "annual_km",
}

// LoadXLSX reads an extraction sheet. The first row must be a header
// naming the columns above in any order; unknown columns are ignored.
func LoadXLSX(path string) ([]model.ExtractedVariant, []RowError, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "ingest: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, nil, eris.New("ingest: xlsx has no sheets")
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, nil, eris.New("ingest: xlsx sheet is empty")
	}

	cols, err := headerIndex(sheet.Rows[0])
	if err != nil {
		return nil, nil, err
	}

	// Preserve first-appearance order of variants while folding rows.
	var order []string
	grouped := make(map[string]*variantDoc)
	firstRow := make(map[string]int)
	var rejects []RowError

	for i, row := range sheet.Rows[1:] {
		rowNum := i + 2
		cells := rowToStrings(row)
		if blankRow(cells) {
			continue
		}

		cell := func(name string) string {
			idx, ok := cols[name]
			if !ok || idx >= len(cells) {
				return ""
			}
			return cells[idx]
		}

		key := strings.ToLower(strings.Join([]string{
			cell("make"), cell("model"), cell("variant_name"), cell("engine_spec"),
		}, "|"))

		doc, ok := grouped[key]
		if !ok {
			doc = &variantDoc{
				Make:         cell("make"),
				Model:        cell("model"),
				VariantName:  cell("variant_name"),
				EngineSpec:   cell("engine_spec"),
				Transmission: cell("transmission"),
				Drivetrain:   cell("drivetrain"),
				Powertrain:   cell("powertrain"),
				Horsepower:   parseInt(cell("horsepower")),
				BatteryKwh:   parseFloat(cell("battery_kwh")),
			}
			grouped[key] = doc
			firstRow[key] = rowNum
			order = append(order, key)
		}

		monthly := strings.TrimSpace(cell("monthly_price"))
		if monthly != "" {
			doc.PricingOptions = append(doc.PricingOptions, pricingDoc{
				MonthlyPrice: jsonNumber(monthly),
				FirstPayment: jsonNumber(cell("first_payment")),
				PeriodMonths: parseInt(cell("period_months")),
				AnnualKm:     parseInt(cell("annual_km")),
			})
		}
	}

	var variants []model.ExtractedVariant
	for _, key := range order {
		v, err := grouped[key].toVariant()
		if err != nil {
			rejects = append(rejects, RowError{Row: firstRow[key], Err: err})
			continue
		}
		variants = append(variants, v)
	}
	return variants, rejects, nil
}

func headerIndex(row *xlsx.Row) (map[string]int, error) {
	cols := make(map[string]int)
	for j, cell := range row.Cells {
		name := strings.ToLower(strings.TrimSpace(cell.String()))
		if name != "" {
			cols[name] = j
		}
	}
	for _, required := range []string{"make", "model", "variant_name", "powertrain"} {
		if _, ok := cols[required]; !ok {
			return nil, eris.Errorf("ingest: xlsx header missing column %q", required)
		}
	}
	return cols, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
