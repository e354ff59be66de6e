package pipeline

import (
	"strconv"
	"strings"
	"time"

	"vyapaar/internal"
	"vyapaar/internal/util"
)

// Clean maps raw headers onto the canonical schema and coerces cell types.
// Unparsable counts become 0 and unparsable dates become nil; rows are never
// dropped. A *SchemaResolutionError is returned unchanged from ResolveColumns.
func Clean(raw internal.RawTable) (internal.SalesTable, error) {
	mapping, err := ResolveColumns(raw.Columns, SalesColumns)
	if err != nil {
		return internal.SalesTable{}, err
	}

	table := internal.SalesTable{Columns: append([]string(nil), SalesColumns...)}
	dateRef, hasDate := mapping[internal.ColDate]
	if hasDate {
		table.Columns = append(table.Columns, internal.ColDate)
	}

	extraIdx := make([]int, 0)
	seen := map[string]bool{}
	for i, col := range raw.Columns {
		if mapping.Claimed(i) {
			continue
		}
		col = uniqueName(col, seen)
		table.Extra = append(table.Extra, col)
		extraIdx = append(extraIdx, i)
	}

	product := mapping[internal.ColProduct].Index
	qty := mapping[internal.ColQuantitySold].Index
	stock := mapping[internal.ColStockLeft].Index
	customer := mapping[internal.ColCustomerID].Index

	table.Rows = make([]internal.SalesRow, 0, len(raw.Rows))
	for r := range raw.Rows {
		row := internal.SalesRow{
			Product:      strings.TrimSpace(raw.Cell(r, product)),
			QuantitySold: coerceCount(raw.Cell(r, qty)),
			StockLeft:    coerceCount(raw.Cell(r, stock)),
			CustomerID:   strings.TrimSpace(raw.Cell(r, customer)),
		}
		if hasDate {
			if d, ok := util.ParseDate(raw.Cell(r, dateRef.Index)); ok {
				row.Date = &d
			}
		}
		if len(extraIdx) > 0 {
			row.Extra = make(map[string]string, len(extraIdx))
			for j, idx := range extraIdx {
				row.Extra[table.Extra[j]] = raw.Cell(r, idx)
			}
		}
		table.Rows = append(table.Rows, row)
	}

	return table, nil
}

// uniqueName suffixes repeated headers as name.1, name.2 so every passthrough
// column keeps its own cells.
func uniqueName(name string, seen map[string]bool) string {
	candidate := name
	for n := 1; seen[candidate]; n++ {
		candidate = name + "." + strconv.Itoa(n)
	}
	seen[candidate] = true
	return candidate
}

func coerceCount(cell string) int {
	n, ok := util.ParseCount(cell)
	if !ok || n < 0 {
		return 0
	}
	return n
}

// ToRaw renders a cleaned table with canonical headers. Passthrough columns
// come first so canonical columns win any later header overwrite when the
// result is cleaned again.
func ToRaw(t internal.SalesTable) internal.RawTable {
	columns := make([]string, 0, len(t.Extra)+len(t.Columns))
	columns = append(columns, t.Extra...)
	columns = append(columns, t.Columns...)

	out := internal.RawTable{Columns: columns, Rows: make([][]string, 0, len(t.Rows))}
	for _, row := range t.Rows {
		cells := make([]string, 0, len(columns))
		for _, col := range t.Extra {
			cells = append(cells, row.Extra[col])
		}
		for _, col := range t.Columns {
			switch col {
			case internal.ColProduct:
				cells = append(cells, row.Product)
			case internal.ColQuantitySold:
				cells = append(cells, strconv.Itoa(row.QuantitySold))
			case internal.ColStockLeft:
				cells = append(cells, strconv.Itoa(row.StockLeft))
			case internal.ColCustomerID:
				cells = append(cells, row.CustomerID)
			case internal.ColDate:
				cells = append(cells, formatDate(row.Date))
			default:
				cells = append(cells, "")
			}
		}
		out.Rows = append(out.Rows, cells)
	}
	return out
}

func formatDate(d *time.Time) string {
	if d == nil {
		return ""
	}
	if d.Hour() == 0 && d.Minute() == 0 && d.Second() == 0 && d.Nanosecond() == 0 {
		return d.Format("2006-01-02")
	}
	return d.Format("2006-01-02 15:04:05")
}
