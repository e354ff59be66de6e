package pipeline

import (
	"fmt"
	"strings"

	"vyapaar/internal"
	"vyapaar/internal/util"
)

type keywordGroup struct {
	canonical string
	keywords  []string
}

// Tested in this order; the first group a column name hits claims it.
var columnGroups = []keywordGroup{
	{canonical: internal.ColProduct, keywords: []string{"product", "item", "sku"}},
	{canonical: internal.ColQuantitySold, keywords: []string{"quantity", "qty", "sold", "units"}},
	{canonical: internal.ColStockLeft, keywords: []string{"stock", "left", "remaining"}},
	{canonical: internal.ColCustomerID, keywords: []string{"customer", "buyer", "client", "id"}},
	{canonical: internal.ColDate, keywords: []string{"date", "created"}},
}

var priceKeywords = []string{"price"}

var (
	// SalesColumns must all resolve before a table can be cleaned.
	SalesColumns = []string{internal.ColProduct, internal.ColQuantitySold, internal.ColStockLeft, internal.ColCustomerID}
	// DemandColumns is the lighter requirement used when reading history for forecasts.
	DemandColumns = []string{internal.ColProduct, internal.ColQuantitySold}
)

// SchemaResolutionError lists the required canonical columns no raw header
// could be mapped to.
type SchemaResolutionError struct {
	Missing []string
}

func (e *SchemaResolutionError) Error() string {
	return fmt.Sprintf("missing important fields: [%s]", strings.Join(e.Missing, ", "))
}

// ColumnMapping maps a canonical column name to the index and raw header of
// the input column that claimed it.
type ColumnMapping map[string]ColumnRef

type ColumnRef struct {
	Index int
	Raw   string
}

func (m ColumnMapping) Has(canonical string) bool {
	_, ok := m[canonical]
	return ok
}

// Claimed reports whether the input column at index was mapped to a canonical
// name.
func (m ColumnMapping) Claimed(index int) bool {
	for _, ref := range m {
		if ref.Index == index {
			return true
		}
	}
	return false
}

// DetectColumns maps raw headers onto canonical names. A later header that
// hits an already claimed group replaces the earlier claim.
func DetectColumns(rawColumns []string) ColumnMapping {
	mapping := ColumnMapping{}
	for i, raw := range rawColumns {
		name := util.NormalizeColumnName(raw)
		if name == "" {
			continue
		}
		for _, group := range columnGroups {
			if util.ContainsAny(name, group.keywords) {
				mapping[group.canonical] = ColumnRef{Index: i, Raw: raw}
				break
			}
		}
	}
	return mapping
}

// ResolveColumns runs DetectColumns and fails with a *SchemaResolutionError
// when any of the required canonical names stayed unresolved.
func ResolveColumns(rawColumns []string, required []string) (ColumnMapping, error) {
	mapping := DetectColumns(rawColumns)
	missing := make([]string, 0)
	for _, name := range required {
		if !mapping.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return mapping, &SchemaResolutionError{Missing: missing}
	}
	return mapping, nil
}

// priceColumn returns the first passthrough column that looks like a unit
// price, or "".
func priceColumn(extra []string) string {
	for _, col := range extra {
		if util.ContainsAny(util.NormalizeColumnName(col), priceKeywords) {
			return col
		}
	}
	return ""
}
