package pipeline

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"

	"vyapaar/internal"
	"vyapaar/internal/util"
)

const (
	reasonTopSelling   = "'product' or 'quantity_sold' column missing"
	reasonLowStock     = "'stock_left' column missing"
	reasonFrequent     = "'customer_id' column missing"
	reasonMonthlyTrend = "'date' or 'quantity_sold' column missing"
	reasonRevenue      = "'unit_price' column missing"
)

// Insight holds either an analytic's value or the reason it could not be
// computed. It marshals to the bare value or the bare reason string.
type Insight[T any] struct {
	value  T
	reason string
	ok     bool
}

func Available[T any](v T) Insight[T] {
	return Insight[T]{value: v, ok: true}
}

func Unavailable[T any](reason string) Insight[T] {
	return Insight[T]{reason: reason}
}

func (i Insight[T]) Get() (T, bool) {
	return i.value, i.ok
}

func (i Insight[T]) Reason() string {
	return i.reason
}

func (i Insight[T]) MarshalJSON() ([]byte, error) {
	if !i.ok {
		return json.Marshal(i.reason)
	}
	return json.Marshal(i.value)
}

type Entry[V any] struct {
	Key   string
	Value V
}

// Ranking is an ordered key/value list. It marshals as a JSON object whose key
// order follows the ranking.
type Ranking[V any] []Entry[V]

func (r Ranking[V]) Keys() []string {
	out := make([]string, 0, len(r))
	for _, e := range r {
		out = append(out, e.Key)
	}
	return out
}

func (r Ranking[V]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type Insights struct {
	TopSellingProducts Insight[Ranking[int]]     `json:"top_selling_products"`
	LowStockAlerts     Insight[[]string]         `json:"low_stock_alerts"`
	FrequentCustomers  Insight[Ranking[int]]     `json:"frequent_customers"`
	MonthlySalesTrend  Insight[Ranking[int]]     `json:"monthly_sales_trend"`
	TopRevenueProducts Insight[Ranking[float64]] `json:"top_revenue_products"`
}

type InsightOptions struct {
	TopProducts   int
	TopCustomers  int
	TopRevenue    int
	LowStockBelow int
}

func DefaultInsightOptions() InsightOptions {
	return InsightOptions{TopProducts: 5, TopCustomers: 3, TopRevenue: 5, LowStockBelow: 5}
}

func ComputeInsights(t internal.SalesTable) Insights {
	return ComputeInsightsWith(t, DefaultInsightOptions())
}

// ComputeInsightsWith runs the five analytics independently; a missing input
// column only marks its own analytic unavailable.
func ComputeInsightsWith(t internal.SalesTable, opts InsightOptions) Insights {
	return Insights{
		TopSellingProducts: topSellingProducts(t, opts.TopProducts),
		LowStockAlerts:     lowStockAlerts(t, opts.LowStockBelow),
		FrequentCustomers:  frequentCustomers(t, opts.TopCustomers),
		MonthlySalesTrend:  monthlySalesTrend(t),
		TopRevenueProducts: topRevenueProducts(t, opts.TopRevenue),
	}
}

func topSellingProducts(t internal.SalesTable, limit int) Insight[Ranking[int]] {
	if !t.Has(internal.ColProduct) || !t.Has(internal.ColQuantitySold) {
		return Unavailable[Ranking[int]](reasonTopSelling)
	}
	totals := map[string]int{}
	for _, row := range t.Rows {
		if row.Product == "" {
			continue
		}
		totals[row.Product] += row.QuantitySold
	}

	ranking := make(Ranking[int], 0, len(totals))
	for _, key := range sortedKeys(totals) {
		ranking = append(ranking, Entry[int]{Key: key, Value: totals[key]})
	}
	sort.SliceStable(ranking, func(i, j int) bool { return ranking[i].Value > ranking[j].Value })
	return Available(head(ranking, limit))
}

func lowStockAlerts(t internal.SalesTable, below int) Insight[[]string] {
	if !t.Has(internal.ColStockLeft) || !t.Has(internal.ColProduct) {
		return Unavailable[[]string](reasonLowStock)
	}
	seen := map[string]struct{}{}
	out := make([]string, 0)
	for _, row := range t.Rows {
		if row.Product == "" || row.StockLeft >= below {
			continue
		}
		if _, ok := seen[row.Product]; ok {
			continue
		}
		seen[row.Product] = struct{}{}
		out = append(out, row.Product)
	}
	return Available(out)
}

func frequentCustomers(t internal.SalesTable, limit int) Insight[Ranking[int]] {
	if !t.Has(internal.ColCustomerID) {
		return Unavailable[Ranking[int]](reasonFrequent)
	}
	counts := map[string]int{}
	ranking := make(Ranking[int], 0)
	for _, row := range t.Rows {
		if row.CustomerID == "" {
			continue
		}
		if _, ok := counts[row.CustomerID]; !ok {
			ranking = append(ranking, Entry[int]{Key: row.CustomerID})
		}
		counts[row.CustomerID]++
	}
	for i := range ranking {
		ranking[i].Value = counts[ranking[i].Key]
	}
	sort.SliceStable(ranking, func(i, j int) bool { return ranking[i].Value > ranking[j].Value })
	return Available(head(ranking, limit))
}

func monthlySalesTrend(t internal.SalesTable) Insight[Ranking[int]] {
	if !t.Has(internal.ColDate) || !t.Has(internal.ColQuantitySold) {
		return Unavailable[Ranking[int]](reasonMonthlyTrend)
	}
	totals := map[string]int{}
	for _, row := range t.Rows {
		if row.Date == nil {
			continue
		}
		totals[row.Date.Format("2006-01")] += row.QuantitySold
	}
	if len(totals) == 0 {
		return Unavailable[Ranking[int]](reasonMonthlyTrend)
	}
	ranking := make(Ranking[int], 0, len(totals))
	for _, month := range sortedKeys(totals) {
		ranking = append(ranking, Entry[int]{Key: month, Value: totals[month]})
	}
	return Available(ranking)
}

func topRevenueProducts(t internal.SalesTable, limit int) Insight[Ranking[float64]] {
	priceCol := priceColumn(t.Extra)
	if priceCol == "" || !t.Has(internal.ColProduct) || !t.Has(internal.ColQuantitySold) {
		return Unavailable[Ranking[float64]](reasonRevenue)
	}
	totals := map[string]decimal.Decimal{}
	for _, row := range t.Rows {
		if row.Product == "" {
			continue
		}
		revenue := decimal.Zero
		if price, ok := util.ParseAmount(row.Extra[priceCol]); ok {
			revenue = decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(row.QuantitySold)))
		}
		totals[row.Product] = totals[row.Product].Add(revenue)
	}

	keys := sortedKeys(totals)
	sort.SliceStable(keys, func(i, j int) bool { return totals[keys[i]].GreaterThan(totals[keys[j]]) })
	keys = head(keys, limit)

	ranking := make(Ranking[float64], 0, len(keys))
	for _, key := range keys {
		ranking = append(ranking, Entry[float64]{Key: key, Value: totals[key].Round(2).InexactFloat64()})
	}
	return Available(ranking)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func head[S ~[]E, E any](s S, n int) S {
	if n >= 0 && len(s) > n {
		return s[:n]
	}
	return s
}
