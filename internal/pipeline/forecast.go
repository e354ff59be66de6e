package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"vyapaar/internal"
)

// SnapshotSource lists and reads a user's stored snapshots. Names come back in
// the order they should be treated as periods.
type SnapshotSource interface {
	ListSnapshots(ctx context.Context, phone string) ([]string, error)
	ReadSnapshot(ctx context.Context, phone, name string) (internal.RawTable, error)
}

type Forecaster struct {
	Smoother   Smoother
	MinPeriods int
	Top        int
}

func NewForecaster() *Forecaster {
	return &Forecaster{Smoother: SimpleExpSmoothing{}, MinPeriods: 3, Top: 3}
}

// ForecastResult is either a ranking of predicted next-period units or an
// error message. Periods counts the snapshots that were offered.
type ForecastResult struct {
	Predictions Ranking[int]
	Error       string
	Periods     int
}

func (r ForecastResult) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return json.Marshal(map[string]string{"error": r.Error})
	}
	if r.Predictions == nil {
		return []byte("{}"), nil
	}
	return r.Predictions.MarshalJSON()
}

func errorResult(err error) ForecastResult {
	return ForecastResult{Error: err.Error()}
}

// Forecast predicts next-period demand per product from chronologically
// ordered periods. It never panics; failures are reported in Error.
func (f *Forecaster) Forecast(periods []internal.RawTable) (res ForecastResult) {
	defer func() {
		if r := recover(); r != nil {
			res = ForecastResult{Error: fmt.Sprint(r), Periods: len(periods)}
		}
	}()

	smoother := f.Smoother
	if smoother == nil {
		smoother = SimpleExpSmoothing{}
	}
	minPeriods := f.MinPeriods
	if minPeriods <= 0 {
		minPeriods = 3
	}

	series := map[string][]float64{}
	var order []string
	for _, period := range periods {
		mapping, err := ResolveColumns(period.Columns, DemandColumns)
		if err != nil {
			continue
		}
		productIdx := mapping[internal.ColProduct].Index
		qtyIdx := mapping[internal.ColQuantitySold].Index

		totals := map[string]int{}
		for r := range period.Rows {
			product := strings.TrimSpace(period.Cell(r, productIdx))
			if product == "" {
				continue
			}
			totals[product] += coerceCount(period.Cell(r, qtyIdx))
		}
		for _, product := range sortedKeys(totals) {
			if _, ok := series[product]; !ok {
				order = append(order, product)
			}
			series[product] = append(series[product], float64(totals[product]))
		}
	}

	predictions := make(Ranking[int], 0)
	for _, product := range order {
		s := series[product]
		if len(s) < minPeriods {
			continue
		}
		model, err := smoother.Fit(s)
		if err != nil {
			return ForecastResult{Error: fmt.Sprintf("fit %s: %v", product, err), Periods: len(periods)}
		}
		predictions = append(predictions, Entry[int]{Key: product, Value: int(math.RoundToEven(model.ForecastNext()))})
	}

	sort.SliceStable(predictions, func(i, j int) bool { return predictions[i].Value > predictions[j].Value })
	top := f.Top
	if top <= 0 {
		top = 3
	}
	return ForecastResult{Predictions: head(predictions, top), Periods: len(periods)}
}

// ForecastSnapshots reads every snapshot of a user in listing order and
// forecasts over them.
func (f *Forecaster) ForecastSnapshots(ctx context.Context, src SnapshotSource, phone string) ForecastResult {
	names, err := src.ListSnapshots(ctx, phone)
	if err != nil {
		return errorResult(err)
	}
	periods := make([]internal.RawTable, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return errorResult(err)
		}
		raw, err := src.ReadSnapshot(ctx, phone, name)
		if err != nil {
			return ForecastResult{Error: fmt.Sprintf("read %s: %v", name, err), Periods: len(names)}
		}
		periods = append(periods, raw)
	}
	return f.Forecast(periods)
}
