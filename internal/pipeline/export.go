package pipeline

import (
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

const (
	sheetSummary  = "Summary"
	sheetProducts = "Top Products"
	sheetStock    = "Low Stock"
	sheetCust     = "Customers"
	sheetTrend    = "Monthly Trend"
	sheetRevenue  = "Revenue"
	sheetForecast = "Forecast"
)

// BuildReportXLSX lays out an analysis (and an optional forecast) as a
// workbook: a summary sheet plus one sheet per analytic.
func BuildReportXLSX(title string, a Analysis, forecast *ForecastResult) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), sheetSummary); err != nil {
		return nil, err
	}

	summary := [][]any{
		{"report", title},
		{"rows", a.Rows},
		{"smart_suggestion", a.Advice},
	}
	if err := writeRows(f, sheetSummary, summary); err != nil {
		return nil, err
	}

	if err := writeRanking(f, sheetProducts, []string{"product", "quantity_sold"}, a.Insights.TopSellingProducts); err != nil {
		return nil, err
	}
	if err := writeRanking(f, sheetCust, []string{"customer_id", "orders"}, a.Insights.FrequentCustomers); err != nil {
		return nil, err
	}
	if err := writeRanking(f, sheetTrend, []string{"month", "quantity_sold"}, a.Insights.MonthlySalesTrend); err != nil {
		return nil, err
	}
	if err := writeRanking(f, sheetRevenue, []string{"product", "revenue"}, a.Insights.TopRevenueProducts); err != nil {
		return nil, err
	}

	if _, err := f.NewSheet(sheetStock); err != nil {
		return nil, err
	}
	stock := [][]any{{"product"}}
	if low, ok := a.Insights.LowStockAlerts.Get(); ok {
		for _, p := range low {
			stock = append(stock, []any{p})
		}
	} else {
		stock = append(stock, []any{a.Insights.LowStockAlerts.Reason()})
	}
	if err := writeRows(f, sheetStock, stock); err != nil {
		return nil, err
	}

	if forecast != nil {
		if _, err := f.NewSheet(sheetForecast); err != nil {
			return nil, err
		}
		rows := [][]any{{"product", "forecast_next_period"}}
		if forecast.Error != "" {
			rows = append(rows, []any{"error", forecast.Error})
		}
		for _, e := range forecast.Predictions {
			rows = append(rows, []any{e.Key, e.Value})
		}
		if err := writeRows(f, sheetForecast, rows); err != nil {
			return nil, err
		}
	}

	return f, nil
}

func ExportReportXLSX(title string, a Analysis, forecast *ForecastResult, outputPath string) error {
	f, err := BuildReportXLSX(title, a, forecast)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

func writeRanking[V any](f *excelize.File, sheet string, headers []string, ins Insight[Ranking[V]]) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	rows := [][]any{{headers[0], headers[1]}}
	if ranking, ok := ins.Get(); ok {
		for _, e := range ranking {
			rows = append(rows, []any{e.Key, e.Value})
		}
	} else {
		rows = append(rows, []any{ins.Reason()})
	}
	return writeRows(f, sheet, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for r, row := range rows {
		for c, value := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return err
			}
		}
	}
	return nil
}
