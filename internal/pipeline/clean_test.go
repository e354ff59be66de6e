package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vyapaar/internal"
)

func TestCleanCoercesCells(t *testing.T) {
	raw := internal.RawTable{
		Columns: []string{"Product Name", "Qty", "Stock Left", "Customer", "Order Date", "Unit Price"},
		Rows: [][]string{
			{" Tea ", "10", "2", " c1 ", "2024-01-15", "12.50"},
			{"Sugar", "abc", "-3", "c2", "not a date", "₹40"},
			{"Rice", "1,000", "7.9", "c1"},
		},
	}

	table, err := Clean(raw)
	require.NoError(t, err)

	assert.Equal(t, []string{"product", "quantity_sold", "stock_left", "customer_id", "date"}, table.Columns)
	assert.Equal(t, []string{"Unit Price"}, table.Extra)
	require.Len(t, table.Rows, 3)

	tea := table.Rows[0]
	assert.Equal(t, "Tea", tea.Product)
	assert.Equal(t, "c1", tea.CustomerID)
	assert.Equal(t, 10, tea.QuantitySold)
	require.NotNil(t, tea.Date)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), *tea.Date)
	assert.Equal(t, "12.50", tea.Extra["Unit Price"])

	sugar := table.Rows[1]
	assert.Equal(t, 0, sugar.QuantitySold)
	assert.Equal(t, 0, sugar.StockLeft)
	assert.Nil(t, sugar.Date)

	rice := table.Rows[2]
	assert.Equal(t, 1000, rice.QuantitySold)
	assert.Equal(t, 7, rice.StockLeft)
	assert.Equal(t, "", rice.Extra["Unit Price"])
}

func TestCleanRejectsMissingColumns(t *testing.T) {
	_, err := Clean(internal.RawTable{Columns: []string{"Product", "Notes"}})
	var schemaErr *SchemaResolutionError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, []string{"quantity_sold", "stock_left", "customer_id"}, schemaErr.Missing)
}

func TestToRawCleansBackToSameTable(t *testing.T) {
	raw := internal.RawTable{
		Columns: []string{"Item", "Sold", "Remaining", "Buyer", "Date", "Order Ref", "Price"},
		Rows: [][]string{
			{"Tea", "4", "1", "c1", "2024-02-03", "o-1", "10"},
			{"Salt", "2", "8", "c2", "", "o-2", "5"},
		},
	}
	first, err := Clean(raw)
	require.NoError(t, err)

	stored := ToRaw(first)
	assert.Equal(t, []string{"Order Ref", "Price", "product", "quantity_sold", "stock_left", "customer_id", "date"}, stored.Columns)
	assert.Equal(t, []string{"o-1", "10", "Tea", "4", "1", "c1", "2024-02-03"}, stored.Rows[0])

	second, err := Clean(stored)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCleanKeepsDuplicatePassthroughColumns(t *testing.T) {
	raw := internal.RawTable{
		Columns: []string{"Product", "Qty", "Stock", "Customer", "Price", "Price", "Price.1"},
		Rows:    [][]string{{"Tea", "3", "1", "c1", "5", "7", "9"}},
	}
	table, err := Clean(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"Price", "Price.1", "Price.1.1"}, table.Extra)
	assert.Equal(t, map[string]string{"Price": "5", "Price.1": "7", "Price.1.1": "9"}, table.Rows[0].Extra)

	stored := ToRaw(table)
	assert.Equal(t, []string{"5", "7", "9", "Tea", "3", "1", "c1"}, stored.Rows[0])

	again, err := Clean(stored)
	require.NoError(t, err)
	assert.Equal(t, table, again)
}
