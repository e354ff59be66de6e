package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAdvice(t *testing.T) {
	cases := []struct {
		name string
		ins  Insights
		want string
	}{
		{
			name: "all clauses",
			ins: Insights{
				TopSellingProducts: Available(Ranking[int]{{Key: "A", Value: 10}, {Key: "B", Value: 5}, {Key: "C", Value: 1}}),
				LowStockAlerts:     Available([]string{"X", "Y"}),
				FrequentCustomers:  Available(Ranking[int]{{Key: "c1", Value: 3}, {Key: "c2", Value: 2}, {Key: "c3", Value: 1}}),
				TopRevenueProducts: Available(Ranking[float64]{{Key: "P", Value: 99.5}}),
			},
			want: "Focus on best-selling products like A, B. Consider running promotions. " +
				"Reorder low stock items: X, Y to avoid stockouts. " +
				"Reward frequent customers like c1, c2 with loyalty offers. " +
				"P is generating the highest revenue. Focus on maximizing its margins.",
		},
		{
			name: "unavailable and empty analytics add nothing",
			ins: Insights{
				TopSellingProducts: Unavailable[Ranking[int]](reasonTopSelling),
				LowStockAlerts:     Available([]string{}),
				FrequentCustomers:  Unavailable[Ranking[int]](reasonFrequent),
				TopRevenueProducts: Unavailable[Ranking[float64]](reasonRevenue),
			},
			want: "Business appears stable. Keep up the good work!",
		},
		{
			name: "single clause",
			ins: Insights{
				LowStockAlerts: Available([]string{"A"}),
			},
			want: "Reorder low stock items: A to avoid stockouts.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, GenerateAdvice(tc.ins))
		})
	}
}

func TestGenerateAdviceFromTable(t *testing.T) {
	table := mustClean(t, []string{"Item", "Qty", "Left", "Buyer"},
		[]string{"A", "10", "2", "c1"},
		[]string{"B", "5", "9", "c1"},
	)
	assert.Equal(t,
		"Focus on best-selling products like A, B. Consider running promotions. "+
			"Reorder low stock items: A to avoid stockouts. "+
			"Reward frequent customers like c1 with loyalty offers.",
		GenerateAdvice(ComputeInsights(table)))
}

type fakeGenerator struct {
	text   string
	err    error
	prompt string
}

func (f *fakeGenerator) GenerateText(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.text, f.err
}

func TestModelAdvisor(t *testing.T) {
	ins := Insights{LowStockAlerts: Available([]string{"A"})}

	gen := &fakeGenerator{text: "  Restock A before the weekend.\n"}
	advice, err := (&ModelAdvisor{Generator: gen}).Advise(context.Background(), ins)
	require.NoError(t, err)
	assert.Equal(t, "Restock A before the weekend.", advice)
	assert.Contains(t, gen.prompt, `"low_stock_alerts"`)

	failing := &fakeGenerator{err: errors.New("quota exceeded")}
	advice, err = (&ModelAdvisor{Generator: failing}).Advise(context.Background(), ins)
	require.NoError(t, err)
	assert.Equal(t, "Reorder low stock items: A to avoid stockouts.", advice)

	empty := &fakeGenerator{}
	advice, err = (&ModelAdvisor{Generator: empty}).Advise(context.Background(), ins)
	require.NoError(t, err)
	assert.Equal(t, "Reorder low stock items: A to avoid stockouts.", advice)
}
