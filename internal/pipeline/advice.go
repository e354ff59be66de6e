package pipeline

import (
	"context"
	"fmt"
	"strings"
)

const stableAdvice = "Business appears stable. Keep up the good work!"

// GenerateAdvice turns insights into a short suggestion. Only available,
// non-empty analytics contribute a clause.
func GenerateAdvice(ins Insights) string {
	var clauses []string

	if top, ok := ins.TopSellingProducts.Get(); ok && len(top) > 0 {
		clauses = append(clauses, fmt.Sprintf("Focus on best-selling products like %s. Consider running promotions.",
			strings.Join(head(top.Keys(), 2), ", ")))
	}
	if low, ok := ins.LowStockAlerts.Get(); ok && len(low) > 0 {
		clauses = append(clauses, fmt.Sprintf("Reorder low stock items: %s to avoid stockouts.", strings.Join(low, ", ")))
	}
	if loyal, ok := ins.FrequentCustomers.Get(); ok && len(loyal) > 0 {
		clauses = append(clauses, fmt.Sprintf("Reward frequent customers like %s with loyalty offers.",
			strings.Join(head(loyal.Keys(), 2), ", ")))
	}
	if rev, ok := ins.TopRevenueProducts.Get(); ok && len(rev) > 0 {
		clauses = append(clauses, fmt.Sprintf("%s is generating the highest revenue. Focus on maximizing its margins.", rev[0].Key))
	}

	if len(clauses) == 0 {
		return stableAdvice
	}
	return strings.Join(clauses, " ")
}

// Advisor writes a suggestion for a set of insights.
type Advisor interface {
	Advise(ctx context.Context, ins Insights) (string, error)
}

// RuleAdvisor is the deterministic Advisor backed by GenerateAdvice.
type RuleAdvisor struct{}

func (RuleAdvisor) Advise(_ context.Context, ins Insights) (string, error) {
	return GenerateAdvice(ins), nil
}
