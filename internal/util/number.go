package util

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	groupedThousands = regexp.MustCompile(`^[+-]?\d{1,3}(?:,\d{3})+(?:\.\d+)?$`)
	decimalComma     = regexp.MustCompile(`^[+-]?\d+,\d+$`)
	currencyPrefix   = strings.NewReplacer("₹", "", "$", "", "€", "", "£", "", "Rs.", "", "Rs", "", "INR", "")
)

// ParseCount coerces a cell to a whole count. Fractions truncate toward zero.
// It reports false for blank, non-numeric, non-finite or out-of-range input.
func ParseCount(input string) (int, bool) {
	f, ok := parseNumber(input)
	if !ok {
		return 0, false
	}
	f = math.Trunc(f)
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

// ParseAmount coerces a money-like cell to a float, tolerating a leading
// currency marker.
func ParseAmount(input string) (float64, bool) {
	return parseNumber(currencyPrefix.Replace(input))
}

func parseNumber(input string) (float64, bool) {
	token := normalizeNumericToken(input)
	if token == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(token, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func normalizeNumericToken(token string) string {
	compact := strings.ReplaceAll(token, "\u00A0", " ")
	compact = strings.ReplaceAll(strings.TrimSpace(compact), " ", "")
	lower := strings.ToLower(compact)
	if strings.Contains(lower, "nan") || strings.Contains(lower, "inf") {
		return ""
	}
	if groupedThousands.MatchString(compact) {
		return strings.ReplaceAll(compact, ",", "")
	}
	if decimalComma.MatchString(compact) {
		return strings.ReplaceAll(compact, ",", ".")
	}
	return compact
}
