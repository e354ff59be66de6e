package util

import (
	"strings"
	"time"
)

// NormalizeColumnName lowercases and trims a header, then replaces every
// character outside [a-z0-9] with an underscore ("Qty Sold" -> "qty_sold").
func NormalizeColumnName(input string) string {
	s := strings.ToLower(strings.TrimSpace(input))
	out := strings.Builder{}
	out.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			out.WriteRune(r)
			continue
		}
		out.WriteByte('_')
	}
	return out.String()
}

func ContainsAny(s string, probes []string) bool {
	for _, probe := range probes {
		if strings.Contains(s, probe) {
			return true
		}
	}
	return false
}

// SanitizeFileName keeps a name usable as a single path element.
func SanitizeFileName(input string) string {
	repl := strings.NewReplacer("<", "_", ">", "_", ":", "_", "/", "_", "\\", "_", "|", "_", "?", "_", "*", "_", " ", "_", "\"", "_")
	out := repl.Replace(strings.TrimSpace(input))
	out = strings.TrimLeft(out, ".")
	if len(out) > 120 {
		out = out[:120]
	}
	return out
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006/01/02",
	"2006/01/02 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04",
	"01-02-2006",
	"01/02/06",
	"1/2/06",
	"02-Jan-2006",
	"2-Jan-2006",
	"02 Jan 2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 January 2006",
	"2006-01",
	"Jan 2006",
	"January 2006",
	"20060102",
}

// ParseDate accepts the calendar layouts common in spreadsheet exports.
// Slash dates are read month first.
func ParseDate(input string) (time.Time, bool) {
	value := strings.TrimSpace(input)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func StringPtr(v string) *string { return &v }

func FloatPtr(v float64) *float64 { return &v }
