package util

import (
	"testing"
	"time"
)

func TestNormalizeColumnName(t *testing.T) {
	cases := map[string]string{
		"  Qty Sold ":     "qty_sold",
		"Order Date":      "order_date",
		"Stock-Left":      "stock_left",
		"Customer ID#":    "customer_id_",
		"Unit Price (₹)":  "unit_price____",
		"product":         "product",
		"SKU":             "sku",
	}
	for in, want := range cases {
		if got := NormalizeColumnName(in); got != want {
			t.Fatalf("NormalizeColumnName(%q)=%q want %q", in, got, want)
		}
	}
}

func TestParseDate(t *testing.T) {
	cases := []struct {
		input string
		want  time.Time
	}{
		{input: "2024-03-05", want: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{input: "2024-03-05 10:30:00", want: time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)},
		{input: "03/05/2024", want: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{input: "5-Mar-2024", want: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{input: "2024-03", want: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, ok := ParseDate(tc.input)
		if !ok {
			t.Fatalf("ParseDate(%q) failed", tc.input)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("ParseDate(%q)=%v want %v", tc.input, got, tc.want)
		}
	}
	for _, bad := range []string{"", "yesterday", "13/45/2024"} {
		if _, ok := ParseDate(bad); ok {
			t.Fatalf("ParseDate(%q) should fail", bad)
		}
	}
}

func TestSanitizeFileName(t *testing.T) {
	if got := SanitizeFileName("../<id@x>"); got != "__id@x_" {
		t.Fatalf("got %q", got)
	}
}
