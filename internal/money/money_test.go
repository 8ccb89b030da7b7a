package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestApplyDiscount(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		fraction float64
		want     string
	}{
		{"ten percent off thirty", "30.00", 0.10, "27.00"},
		{"twenty percent off thirty", "30.00", 0.20, "24.00"},
		{"half up rounding", "9.99", 0.15, "8.49"},   // 8.4915 -> 8.49
		{"half boundary rounds up", "10.10", 0.25, "7.58"}, // 7.575 -> 7.58
		{"zero fraction keeps base", "30.00", 0, "30.00"},
		{"fifty percent", "10.00", 0.50, "5.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := decimal.RequireFromString(tt.base)
			got := ApplyDiscount(base, tt.fraction)
			if got.StringFixed(2) != tt.want {
				t.Errorf("ApplyDiscount(%s, %v) = %s, want %s", tt.base, tt.fraction, got.StringFixed(2), tt.want)
			}
		})
	}
}

func TestDiscountPercent(t *testing.T) {
	tests := []struct {
		fraction float64
		want     int
	}{
		{0.10, 10},
		{0.25, 25},
		{0.50, 50},
		{0.333, 33},
		{0.335, 34},
	}
	for _, tt := range tests {
		if got := DiscountPercent(tt.fraction); got != tt.want {
			t.Errorf("DiscountPercent(%v) = %d, want %d", tt.fraction, got, tt.want)
		}
	}
}

func TestFormatUSD(t *testing.T) {
	if got := FormatUSD(decimal.RequireFromString("27")); got != "27.00" {
		t.Errorf("FormatUSD(27) = %q, want 27.00", got)
	}
	if got := FormatUSD(decimal.RequireFromString("8.5")); got != "8.50" {
		t.Errorf("FormatUSD(8.5) = %q, want 8.50", got)
	}
}
