package money

import (
	"github.com/shopspring/decimal"
)

// RoundUSD rounds to 2 decimal places using half-up currency rounding.
func RoundUSD(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// ApplyDiscount reduces base by the given fraction (0 < fraction < 1) and
// rounds the result to cents. A zero fraction returns the base unchanged.
func ApplyDiscount(base decimal.Decimal, fraction float64) decimal.Decimal {
	if fraction <= 0 {
		return RoundUSD(base)
	}
	factor := decimal.NewFromFloat(1 - fraction)
	return RoundUSD(base.Mul(factor))
}

// DiscountPercent converts a fraction to the whole percent recorded in the
// discount usage table (0.10 -> 10).
func DiscountPercent(fraction float64) int {
	return int(decimal.NewFromFloat(fraction).Mul(decimal.NewFromInt(100)).Round(0).IntPart())
}

// FormatUSD renders an amount with exactly two decimals for messages and rows.
func FormatUSD(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}
