// Package decimal holds the rounding and formatting rules for UBL amounts.
// Amounts round half away from zero to cents; quantities and unit prices
// carry six decimals and weights three.
package decimal

import (
	"github.com/shopspring/decimal"
)

var (
	Zero = decimal.Zero

	// DefaultIGVRate is the general sales tax percentage
	DefaultIGVRate = decimal.NewFromInt(18)

	// Tolerance is the rounding slack allowed between line sums and document totals
	Tolerance = decimal.New(1, -2)

	hundred = decimal.NewFromInt(100)
)

const unitPlaces = 6

// Mul multiplies and rounds to cents
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Round(2)
}

func rate(ratePercent decimal.Decimal) decimal.Decimal {
	if ratePercent.IsZero() {
		return DefaultIGVRate
	}
	return ratePercent
}

// CalculateIGV computes amount * rate/100 rounded to cents.
// A zero rate falls back to DefaultIGVRate.
func CalculateIGV(amount, ratePercent decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate(ratePercent)).Div(hundred).Round(2)
}

// UnitValueFromPrice strips tax from a tax-inclusive unit price.
// A zero rate falls back to DefaultIGVRate.
func UnitValueFromPrice(price, ratePercent decimal.Decimal) decimal.Decimal {
	factor := hundred.Add(rate(ratePercent)).Div(hundred)
	return price.DivRound(factor, unitPlaces)
}

// WithinTolerance reports whether a and b differ by at most Tolerance
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// FormatQuantity renders quantities and unit prices
func FormatQuantity(d decimal.Decimal) string {
	return d.StringFixed(unitPlaces)
}

func FormatWeight(d decimal.Decimal) string {
	return d.StringFixed(3)
}
