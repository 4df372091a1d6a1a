package school

import "github.com/shopspring/decimal"

// Money is an amount in minor currency units (kobo for NGN).
type Money int64

var hundred = decimal.NewFromInt(100)

// FromMajor converts a major-unit decimal into minor units, rounding half away from zero.
func FromMajor(major decimal.Decimal) Money {
	return Money(major.Mul(hundred).Round(0).IntPart())
}

// FromMajorFloat converts a gateway-supplied float amount in major units.
func FromMajorFloat(major float64) Money {
	return FromMajor(decimal.NewFromFloat(major))
}

// Major returns the amount in major units.
func (m Money) Major() decimal.Decimal {
	return decimal.NewFromInt(int64(m)).Div(hundred)
}

// Percent returns pct percent of m rounded to the nearest minor unit.
func (m Money) Percent(pct decimal.Decimal) Money {
	return Money(decimal.NewFromInt(int64(m)).Mul(pct).Div(hundred).Round(0).IntPart())
}

// Scale returns m * num / den rounded down, used for proportional splits.
func (m Money) Scale(num, den Money) Money {
	if den == 0 {
		return 0
	}
	return Money(decimal.NewFromInt(int64(m)).
		Mul(decimal.NewFromInt(int64(num))).
		Div(decimal.NewFromInt(int64(den))).
		Floor().IntPart())
}

func (m Money) String() string {
	return m.Major().StringFixed(2)
}
