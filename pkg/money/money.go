package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is a fixed-precision currency amount in minor units. All persisted
// balances are stored this way; fractional math (percentages, daily rates)
// goes through decimal and is rounded back with half-up semantics.
type Cents int64

var oneHundred = decimal.NewFromInt(100)

// FromDecimal converts a dollar-denominated decimal into cents, rounding
// half-up to two decimal places.
func FromDecimal(d decimal.Decimal) Cents {
	return Cents(d.Round(2).Mul(oneHundred).IntPart())
}

// FromDollars builds an amount from whole dollars.
func FromDollars(dollars int64) Cents {
	return Cents(dollars * 100)
}

// Decimal returns the dollar-denominated decimal representation.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(c)).Div(oneHundred)
}

// String renders the amount as a plain dollar string, e.g. "1500.00".
func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

// IsPositive reports whether the amount is strictly greater than zero.
func (c Cents) IsPositive() bool { return c > 0 }

// IsNegative reports whether the amount is below zero.
func (c Cents) IsNegative() bool { return c < 0 }

// Min returns the smaller of the two amounts.
func Min(a, b Cents) Cents {
	if a < b {
		return a
	}
	return b
}

// Percentage applies rate (expressed as a percent, e.g. 5 for 5%) to the
// amount, rounding half-up.
func Percentage(amount Cents, rate decimal.Decimal) Cents {
	return FromDecimal(amount.Decimal().Mul(rate).Div(oneHundred))
}

// Prorate computes amount * numeratorDays / denominatorDays with half-up
// rounding to cents. denominatorDays must be positive.
func Prorate(amount Cents, numeratorDays, denominatorDays int) (Cents, error) {
	if denominatorDays <= 0 {
		return 0, fmt.Errorf("denominator days must be positive, got %d", denominatorDays)
	}
	daily := amount.Decimal().Div(decimal.NewFromInt(int64(denominatorDays)))
	return FromDecimal(daily.Mul(decimal.NewFromInt(int64(numeratorDays)))), nil
}
