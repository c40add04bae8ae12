// Package money holds the rounding rules shared by billing arithmetic.
package money

import "github.com/shopspring/decimal"

// Tolerance absorbs sub-cent drift when deciding whether a balance is settled.
var Tolerance = decimal.New(1, -2)

// Zero is the additive identity used across the billing packages.
var Zero = decimal.Zero

// Round2 rounds to two decimal places, half away from zero.
func Round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// Sum adds the supplied amounts.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// IsSettled reports whether a remaining balance is within tolerance of zero.
func IsSettled(balance decimal.Decimal) bool {
	return balance.LessThanOrEqual(Tolerance)
}

// Positive reports whether v is strictly greater than zero.
func Positive(v decimal.Decimal) bool {
	return v.GreaterThan(decimal.Zero)
}

// ApplyDiscount returns the discount to take from amount. A positive percentage wins over
// the fixed amount; the discount never exceeds amount.
func ApplyDiscount(amount decimal.Decimal, percentage, fixed *decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch {
	case percentage != nil && Positive(*percentage):
		discount = Round2(amount.Mul(*percentage).Div(decimal.NewFromInt(100)))
	case fixed != nil && Positive(*fixed):
		discount = Round2(*fixed)
	default:
		return decimal.Zero
	}
	if discount.GreaterThan(amount) {
		return amount
	}
	return discount
}

// Abs returns the magnitude of v.
func Abs(v decimal.Decimal) decimal.Decimal {
	return v.Abs()
}
