// Package installments splits a fee amount into dated monthly installments.
package installments

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aamirsofi/fee-module-sub001/internal/shared"
)

// MaxCount bounds how many installments one fee can be split into.
const MaxCount = 60

// ErrInvalidCount indicates a non-positive installment count.
var ErrInvalidCount = fmt.Errorf("%w: installment count must be greater than zero", shared.ErrValidation)

// Installment is one dated share of a split amount.
type Installment struct {
	Number  int
	Amount  decimal.Decimal
	DueDate time.Time
}

// Plan splits total into count installments due monthly from start. Each share is
// total/count truncated to cents; the last installment carries the remainder so the shares
// always add up to total and none is negative.
func Plan(total decimal.Decimal, count int, start time.Time) ([]Installment, error) {
	if count <= 0 {
		return nil, ErrInvalidCount
	}
	if count > MaxCount {
		return nil, fmt.Errorf("%w: installment count must not exceed %d", shared.ErrValidation, MaxCount)
	}
	if total.IsNegative() {
		return nil, errors.New("installments: total must not be negative")
	}
	share := total.Div(decimal.NewFromInt(int64(count))).Truncate(2)
	plan := make([]Installment, count)
	allocated := decimal.Zero
	for i := 0; i < count; i++ {
		amount := share
		if i == count-1 {
			amount = total.Sub(allocated)
		}
		allocated = allocated.Add(amount)
		plan[i] = Installment{
			Number:  i + 1,
			Amount:  amount,
			DueDate: AddMonths(start, i),
		}
	}
	return plan, nil
}

// AddMonths moves t forward by n calendar months, clamping to the last day of the target
// month so a 31st start never spills into the following month.
func AddMonths(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
