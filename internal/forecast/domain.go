// Package forecast projects what a student will owe by a target date from the fee
// structures, transport assignment, opening balance and open invoices on record. It never
// writes.
package forecast

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aamirsofi/fee-module-sub001/internal/fees"
	"github.com/aamirsofi/fee-module-sub001/internal/invoices"
	"github.com/aamirsofi/fee-module-sub001/internal/shared"
)

// Category groups forecast lines into the breakdown subtotals.
type Category string

const (
	CategoryClass    Category = "CLASS"
	CategoryBus      Category = "BUS"
	CategoryPrevious Category = "PREVIOUS"
	CategoryOther    Category = "OTHER"
)

// Basis records where a line's amount came from.
type Basis string

const (
	// BasisFeeRecord uses a generated student fee row.
	BasisFeeRecord Basis = "FEE_RECORD"
	// BasisInvoiced uses an invoice item already billed.
	BasisInvoiced Basis = "INVOICED"
	// BasisProjected assumes a future occurrence.
	BasisProjected Basis = "PROJECTED"
	// BasisOpeningBalance carries the student's opening balance.
	BasisOpeningBalance Basis = "OPENING_BALANCE"
)

const monthLayout = "2006-01"

// ErrTargetBeforeWindow indicates a target month earlier than the first projectable month.
var ErrTargetBeforeWindow = fmt.Errorf("%w: target date precedes the forecast window", shared.ErrValidation)

// Request asks for one student's projection.
type Request struct {
	SchoolID  int64 `validate:"required,gt=0"`
	StudentID int64 `validate:"required,gt=0"`
	// AcademicYearID selects the year; zero means the school's current year.
	AcademicYearID int64 `validate:"gte=0"`
	TargetDate     time.Time
	// Nil means include.
	IncludeBusFees         *bool
	IncludePreviousBalance *bool
}

func (r Request) busFees() bool {
	return r.IncludeBusFees == nil || *r.IncludeBusFees
}

func (r Request) previousBalance() bool {
	return r.IncludePreviousBalance == nil || *r.IncludePreviousBalance
}

// Line is one projected amount.
type Line struct {
	Category    Category
	Basis       Basis
	SourceID    int64
	Description string
	Month       string
	DueDate     *time.Time
	Amount      decimal.Decimal
}

// Breakdown subtotals the projection.
type Breakdown struct {
	ClassFees       decimal.Decimal
	BusFees         decimal.Decimal
	PreviousBalance decimal.Decimal
	Other           decimal.Decimal
	Total           decimal.Decimal
}

func (b *Breakdown) add(l Line) {
	switch l.Category {
	case CategoryClass:
		b.ClassFees = b.ClassFees.Add(l.Amount)
	case CategoryBus:
		b.BusFees = b.BusFees.Add(l.Amount)
	case CategoryPrevious:
		b.PreviousBalance = b.PreviousBalance.Add(l.Amount)
	default:
		b.Other = b.Other.Add(l.Amount)
	}
	b.Total = b.Total.Add(l.Amount)
}

// Summary is derived from billed records only, not from the projection.
type Summary struct {
	TotalDue decimal.Decimal
	Paid     decimal.Decimal
	Pending  decimal.Decimal
	Overdue  decimal.Decimal
}

// Forecast is the projection result.
type Forecast struct {
	SchoolID       int64
	StudentID      int64
	StudentName    string
	AcademicYearID int64
	From           time.Time
	Target         time.Time
	Months         []string
	Lines          []Line
	Breakdown      Breakdown
	Summary        Summary
	GeneratedAt    time.Time
}

// FeeRecord is a generated student fee row as read by the forecast.
type FeeRecord struct {
	ID             int64
	FeeStructureID int64
	Amount         decimal.Decimal
	Status         fees.FeeStatus
	DueDate        *time.Time
}

// ItemRecord is an invoice item with the state of its invoice.
type ItemRecord struct {
	InvoiceID      int64
	InvoiceNumber  string
	InvoiceStatus  invoices.Status
	InvoiceDueDate time.Time
	SourceType     invoices.SourceType
	SourceID       *int64
	Description    string
	Amount         decimal.Decimal
	DiscountAmount decimal.Decimal
	DueDate        *time.Time
}

// Net is amount less discount.
func (it ItemRecord) Net() decimal.Decimal {
	return it.Amount.Sub(it.DiscountAmount)
}

// Due is the item due date, falling back to the invoice due date.
func (it ItemRecord) Due() time.Time {
	if it.DueDate != nil {
		return *it.DueDate
	}
	return it.InvoiceDueDate
}

// Open reports whether the item's invoice still carries a balance.
func (it ItemRecord) Open() bool {
	switch it.InvoiceStatus {
	case invoices.StatusDraft, invoices.StatusIssued, invoices.StatusPartiallyPaid:
		return true
	default:
		return false
	}
}

// InvoiceRecord carries the amounts the summary is derived from.
type InvoiceRecord struct {
	ID             int64
	Status         invoices.Status
	DueDate        time.Time
	TotalAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
	PaidAmount     decimal.Decimal
	BalanceAmount  decimal.Decimal
}

// startOfDay is midnight UTC of t's UTC calendar day.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// monthStart truncates t to the first of its month in UTC.
func monthStart(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// months enumerates month keys from the month of from through the month of to.
func months(from, to time.Time) []string {
	var out []string
	for m := monthStart(from); !m.After(monthStart(to)); m = m.AddDate(0, 1, 0) {
		out = append(out, m.Format(monthLayout))
	}
	return out
}

// endOfDay is the last instant of t's calendar day.
func endOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}
