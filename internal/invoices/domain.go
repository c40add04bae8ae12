package invoices

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aamirsofi/fee-module-sub001/internal/money"
)

// Status enumerates the invoice lifecycle.
type Status string

const (
	StatusDraft         Status = "DRAFT"
	StatusIssued        Status = "ISSUED"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusPaid          Status = "PAID"
	StatusCancelled     Status = "CANCELLED"
)

// Type enumerates billing cadences.
type Type string

const (
	TypeMonthly   Type = "MONTHLY"
	TypeQuarterly Type = "QUARTERLY"
	TypeYearly    Type = "YEARLY"
	TypeAdHoc     Type = "AD_HOC"
)

// ParseType validates a type string.
func ParseType(raw string) (Type, error) {
	switch t := Type(strings.ToUpper(strings.TrimSpace(raw))); t {
	case TypeMonthly, TypeQuarterly, TypeYearly, TypeAdHoc:
		return t, nil
	case "":
		return TypeAdHoc, nil
	default:
		return "", fmt.Errorf("%w: unknown invoice type %q", ErrInvalidInput, raw)
	}
}

// ParseStatus validates a status filter.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToUpper(strings.TrimSpace(raw))); s {
	case StatusDraft, StatusIssued, StatusPartiallyPaid, StatusPaid, StatusCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("%w: unknown invoice status %q", ErrInvalidInput, raw)
	}
}

// Period marks the billing window an invoice covers. Only the fields relevant to the
// invoice type are set.
type Period struct {
	Month   *int
	Quarter *int
	Year    *int
}

// PeriodFor derives the period key of an invoice type from a date inside the period.
// AD_HOC invoices carry no period.
func PeriodFor(t Type, date time.Time) Period {
	year := date.Year()
	switch t {
	case TypeMonthly:
		month := int(date.Month())
		return Period{Month: &month, Year: &year}
	case TypeQuarterly:
		quarter := (int(date.Month())-1)/3 + 1
		return Period{Quarter: &quarter, Year: &year}
	case TypeYearly:
		return Period{Year: &year}
	default:
		return Period{}
	}
}

// IsZero reports whether no period is set.
func (p Period) IsZero() bool {
	return p.Month == nil && p.Quarter == nil && p.Year == nil
}

func (p Period) String() string {
	switch {
	case p.Month != nil && p.Year != nil:
		return fmt.Sprintf("%04d-%02d", *p.Year, *p.Month)
	case p.Quarter != nil && p.Year != nil:
		return fmt.Sprintf("%04d-Q%d", *p.Year, *p.Quarter)
	case p.Year != nil:
		return fmt.Sprintf("%04d", *p.Year)
	default:
		return "none"
	}
}

// Invoice is the billing aggregate root.
type Invoice struct {
	ID             int64
	SchoolID       int64
	StudentID      int64
	AcademicYearID int64
	InvoiceNumber  string
	IssueDate      time.Time
	DueDate        time.Time
	Type           Type
	Status         Status
	TotalAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
	PaidAmount     decimal.Decimal
	BalanceAmount  decimal.Decimal
	JournalEntryID *int64
	Period         Period
	Notes          string
	CreatedBy      int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Items          []Item
}

// NetAmount is total less discount.
func (inv Invoice) NetAmount() decimal.Decimal {
	return inv.TotalAmount.Sub(inv.DiscountAmount)
}

// Recompute resums total and discount from items and derives balance from the paid amount.
func (inv *Invoice) Recompute() {
	total, discount := decimal.Zero, decimal.Zero
	for _, item := range inv.Items {
		total = total.Add(item.Amount)
		discount = discount.Add(item.DiscountAmount)
	}
	inv.TotalAmount = money.Round2(total)
	inv.DiscountAmount = money.Round2(discount)
	inv.BalanceAmount = money.Round2(inv.NetAmount().Sub(inv.PaidAmount))
}

// BalanceConsistent checks balance = total - discount - paid within tolerance.
func (inv Invoice) BalanceConsistent() bool {
	expected := inv.TotalAmount.Sub(inv.DiscountAmount).Sub(inv.PaidAmount)
	return expected.Sub(inv.BalanceAmount).Abs().LessThanOrEqual(money.Tolerance)
}

// AcceptsItems reports whether items can still be attached.
func (inv Invoice) AcceptsItems() bool {
	return inv.Status == StatusDraft || inv.Status == StatusIssued
}

// Payable reports whether payments can be recorded against the invoice.
func (inv Invoice) Payable() bool {
	return inv.Status == StatusIssued || inv.Status == StatusPartiallyPaid
}

// StatusAfterPayment derives the post-payment status: PAID once the balance is within
// tolerance of zero, PARTIALLY_PAID once anything has been paid, otherwise current.
func StatusAfterPayment(current Status, paid, balance decimal.Decimal) Status {
	switch {
	case money.IsSettled(balance):
		return StatusPaid
	case money.Positive(paid):
		return StatusPartiallyPaid
	default:
		return current
	}
}

// Item is one charge line on an invoice.
type Item struct {
	ID             int64
	InvoiceID      int64
	SourceType     SourceType
	SourceID       *int64
	Snapshot       Snapshot
	Description    string
	Amount         decimal.Decimal
	DiscountAmount decimal.Decimal
	DueDate        *time.Time
	Notes          string
	CreatedAt      time.Time
}

// Net returns amount less discount.
func (it Item) Net() decimal.Decimal {
	return it.Amount.Sub(it.DiscountAmount)
}

// ListFilter narrows invoice listings.
type ListFilter struct {
	SchoolID  int64
	StudentID int64
	Status    Status
	Type      Type
	Page      int
	PerPage   int
}

// FinalizedEvent is handed to the ledger when an invoice is issued.
type FinalizedEvent struct {
	SchoolID      int64
	InvoiceID     int64
	InvoiceNumber string
	StudentID     int64
	Amount        decimal.Decimal
	Date          time.Time
	ActorID       int64
}

// CancelledEvent is handed to the ledger when an issued invoice is cancelled.
type CancelledEvent struct {
	SchoolID       int64
	InvoiceID      int64
	InvoiceNumber  string
	JournalEntryID int64
	Date           time.Time
	ActorID        int64
	Reason         string
}
