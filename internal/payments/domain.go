// Package payments records money received against issued invoices.
package payments

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Method enumerates accepted payment methods.
type Method string

const (
	MethodCash         Method = "CASH"
	MethodCheque       Method = "CHEQUE"
	MethodBankTransfer Method = "BANK_TRANSFER"
	MethodCard         Method = "CARD"
	MethodUPI          Method = "UPI"
	MethodOnline       Method = "ONLINE"
)

// ParseMethod validates a method string.
func ParseMethod(raw string) (Method, error) {
	switch m := Method(strings.ToUpper(strings.TrimSpace(raw))); m {
	case MethodCash, MethodCheque, MethodBankTransfer, MethodCard, MethodUPI, MethodOnline:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown payment method %q", ErrInvalidInput, raw)
	}
}

// Status enumerates payment states. Only COMPLETED payments count towards an invoice.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusPending   Status = "PENDING"
	StatusFailed    Status = "FAILED"
)

// Payment is money received against one invoice.
type Payment struct {
	ID             int64
	SchoolID       int64
	InvoiceID      int64
	StudentID      int64
	Amount         decimal.Decimal
	PaymentDate    time.Time
	Method         Method
	TransactionID  *string
	ReceiptNumber  string
	Status         Status
	Notes          string
	JournalEntryID *int64
	RecordedBy     int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EventPaymentRecorded tags ledger outbox rows written by Record.
const EventPaymentRecorded = "PAYMENT_RECORDED"

// LedgerEvent is the outbox payload asking the ledger to post Debit Cash / Credit Receivable
// for a committed payment.
type LedgerEvent struct {
	SchoolID      int64           `json:"school_id"`
	PaymentID     int64           `json:"payment_id"`
	InvoiceID     int64           `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	StudentID     int64           `json:"student_id"`
	ReceiptNumber string          `json:"receipt_number"`
	Amount        decimal.Decimal `json:"amount"`
	Method        Method          `json:"method"`
	Date          time.Time       `json:"date"`
	ActorID       int64           `json:"actor_id,omitempty"`
}

// ListFilter narrows payment listings.
type ListFilter struct {
	SchoolID  int64
	InvoiceID int64
	StudentID int64
	Page      int
	PerPage   int
}

func normalizeTransactionID(raw string) *string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
