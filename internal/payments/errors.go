package payments

import (
	"fmt"

	"github.com/aamirsofi/fee-module-sub001/internal/shared"
)

var (
	// ErrInvalidInput wraps malformed payment requests.
	ErrInvalidInput = fmt.Errorf("%w: invalid payment input", shared.ErrValidation)
	// ErrInvalidAmount indicates a zero or negative amount.
	ErrInvalidAmount = fmt.Errorf("%w: payment amount must be greater than zero", shared.ErrValidation)
	// ErrPaymentNotFound indicates the payment does not resolve under the school.
	ErrPaymentNotFound = fmt.Errorf("%w: payment not found", shared.ErrNotFound)
	// ErrStudentMismatch indicates the invoice belongs to another student.
	ErrStudentMismatch = fmt.Errorf("%w: invoice does not belong to this student", shared.ErrValidation)
	// ErrInvoiceDraft indicates a payment against an invoice that was never finalized.
	ErrInvoiceDraft = fmt.Errorf("%w: invoice must be finalized before accepting payments", shared.ErrConflict)
	// ErrInvoiceCancelled indicates a payment against a cancelled invoice.
	ErrInvoiceCancelled = fmt.Errorf("%w: cannot record a payment against a cancelled invoice", shared.ErrConflict)
	// ErrInvoiceSettled indicates the invoice has nothing left to pay.
	ErrInvoiceSettled = fmt.Errorf("%w: invoice is already paid", shared.ErrConflict)
	// ErrExceedsBalance indicates an over-payment.
	ErrExceedsBalance = fmt.Errorf("%w: Payment amount exceeds remaining balance", shared.ErrConflict)
	// ErrDuplicateReceipt indicates a supplied receipt number already in use.
	ErrDuplicateReceipt = fmt.Errorf("%w: receipt number already exists", shared.ErrConflict)
	// ErrDuplicateTransaction indicates a transaction id already recorded.
	ErrDuplicateTransaction = fmt.Errorf("%w: transaction id already recorded", shared.ErrConflict)
	// ErrAmountImmutable indicates an attempt to change a recorded amount.
	ErrAmountImmutable = fmt.Errorf("%w: payment amount cannot be changed; delete the payment and record it again", shared.ErrConflict)
)
