package invoices

import (
	"fmt"

	"github.com/aamirsofi/fee-module-sub001/internal/shared"
)

var (
	// ErrInvalidInput wraps malformed requests.
	ErrInvalidInput = fmt.Errorf("%w: invalid invoice input", shared.ErrValidation)
	// ErrInvoiceNotFound indicates the invoice does not resolve under the school.
	ErrInvoiceNotFound = fmt.Errorf("%w: invoice not found", shared.ErrNotFound)
	// ErrNoItems indicates an invoice without items.
	ErrNoItems = fmt.Errorf("%w: invoice requires at least one item", shared.ErrValidation)
	// ErrNotDraft indicates a modification attempted outside DRAFT.
	ErrNotDraft = fmt.Errorf("%w: invoice can only be modified while in DRAFT status", shared.ErrConflict)
	// ErrNothingToFinalize indicates a draft with no items, a zero total or a zero balance.
	// A fully discounted draft stays DRAFT.
	ErrNothingToFinalize = fmt.Errorf("%w: cannot finalize an invoice with no items or zero amount", shared.ErrConflict)
	// ErrDuplicatePeriod indicates an invoice already exists for the billing period.
	ErrDuplicatePeriod = fmt.Errorf("%w: an invoice already exists for this student, academic year, type and period", shared.ErrConflict)
	// ErrItemsLocked indicates items attached after payment or cancellation.
	ErrItemsLocked = fmt.Errorf("%w: items can only be added while the invoice is DRAFT or ISSUED", shared.ErrConflict)
	// ErrCannotCancel indicates a cancellation after payments exist.
	ErrCannotCancel = fmt.Errorf("%w: invoice with recorded payments cannot be cancelled", shared.ErrConflict)
	// ErrNoApplicableFees indicates no active fee structure matches the student's class.
	ErrNoApplicableFees = fmt.Errorf("%w: no active fee structures apply to the student's class", shared.ErrConflict)
)
