package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aamirsofi/fee-module-sub001/internal/accounting"
	"github.com/aamirsofi/fee-module-sub001/internal/invoices"
	"github.com/aamirsofi/fee-module-sub001/internal/money"
	"github.com/aamirsofi/fee-module-sub001/internal/payments"
)

// Source modules linking billing documents to journal entries.
const (
	ModuleInvoice       = "BILLING.INVOICE"
	ModuleInvoiceCancel = "BILLING.INVOICE_CANCEL"
	ModulePayment       = "BILLING.PAYMENT"
)

// Ledger exposes the journal operations billing posts through.
type Ledger interface {
	ResolveAccount(ctx context.Context, schoolID int64, role accounting.AccountRole) (accounting.Account, error)
	FindBySource(ctx context.Context, schoolID int64, module string, sourceID uuid.UUID) (accounting.JournalEntry, bool, error)
	PostJournal(ctx context.Context, input accounting.PostingInput) (accounting.JournalEntry, error)
	ReverseJournal(ctx context.Context, input accounting.ReverseInput) (accounting.JournalEntry, error)
}

// Hooks wires billing events into the general ledger. Each billing document maps to one
// source link, so replays resolve to the entry already posted.
type Hooks struct {
	ledger Ledger
	logger *slog.Logger
}

// NewHooks constructs integration hooks.
func NewHooks(ledger Ledger, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{ledger: ledger, logger: logger}
}

// FindInvoiceEntry returns the finalization entry already linked to the invoice.
func (h *Hooks) FindInvoiceEntry(ctx context.Context, schoolID, invoiceID int64) (int64, bool, error) {
	entry, ok, err := h.ledger.FindBySource(ctx, schoolID, ModuleInvoice, accounting.SourceID(ModuleInvoice, schoolID, invoiceID))
	if err != nil || !ok {
		return 0, false, err
	}
	return entry.ID, true, nil
}

// PostInvoiceFinalized debits fees receivable and credits fee income for the invoice balance.
func (h *Hooks) PostInvoiceFinalized(ctx context.Context, evt invoices.FinalizedEvent) (int64, error) {
	amount := money.Round2(evt.Amount)
	if !amount.IsPositive() {
		return 0, fmt.Errorf("integration: invoice %s has no amount to post", evt.InvoiceNumber)
	}
	receivable, err := h.ledger.ResolveAccount(ctx, evt.SchoolID, accounting.RoleReceivable)
	if err != nil {
		return 0, err
	}
	income, err := h.ledger.ResolveAccount(ctx, evt.SchoolID, accounting.RoleOperatingIncome)
	if err != nil {
		return 0, err
	}
	return h.post(ctx, accounting.PostingInput{
		SchoolID:     evt.SchoolID,
		EntryType:    accounting.EntryTypeInvoice,
		Date:         evt.Date,
		SourceModule: ModuleInvoice,
		SourceID:     accounting.SourceID(ModuleInvoice, evt.SchoolID, evt.InvoiceID),
		Memo:         fmt.Sprintf("Invoice %s", evt.InvoiceNumber),
		PostedBy:     evt.ActorID,
		Lines:        pair(receivable.ID, income.ID, amount, invoiceLineMemo(evt)),
	})
}

// PostInvoiceCancelled reverses the finalization entry of a cancelled invoice.
func (h *Hooks) PostInvoiceCancelled(ctx context.Context, evt invoices.CancelledEvent) (int64, error) {
	if evt.JournalEntryID == 0 {
		return 0, fmt.Errorf("integration: invoice %s has no journal entry to reverse", evt.InvoiceNumber)
	}
	sourceID := accounting.SourceID(ModuleInvoiceCancel, evt.SchoolID, evt.InvoiceID)
	memo := fmt.Sprintf("Cancellation of invoice %s", evt.InvoiceNumber)
	if evt.Reason != "" {
		memo += ": " + evt.Reason
	}
	entry, err := h.ledger.ReverseJournal(ctx, accounting.ReverseInput{
		SchoolID:     evt.SchoolID,
		EntryID:      evt.JournalEntryID,
		ActorID:      evt.ActorID,
		Memo:         memo,
		Date:         evt.Date,
		SourceModule: ModuleInvoiceCancel,
		SourceID:     sourceID,
	})
	switch {
	case err == nil:
		return entry.ID, nil
	case errors.Is(err, accounting.ErrSourceAlreadyLinked):
		return h.existing(ctx, evt.SchoolID, ModuleInvoiceCancel, sourceID)
	case errors.Is(err, accounting.ErrInvalidStatus):
		// A replayed cancel finds the original already REVERSED.
		if prior, ok, ferr := h.ledger.FindBySource(ctx, evt.SchoolID, ModuleInvoiceCancel, sourceID); ferr == nil && ok {
			return prior.ID, nil
		}
		return 0, err
	default:
		return 0, err
	}
}

// PostPaymentRecorded debits cash and credits fees receivable for a payment.
func (h *Hooks) PostPaymentRecorded(ctx context.Context, evt payments.LedgerEvent) (int64, error) {
	amount := money.Round2(evt.Amount)
	if !amount.IsPositive() {
		return 0, fmt.Errorf("integration: payment %s has no amount to post", evt.ReceiptNumber)
	}
	cash, err := h.ledger.ResolveAccount(ctx, evt.SchoolID, accounting.RoleCash)
	if err != nil {
		return 0, err
	}
	receivable, err := h.ledger.ResolveAccount(ctx, evt.SchoolID, accounting.RoleReceivable)
	if err != nil {
		return 0, err
	}
	return h.post(ctx, accounting.PostingInput{
		SchoolID:     evt.SchoolID,
		EntryType:    accounting.EntryTypePayment,
		Date:         evt.Date,
		SourceModule: ModulePayment,
		SourceID:     accounting.SourceID(ModulePayment, evt.SchoolID, evt.PaymentID),
		Memo:         fmt.Sprintf("Payment %s for invoice %s", evt.ReceiptNumber, evt.InvoiceNumber),
		PostedBy:     evt.ActorID,
		Lines:        pair(cash.ID, receivable.ID, amount, paymentLineMemo(evt)),
	})
}

func (h *Hooks) post(ctx context.Context, input accounting.PostingInput) (int64, error) {
	entry, err := h.ledger.PostJournal(ctx, input)
	if err != nil {
		if errors.Is(err, accounting.ErrSourceAlreadyLinked) {
			return h.existing(ctx, input.SchoolID, input.SourceModule, input.SourceID)
		}
		return 0, err
	}
	h.logger.Info("journal posted",
		slog.Int64("school_id", input.SchoolID),
		slog.String("source_module", input.SourceModule),
		slog.Int64("journal_entry_id", entry.ID),
		slog.String("journal_number", entry.Number))
	return entry.ID, nil
}

func (h *Hooks) existing(ctx context.Context, schoolID int64, module string, sourceID uuid.UUID) (int64, error) {
	entry, ok, err := h.ledger.FindBySource(ctx, schoolID, module, sourceID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("integration: %s source %s linked but entry missing", module, sourceID)
	}
	h.logger.Debug("journal already posted for source",
		slog.Int64("school_id", schoolID),
		slog.String("source_module", module),
		slog.Int64("journal_entry_id", entry.ID))
	return entry.ID, nil
}

// pair builds a two line entry debiting one account and crediting another.
func pair(debitAccount, creditAccount int64, amount decimal.Decimal, memo string) []accounting.PostingLineInput {
	return []accounting.PostingLineInput{
		{AccountID: debitAccount, Debit: amount, Description: memo},
		{AccountID: creditAccount, Credit: amount, Description: memo},
	}
}
