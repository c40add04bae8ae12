package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aamirsofi/fee-module-sub001/internal/catalog"
	"github.com/aamirsofi/fee-module-sub001/internal/invoices"
	"github.com/aamirsofi/fee-module-sub001/internal/money"
	"github.com/aamirsofi/fee-module-sub001/internal/shared"
)

// RepositoryPort abstracts payment persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, schoolID, paymentID int64) (Payment, error)
	List(ctx context.Context, filter ListFilter) ([]Payment, int, error)
}

// InvoiceReader loads invoices for receipts.
type InvoiceReader interface {
	Get(ctx context.Context, schoolID, invoiceID int64) (invoices.Invoice, error)
}

// CatalogPort resolves the school and student printed on receipts.
type CatalogPort interface {
	GetSchool(ctx context.Context, schoolID int64) (catalog.School, error)
	GetStudent(ctx context.Context, schoolID, studentID int64) (catalog.Student, error)
}

// LedgerDispatcher delivers a pending ledger outbox event and returns the journal entry id.
type LedgerDispatcher interface {
	Deliver(ctx context.Context, eventID int64) (int64, error)
}

// Metrics receives payment counters.
type Metrics interface {
	PaymentRecorded(method string, amount float64)
	LedgerPostFailed(event string)
}

// AuditPort records payment changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Config tunes receipt numbering and formatting.
type Config struct {
	ReceiptPrefix string
	Currency      string
	Locale        string
}

// Service records payments under the invoice row lock.
type Service struct {
	repo       RepositoryPort
	invoices   InvoiceReader
	catalog    CatalogPort
	dispatcher LedgerDispatcher
	metrics    Metrics
	audit      AuditPort
	logger     *slog.Logger
	cfg        Config
	now        func() time.Time
}

// NewService constructs the payment service. dispatcher and metrics may be nil.
func NewService(repo RepositoryPort, inv InvoiceReader, cat CatalogPort, dispatcher LedgerDispatcher, metrics Metrics, audit AuditPort, cfg Config, logger *slog.Logger) *Service {
	if cfg.ReceiptPrefix == "" {
		cfg.ReceiptPrefix = "RCP"
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.Locale == "" {
		cfg.Locale = "en-IN"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       repo,
		invoices:   inv,
		catalog:    cat,
		dispatcher: dispatcher,
		metrics:    metrics,
		audit:      audit,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// RecordInput carries one payment against an invoice.
type RecordInput struct {
	SchoolID      int64  `validate:"required,gt=0"`
	InvoiceID     int64  `validate:"required,gt=0"`
	StudentID     int64  `validate:"required,gt=0"`
	Method        Method `validate:"required,oneof=CASH CHEQUE BANK_TRANSFER CARD UPI ONLINE"`
	Amount        decimal.Decimal
	PaymentDate   time.Time
	TransactionID string `validate:"max=100"`
	ReceiptNumber string `validate:"max=50"`
	Notes         string `validate:"max=1000"`
	ActorID       int64
}

// RecordResult is the committed payment and the invoice state after it.
type RecordResult struct {
	Payment Payment
	Invoice invoices.Invoice
	// LedgerPending is set when the journal posting did not complete after commit; the
	// outbox relay retries it.
	LedgerPending bool
}

// Record inserts a payment and moves the invoice balance in one transaction, then hands the
// journal posting to the ledger outbox.
func (s *Service) Record(ctx context.Context, in RecordInput) (RecordResult, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return RecordResult{}, err
	}
	amount := money.Round2(in.Amount)
	if !amount.IsPositive() {
		return RecordResult{}, ErrInvalidAmount
	}
	today := s.now()
	if in.PaymentDate.IsZero() {
		in.PaymentDate = today
	}
	txnID := normalizeTransactionID(in.TransactionID)

	var (
		result  RecordResult
		eventID int64
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, in.SchoolID, in.InvoiceID)
		if err != nil {
			return err
		}
		inv.Items, err = tx.ListInvoiceItems(ctx, inv.ID)
		if err != nil {
			return err
		}
		if recomputed := inv; len(inv.Items) > 0 {
			recomputed.Recompute()
			if !recomputed.TotalAmount.Equal(inv.TotalAmount) || !recomputed.DiscountAmount.Equal(inv.DiscountAmount) {
				s.logger.Warn("invoice header totals drift from items",
					slog.Int64("invoice_id", inv.ID),
					slog.String("header_total", inv.TotalAmount.StringFixed(2)),
					slog.String("items_total", recomputed.TotalAmount.StringFixed(2)))
			}
		}
		if err := checkPayable(inv, in.StudentID, amount); err != nil {
			return err
		}
		if txnID != nil {
			exists, err := tx.TransactionExists(ctx, *txnID)
			if err != nil {
				return err
			}
			if exists {
				return ErrDuplicateTransaction
			}
		}
		receipt := in.ReceiptNumber
		if receipt != "" {
			exists, err := tx.ReceiptExists(ctx, in.SchoolID, receipt)
			if err != nil {
				return err
			}
			if exists {
				return ErrDuplicateReceipt
			}
		} else {
			receipt, err = tx.NextReceiptNumber(ctx, in.SchoolID, today, s.cfg.ReceiptPrefix)
			if err != nil {
				return err
			}
		}
		payment, err := tx.InsertPayment(ctx, Payment{
			SchoolID:      in.SchoolID,
			InvoiceID:     inv.ID,
			StudentID:     inv.StudentID,
			Amount:        amount,
			PaymentDate:   dateOnly(in.PaymentDate),
			Method:        in.Method,
			TransactionID: txnID,
			ReceiptNumber: receipt,
			Status:        StatusCompleted,
			Notes:         in.Notes,
			RecordedBy:    in.ActorID,
		})
		if err != nil {
			return err
		}
		inv.PaidAmount = money.Round2(inv.PaidAmount.Add(amount))
		inv.BalanceAmount = money.Round2(inv.BalanceAmount.Sub(amount))
		inv.Status = invoices.StatusAfterPayment(inv.Status, inv.PaidAmount, inv.BalanceAmount)
		if err := tx.UpdateInvoiceBalance(ctx, inv); err != nil {
			return err
		}
		eventID, err = tx.EnqueueLedgerEvent(ctx, LedgerEvent{
			SchoolID:      in.SchoolID,
			PaymentID:     payment.ID,
			InvoiceID:     inv.ID,
			InvoiceNumber: inv.InvoiceNumber,
			StudentID:     inv.StudentID,
			ReceiptNumber: payment.ReceiptNumber,
			Amount:        amount,
			Method:        payment.Method,
			Date:          payment.PaymentDate,
			ActorID:       in.ActorID,
		})
		if err != nil {
			return err
		}
		result = RecordResult{Payment: payment, Invoice: inv}
		return nil
	})
	if err != nil {
		return RecordResult{}, err
	}

	if s.metrics != nil {
		s.metrics.PaymentRecorded(string(result.Payment.Method), amount.InexactFloat64())
	}
	s.record(ctx, in.SchoolID, in.ActorID, "payment.record", result.Payment.ID, map[string]any{
		"invoice_id":     result.Invoice.ID,
		"receipt_number": result.Payment.ReceiptNumber,
		"amount":         amount.StringFixed(2),
	})
	s.logger.Info("payment recorded",
		slog.Int64("school_id", in.SchoolID),
		slog.Int64("invoice_id", result.Invoice.ID),
		slog.Int64("payment_id", result.Payment.ID),
		slog.String("receipt_number", result.Payment.ReceiptNumber),
		slog.String("amount", amount.StringFixed(2)),
		slog.String("invoice_status", string(result.Invoice.Status)))

	result.LedgerPending = true
	if s.dispatcher != nil {
		entryID, err := s.dispatcher.Deliver(ctx, eventID)
		if err != nil {
			if s.metrics != nil {
				s.metrics.LedgerPostFailed("payment")
			}
			s.logger.Warn("payment journal posting deferred to outbox",
				slog.Int64("school_id", in.SchoolID),
				slog.Int64("payment_id", result.Payment.ID),
				slog.Int64("outbox_event_id", eventID),
				slog.Any("error", err))
		} else {
			result.Payment.JournalEntryID = &entryID
			result.LedgerPending = false
		}
	}
	return result, nil
}

func checkPayable(inv invoices.Invoice, studentID int64, amount decimal.Decimal) error {
	if inv.StudentID != studentID {
		return ErrStudentMismatch
	}
	switch inv.Status {
	case invoices.StatusDraft:
		return ErrInvoiceDraft
	case invoices.StatusCancelled:
		return ErrInvoiceCancelled
	case invoices.StatusPaid:
		return ErrInvoiceSettled
	}
	if amount.GreaterThan(inv.BalanceAmount) {
		return fmt.Errorf("%w (balance %s, amount %s)", ErrExceedsBalance, inv.BalanceAmount.StringFixed(2), amount.StringFixed(2))
	}
	return nil
}

// UpdateInput patches the mutable fields of a payment. Amount may only repeat the recorded
// value.
type UpdateInput struct {
	SchoolID      int64 `validate:"required,gt=0"`
	PaymentID     int64 `validate:"required,gt=0"`
	Amount        *decimal.Decimal
	Method        *Method `validate:"omitempty,oneof=CASH CHEQUE BANK_TRANSFER CARD UPI ONLINE"`
	TransactionID *string `validate:"omitempty,max=100"`
	Notes         *string `validate:"omitempty,max=1000"`
	ActorID       int64
}

// Update changes method, transaction id or notes.
func (s *Service) Update(ctx context.Context, in UpdateInput) (Payment, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return Payment{}, err
	}
	var updated Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, in.SchoolID, in.PaymentID)
		if err != nil {
			return err
		}
		if in.Amount != nil && !money.Round2(*in.Amount).Equal(p.Amount) {
			return ErrAmountImmutable
		}
		if in.Method != nil {
			p.Method = *in.Method
		}
		if in.Notes != nil {
			p.Notes = *in.Notes
		}
		if in.TransactionID != nil {
			next := normalizeTransactionID(*in.TransactionID)
			if next != nil && (p.TransactionID == nil || *p.TransactionID != *next) {
				exists, err := tx.TransactionExists(ctx, *next)
				if err != nil {
					return err
				}
				if exists {
					return ErrDuplicateTransaction
				}
			}
			p.TransactionID = next
		}
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	s.record(ctx, in.SchoolID, in.ActorID, "payment.update", updated.ID, nil)
	return updated, nil
}

// Delete removes a payment without touching the invoice balance; Recalculate on the invoice
// is the explicit repair. Undelivered ledger events for the payment are discarded.
func (s *Service) Delete(ctx context.Context, schoolID, paymentID, actorID int64) error {
	var (
		deleted   Payment
		discarded int64
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, schoolID, paymentID)
		if err != nil {
			return err
		}
		discarded, err = tx.DiscardLedgerEvents(ctx, p.ID)
		if err != nil {
			return err
		}
		if err := tx.DeletePayment(ctx, p.ID); err != nil {
			return err
		}
		deleted = p
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Warn("payment deleted; invoice balance unchanged until recalculated",
		slog.Int64("school_id", schoolID),
		slog.Int64("payment_id", deleted.ID),
		slog.Int64("invoice_id", deleted.InvoiceID),
		slog.String("amount", deleted.Amount.StringFixed(2)),
		slog.Bool("journal_posted", deleted.JournalEntryID != nil),
		slog.Int64("discarded_ledger_events", discarded))
	s.record(ctx, schoolID, actorID, "payment.delete", deleted.ID, map[string]any{
		"invoice_id":     deleted.InvoiceID,
		"receipt_number": deleted.ReceiptNumber,
		"amount":         deleted.Amount.StringFixed(2),
	})
	return nil
}

// Get loads one payment.
func (s *Service) Get(ctx context.Context, schoolID, paymentID int64) (Payment, error) {
	return s.repo.Get(ctx, schoolID, paymentID)
}

// List returns a page of payments.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Payment, shared.Pagination, error) {
	if filter.SchoolID == 0 {
		return nil, shared.Pagination{}, fmt.Errorf("%w: school required", ErrInvalidInput)
	}
	page := shared.NewPagination(filter.Page, filter.PerPage, 0)
	filter.Page, filter.PerPage = page.Page, page.PerPage
	list, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return list, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

func (s *Service) record(ctx context.Context, schoolID, actorID int64, action string, paymentID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if actorID == 0 {
		actorID = shared.ActorFromContext(ctx)
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		SchoolID: schoolID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "payment",
		EntityID: fmt.Sprintf("%d", paymentID),
		Meta:     meta,
		At:       s.now(),
	}); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
