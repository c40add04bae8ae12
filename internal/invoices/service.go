package invoices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aamirsofi/fee-module-sub001/internal/catalog"
	"github.com/aamirsofi/fee-module-sub001/internal/money"
	"github.com/aamirsofi/fee-module-sub001/internal/shared"
)

// RepositoryPort abstracts invoice persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, schoolID, invoiceID int64) (Invoice, error)
	List(ctx context.Context, filter ListFilter) ([]Invoice, int, error)
	PeriodExists(ctx context.Context, schoolID, studentID, yearID int64, t Type, period Period) (bool, error)
}

// CatalogPort reads fee templates and charge sources.
type CatalogPort interface {
	GetStudent(ctx context.Context, schoolID, studentID int64) (catalog.Student, error)
	GetAcademicYear(ctx context.Context, schoolID, yearID int64) (catalog.AcademicYear, error)
	ActiveRecord(ctx context.Context, schoolID, studentID, yearID int64) (catalog.AcademicRecord, error)
	ListActiveFeeStructures(ctx context.Context, schoolID, yearID int64, ids []int64) ([]catalog.FeeStructure, error)
	GetFeeStructure(ctx context.Context, schoolID, id int64) (catalog.FeeStructure, error)
	GetRoutePlan(ctx context.Context, schoolID, id int64) (catalog.RoutePlan, error)
	GetHostelCharge(ctx context.Context, schoolID, id int64) (catalog.HostelCharge, error)
	GetFine(ctx context.Context, schoolID, id int64) (catalog.Fine, error)
	ActiveRoute(ctx context.Context, schoolID, studentID int64) (catalog.StudentRoute, bool, error)
}

// LedgerPort posts invoice events to the accounting ledger.
type LedgerPort interface {
	FindInvoiceEntry(ctx context.Context, schoolID, invoiceID int64) (int64, bool, error)
	PostInvoiceFinalized(ctx context.Context, evt FinalizedEvent) (int64, error)
	PostInvoiceCancelled(ctx context.Context, evt CancelledEvent) (int64, error)
}

// AuditPort records lifecycle transitions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Config tunes invoice numbering.
type Config struct {
	NumberPrefix string
}

// Service owns the invoice aggregate and its state machine.
type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
	ledger  LedgerPort
	audit   AuditPort
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

// NewService constructs the invoice service.
func NewService(repo RepositoryPort, cat CatalogPort, ledger LedgerPort, audit AuditPort, cfg Config, logger *slog.Logger) *Service {
	if cfg.NumberPrefix == "" {
		cfg.NumberPrefix = "INV"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, catalog: cat, ledger: ledger, audit: audit, cfg: cfg, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ItemInput describes one item to attach. SourceID is required for every source type except
// MISC. Amount overrides the source's own amount when set; MISC items must set it.
type ItemInput struct {
	SourceType     SourceType       `validate:"required,oneof=FEE TRANSPORT HOSTEL FINE MISC"`
	SourceID       *int64           `validate:"omitempty,gt=0"`
	Description    string           `validate:"max=255"`
	Amount         *decimal.Decimal
	DiscountAmount decimal.Decimal
	DueDate        *time.Time
	Notes          string `validate:"max=1000"`
}

// CreateInput carries a manual invoice.
type CreateInput struct {
	SchoolID       int64 `validate:"required,gt=0"`
	StudentID      int64 `validate:"required,gt=0"`
	AcademicYearID int64 `validate:"required,gt=0"`
	Type           Type  `validate:"omitempty,oneof=MONTHLY QUARTERLY YEARLY AD_HOC"`
	IssueDate      time.Time
	DueDate        time.Time
	PeriodDate     *time.Time
	Notes          string `validate:"max=1000"`
	ActorID        int64
	Items          []ItemInput `validate:"dive"`
}

// Create persists a DRAFT invoice with its items atomically.
func (s *Service) Create(ctx context.Context, in CreateInput) (Invoice, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return Invoice{}, err
	}
	if len(in.Items) == 0 {
		return Invoice{}, ErrNoItems
	}
	inv, err := s.draftHeader(ctx, in)
	if err != nil {
		return Invoice{}, err
	}
	items, err := s.resolveItems(ctx, in.SchoolID, in.StudentID, in.Items)
	if err != nil {
		return Invoice{}, err
	}
	inv.Items = items
	return s.persistDraft(ctx, inv)
}

func (s *Service) draftHeader(ctx context.Context, in CreateInput) (Invoice, error) {
	if in.Type == "" {
		in.Type = TypeAdHoc
	}
	if in.IssueDate.IsZero() {
		in.IssueDate = s.now()
	}
	if in.DueDate.IsZero() {
		in.DueDate = in.IssueDate
	}
	if dateOnly(in.DueDate).Before(dateOnly(in.IssueDate)) {
		return Invoice{}, fmt.Errorf("%w: due date must not be before issue date", ErrInvalidInput)
	}
	if _, err := s.catalog.GetStudent(ctx, in.SchoolID, in.StudentID); err != nil {
		return Invoice{}, err
	}
	if _, err := s.catalog.GetAcademicYear(ctx, in.SchoolID, in.AcademicYearID); err != nil {
		return Invoice{}, err
	}
	periodDate := in.IssueDate
	if in.PeriodDate != nil {
		periodDate = *in.PeriodDate
	}
	return Invoice{
		SchoolID:       in.SchoolID,
		StudentID:      in.StudentID,
		AcademicYearID: in.AcademicYearID,
		IssueDate:      dateOnly(in.IssueDate),
		DueDate:        dateOnly(in.DueDate),
		Type:           in.Type,
		Status:         StatusDraft,
		Period:         PeriodFor(in.Type, periodDate),
		Notes:          in.Notes,
		CreatedBy:      in.ActorID,
	}, nil
}

func (s *Service) persistDraft(ctx context.Context, inv Invoice) (Invoice, error) {
	inv.PaidAmount = decimal.Zero
	inv.Recompute()
	if inv.BalanceAmount.IsNegative() {
		return Invoice{}, fmt.Errorf("%w: discounts exceed the invoice total", ErrInvalidInput)
	}
	if !inv.Period.IsZero() {
		exists, err := s.repo.PeriodExists(ctx, inv.SchoolID, inv.StudentID, inv.AcademicYearID, inv.Type, inv.Period)
		if err != nil {
			return Invoice{}, err
		}
		if exists {
			return Invoice{}, fmt.Errorf("%w (%s %s)", ErrDuplicatePeriod, inv.Type, inv.Period)
		}
	}
	var created Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextInvoiceNumber(ctx, inv.SchoolID, inv.IssueDate.Year(), s.cfg.NumberPrefix)
		if err != nil {
			return err
		}
		inv.InvoiceNumber = number
		header, err := tx.InsertInvoice(ctx, inv)
		if err != nil {
			return err
		}
		items, err := tx.InsertItems(ctx, header.ID, inv.Items)
		if err != nil {
			return err
		}
		header.Items = items
		created = header
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.logger.Info("invoice created",
		slog.Int64("school_id", created.SchoolID),
		slog.Int64("invoice_id", created.ID),
		slog.String("invoice_number", created.InvoiceNumber),
		slog.String("total", created.TotalAmount.StringFixed(2)))
	return created, nil
}

// Finalize issues a DRAFT invoice and posts Debit Receivable / Credit Income for its balance.
// Calling it again on an invoice that is no longer DRAFT, or that already has a journal
// entry, returns the invoice unchanged.
func (s *Service) Finalize(ctx context.Context, schoolID, invoiceID, actorID int64) (Invoice, error) {
	var (
		result  Invoice
		changed bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetForUpdate(ctx, schoolID, invoiceID)
		if err != nil {
			return err
		}
		items, err := tx.ListItems(ctx, inv.ID)
		if err != nil {
			return err
		}
		inv.Items = items
		if inv.Status != StatusDraft || inv.JournalEntryID != nil {
			result = inv
			return nil
		}
		if len(items) == 0 || !money.Positive(inv.TotalAmount) || !money.Positive(inv.BalanceAmount) {
			return ErrNothingToFinalize
		}
		entryID, found, err := s.ledger.FindInvoiceEntry(ctx, schoolID, inv.ID)
		if err != nil {
			return err
		}
		if !found {
			entryID, err = s.ledger.PostInvoiceFinalized(ctx, FinalizedEvent{
				SchoolID:      schoolID,
				InvoiceID:     inv.ID,
				InvoiceNumber: inv.InvoiceNumber,
				StudentID:     inv.StudentID,
				Amount:        inv.BalanceAmount,
				Date:          inv.IssueDate,
				ActorID:       actorID,
			})
			if err != nil {
				return fmt.Errorf("post invoice %s to ledger: %w", inv.InvoiceNumber, err)
			}
		}
		if err := tx.MarkIssued(ctx, inv.ID, entryID); err != nil {
			return err
		}
		inv.Status = StatusIssued
		inv.JournalEntryID = &entryID
		result = inv
		changed = true
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	if changed {
		s.record(ctx, schoolID, actorID, "invoice.finalize", result.ID, map[string]any{
			"invoice_number":   result.InvoiceNumber,
			"journal_entry_id": *result.JournalEntryID,
		})
		s.logger.Info("invoice finalized", slog.Int64("school_id", schoolID), slog.Int64("invoice_id", result.ID), slog.Int64("journal_entry_id", *result.JournalEntryID))
	}
	return result, nil
}

// UpdateInput patches a DRAFT invoice. Nil fields are left unchanged; a non-nil Items slice
// replaces all items.
type UpdateInput struct {
	SchoolID  int64 `validate:"required,gt=0"`
	InvoiceID int64 `validate:"required,gt=0"`
	IssueDate *time.Time
	DueDate   *time.Time
	Notes     *string     `validate:"omitempty,max=1000"`
	Items     []ItemInput `validate:"omitempty,dive"`
	ActorID   int64
}

// Update modifies a DRAFT invoice.
func (s *Service) Update(ctx context.Context, in UpdateInput) (Invoice, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return Invoice{}, err
	}
	if in.Items != nil && len(in.Items) == 0 {
		return Invoice{}, ErrNoItems
	}
	current, err := s.repo.Get(ctx, in.SchoolID, in.InvoiceID)
	if err != nil {
		return Invoice{}, err
	}
	var replacement []Item
	if in.Items != nil {
		replacement, err = s.resolveItems(ctx, in.SchoolID, current.StudentID, in.Items)
		if err != nil {
			return Invoice{}, err
		}
	}
	var updated Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetForUpdate(ctx, in.SchoolID, in.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Status != StatusDraft {
			return ErrNotDraft
		}
		if in.IssueDate != nil {
			inv.IssueDate = dateOnly(*in.IssueDate)
		}
		if in.DueDate != nil {
			inv.DueDate = dateOnly(*in.DueDate)
		}
		if inv.DueDate.Before(inv.IssueDate) {
			return fmt.Errorf("%w: due date must not be before issue date", ErrInvalidInput)
		}
		if in.Notes != nil {
			inv.Notes = *in.Notes
		}
		if replacement != nil {
			if err := tx.DeleteItems(ctx, inv.ID); err != nil {
				return err
			}
			inv.Items, err = tx.InsertItems(ctx, inv.ID, replacement)
			if err != nil {
				return err
			}
		} else {
			inv.Items, err = tx.ListItems(ctx, inv.ID)
			if err != nil {
				return err
			}
		}
		inv.Recompute()
		if inv.BalanceAmount.IsNegative() {
			return fmt.Errorf("%w: discounts exceed the invoice total", ErrInvalidInput)
		}
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		updated = inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	return updated, nil
}

// Delete removes a DRAFT invoice and its items.
func (s *Service) Delete(ctx context.Context, schoolID, invoiceID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetForUpdate(ctx, schoolID, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != StatusDraft {
			return ErrNotDraft
		}
		return tx.DeleteInvoice(ctx, inv.ID)
	})
	if err != nil {
		return err
	}
	s.record(ctx, schoolID, actorID, "invoice.delete", invoiceID, nil)
	return nil
}

// Cancel voids a DRAFT invoice, or an ISSUED one that has no payments. Cancelling an issued
// invoice posts the reversal of its finalization entry; a ledger failure aborts the cancel.
func (s *Service) Cancel(ctx context.Context, schoolID, invoiceID, actorID int64, reason string) (Invoice, error) {
	var (
		result  Invoice
		changed bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetForUpdate(ctx, schoolID, invoiceID)
		if err != nil {
			return err
		}
		switch inv.Status {
		case StatusCancelled:
			result = inv
			return nil
		case StatusDraft:
		case StatusIssued:
			count, err := tx.CountPayments(ctx, inv.ID)
			if err != nil {
				return err
			}
			if count > 0 || money.Positive(inv.PaidAmount) {
				return ErrCannotCancel
			}
			if inv.JournalEntryID != nil {
				if _, err := s.ledger.PostInvoiceCancelled(ctx, CancelledEvent{
					SchoolID:       schoolID,
					InvoiceID:      inv.ID,
					InvoiceNumber:  inv.InvoiceNumber,
					JournalEntryID: *inv.JournalEntryID,
					Date:           s.now(),
					ActorID:        actorID,
					Reason:         reason,
				}); err != nil {
					return fmt.Errorf("reverse invoice %s in ledger: %w", inv.InvoiceNumber, err)
				}
			}
		default:
			return ErrCannotCancel
		}
		if err := tx.SetStatus(ctx, inv.ID, StatusCancelled); err != nil {
			return err
		}
		inv.Status = StatusCancelled
		result = inv
		changed = true
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	if changed {
		s.record(ctx, schoolID, actorID, "invoice.cancel", invoiceID, map[string]any{
			"invoice_number": result.InvoiceNumber,
			"reason":         reason,
		})
	}
	return result, nil
}

// TemplateInput asks for an invoice assembled from the fee structures of the student's class.
type TemplateInput struct {
	SchoolID         int64 `validate:"required,gt=0"`
	StudentID        int64 `validate:"required,gt=0"`
	AcademicYearID   int64 `validate:"required,gt=0"`
	Type             Type  `validate:"required,oneof=MONTHLY QUARTERLY YEARLY AD_HOC"`
	PeriodDate       time.Time
	IssueDate        time.Time
	DueDate          time.Time
	FeeStructureIDs  []int64 `validate:"omitempty,dive,gt=0"`
	IncludeTransport bool
	ActorID          int64
}

// GenerateFromTemplates builds a DRAFT invoice from the active fee structures scoped to the
// student's class. A second invoice for the same student, academic year, type and period is
// rejected before anything is written.
func (s *Service) GenerateFromTemplates(ctx context.Context, in TemplateInput) (Invoice, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return Invoice{}, err
	}
	if in.PeriodDate.IsZero() {
		in.PeriodDate = s.now()
	}
	period := PeriodFor(in.Type, in.PeriodDate)
	if !period.IsZero() {
		exists, err := s.repo.PeriodExists(ctx, in.SchoolID, in.StudentID, in.AcademicYearID, in.Type, period)
		if err != nil {
			return Invoice{}, err
		}
		if exists {
			return Invoice{}, fmt.Errorf("%w (%s %s)", ErrDuplicatePeriod, in.Type, period)
		}
	}
	record, err := s.catalog.ActiveRecord(ctx, in.SchoolID, in.StudentID, in.AcademicYearID)
	if err != nil {
		return Invoice{}, err
	}
	structures, err := s.catalog.ListActiveFeeStructures(ctx, in.SchoolID, in.AcademicYearID, in.FeeStructureIDs)
	if err != nil {
		return Invoice{}, err
	}
	var items []Item
	for _, fs := range structures {
		if !fs.AppliesToClass(record.ClassID) || !frequencyMatches(in.Type, fs.Frequency) {
			continue
		}
		items = append(items, feeItem(fs))
	}
	if len(items) == 0 {
		return Invoice{}, ErrNoApplicableFees
	}
	if in.IncludeTransport {
		route, ok, err := s.activeRoute(ctx, in.SchoolID, in.StudentID)
		if err != nil {
			return Invoice{}, err
		}
		if ok {
			items = append(items, route)
		}
	}
	inv, err := s.draftHeader(ctx, CreateInput{
		SchoolID:       in.SchoolID,
		StudentID:      in.StudentID,
		AcademicYearID: in.AcademicYearID,
		Type:           in.Type,
		IssueDate:      in.IssueDate,
		DueDate:        in.DueDate,
		PeriodDate:     &in.PeriodDate,
		ActorID:        in.ActorID,
	})
	if err != nil {
		return Invoice{}, err
	}
	inv.Items = items
	return s.persistDraft(ctx, inv)
}

// AttachInput adds one item to an existing invoice.
type AttachInput struct {
	SchoolID  int64 `validate:"required,gt=0"`
	InvoiceID int64 `validate:"required,gt=0"`
	Item      ItemInput
	ActorID   int64
}

// AttachItem snapshots the item's source, appends it to a DRAFT or ISSUED invoice and
// recomputes the totals from all items. Attaching to an ISSUED invoice raises its balance
// without posting a receivable adjustment; the finalize entry keeps its original amount.
func (s *Service) AttachItem(ctx context.Context, in AttachInput) (Invoice, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return Invoice{}, err
	}
	current, err := s.repo.Get(ctx, in.SchoolID, in.InvoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if !current.AcceptsItems() {
		return Invoice{}, ErrItemsLocked
	}
	resolved, err := s.resolveItems(ctx, in.SchoolID, current.StudentID, []ItemInput{in.Item})
	if err != nil {
		return Invoice{}, err
	}
	var (
		updated            Invoice
		posted             decimal.Decimal
		attachedAfterIssue bool
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetForUpdate(ctx, in.SchoolID, in.InvoiceID)
		if err != nil {
			return err
		}
		if !inv.AcceptsItems() {
			return ErrItemsLocked
		}
		attachedAfterIssue = inv.Status == StatusIssued
		posted = inv.BalanceAmount
		if _, err := tx.InsertItems(ctx, inv.ID, resolved); err != nil {
			return err
		}
		inv.Items, err = tx.ListItems(ctx, inv.ID)
		if err != nil {
			return err
		}
		inv.Recompute()
		if inv.BalanceAmount.IsNegative() {
			return fmt.Errorf("%w: discounts exceed the invoice total", ErrInvalidInput)
		}
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		updated = inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.logger.Info("invoice item attached",
		slog.Int64("school_id", in.SchoolID),
		slog.Int64("invoice_id", in.InvoiceID),
		slog.String("source_type", string(in.Item.SourceType)),
		slog.String("balance", updated.BalanceAmount.StringFixed(2)))
	if attachedAfterIssue {
		s.logger.Warn("item attached to issued invoice without ledger adjustment",
			slog.Int64("school_id", in.SchoolID),
			slog.Int64("invoice_id", in.InvoiceID),
			slog.String("posted_balance", posted.StringFixed(2)),
			slog.String("balance", updated.BalanceAmount.StringFixed(2)))
	}
	return updated, nil
}

// Recalculate recomputes paid, balance and status from the surviving payments. It is the
// explicit repair path after a payment has been deleted.
func (s *Service) Recalculate(ctx context.Context, schoolID, invoiceID, actorID int64) (Invoice, error) {
	var (
		result   Invoice
		previous decimal.Decimal
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetForUpdate(ctx, schoolID, invoiceID)
		if err != nil {
			return err
		}
		inv.Items, err = tx.ListItems(ctx, inv.ID)
		if err != nil {
			return err
		}
		paid, err := tx.SumPayments(ctx, inv.ID)
		if err != nil {
			return err
		}
		previous = inv.PaidAmount
		inv.PaidAmount = money.Round2(paid)
		inv.Recompute()
		if inv.Status != StatusDraft && inv.Status != StatusCancelled {
			inv.Status = StatusAfterPayment(StatusIssued, inv.PaidAmount, inv.BalanceAmount)
		}
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		result = inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	if !previous.Equal(result.PaidAmount) {
		s.record(ctx, schoolID, actorID, "invoice.recalculate", invoiceID, map[string]any{
			"previous_paid": previous.StringFixed(2),
			"paid":          result.PaidAmount.StringFixed(2),
		})
	}
	return result, nil
}

// Get loads one invoice with items.
func (s *Service) Get(ctx context.Context, schoolID, invoiceID int64) (Invoice, error) {
	return s.repo.Get(ctx, schoolID, invoiceID)
}

// List returns a page of invoice headers and the pagination metadata.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Invoice, shared.Pagination, error) {
	if filter.SchoolID == 0 {
		return nil, shared.Pagination{}, fmt.Errorf("%w: school required", ErrInvalidInput)
	}
	page := shared.NewPagination(filter.Page, filter.PerPage, 0)
	filter.Page, filter.PerPage = page.Page, page.PerPage
	invoices, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return invoices, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

func (s *Service) resolveItems(ctx context.Context, schoolID, studentID int64, inputs []ItemInput) ([]Item, error) {
	items := make([]Item, 0, len(inputs))
	for idx, in := range inputs {
		item, err := s.resolveItem(ctx, schoolID, studentID, in)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", idx+1, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Service) resolveItem(ctx context.Context, schoolID, studentID int64, in ItemInput) (Item, error) {
	if in.SourceType != SourceMisc && in.SourceID == nil {
		return Item{}, fmt.Errorf("%w: source id is required for %s items", ErrInvalidInput, in.SourceType)
	}
	var item Item
	switch in.SourceType {
	case SourceFee:
		fs, err := s.catalog.GetFeeStructure(ctx, schoolID, *in.SourceID)
		if err != nil {
			return Item{}, err
		}
		item = feeItem(fs)
	case SourceTransport:
		plan, err := s.catalog.GetRoutePlan(ctx, schoolID, *in.SourceID)
		if err != nil {
			return Item{}, err
		}
		item = transportItem(plan.ID, plan.RouteName, plan.Name, plan.Amount)
	case SourceHostel:
		h, err := s.catalog.GetHostelCharge(ctx, schoolID, *in.SourceID)
		if err != nil {
			return Item{}, err
		}
		id := h.ID
		item = Item{
			SourceType:  SourceHostel,
			SourceID:    &id,
			Snapshot:    HostelSnapshot{HostelChargeID: h.ID, Hostel: h.Hostel, Room: h.Room, Amount: h.Amount},
			Description: fmt.Sprintf("Hostel - %s %s", h.Hostel, h.Room),
			Amount:      h.Amount,
		}
	case SourceFine:
		f, err := s.catalog.GetFine(ctx, schoolID, *in.SourceID)
		if err != nil {
			return Item{}, err
		}
		if f.StudentID != studentID {
			return Item{}, fmt.Errorf("%w: fine %d was not raised against this student", ErrInvalidInput, f.ID)
		}
		id := f.ID
		item = Item{
			SourceType:  SourceFine,
			SourceID:    &id,
			Snapshot:    FineSnapshot{FineID: f.ID, Reason: f.Reason, Amount: f.Amount, IssuedOn: f.IssuedOn},
			Description: "Fine - " + f.Reason,
			Amount:      f.Amount,
		}
	case SourceMisc:
		if in.Amount == nil {
			return Item{}, fmt.Errorf("%w: amount is required for MISC items", ErrInvalidInput)
		}
		if in.Description == "" {
			return Item{}, fmt.Errorf("%w: description is required for MISC items", ErrInvalidInput)
		}
		item = Item{SourceType: SourceMisc, SourceID: in.SourceID, Snapshot: MiscSnapshot{Label: in.Description}}
	default:
		return Item{}, fmt.Errorf("%w: unknown item source type %q", ErrInvalidInput, in.SourceType)
	}
	if in.Amount != nil {
		item.Amount = *in.Amount
	}
	if in.Description != "" {
		item.Description = in.Description
	}
	item.Amount = money.Round2(item.Amount)
	item.DiscountAmount = money.Round2(in.DiscountAmount)
	item.DueDate = in.DueDate
	item.Notes = in.Notes
	if item.Amount.IsNegative() {
		return Item{}, fmt.Errorf("%w: item amount must not be negative", ErrInvalidInput)
	}
	if item.DiscountAmount.IsNegative() || item.DiscountAmount.GreaterThan(item.Amount) {
		return Item{}, fmt.Errorf("%w: item discount must be between zero and the item amount", ErrInvalidInput)
	}
	return item, nil
}

func (s *Service) activeRoute(ctx context.Context, schoolID, studentID int64) (Item, bool, error) {
	route, found, err := s.catalog.ActiveRoute(ctx, schoolID, studentID)
	if err != nil || !found {
		return Item{}, false, err
	}
	return transportItem(route.RoutePlanID, route.RouteName, route.PlanName, route.Amount), true, nil
}

func (s *Service) record(ctx context.Context, schoolID, actorID int64, action string, invoiceID int64, meta map[string]any) {
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
		Entity:   "invoice",
		EntityID: fmt.Sprintf("%d", invoiceID),
		Meta:     meta,
		At:       s.now(),
	}); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func feeItem(fs catalog.FeeStructure) Item {
	id := fs.ID
	return Item{
		SourceType: SourceFee,
		SourceID:   &id,
		Snapshot: FeeSnapshot{
			FeeStructureID: fs.ID,
			Name:           fs.Name,
			Category:       fs.Category,
			Amount:         fs.Amount,
			Frequency:      string(fs.Frequency),
			ClassID:        fs.ClassID,
		},
		Description: fs.Name,
		Amount:      money.Round2(fs.Amount),
		DueDate:     fs.DueDate,
	}
}

func transportItem(planID int64, routeName, planName string, amount decimal.Decimal) Item {
	id := planID
	return Item{
		SourceType:  SourceTransport,
		SourceID:    &id,
		Snapshot:    TransportSnapshot{RoutePlanID: planID, RouteName: routeName, PlanName: planName, Amount: amount},
		Description: fmt.Sprintf("Transport - %s (%s)", routeName, planName),
		Amount:      money.Round2(amount),
	}
}

// frequencyMatches selects the structures billed on an invoice of type t. Yearly invoices
// also carry one-time fees; ad-hoc invoices take every applicable structure.
func frequencyMatches(t Type, f catalog.Frequency) bool {
	switch t {
	case TypeMonthly:
		return f == catalog.FrequencyMonthly
	case TypeQuarterly:
		return f == catalog.FrequencyQuarterly
	case TypeYearly:
		return f == catalog.FrequencyYearly || f == catalog.FrequencyOneTime
	default:
		return true
	}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
