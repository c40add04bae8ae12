package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aamirsofi/fee-module-sub001/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	FindAccountByRole(ctx context.Context, schoolID int64, role AccountRole) (Account, error)
	FindEntryBySource(ctx context.Context, schoolID int64, module string, sourceID uuid.UUID) (JournalEntry, error)
	GetJournal(ctx context.Context, schoolID, entryID int64) (JournalEntry, error)
	TrialBalance(ctx context.Context, schoolID int64) ([]TrialBalanceRow, error)
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates posting and reversing journal entries.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ResolveAccount returns the school's account for role or ErrAccountNotConfigured.
func (s *Service) ResolveAccount(ctx context.Context, schoolID int64, role AccountRole) (Account, error) {
	account, err := s.repo.FindAccountByRole(ctx, schoolID, role)
	if err != nil {
		if errors.Is(err, ErrAccountNotConfigured) {
			return Account{}, fmt.Errorf("%w: school %d has no active %s account", ErrAccountNotConfigured, schoolID, role)
		}
		return Account{}, err
	}
	return account, nil
}

// FindBySource returns the entry linked to (module, sourceID); ok is false when none exists.
func (s *Service) FindBySource(ctx context.Context, schoolID int64, module string, sourceID uuid.UUID) (JournalEntry, bool, error) {
	entry, err := s.repo.FindEntryBySource(ctx, schoolID, module, sourceID)
	if err != nil {
		if errors.Is(err, ErrJournalNotFound) {
			return JournalEntry{}, false, nil
		}
		return JournalEntry{}, false, err
	}
	return entry, true, nil
}

// GetJournal loads one entry with lines.
func (s *Service) GetJournal(ctx context.Context, schoolID, entryID int64) (JournalEntry, error) {
	return s.repo.GetJournal(ctx, schoolID, entryID)
}

// PostJournal validates and persists a new journal entry. A second posting for the same
// source returns ErrSourceAlreadyLinked and writes nothing.
func (s *Service) PostJournal(ctx context.Context, input PostingInput) (JournalEntry, error) {
	if input.Date.IsZero() {
		input.Date = s.now()
	}
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inserted, err := tx.InsertJournalEntry(ctx, input)
		if err != nil {
			return err
		}
		if err := tx.InsertJournalLines(ctx, inserted.ID, input.Lines); err != nil {
			return err
		}
		if err := tx.LinkSource(ctx, input.SchoolID, input.SourceModule, input.SourceID, inserted.ID); err != nil {
			if errors.Is(err, ErrSourceConflict) {
				return ErrSourceAlreadyLinked
			}
			return err
		}
		inserted.Lines = toJournalLines(inserted.ID, input.Lines)
		entry = inserted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			SchoolID: input.SchoolID,
			ActorID:  input.PostedBy,
			Action:   "journal.post",
			Entity:   "journal_entry",
			EntityID: fmt.Sprintf("%d", entry.ID),
			Meta: map[string]any{
				"number":        entry.Number,
				"entry_type":    string(entry.EntryType),
				"source_module": input.SourceModule,
				"source_id":     input.SourceID.String(),
			},
			At: s.now(),
		})
	}
	return entry, nil
}

// ReverseJournal posts the mirror image of a posted entry and marks the original REVERSED.
func (s *Service) ReverseJournal(ctx context.Context, input ReverseInput) (JournalEntry, error) {
	if input.EntryID == 0 {
		return JournalEntry{}, fmt.Errorf("%w: accounting: entry id required", shared.ErrValidation)
	}
	if input.Date.IsZero() {
		input.Date = s.now()
	}
	var reversal JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, lines, err := tx.GetJournalForUpdate(ctx, input.SchoolID, input.EntryID)
		if err != nil {
			return err
		}
		if original.Status != JournalStatusPosted {
			return ErrInvalidStatus
		}
		module := input.SourceModule
		if module == "" {
			module = original.SourceModule + ":REVERSAL"
		}
		sourceID := input.SourceID
		if sourceID == uuid.Nil {
			sourceID = SourceID(module, input.SchoolID, original.ID)
		}
		reversalOf := original.ID
		posting := PostingInput{
			SchoolID:     input.SchoolID,
			EntryType:    reversalType(original.EntryType),
			Date:         input.Date,
			SourceModule: module,
			SourceID:     sourceID,
			Memo:         defaultReversalMemo(input.Memo, original.Number),
			PostedBy:     input.ActorID,
			ReversalOf:   &reversalOf,
			Lines:        reverseLines(lines),
		}
		if err := posting.Validate(); err != nil {
			return err
		}
		inserted, err := tx.InsertJournalEntry(ctx, posting)
		if err != nil {
			return err
		}
		if err := tx.InsertJournalLines(ctx, inserted.ID, posting.Lines); err != nil {
			return err
		}
		if err := tx.LinkSource(ctx, posting.SchoolID, posting.SourceModule, posting.SourceID, inserted.ID); err != nil {
			if errors.Is(err, ErrSourceConflict) {
				return ErrSourceAlreadyLinked
			}
			return err
		}
		if err := tx.UpdateJournalStatus(ctx, original.ID, JournalStatusReversed); err != nil {
			return err
		}
		reversal = inserted
		reversal.Lines = toJournalLines(inserted.ID, posting.Lines)
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			SchoolID: input.SchoolID,
			ActorID:  input.ActorID,
			Action:   "journal.reverse",
			Entity:   "journal_entry",
			EntityID: fmt.Sprintf("%d", input.EntryID),
			Meta: map[string]any{
				"reversal_id":     reversal.ID,
				"reversal_number": reversal.Number,
			},
			At: s.now(),
		})
	}
	return reversal, nil
}

// TrialBalance sums posted lines per account for the school.
func (s *Service) TrialBalance(ctx context.Context, schoolID int64) (TrialBalance, error) {
	rows, err := s.repo.TrialBalance(ctx, schoolID)
	if err != nil {
		return TrialBalance{}, err
	}
	tb := TrialBalance{Rows: rows}
	for _, row := range rows {
		tb.TotalDebit = tb.TotalDebit.Add(row.Debit)
		tb.TotalCredit = tb.TotalCredit.Add(row.Credit)
	}
	return tb, nil
}

func reversalType(t EntryType) EntryType {
	if t == EntryTypeInvoice {
		return EntryTypeInvoiceReversal
	}
	return t
}

func reverseLines(lines []JournalLine) []PostingLineInput {
	out := make([]PostingLineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, PostingLineInput{
			AccountID:   line.AccountID,
			Debit:       line.Credit,
			Credit:      line.Debit,
			Description: line.Description,
		})
	}
	return out
}

func toJournalLines(entryID int64, lines []PostingLineInput) []JournalLine {
	out := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, JournalLine{
			JournalID:   entryID,
			AccountID:   line.AccountID,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Description: line.Description,
		})
	}
	return out
}

func defaultReversalMemo(memo, number string) string {
	if memo != "" {
		return memo
	}
	return fmt.Sprintf("Reversal of %s", number)
}
