package integration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aamirsofi/fee-module-sub001/internal/accounting"
	"github.com/aamirsofi/fee-module-sub001/internal/invoices"
	"github.com/aamirsofi/fee-module-sub001/internal/payments"
)

type linkKey struct {
	school int64
	module string
	source uuid.UUID
}

// fakeLedger keeps entries and enforces one entry per source link.
type fakeLedger struct {
	accounts map[accounting.AccountRole]accounting.Account
	entries  map[int64]accounting.JournalEntry
	links    map[linkKey]int64
	posts    int
	postErr  error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		accounts: map[accounting.AccountRole]accounting.Account{
			accounting.RoleReceivable:      {ID: 11, Code: "1200"},
			accounting.RoleOperatingIncome: {ID: 41, Code: "4100"},
			accounting.RoleCash:            {ID: 10, Code: "1000"},
		},
		entries: map[int64]accounting.JournalEntry{},
		links:   map[linkKey]int64{},
	}
}

func (l *fakeLedger) ResolveAccount(_ context.Context, _ int64, role accounting.AccountRole) (accounting.Account, error) {
	acc, ok := l.accounts[role]
	if !ok {
		return accounting.Account{}, accounting.ErrAccountNotConfigured
	}
	return acc, nil
}

func (l *fakeLedger) FindBySource(_ context.Context, schoolID int64, module string, sourceID uuid.UUID) (accounting.JournalEntry, bool, error) {
	id, ok := l.links[linkKey{schoolID, module, sourceID}]
	if !ok {
		return accounting.JournalEntry{}, false, nil
	}
	return l.entries[id], true, nil
}

func (l *fakeLedger) PostJournal(_ context.Context, in accounting.PostingInput) (accounting.JournalEntry, error) {
	if l.postErr != nil {
		return accounting.JournalEntry{}, l.postErr
	}
	if err := in.Validate(); err != nil {
		return accounting.JournalEntry{}, err
	}
	key := linkKey{in.SchoolID, in.SourceModule, in.SourceID}
	if _, ok := l.links[key]; ok {
		return accounting.JournalEntry{}, accounting.ErrSourceAlreadyLinked
	}
	l.posts++
	entry := accounting.JournalEntry{
		ID:           int64(len(l.entries) + 1),
		SchoolID:     in.SchoolID,
		EntryType:    in.EntryType,
		SourceModule: in.SourceModule,
		SourceID:     in.SourceID,
		Memo:         in.Memo,
		Status:       accounting.JournalStatusPosted,
		ReversalOf:   in.ReversalOf,
	}
	for _, line := range in.Lines {
		entry.Lines = append(entry.Lines, accounting.JournalLine{JournalID: entry.ID, AccountID: line.AccountID, Debit: line.Debit, Credit: line.Credit})
	}
	l.entries[entry.ID] = entry
	l.links[key] = entry.ID
	return entry, nil
}

func (l *fakeLedger) ReverseJournal(ctx context.Context, in accounting.ReverseInput) (accounting.JournalEntry, error) {
	original, ok := l.entries[in.EntryID]
	if !ok {
		return accounting.JournalEntry{}, accounting.ErrJournalNotFound
	}
	if original.Status != accounting.JournalStatusPosted {
		return accounting.JournalEntry{}, accounting.ErrInvalidStatus
	}
	lines := make([]accounting.PostingLineInput, 0, len(original.Lines))
	for _, line := range original.Lines {
		lines = append(lines, accounting.PostingLineInput{AccountID: line.AccountID, Debit: line.Credit, Credit: line.Debit})
	}
	reversalOf := original.ID
	entry, err := l.PostJournal(ctx, accounting.PostingInput{
		SchoolID:     in.SchoolID,
		EntryType:    accounting.EntryTypeInvoiceReversal,
		SourceModule: in.SourceModule,
		SourceID:     in.SourceID,
		Memo:         in.Memo,
		ReversalOf:   &reversalOf,
		Lines:        lines,
	})
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	original.Status = accounting.JournalStatusReversed
	l.entries[original.ID] = original
	return entry, nil
}

func newHooks(ledger Ledger) *Hooks {
	return NewHooks(ledger, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func finalized() invoices.FinalizedEvent {
	return invoices.FinalizedEvent{
		SchoolID:      1,
		InvoiceID:     5,
		InvoiceNumber: "INV-2025-0005",
		StudentID:     9,
		Amount:        decimal.RequireFromString("3450"),
		Date:          time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC),
	}
}

func requireLine(t *testing.T, line accounting.JournalLine, account int64, debit, credit string) {
	t.Helper()
	require.Equal(t, account, line.AccountID)
	require.Truef(t, decimal.RequireFromString(debit).Equal(line.Debit), "debit %s", line.Debit)
	require.Truef(t, decimal.RequireFromString(credit).Equal(line.Credit), "credit %s", line.Credit)
}

func TestPostInvoiceFinalizedIsIdempotentPerInvoice(t *testing.T) {
	ledger := newFakeLedger()
	hooks := newHooks(ledger)
	ctx := context.Background()

	_, found, err := hooks.FindInvoiceEntry(ctx, 1, 5)
	require.NoError(t, err)
	require.False(t, found)

	id, err := hooks.PostInvoiceFinalized(ctx, finalized())
	require.NoError(t, err)
	entry := ledger.entries[id]
	require.Equal(t, accounting.EntryTypeInvoice, entry.EntryType)
	require.Equal(t, ModuleInvoice, entry.SourceModule)
	require.Len(t, entry.Lines, 2)
	requireLine(t, entry.Lines[0], 11, "3450", "0")
	requireLine(t, entry.Lines[1], 41, "0", "3450")

	again, err := hooks.PostInvoiceFinalized(ctx, finalized())
	require.NoError(t, err)
	require.Equal(t, id, again)
	require.Equal(t, 1, ledger.posts)

	found2, ok, err := hooks.FindInvoiceEntry(ctx, 1, 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, found2)
}

func TestPostInvoiceFinalizedRequiresConfiguredAccounts(t *testing.T) {
	ledger := newFakeLedger()
	delete(ledger.accounts, accounting.RoleOperatingIncome)

	_, err := newHooks(ledger).PostInvoiceFinalized(context.Background(), finalized())
	require.ErrorIs(t, err, accounting.ErrAccountNotConfigured)
	require.Zero(t, ledger.posts)

	evt := finalized()
	evt.Amount = decimal.Zero
	_, err = newHooks(newFakeLedger()).PostInvoiceFinalized(context.Background(), evt)
	require.Error(t, err)
}

func TestPostInvoiceCancelledReversesOnce(t *testing.T) {
	ledger := newFakeLedger()
	hooks := newHooks(ledger)
	ctx := context.Background()

	id, err := hooks.PostInvoiceFinalized(ctx, finalized())
	require.NoError(t, err)

	cancel := invoices.CancelledEvent{SchoolID: 1, InvoiceID: 5, InvoiceNumber: "INV-2025-0005", JournalEntryID: id, Reason: "duplicate"}
	reversal, err := hooks.PostInvoiceCancelled(ctx, cancel)
	require.NoError(t, err)
	require.NotEqual(t, id, reversal)

	entry := ledger.entries[reversal]
	require.Equal(t, ModuleInvoiceCancel, entry.SourceModule)
	require.Equal(t, "Cancellation of invoice INV-2025-0005: duplicate", entry.Memo)
	requireLine(t, entry.Lines[0], 11, "0", "3450")
	requireLine(t, entry.Lines[1], 41, "3450", "0")
	require.Equal(t, accounting.JournalStatusReversed, ledger.entries[id].Status)

	replay, err := hooks.PostInvoiceCancelled(ctx, cancel)
	require.NoError(t, err)
	require.Equal(t, reversal, replay)

	_, err = hooks.PostInvoiceCancelled(ctx, invoices.CancelledEvent{SchoolID: 1, InvoiceID: 6})
	require.Error(t, err)
}

func TestPostPaymentRecordedDebitsCash(t *testing.T) {
	ledger := newFakeLedger()
	hooks := newHooks(ledger)
	evt := payments.LedgerEvent{
		SchoolID:      1,
		PaymentID:     3,
		InvoiceID:     5,
		InvoiceNumber: "INV-2025-0005",
		StudentID:     9,
		ReceiptNumber: "RCP-20250415-0001",
		Amount:        decimal.RequireFromString("2000"),
		Method:        payments.MethodCash,
		Date:          time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC),
	}

	id, err := hooks.PostPaymentRecorded(context.Background(), evt)
	require.NoError(t, err)
	entry := ledger.entries[id]
	require.Equal(t, accounting.EntryTypePayment, entry.EntryType)
	require.Equal(t, accounting.SourceID(ModulePayment, 1, 3), entry.SourceID)
	requireLine(t, entry.Lines[0], 10, "2000", "0")
	requireLine(t, entry.Lines[1], 11, "0", "2000")

	again, err := hooks.PostPaymentRecorded(context.Background(), evt)
	require.NoError(t, err)
	require.Equal(t, id, again)

	ledger.postErr = errors.New("db down")
	evt.PaymentID = 4
	_, err = hooks.PostPaymentRecorded(context.Background(), evt)
	require.EqualError(t, err, "db down")
}
