package accounting

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// memoryLedger is an in-memory RepositoryPort honouring the source link uniqueness.
type memoryLedger struct {
	mu       sync.Mutex
	accounts map[int64][]Account
	entries  map[int64]JournalEntry
	links    map[string]int64
	nextID   int64
	failTx   error
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{
		accounts: map[int64][]Account{},
		entries:  map[int64]JournalEntry{},
		links:    map[string]int64{},
	}
}

func (m *memoryLedger) seedRoles(schoolID int64) {
	m.accounts[schoolID] = []Account{
		{ID: schoolID*100 + 1, SchoolID: schoolID, Code: "1100", Name: "Fees Receivable", Type: AccountTypeAsset, Subtype: SubtypeReceivable, IsActive: true},
		{ID: schoolID*100 + 2, SchoolID: schoolID, Code: "4100", Name: "Fee Income", Type: AccountTypeRevenue, Subtype: SubtypeOperatingIncome, IsActive: true},
		{ID: schoolID*100 + 3, SchoolID: schoolID, Code: "1000", Name: "Cash", Type: AccountTypeAsset, Subtype: SubtypeCash, IsActive: true},
	}
}

func linkKey(schoolID int64, module string, ref uuid.UUID) string {
	return fmt.Sprintf("%d|%s|%s", schoolID, module, ref)
}

func (m *memoryLedger) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTx != nil {
		return m.failTx
	}
	tx := &memoryLedgerTx{parent: m, entries: map[int64]JournalEntry{}, links: map[string]int64{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, e := range tx.entries {
		m.entries[id] = e
	}
	for k, v := range tx.links {
		m.links[k] = v
	}
	m.nextID = tx.nextID(0)
	return nil
}

func (m *memoryLedger) FindAccountByRole(_ context.Context, schoolID int64, role AccountRole) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts[schoolID] {
		if a.Type == role.Type && a.Subtype == role.Subtype && a.IsActive {
			return a, nil
		}
	}
	return Account{}, ErrAccountNotConfigured
}

func (m *memoryLedger) FindEntryBySource(_ context.Context, schoolID int64, module string, sourceID uuid.UUID) (JournalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.links[linkKey(schoolID, module, sourceID)]
	if !ok {
		return JournalEntry{}, ErrJournalNotFound
	}
	return m.entries[id], nil
}

func (m *memoryLedger) GetJournal(_ context.Context, schoolID, entryID int64) (JournalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok || e.SchoolID != schoolID {
		return JournalEntry{}, ErrJournalNotFound
	}
	return e, nil
}

func (m *memoryLedger) TrialBalance(_ context.Context, schoolID int64) ([]TrialBalanceRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []TrialBalanceRow
	for _, a := range m.accounts[schoolID] {
		row := TrialBalanceRow{AccountID: a.ID, Code: a.Code, Name: a.Name, Type: a.Type, Subtype: a.Subtype}
		for _, e := range m.entries {
			for _, l := range e.Lines {
				if l.AccountID == a.ID {
					row.Debit = row.Debit.Add(l.Debit)
					row.Credit = row.Credit.Add(l.Credit)
				}
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (m *memoryLedger) entryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type memoryLedgerTx struct {
	parent  *memoryLedger
	entries map[int64]JournalEntry
	links   map[string]int64
	seq     int64
}

func (tx *memoryLedgerTx) nextID(delta int64) int64 {
	tx.seq += delta
	return tx.parent.nextID + tx.seq
}

func (tx *memoryLedgerTx) InsertJournalEntry(_ context.Context, in PostingInput) (JournalEntry, error) {
	id := tx.nextID(1)
	e := JournalEntry{
		ID:           id,
		SchoolID:     in.SchoolID,
		Number:       "JE-" + uuid.NewString()[:8],
		EntryType:    in.EntryType,
		Date:         in.Date,
		SourceModule: in.SourceModule,
		SourceID:     in.SourceID,
		Memo:         in.Memo,
		PostedBy:     in.PostedBy,
		Status:       JournalStatusPosted,
		ReversalOf:   in.ReversalOf,
	}
	tx.entries[id] = e
	return e, nil
}

func (tx *memoryLedgerTx) InsertJournalLines(_ context.Context, entryID int64, lines []PostingLineInput) error {
	e := tx.entries[entryID]
	e.Lines = toJournalLines(entryID, lines)
	tx.entries[entryID] = e
	return nil
}

func (tx *memoryLedgerTx) LinkSource(_ context.Context, schoolID int64, module string, ref uuid.UUID, entryID int64) error {
	key := linkKey(schoolID, module, ref)
	if _, ok := tx.parent.links[key]; ok {
		return ErrSourceConflict
	}
	if _, ok := tx.links[key]; ok {
		return ErrSourceConflict
	}
	tx.links[key] = entryID
	return nil
}

func (tx *memoryLedgerTx) GetJournalForUpdate(_ context.Context, schoolID, entryID int64) (JournalEntry, []JournalLine, error) {
	e, ok := tx.parent.entries[entryID]
	if !ok || e.SchoolID != schoolID {
		return JournalEntry{}, nil, ErrJournalNotFound
	}
	return e, e.Lines, nil
}

func (tx *memoryLedgerTx) UpdateJournalStatus(_ context.Context, entryID int64, status JournalStatus) error {
	e, ok := tx.entries[entryID]
	if !ok {
		e, ok = tx.parent.entries[entryID]
	}
	if !ok {
		return ErrJournalNotFound
	}
	e.Status = status
	tx.entries[entryID] = e
	return nil
}
