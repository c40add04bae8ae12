package accounting

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aamirsofi/fee-module-sub001/internal/platform/db"
	"github.com/aamirsofi/fee-module-sub001/internal/sequence"
)

// Repository persists accounting entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertJournalEntry(ctx context.Context, in PostingInput) (JournalEntry, error)
	InsertJournalLines(ctx context.Context, entryID int64, lines []PostingLineInput) error
	LinkSource(ctx context.Context, schoolID int64, module string, ref uuid.UUID, entryID int64) error
	GetJournalForUpdate(ctx context.Context, schoolID, entryID int64) (JournalEntry, []JournalLine, error)
	UpdateJournalStatus(ctx context.Context, entryID int64, status JournalStatus) error
}

type txRepository struct {
	tx pgx.Tx
}

// ErrSourceConflict indicates the source link already exists.
var ErrSourceConflict = errors.New("accounting: source link conflict")

// WithTx executes fn within a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("accounting repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (r *txRepository) InsertJournalEntry(ctx context.Context, in PostingInput) (JournalEntry, error) {
	scope := fmt.Sprintf("JE-%d", in.Date.Year())
	seq, err := sequence.Next(ctx, r.tx, in.SchoolID, scope, 0)
	if err != nil {
		return JournalEntry{}, err
	}
	entry := JournalEntry{
		SchoolID:     in.SchoolID,
		Number:       sequence.Format(scope, seq),
		EntryType:    in.EntryType,
		Date:         in.Date,
		SourceModule: in.SourceModule,
		SourceID:     in.SourceID,
		Memo:         in.Memo,
		PostedBy:     in.PostedBy,
		Status:       JournalStatusPosted,
		ReversalOf:   in.ReversalOf,
	}
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (school_id, number, entry_type, date, source_module, source_id, memo, posted_by, status, reversal_of)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'POSTED',$9) RETURNING id, posted_at`,
		in.SchoolID, entry.Number, in.EntryType, in.Date, in.SourceModule, in.SourceID, in.Memo, nullInt(in.PostedBy), in.ReversalOf)
	if err := row.Scan(&entry.ID, &entry.PostedAt); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) InsertJournalLines(ctx context.Context, entryID int64, lines []PostingLineInput) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO journal_lines (je_id, account_id, debit, credit, description)
VALUES ($1,$2,$3,$4,$5)`, entryID, line.AccountID, line.Debit, line.Credit, line.Description); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) LinkSource(ctx context.Context, schoolID int64, module string, ref uuid.UUID, entryID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO source_links (school_id, module, ref_id, je_id) VALUES ($1,$2,$3,$4)`, schoolID, module, ref, entryID)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_source_links") {
			return ErrSourceConflict
		}
		return err
	}
	return nil
}

func (r *txRepository) GetJournalForUpdate(ctx context.Context, schoolID, entryID int64) (JournalEntry, []JournalLine, error) {
	entry, err := scanJournal(r.tx.QueryRow(ctx, journalSelect+` WHERE school_id=$1 AND id=$2 FOR UPDATE`, schoolID, entryID))
	if err != nil {
		return JournalEntry{}, nil, err
	}
	lines, err := queryLines(ctx, r.tx, entryID)
	if err != nil {
		return JournalEntry{}, nil, err
	}
	return entry, lines, nil
}

func (r *txRepository) UpdateJournalStatus(ctx context.Context, entryID int64, status JournalStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status=$2 WHERE id=$1`, entryID, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrJournalNotFound
	}
	return nil
}

// FindAccountByRole resolves the school's active account for a type/subtype role.
func (r *Repository) FindAccountByRole(ctx context.Context, schoolID int64, role AccountRole) (Account, error) {
	var a Account
	err := r.pool.QueryRow(ctx, `SELECT id, school_id, code, name, type, subtype, is_active, created_at, updated_at
FROM accounts WHERE school_id=$1 AND type=$2 AND subtype=$3 AND is_active ORDER BY code LIMIT 1`, schoolID, role.Type, role.Subtype).
		Scan(&a.ID, &a.SchoolID, &a.Code, &a.Name, &a.Type, &a.Subtype, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotConfigured
		}
		return Account{}, err
	}
	return a, nil
}

// FindEntryBySource returns the entry linked to a source.
func (r *Repository) FindEntryBySource(ctx context.Context, schoolID int64, module string, sourceID uuid.UUID) (JournalEntry, error) {
	return scanJournal(r.pool.QueryRow(ctx, `SELECT je.id, je.school_id, je.number, je.entry_type, je.date, je.source_module, je.source_id, je.memo, COALESCE(je.posted_by,0), je.posted_at, je.status, je.reversal_of
FROM source_links sl JOIN journal_entries je ON je.id = sl.je_id
WHERE sl.school_id=$1 AND sl.module=$2 AND sl.ref_id=$3`, schoolID, module, sourceID))
}

// GetJournal loads one entry with its lines.
func (r *Repository) GetJournal(ctx context.Context, schoolID, entryID int64) (JournalEntry, error) {
	entry, err := scanJournal(r.pool.QueryRow(ctx, journalSelect+` WHERE school_id=$1 AND id=$2`, schoolID, entryID))
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines, err = queryLines(ctx, r.pool, entryID)
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// TrialBalance aggregates posted lines per account.
func (r *Repository) TrialBalance(ctx context.Context, schoolID int64) ([]TrialBalanceRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.id, a.code, a.name, a.type, a.subtype, COALESCE(SUM(jl.debit),0), COALESCE(SUM(jl.credit),0)
FROM accounts a
LEFT JOIN journal_lines jl ON jl.account_id = a.id
WHERE a.school_id=$1
GROUP BY a.id, a.code, a.name, a.type, a.subtype
ORDER BY a.code`, schoolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TrialBalanceRow
	for rows.Next() {
		var row TrialBalanceRow
		if err := rows.Scan(&row.AccountID, &row.Code, &row.Name, &row.Type, &row.Subtype, &row.Debit, &row.Credit); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

const journalSelect = `SELECT id, school_id, number, entry_type, date, source_module, source_id, memo, COALESCE(posted_by,0), posted_at, status, reversal_of FROM journal_entries`

func scanJournal(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.SchoolID, &e.Number, &e.EntryType, &e.Date, &e.SourceModule, &e.SourceID, &e.Memo, &e.PostedBy, &e.PostedAt, &e.Status, &e.ReversalOf)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	return e, nil
}

type lineQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryLines(ctx context.Context, q lineQuerier, entryID int64) ([]JournalLine, error) {
	rows, err := q.Query(ctx, `SELECT id, je_id, account_id, debit, credit, COALESCE(description,'') FROM journal_lines WHERE je_id=$1 ORDER BY id ASC`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.JournalID, &line.AccountID, &line.Debit, &line.Credit, &line.Description); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
