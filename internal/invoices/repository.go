package invoices

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/aamirsofi/fee-module-sub001/internal/platform/db"
	"github.com/aamirsofi/fee-module-sub001/internal/sequence"
)

// TxRepository exposes transactional invoice operations.
type TxRepository interface {
	NextInvoiceNumber(ctx context.Context, schoolID int64, year int, prefix string) (string, error)
	InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	InsertItems(ctx context.Context, invoiceID int64, items []Item) ([]Item, error)
	GetForUpdate(ctx context.Context, schoolID, invoiceID int64) (Invoice, error)
	ListItems(ctx context.Context, invoiceID int64) ([]Item, error)
	CountPayments(ctx context.Context, invoiceID int64) (int, error)
	SumPayments(ctx context.Context, invoiceID int64) (decimal.Decimal, error)
	UpdateInvoice(ctx context.Context, inv Invoice) error
	MarkIssued(ctx context.Context, invoiceID, journalEntryID int64) error
	SetStatus(ctx context.Context, invoiceID int64, status Status) error
	DeleteItems(ctx context.Context, invoiceID int64) error
	DeleteInvoice(ctx context.Context, invoiceID int64) error
}

// Repository implements RepositoryPort on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx runs fn inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const invoiceColumns = `id, school_id, student_id, academic_year_id, invoice_number, issue_date, due_date, type, status,
total_amount, discount_amount, paid_amount, balance_amount, journal_entry_id, period_month, period_quarter, period_year,
COALESCE(notes,''), COALESCE(created_by,0), created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.SchoolID, &inv.StudentID, &inv.AcademicYearID, &inv.InvoiceNumber, &inv.IssueDate, &inv.DueDate,
		&inv.Type, &inv.Status, &inv.TotalAmount, &inv.DiscountAmount, &inv.PaidAmount, &inv.BalanceAmount, &inv.JournalEntryID,
		&inv.Period.Month, &inv.Period.Quarter, &inv.Period.Year, &inv.Notes, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	return inv, nil
}

// Get loads an invoice with its items.
func (r *Repository) Get(ctx context.Context, schoolID, invoiceID int64) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE school_id=$1 AND id=$2`, schoolID, invoiceID))
	if err != nil {
		return Invoice{}, err
	}
	inv.Items, err = listItems(ctx, r.pool, inv.ID)
	if err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

// List returns a filtered page of invoice headers and the total match count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Invoice, int, error) {
	where := []string{"school_id=$1"}
	args := []any{filter.SchoolID}
	if filter.StudentID > 0 {
		args = append(args, filter.StudentID)
		where = append(where, fmt.Sprintf("student_id=$%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		where = append(where, fmt.Sprintf("type=$%d", len(args)))
	}
	clause := strings.Join(where, " AND ")
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.PerPage, (filter.Page-1)*filter.PerPage)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM invoices WHERE %s ORDER BY issue_date DESC, id DESC LIMIT $%d OFFSET $%d`,
		invoiceColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, inv)
	}
	return out, total, rows.Err()
}

// PeriodExists reports whether a live invoice already covers the period.
func (r *Repository) PeriodExists(ctx context.Context, schoolID, studentID, yearID int64, t Type, period Period) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM invoices
WHERE school_id=$1 AND student_id=$2 AND academic_year_id=$3 AND type=$4 AND status <> 'CANCELLED'
  AND period_month IS NOT DISTINCT FROM $5 AND period_quarter IS NOT DISTINCT FROM $6 AND period_year IS NOT DISTINCT FROM $7)`,
		schoolID, studentID, yearID, t, period.Month, period.Quarter, period.Year).Scan(&exists)
	return exists, err
}

func (r *txRepository) NextInvoiceNumber(ctx context.Context, schoolID int64, year int, prefix string) (string, error) {
	scope := sequence.InvoiceScope(prefix, year)
	var floor int64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(MAX(CAST(substring(invoice_number FROM '([0-9]+)$') AS BIGINT)), 0)
FROM invoices WHERE school_id=$1 AND invoice_number LIKE $2`, schoolID, scope+"-%").Scan(&floor)
	if err != nil {
		return "", err
	}
	n, err := sequence.Next(ctx, r.tx, schoolID, scope, floor)
	if err != nil {
		return "", err
	}
	return sequence.Format(scope, n), nil
}

func (r *txRepository) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO invoices (school_id, student_id, academic_year_id, invoice_number, issue_date, due_date, type, status,
total_amount, discount_amount, paid_amount, balance_amount, period_month, period_quarter, period_year, notes, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NULLIF($16,''),$17)
RETURNING id, created_at, updated_at`,
		inv.SchoolID, inv.StudentID, inv.AcademicYearID, inv.InvoiceNumber, inv.IssueDate, inv.DueDate, inv.Type, inv.Status,
		inv.TotalAmount, inv.DiscountAmount, inv.PaidAmount, inv.BalanceAmount, inv.Period.Month, inv.Period.Quarter, inv.Period.Year,
		inv.Notes, nullInt(inv.CreatedBy)).
		Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_invoices_period") {
			return Invoice{}, ErrDuplicatePeriod
		}
		return Invoice{}, err
	}
	return inv, nil
}

func (r *txRepository) InsertItems(ctx context.Context, invoiceID int64, items []Item) ([]Item, error) {
	out := make([]Item, 0, len(items))
	for _, item := range items {
		meta, err := EncodeSnapshot(item.Snapshot)
		if err != nil {
			return nil, err
		}
		item.InvoiceID = invoiceID
		err = r.tx.QueryRow(ctx, `INSERT INTO invoice_items (invoice_id, source_type, source_id, source_metadata, description, amount, discount_amount, due_date, notes)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,'')) RETURNING id, created_at`,
			invoiceID, item.SourceType, item.SourceID, meta, item.Description, item.Amount, item.DiscountAmount, item.DueDate, item.Notes).
			Scan(&item.ID, &item.CreatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *txRepository) GetForUpdate(ctx context.Context, schoolID, invoiceID int64) (Invoice, error) {
	return scanInvoice(r.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE school_id=$1 AND id=$2 FOR UPDATE`, schoolID, invoiceID))
}

func (r *txRepository) ListItems(ctx context.Context, invoiceID int64) ([]Item, error) {
	return listItems(ctx, r.tx, invoiceID)
}

func (r *txRepository) CountPayments(ctx context.Context, invoiceID int64) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM payments WHERE invoice_id=$1`, invoiceID).Scan(&n)
	return n, err
}

func (r *txRepository) SumPayments(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount),0) FROM payments WHERE invoice_id=$1 AND status='COMPLETED'`, invoiceID).Scan(&sum)
	return sum, err
}

func (r *txRepository) UpdateInvoice(ctx context.Context, inv Invoice) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE invoices SET issue_date=$2, due_date=$3, notes=NULLIF($4,''), status=$5,
total_amount=$6, discount_amount=$7, paid_amount=$8, balance_amount=$9, updated_at=NOW() WHERE id=$1`,
		inv.ID, inv.IssueDate, inv.DueDate, inv.Notes, inv.Status, inv.TotalAmount, inv.DiscountAmount, inv.PaidAmount, inv.BalanceAmount)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (r *txRepository) MarkIssued(ctx context.Context, invoiceID, journalEntryID int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE invoices SET status='ISSUED', journal_entry_id=$2, updated_at=NOW() WHERE id=$1 AND status='DRAFT'`, invoiceID, journalEntryID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotDraft
	}
	return nil
}

func (r *txRepository) SetStatus(ctx context.Context, invoiceID int64, status Status) error {
	_, err := r.tx.Exec(ctx, `UPDATE invoices SET status=$2, updated_at=NOW() WHERE id=$1`, invoiceID, status)
	return err
}

func (r *txRepository) DeleteItems(ctx context.Context, invoiceID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM invoice_items WHERE invoice_id=$1`, invoiceID)
	return err
}

func (r *txRepository) DeleteInvoice(ctx context.Context, invoiceID int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM invoice_items WHERE invoice_id=$1`, invoiceID); err != nil {
		return err
	}
	_, err := r.tx.Exec(ctx, `DELETE FROM invoices WHERE id=$1 AND status='DRAFT'`, invoiceID)
	return err
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listItems(ctx context.Context, q queryer, invoiceID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, invoice_id, source_type, source_id, source_metadata, description, amount, discount_amount, due_date, COALESCE(notes,''), created_at
FROM invoice_items WHERE invoice_id=$1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var (
			item Item
			meta []byte
		)
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.SourceType, &item.SourceID, &meta, &item.Description,
			&item.Amount, &item.DiscountAmount, &item.DueDate, &item.Notes, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.Snapshot, err = DecodeSnapshot(item.SourceType, meta)
		if err != nil {
			return nil, fmt.Errorf("invoice item %d metadata: %w", item.ID, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
