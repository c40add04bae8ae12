package forecast

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads billing tables for forecasts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// StudentFees lists generated fee rows for the student and year.
func (r *Repository) StudentFees(ctx context.Context, schoolID, studentID, yearID int64) ([]FeeRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, fee_structure_id, amount, status, due_date
FROM student_fee_structures
WHERE school_id=$1 AND student_id=$2 AND academic_year_id=$3
ORDER BY fee_structure_id, installment_number NULLS FIRST, id`, schoolID, studentID, yearID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row pgx.Rows) (FeeRecord, error) {
		var f FeeRecord
		err := row.Scan(&f.ID, &f.FeeStructureID, &f.Amount, &f.Status, &f.DueDate)
		return f, err
	})
}

// InvoiceItems lists items on the student's invoices for the year, with invoice state.
func (r *Repository) InvoiceItems(ctx context.Context, schoolID, studentID, yearID int64) ([]ItemRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT i.id, i.invoice_number, i.status, i.due_date,
it.source_type, it.source_id, it.description, it.amount, it.discount_amount, it.due_date
FROM invoice_items it
JOIN invoices i ON i.id = it.invoice_id
WHERE i.school_id=$1 AND i.student_id=$2 AND i.academic_year_id=$3
ORDER BY i.due_date, it.id`, schoolID, studentID, yearID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row pgx.Rows) (ItemRecord, error) {
		var it ItemRecord
		err := row.Scan(&it.InvoiceID, &it.InvoiceNumber, &it.InvoiceStatus, &it.InvoiceDueDate,
			&it.SourceType, &it.SourceID, &it.Description, &it.Amount, &it.DiscountAmount, &it.DueDate)
		return it, err
	})
}

// Invoices lists invoice amounts for the student and year.
func (r *Repository) Invoices(ctx context.Context, schoolID, studentID, yearID int64) ([]InvoiceRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, status, due_date, total_amount, discount_amount, paid_amount, balance_amount
FROM invoices
WHERE school_id=$1 AND student_id=$2 AND academic_year_id=$3
ORDER BY due_date, id`, schoolID, studentID, yearID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row pgx.Rows) (InvoiceRecord, error) {
		var inv InvoiceRecord
		err := row.Scan(&inv.ID, &inv.Status, &inv.DueDate, &inv.TotalAmount, &inv.DiscountAmount, &inv.PaidAmount, &inv.BalanceAmount)
		return inv, err
	})
}

func collect[T any](rows pgx.Rows, scan func(pgx.Rows) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
