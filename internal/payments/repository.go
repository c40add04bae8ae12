package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aamirsofi/fee-module-sub001/internal/invoices"
	"github.com/aamirsofi/fee-module-sub001/internal/platform/db"
	"github.com/aamirsofi/fee-module-sub001/internal/sequence"
)

// TxRepository exposes the statements Record, Update and Delete run under one transaction.
type TxRepository interface {
	LockInvoice(ctx context.Context, schoolID, invoiceID int64) (invoices.Invoice, error)
	ListInvoiceItems(ctx context.Context, invoiceID int64) ([]invoices.Item, error)
	ReceiptExists(ctx context.Context, schoolID int64, receipt string) (bool, error)
	TransactionExists(ctx context.Context, transactionID string) (bool, error)
	NextReceiptNumber(ctx context.Context, schoolID int64, day time.Time, prefix string) (string, error)
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	UpdateInvoiceBalance(ctx context.Context, inv invoices.Invoice) error
	EnqueueLedgerEvent(ctx context.Context, evt LedgerEvent) (int64, error)
	GetForUpdate(ctx context.Context, schoolID, paymentID int64) (Payment, error)
	UpdatePayment(ctx context.Context, p Payment) error
	DiscardLedgerEvents(ctx context.Context, paymentID int64) (int64, error)
	DeletePayment(ctx context.Context, paymentID int64) error
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

const paymentColumns = `id, school_id, invoice_id, student_id, amount, payment_date, payment_method, transaction_id, receipt_number,
status, COALESCE(notes,''), journal_entry_id, COALESCE(recorded_by,0), created_at, updated_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.SchoolID, &p.InvoiceID, &p.StudentID, &p.Amount, &p.PaymentDate, &p.Method, &p.TransactionID,
		&p.ReceiptNumber, &p.Status, &p.Notes, &p.JournalEntryID, &p.RecordedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, err
	}
	return p, nil
}

// Get loads one payment.
func (r *Repository) Get(ctx context.Context, schoolID, paymentID int64) (Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE school_id=$1 AND id=$2`, schoolID, paymentID))
}

// List returns a filtered page of payments and the total match count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Payment, int, error) {
	where := []string{"school_id=$1"}
	args := []any{filter.SchoolID}
	if filter.InvoiceID > 0 {
		args = append(args, filter.InvoiceID)
		where = append(where, fmt.Sprintf("invoice_id=$%d", len(args)))
	}
	if filter.StudentID > 0 {
		args = append(args, filter.StudentID)
		where = append(where, fmt.Sprintf("student_id=$%d", len(args)))
	}
	clause := strings.Join(where, " AND ")
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM payments WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.PerPage, (filter.Page-1)*filter.PerPage)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM payments WHERE %s ORDER BY payment_date DESC, id DESC LIMIT $%d OFFSET $%d`,
		paymentColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *txRepository) LockInvoice(ctx context.Context, schoolID, invoiceID int64) (invoices.Invoice, error) {
	var inv invoices.Invoice
	err := r.tx.QueryRow(ctx, `SELECT id, school_id, student_id, academic_year_id, invoice_number, type, status,
total_amount, discount_amount, paid_amount, balance_amount, journal_entry_id
FROM invoices WHERE school_id=$1 AND id=$2 FOR UPDATE`, schoolID, invoiceID).
		Scan(&inv.ID, &inv.SchoolID, &inv.StudentID, &inv.AcademicYearID, &inv.InvoiceNumber, &inv.Type, &inv.Status,
			&inv.TotalAmount, &inv.DiscountAmount, &inv.PaidAmount, &inv.BalanceAmount, &inv.JournalEntryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return invoices.Invoice{}, invoices.ErrInvoiceNotFound
		}
		return invoices.Invoice{}, err
	}
	return inv, nil
}

func (r *txRepository) ListInvoiceItems(ctx context.Context, invoiceID int64) ([]invoices.Item, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, invoice_id, source_type, source_id, description, amount, discount_amount
FROM invoice_items WHERE invoice_id=$1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []invoices.Item
	for rows.Next() {
		var it invoices.Item
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.SourceType, &it.SourceID, &it.Description, &it.Amount, &it.DiscountAmount); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *txRepository) ReceiptExists(ctx context.Context, schoolID int64, receipt string) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE school_id=$1 AND receipt_number=$2)`, schoolID, receipt).Scan(&exists)
	return exists, err
}

func (r *txRepository) TransactionExists(ctx context.Context, transactionID string) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE transaction_id=$1)`, transactionID).Scan(&exists)
	return exists, err
}

func (r *txRepository) NextReceiptNumber(ctx context.Context, schoolID int64, day time.Time, prefix string) (string, error) {
	scope := sequence.ReceiptScope(prefix, day)
	var floor int64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(MAX(CAST(substring(receipt_number FROM '([0-9]+)$') AS BIGINT)), 0)
FROM payments WHERE school_id=$1 AND receipt_number LIKE $2`, schoolID, scope+"-%").Scan(&floor)
	if err != nil {
		return "", err
	}
	n, err := sequence.Next(ctx, r.tx, schoolID, scope, floor)
	if err != nil {
		return "", err
	}
	return sequence.Format(scope, n), nil
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO payments (school_id, invoice_id, student_id, amount, payment_date, payment_method, transaction_id,
receipt_number, status, notes, recorded_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULLIF($10,''),$11) RETURNING id, created_at, updated_at`,
		p.SchoolID, p.InvoiceID, p.StudentID, p.Amount, p.PaymentDate, p.Method, p.TransactionID, p.ReceiptNumber, p.Status,
		p.Notes, nullInt(p.RecordedBy)).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		switch {
		case db.IsUniqueViolation(err, "uq_payments_receipt"):
			return Payment{}, ErrDuplicateReceipt
		case db.IsUniqueViolation(err, "uq_payments_transaction"):
			return Payment{}, ErrDuplicateTransaction
		}
		return Payment{}, err
	}
	return p, nil
}

func (r *txRepository) UpdateInvoiceBalance(ctx context.Context, inv invoices.Invoice) error {
	_, err := r.tx.Exec(ctx, `UPDATE invoices SET paid_amount=$2, balance_amount=$3, status=$4, updated_at=NOW() WHERE id=$1`,
		inv.ID, inv.PaidAmount, inv.BalanceAmount, inv.Status)
	return err
}

func (r *txRepository) EnqueueLedgerEvent(ctx context.Context, evt LedgerEvent) (int64, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.tx.QueryRow(ctx, `INSERT INTO ledger_outbox (school_id, event_type, aggregate_id, payload, status, attempts, available_at)
VALUES ($1,$2,$3,$4,'PENDING',0,NOW()) RETURNING id`, evt.SchoolID, EventPaymentRecorded, evt.PaymentID, payload).Scan(&id)
	return id, err
}

func (r *txRepository) GetForUpdate(ctx context.Context, schoolID, paymentID int64) (Payment, error) {
	return scanPayment(r.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE school_id=$1 AND id=$2 FOR UPDATE`, schoolID, paymentID))
}

func (r *txRepository) UpdatePayment(ctx context.Context, p Payment) error {
	_, err := r.tx.Exec(ctx, `UPDATE payments SET payment_method=$2, transaction_id=$3, notes=NULLIF($4,''), updated_at=NOW() WHERE id=$1`,
		p.ID, p.Method, p.TransactionID, p.Notes)
	if db.IsUniqueViolation(err, "uq_payments_transaction") {
		return ErrDuplicateTransaction
	}
	return err
}

func (r *txRepository) DiscardLedgerEvents(ctx context.Context, paymentID int64) (int64, error) {
	cmd, err := r.tx.Exec(ctx, `UPDATE ledger_outbox SET status='DISCARDED', updated_at=NOW()
WHERE event_type=$1 AND aggregate_id=$2 AND status='PENDING'`, EventPaymentRecorded, paymentID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *txRepository) DeletePayment(ctx context.Context, paymentID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM payments WHERE id=$1`, paymentID)
	return err
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
