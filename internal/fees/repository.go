package fees

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aamirsofi/fee-module-sub001/internal/platform/db"
)

// TxRepository exposes the per-student statements run under one transaction.
type TxRepository interface {
	ExistingFees(ctx context.Context, studentID, feeStructureID, yearID int64) ([]StudentFee, error)
	DeleteFees(ctx context.Context, ids []int64) error
	InsertFees(ctx context.Context, fees []StudentFee) error
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

const feeColumns = `id, school_id, student_id, fee_structure_id, academic_year_id, amount, original_amount, discount_amount,
discount_percentage, due_date, status, installment_count, installment_number, installment_start_date, generation_id, created_at`

func scanFee(row pgx.Row) (StudentFee, error) {
	var f StudentFee
	err := row.Scan(&f.ID, &f.SchoolID, &f.StudentID, &f.FeeStructureID, &f.AcademicYearID, &f.Amount, &f.OriginalAmount,
		&f.DiscountAmount, &f.DiscountPercentage, &f.DueDate, &f.Status, &f.InstallmentCount, &f.InstallmentNumber,
		&f.InstallmentStartDate, &f.GenerationID, &f.CreatedAt)
	return f, err
}

func (r *txRepository) ExistingFees(ctx context.Context, studentID, feeStructureID, yearID int64) ([]StudentFee, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+feeColumns+` FROM student_fee_structures
WHERE student_id=$1 AND fee_structure_id=$2 AND academic_year_id=$3
ORDER BY installment_number NULLS FIRST, id
FOR UPDATE`, studentID, feeStructureID, yearID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StudentFee
	for rows.Next() {
		f, err := scanFee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *txRepository) DeleteFees(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.tx.Exec(ctx, `DELETE FROM student_fee_structures WHERE id = ANY($1)`, ids)
	return err
}

func (r *txRepository) InsertFees(ctx context.Context, fees []StudentFee) error {
	batch := &pgx.Batch{}
	for _, f := range fees {
		batch.Queue(`INSERT INTO student_fee_structures (school_id, student_id, fee_structure_id, academic_year_id, amount,
original_amount, discount_amount, discount_percentage, due_date, status, installment_count, installment_number,
installment_start_date, generation_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW())`,
			f.SchoolID, f.StudentID, f.FeeStructureID, f.AcademicYearID, f.Amount, f.OriginalAmount, f.DiscountAmount,
			f.DiscountPercentage, f.DueDate, f.Status, f.InstallmentCount, f.InstallmentNumber, f.InstallmentStartDate, f.GenerationID)
	}
	results := r.tx.SendBatch(ctx, batch)
	for range fees {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			if db.IsUniqueViolation(err, "uq_student_fee_structures") {
				return ErrDuplicateFee
			}
			return err
		}
	}
	return results.Close()
}

type historyParams struct {
	Errors         []string         `json:"errors"`
	FailedStudents []StudentFailure `json:"failed_students"`
}

// CreateHistory inserts the run row before any fee is written.
func (r *Repository) CreateHistory(ctx context.Context, h History) (History, error) {
	params, err := json.Marshal(h.Params)
	if err != nil {
		return History{}, err
	}
	err = r.pool.QueryRow(ctx, `INSERT INTO fee_generation_history (school_id, academic_year_id, type, status, period, params,
generated_count, skipped_count, failed_count, total_amount, errors, failed_students, created_by, started_at)
VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,0,0,0,0,'[]','[]',$7,$8) RETURNING id`,
		h.SchoolID, h.AcademicYearID, h.Type, h.Status, h.Period, params, nullInt(h.CreatedBy), h.StartedAt).Scan(&h.ID)
	return h, err
}

// FinishHistory writes the status and result fields.
func (r *Repository) FinishHistory(ctx context.Context, h History) error {
	errs, err := json.Marshal(nonNil(h.Errors))
	if err != nil {
		return err
	}
	failed, err := json.Marshal(nonNilFailures(h.FailedStudents))
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE fee_generation_history SET status=$2, generated_count=$3, skipped_count=$4, failed_count=$5,
total_amount=$6, errors=$7, failed_students=$8, completed_at=$9 WHERE id=$1`,
		h.ID, h.Status, h.Generated, h.Skipped, h.Failed, h.TotalAmount, errs, failed, h.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrHistoryNotFound
	}
	return nil
}

const historyColumns = `id, school_id, academic_year_id, type, status, COALESCE(period,''), params, generated_count, skipped_count,
failed_count, total_amount, errors, failed_students, COALESCE(created_by,0), started_at, completed_at`

func scanHistory(row pgx.Row) (History, error) {
	var (
		h                      History
		params, errs, failures []byte
	)
	err := row.Scan(&h.ID, &h.SchoolID, &h.AcademicYearID, &h.Type, &h.Status, &h.Period, &params, &h.Generated, &h.Skipped,
		&h.Failed, &h.TotalAmount, &errs, &failures, &h.CreatedBy, &h.StartedAt, &h.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return History{}, ErrHistoryNotFound
		}
		return History{}, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &h.Params); err != nil {
			return History{}, fmt.Errorf("fees: decode history params: %w", err)
		}
	}
	if err := json.Unmarshal(errs, &h.Errors); err != nil {
		return History{}, fmt.Errorf("fees: decode history errors: %w", err)
	}
	if err := json.Unmarshal(failures, &h.FailedStudents); err != nil {
		return History{}, fmt.Errorf("fees: decode failed students: %w", err)
	}
	return h, nil
}

// GetHistory loads one run.
func (r *Repository) GetHistory(ctx context.Context, schoolID, id int64) (History, error) {
	return scanHistory(r.pool.QueryRow(ctx, `SELECT `+historyColumns+` FROM fee_generation_history WHERE school_id=$1 AND id=$2`, schoolID, id))
}

// ListHistory pages runs newest first.
func (r *Repository) ListHistory(ctx context.Context, schoolID int64, page, perPage int) ([]History, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM fee_generation_history WHERE school_id=$1`, schoolID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+historyColumns+` FROM fee_generation_history WHERE school_id=$1
ORDER BY started_at DESC, id DESC LIMIT $2 OFFSET $3`, schoolID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []History
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, h)
	}
	return out, total, rows.Err()
}

// ListStudentFees pages generated obligations.
func (r *Repository) ListStudentFees(ctx context.Context, filter StudentFeeFilter) ([]StudentFee, int, error) {
	where := []string{"school_id=$1"}
	args := []any{filter.SchoolID}
	if filter.StudentID > 0 {
		args = append(args, filter.StudentID)
		where = append(where, fmt.Sprintf("student_id=$%d", len(args)))
	}
	if filter.AcademicYearID > 0 {
		args = append(args, filter.AcademicYearID)
		where = append(where, fmt.Sprintf("academic_year_id=$%d", len(args)))
	}
	clause := strings.Join(where, " AND ")
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM student_fee_structures WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.PerPage, (filter.Page-1)*filter.PerPage)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM student_fee_structures WHERE %s
ORDER BY student_id, fee_structure_id, installment_number NULLS FIRST LIMIT $%d OFFSET $%d`, feeColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []StudentFee
	for rows.Next() {
		f, err := scanFee(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, f)
	}
	return out, total, rows.Err()
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func nonNilFailures(in []StudentFailure) []StudentFailure {
	if in == nil {
		return []StudentFailure{}
	}
	return in
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
