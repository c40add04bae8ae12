package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads catalog tables. It never writes.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetSchool loads the school header.
func (r *Repository) GetSchool(ctx context.Context, schoolID int64) (School, error) {
	var s School
	err := r.pool.QueryRow(ctx, `SELECT id, name, code, COALESCE(address,''), COALESCE(phone,''), COALESCE(email,''), COALESCE(currency,'INR')
FROM schools WHERE id=$1`, schoolID).
		Scan(&s.ID, &s.Name, &s.Code, &s.Address, &s.Phone, &s.Email, &s.Currency)
	if err != nil {
		return School{}, notFound(err, ErrSchoolNotFound)
	}
	return s, nil
}

// GetStudent loads one student under the school.
func (r *Repository) GetStudent(ctx context.Context, schoolID, studentID int64) (Student, error) {
	var s Student
	err := r.pool.QueryRow(ctx, `SELECT id, school_id, name, COALESCE(admission_number,''), COALESCE(opening_balance,0), status
FROM students WHERE school_id=$1 AND id=$2`, schoolID, studentID).
		Scan(&s.ID, &s.SchoolID, &s.Name, &s.AdmissionNumber, &s.OpeningBalance, &s.Status)
	if err != nil {
		return Student{}, notFound(err, ErrStudentNotFound)
	}
	return s, nil
}

// GetAcademicYear loads one academic year under the school.
func (r *Repository) GetAcademicYear(ctx context.Context, schoolID, yearID int64) (AcademicYear, error) {
	var y AcademicYear
	err := r.pool.QueryRow(ctx, `SELECT id, school_id, name, start_date, end_date, is_current
FROM academic_years WHERE school_id=$1 AND id=$2`, schoolID, yearID).
		Scan(&y.ID, &y.SchoolID, &y.Name, &y.StartDate, &y.EndDate, &y.IsCurrent)
	if err != nil {
		return AcademicYear{}, notFound(err, ErrAcademicYearNotFound)
	}
	return y, nil
}

// CurrentAcademicYear returns the year flagged current for the school.
func (r *Repository) CurrentAcademicYear(ctx context.Context, schoolID int64) (AcademicYear, error) {
	var y AcademicYear
	err := r.pool.QueryRow(ctx, `SELECT id, school_id, name, start_date, end_date, is_current
FROM academic_years WHERE school_id=$1 AND is_current ORDER BY start_date DESC LIMIT 1`, schoolID).
		Scan(&y.ID, &y.SchoolID, &y.Name, &y.StartDate, &y.EndDate, &y.IsCurrent)
	if err != nil {
		return AcademicYear{}, notFound(err, ErrAcademicYearNotFound)
	}
	return y, nil
}

// ListSchoolsWithCurrentYear returns every school that has a current academic year.
func (r *Repository) ListSchoolsWithCurrentYear(ctx context.Context) ([]AcademicYear, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT ON (school_id) id, school_id, name, start_date, end_date, is_current
FROM academic_years WHERE is_current ORDER BY school_id, start_date DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var years []AcademicYear
	for rows.Next() {
		var y AcademicYear
		if err := rows.Scan(&y.ID, &y.SchoolID, &y.Name, &y.StartDate, &y.EndDate, &y.IsCurrent); err != nil {
			return nil, err
		}
		years = append(years, y)
	}
	return years, rows.Err()
}

// ActiveRecord returns the student's ACTIVE academic record for the year.
func (r *Repository) ActiveRecord(ctx context.Context, schoolID, studentID, yearID int64) (AcademicRecord, error) {
	var rec AcademicRecord
	err := r.pool.QueryRow(ctx, `SELECT id, school_id, student_id, academic_year_id, class_id, section_id, status
FROM academic_records WHERE school_id=$1 AND student_id=$2 AND academic_year_id=$3 AND status='ACTIVE'
ORDER BY id DESC LIMIT 1`, schoolID, studentID, yearID).
		Scan(&rec.ID, &rec.SchoolID, &rec.StudentID, &rec.AcademicYearID, &rec.ClassID, &rec.SectionID, &rec.Status)
	if err != nil {
		return AcademicRecord{}, notFound(err, ErrNoActiveRecord)
	}
	return rec, nil
}

// ListActiveRecords returns ACTIVE records for the year, optionally limited to classIDs.
func (r *Repository) ListActiveRecords(ctx context.Context, schoolID, yearID int64, classIDs []int64) ([]AcademicRecord, error) {
	query := `SELECT id, school_id, student_id, academic_year_id, class_id, section_id, status
FROM academic_records WHERE school_id=$1 AND academic_year_id=$2 AND status='ACTIVE'`
	args := []any{schoolID, yearID}
	if len(classIDs) > 0 {
		query += ` AND class_id = ANY($3)`
		args = append(args, classIDs)
	}
	query += ` ORDER BY student_id`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []AcademicRecord
	for rows.Next() {
		var rec AcademicRecord
		if err := rows.Scan(&rec.ID, &rec.SchoolID, &rec.StudentID, &rec.AcademicYearID, &rec.ClassID, &rec.SectionID, &rec.Status); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

const feeStructureColumns = `id, school_id, name, category, amount, class_id, academic_year_id, frequency, due_date, status`

func scanFeeStructure(row pgx.Row) (FeeStructure, error) {
	var f FeeStructure
	err := row.Scan(&f.ID, &f.SchoolID, &f.Name, &f.Category, &f.Amount, &f.ClassID, &f.AcademicYearID, &f.Frequency, &f.DueDate, &f.Status)
	return f, err
}

// GetFeeStructure loads one fee structure regardless of status.
func (r *Repository) GetFeeStructure(ctx context.Context, schoolID, id int64) (FeeStructure, error) {
	f, err := scanFeeStructure(r.pool.QueryRow(ctx, `SELECT `+feeStructureColumns+` FROM fee_structures WHERE school_id=$1 AND id=$2`, schoolID, id))
	if err != nil {
		return FeeStructure{}, notFound(err, ErrFeeStructureNotFound)
	}
	return f, nil
}

// ListActiveFeeStructures returns ACTIVE structures of the year, optionally limited to ids.
func (r *Repository) ListActiveFeeStructures(ctx context.Context, schoolID, yearID int64, ids []int64) ([]FeeStructure, error) {
	query := `SELECT ` + feeStructureColumns + ` FROM fee_structures WHERE school_id=$1 AND academic_year_id=$2 AND status='ACTIVE'`
	args := []any{schoolID, yearID}
	if len(ids) > 0 {
		query += ` AND id = ANY($3)`
		args = append(args, ids)
	}
	query += ` ORDER BY id`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FeeStructure
	for rows.Next() {
		f, err := scanFeeStructure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ActiveRoute returns the student's active transport assignment; ok is false when none.
func (r *Repository) ActiveRoute(ctx context.Context, schoolID, studentID int64) (StudentRoute, bool, error) {
	var sr StudentRoute
	err := r.pool.QueryRow(ctx, `SELECT sr.student_id, rp.id, rt.name, rp.name, rp.amount
FROM student_routes sr
JOIN route_plans rp ON rp.id = sr.route_plan_id AND rp.status='ACTIVE'
JOIN routes rt ON rt.id = rp.route_id
WHERE sr.school_id=$1 AND sr.student_id=$2 AND sr.status='ACTIVE'
ORDER BY sr.id DESC LIMIT 1`, schoolID, studentID).
		Scan(&sr.StudentID, &sr.RoutePlanID, &sr.RouteName, &sr.PlanName, &sr.Amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StudentRoute{}, false, nil
		}
		return StudentRoute{}, false, err
	}
	return sr, true, nil
}

// GetRoutePlan loads a route plan.
func (r *Repository) GetRoutePlan(ctx context.Context, schoolID, id int64) (RoutePlan, error) {
	var p RoutePlan
	err := r.pool.QueryRow(ctx, `SELECT rp.id, rp.school_id, rp.route_id, rt.name, rp.name, rp.amount, rp.status
FROM route_plans rp JOIN routes rt ON rt.id = rp.route_id WHERE rp.school_id=$1 AND rp.id=$2`, schoolID, id).
		Scan(&p.ID, &p.SchoolID, &p.RouteID, &p.RouteName, &p.Name, &p.Amount, &p.Status)
	if err != nil {
		return RoutePlan{}, notFound(err, ErrSourceNotFound)
	}
	return p, nil
}

// GetHostelCharge loads a hostel charge.
func (r *Repository) GetHostelCharge(ctx context.Context, schoolID, id int64) (HostelCharge, error) {
	var h HostelCharge
	err := r.pool.QueryRow(ctx, `SELECT id, school_id, hostel_name, room, amount, status FROM hostel_charges WHERE school_id=$1 AND id=$2`, schoolID, id).
		Scan(&h.ID, &h.SchoolID, &h.Hostel, &h.Room, &h.Amount, &h.Status)
	if err != nil {
		return HostelCharge{}, notFound(err, ErrSourceNotFound)
	}
	return h, nil
}

// GetFine loads a fine.
func (r *Repository) GetFine(ctx context.Context, schoolID, id int64) (Fine, error) {
	var f Fine
	err := r.pool.QueryRow(ctx, `SELECT id, school_id, student_id, reason, amount, issued_on, status FROM fines WHERE school_id=$1 AND id=$2`, schoolID, id).
		Scan(&f.ID, &f.SchoolID, &f.StudentID, &f.Reason, &f.Amount, &f.IssuedOn, &f.Status)
	if err != nil {
		return Fine{}, notFound(err, ErrSourceNotFound)
	}
	return f, nil
}

func notFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}
