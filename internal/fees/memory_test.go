package fees

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aamirsofi/fee-module-sub001/internal/catalog"
)

type memoryFeeRepo struct {
	mu        sync.Mutex
	fees      []StudentFee
	history   map[int64]History
	nextFee   int64
	failOn    int64
	finishErr error
}

func newMemoryFeeRepo() *memoryFeeRepo {
	return &memoryFeeRepo{history: map[int64]History{}}
}

func (m *memoryFeeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryFeeTx{repo: m, fees: append([]StudentFee(nil), m.fees...), nextFee: m.nextFee}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.fees, m.nextFee = tx.fees, tx.nextFee
	return nil
}

func (m *memoryFeeRepo) CreateHistory(_ context.Context, h History) (History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h.ID = int64(len(m.history) + 1)
	m.history[h.ID] = h
	return h, nil
}

func (m *memoryFeeRepo) FinishHistory(_ context.Context, h History) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finishErr != nil && h.Status != RunFailed {
		return m.finishErr
	}
	m.history[h.ID] = h
	return nil
}

func (m *memoryFeeRepo) GetHistory(_ context.Context, schoolID, id int64) (History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.history[id]
	if !ok || h.SchoolID != schoolID {
		return History{}, ErrHistoryNotFound
	}
	return h, nil
}

func (m *memoryFeeRepo) ListHistory(_ context.Context, schoolID int64, _, _ int) ([]History, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []History
	for _, h := range m.history {
		if h.SchoolID == schoolID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, len(out), nil
}

func (m *memoryFeeRepo) ListStudentFees(_ context.Context, filter StudentFeeFilter) ([]StudentFee, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StudentFee
	for _, f := range m.fees {
		if f.SchoolID != filter.SchoolID || (filter.StudentID > 0 && f.StudentID != filter.StudentID) {
			continue
		}
		out = append(out, f)
	}
	return out, len(out), nil
}

func (m *memoryFeeRepo) feesFor(studentID int64) []StudentFee {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StudentFee
	for _, f := range m.fees {
		if f.StudentID == studentID {
			out = append(out, f)
		}
	}
	return out
}

func (m *memoryFeeRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fees)
}

type memoryFeeTx struct {
	repo    *memoryFeeRepo
	fees    []StudentFee
	nextFee int64
}

func (tx *memoryFeeTx) ExistingFees(_ context.Context, studentID, feeStructureID, yearID int64) ([]StudentFee, error) {
	var out []StudentFee
	for _, f := range tx.fees {
		if f.StudentID == studentID && f.FeeStructureID == feeStructureID && f.AcademicYearID == yearID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (tx *memoryFeeTx) DeleteFees(_ context.Context, ids []int64) error {
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := tx.fees[:0:0]
	for _, f := range tx.fees {
		if !drop[f.ID] {
			kept = append(kept, f)
		}
	}
	tx.fees = kept
	return nil
}

func (tx *memoryFeeTx) InsertFees(_ context.Context, fees []StudentFee) error {
	for _, f := range fees {
		if tx.repo.failOn != 0 && f.StudentID == tx.repo.failOn {
			return errors.New("insert failed: connection reset")
		}
		if f.DueDate == nil {
			return errors.New(`null value in column "due_date" violates not-null constraint`)
		}
		if f.Amount.IsNegative() || f.OriginalAmount.IsNegative() {
			return errors.New(`new row violates check constraint "student_fee_structures_amount_check"`)
		}
		for _, existing := range tx.fees {
			if existing.StudentID == f.StudentID && existing.FeeStructureID == f.FeeStructureID &&
				existing.AcademicYearID == f.AcademicYearID && sameInstallment(existing.InstallmentNumber, f.InstallmentNumber) {
				return ErrDuplicateFee
			}
		}
		tx.nextFee++
		f.ID = tx.nextFee
		f.CreatedAt = time.Now()
		tx.fees = append(tx.fees, f)
	}
	return nil
}

func sameInstallment(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type stubCatalog struct {
	records    map[int64]catalog.AcademicRecord
	structures []catalog.FeeStructure
	years      []catalog.AcademicYear
}

func (c *stubCatalog) ActiveRecord(_ context.Context, schoolID, studentID, yearID int64) (catalog.AcademicRecord, error) {
	rec, ok := c.records[studentID]
	if !ok || rec.SchoolID != schoolID || rec.AcademicYearID != yearID {
		return catalog.AcademicRecord{}, catalog.ErrNoActiveRecord
	}
	return rec, nil
}

func (c *stubCatalog) ListActiveRecords(_ context.Context, schoolID, yearID int64, classIDs []int64) ([]catalog.AcademicRecord, error) {
	classes := make(map[int64]bool, len(classIDs))
	for _, id := range classIDs {
		classes[id] = true
	}
	var out []catalog.AcademicRecord
	for _, rec := range c.records {
		if rec.SchoolID != schoolID || rec.AcademicYearID != yearID {
			continue
		}
		if len(classIDs) > 0 && !classes[rec.ClassID] {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (c *stubCatalog) ListActiveFeeStructures(_ context.Context, schoolID, yearID int64, ids []int64) ([]catalog.FeeStructure, error) {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []catalog.FeeStructure
	for _, fs := range c.structures {
		if fs.SchoolID != schoolID || fs.AcademicYearID != yearID || !fs.Active() {
			continue
		}
		if len(ids) > 0 && !want[fs.ID] {
			continue
		}
		out = append(out, fs)
	}
	return out, nil
}

func (c *stubCatalog) ListSchoolsWithCurrentYear(context.Context) ([]catalog.AcademicYear, error) {
	return c.years, nil
}

// newSchoolCatalog seeds students 1..8 in class 10 (students 7 and 8 in class 11) and three
// structures: tuition and library school-wide, lab scoped to class 11, plus an inactive one.
func newSchoolCatalog() *stubCatalog {
	c := &stubCatalog{records: map[int64]catalog.AcademicRecord{}}
	for id := int64(1); id <= 8; id++ {
		class := int64(10)
		if id >= 7 {
			class = 11
		}
		c.records[id] = catalog.AcademicRecord{ID: 100 + id, SchoolID: 1, StudentID: id, AcademicYearID: 2025, ClassID: class, Status: catalog.StatusActive}
	}
	lab := int64(11)
	c.structures = []catalog.FeeStructure{
		{ID: 1, SchoolID: 1, Name: "Tuition", Amount: decimal.NewFromInt(1000), AcademicYearID: 2025, Frequency: catalog.FrequencyMonthly, Status: catalog.StatusActive},
		{ID: 2, SchoolID: 1, Name: "Library", Amount: decimal.NewFromInt(250), AcademicYearID: 2025, Frequency: catalog.FrequencyYearly, Status: catalog.StatusActive},
		{ID: 3, SchoolID: 1, Name: "Lab", Amount: decimal.NewFromInt(400), ClassID: &lab, AcademicYearID: 2025, Frequency: catalog.FrequencyYearly, Status: catalog.StatusActive},
		{ID: 4, SchoolID: 1, Name: "Old Bus", Amount: decimal.NewFromInt(900), AcademicYearID: 2025, Status: catalog.StatusInactive},
	}
	c.years = []catalog.AcademicYear{{ID: 2025, SchoolID: 1, Name: "2025-26", IsCurrent: true}}
	return c
}

type runCounter struct {
	mu   sync.Mutex
	runs []string
}

func (r *runCounter) FeeGenerationFinished(runType, status string, _, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, runType+"/"+status)
}
