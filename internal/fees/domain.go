// Package fees expands fee structures into per-student fee obligations and keeps the audit
// trail of every generation run.
package fees

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aamirsofi/fee-module-sub001/internal/shared"
)

// FeeStatus tracks a generated obligation.
type FeeStatus string

const (
	FeeStatusPending FeeStatus = "PENDING"
	FeeStatusPaid    FeeStatus = "PAID"
	FeeStatusOverdue FeeStatus = "OVERDUE"
)

// RunType distinguishes operator runs from the scheduled monthly run.
type RunType string

const (
	RunManual    RunType = "MANUAL"
	RunAutomatic RunType = "AUTOMATIC"
)

// RunStatus is the lifecycle of a generation run.
type RunStatus string

const (
	RunPending    RunStatus = "PENDING"
	RunInProgress RunStatus = "IN_PROGRESS"
	RunCompleted  RunStatus = "COMPLETED"
	RunFailed     RunStatus = "FAILED"
)

// MaxErrorMessages bounds the error summary kept on a run.
const MaxErrorMessages = 5

var (
	// ErrInvalidRequest wraps malformed generation requests.
	ErrInvalidRequest = fmt.Errorf("%w: invalid fee generation request", shared.ErrValidation)
	// ErrInactiveStructure indicates a requested fee structure is unknown or not ACTIVE.
	ErrInactiveStructure = fmt.Errorf("%w: fee structure is not active for the academic year", shared.ErrValidation)
	// ErrGenerationRunning indicates another run for the same school and period holds the lock.
	ErrGenerationRunning = fmt.Errorf("%w: fee generation for this period is already running", shared.ErrConflict)
	// ErrHistoryNotFound indicates an unknown generation run.
	ErrHistoryNotFound = fmt.Errorf("%w: fee generation history not found", shared.ErrNotFound)
	// ErrDuplicateFee indicates the obligation already exists.
	ErrDuplicateFee = fmt.Errorf("%w: fee already generated for student", shared.ErrConflict)
)

// StudentFee is one generated obligation. Installment rows share the student, structure and
// year and differ by InstallmentNumber.
type StudentFee struct {
	ID                   int64
	SchoolID             int64
	StudentID            int64
	FeeStructureID       int64
	AcademicYearID       int64
	Amount               decimal.Decimal
	OriginalAmount       decimal.Decimal
	DiscountAmount       decimal.Decimal
	DiscountPercentage   *decimal.Decimal
	DueDate              *time.Time
	Status               FeeStatus
	InstallmentCount     *int
	InstallmentNumber    *int
	InstallmentStartDate *time.Time
	GenerationID         *int64
	CreatedAt            time.Time
}

// Installmented reports whether the row is one share of a split fee.
func (f StudentFee) Installmented() bool {
	return f.InstallmentCount != nil && *f.InstallmentCount > 0
}

// StudentFailure names why one student produced no fees.
type StudentFailure struct {
	StudentID int64  `json:"student_id"`
	Reason    string `json:"reason"`
}

// History is the audit record of one generation run. Only status and result fields change
// after creation.
type History struct {
	ID             int64
	SchoolID       int64
	AcademicYearID int64
	Type           RunType
	Status         RunStatus
	Period         string
	Generated      int
	Skipped        int
	Failed         int
	TotalAmount    decimal.Decimal
	Errors         []string
	FailedStudents []StudentFailure
	Params         map[string]any
	CreatedBy      int64
	StartedAt      time.Time
	CompletedAt    *time.Time
}

// Result is the aggregated outcome returned to callers. Per-student failures are part of the
// result, not an error.
type Result struct {
	HistoryID      int64
	Status         RunStatus
	Generated      int
	Skipped        int
	Failed         int
	TotalAmount    decimal.Decimal
	Errors         []string
	FailedStudents []StudentFailure
}

// StudentFeeFilter narrows obligation listings.
type StudentFeeFilter struct {
	SchoolID       int64
	StudentID      int64
	AcademicYearID int64
	Page           int
	PerPage        int
}

// tally accumulates a run's outcome.
type tally struct {
	generated int
	skipped   int
	total     decimal.Decimal
	errors    []string
	failures  []StudentFailure
}

func (t *tally) fail(studentID int64, reason string) {
	t.failures = append(t.failures, StudentFailure{StudentID: studentID, Reason: reason})
	if len(t.errors) < MaxErrorMessages {
		t.errors = append(t.errors, fmt.Sprintf("student %d: %s", studentID, reason))
	}
}

func (t *tally) apply(h *History) {
	h.Generated = t.generated
	h.Skipped = t.skipped
	h.Failed = len(t.failures)
	h.TotalAmount = t.total
	h.Errors = t.errors
	h.FailedStudents = t.failures
}

func (h History) result() Result {
	return Result{
		HistoryID:      h.ID,
		Status:         h.Status,
		Generated:      h.Generated,
		Skipped:        h.Skipped,
		Failed:         h.Failed,
		TotalAmount:    h.TotalAmount,
		Errors:         h.Errors,
		FailedStudents: h.FailedStudents,
	}
}
