// Package catalog reads the tenant records the billing core depends on but does not own:
// fee structures, academic years and records, students, transport routes and other charge
// sources.
package catalog

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aamirsofi/fee-module-sub001/internal/shared"
)

// Status values shared by catalog records.
const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
)

// Frequency enumerates how often a fee structure recurs.
type Frequency string

const (
	FrequencyOneTime   Frequency = "ONE_TIME"
	FrequencyMonthly   Frequency = "MONTHLY"
	FrequencyQuarterly Frequency = "QUARTERLY"
	FrequencyYearly    Frequency = "YEARLY"
)

var (
	// ErrSchoolNotFound indicates an unknown school id.
	ErrSchoolNotFound = fmt.Errorf("%w: school not found", shared.ErrNotFound)
	// ErrStudentNotFound indicates the student does not resolve under the school.
	ErrStudentNotFound = fmt.Errorf("%w: student not found", shared.ErrNotFound)
	// ErrAcademicYearNotFound indicates an unknown academic year.
	ErrAcademicYearNotFound = fmt.Errorf("%w: academic year not found", shared.ErrNotFound)
	// ErrFeeStructureNotFound indicates an unknown fee structure.
	ErrFeeStructureNotFound = fmt.Errorf("%w: fee structure not found", shared.ErrNotFound)
	// ErrNoActiveRecord indicates the student has no class assignment for the year.
	ErrNoActiveRecord = fmt.Errorf("%w: no active class assignment", shared.ErrNotFound)
	// ErrSourceNotFound indicates a charge source id that does not resolve.
	ErrSourceNotFound = fmt.Errorf("%w: charge source not found", shared.ErrNotFound)
)

// School is the tenant header used on receipts.
type School struct {
	ID       int64
	Name     string
	Code     string
	Address  string
	Phone    string
	Email    string
	Currency string
}

// AcademicYear bounds billing periods.
type AcademicYear struct {
	ID        int64
	SchoolID  int64
	Name      string
	StartDate time.Time
	EndDate   time.Time
	IsCurrent bool
}

// Student is the subset of student data billing reads. OpeningBalance is signed: positive
// is owed by the student, negative is a credit.
type Student struct {
	ID              int64
	SchoolID        int64
	Name            string
	AdmissionNumber string
	OpeningBalance  decimal.Decimal
	Status          string
}

// AcademicRecord assigns a student to a class for one academic year.
type AcademicRecord struct {
	ID             int64
	SchoolID       int64
	StudentID      int64
	AcademicYearID int64
	ClassID        int64
	SectionID      *int64
	Status         string
}

// FeeStructure is a reusable fee template.
type FeeStructure struct {
	ID             int64
	SchoolID       int64
	Name           string
	Category       string
	Amount         decimal.Decimal
	ClassID        *int64
	AcademicYearID int64
	Frequency      Frequency
	DueDate        *time.Time
	Status         string
}

// AppliesToClass reports whether the structure is school-wide or scoped to classID.
func (f FeeStructure) AppliesToClass(classID int64) bool {
	return f.ClassID == nil || *f.ClassID == classID
}

// Active reports whether the structure may be billed.
func (f FeeStructure) Active() bool {
	return f.Status == StatusActive
}

// RoutePlan prices a transport route.
type RoutePlan struct {
	ID        int64
	SchoolID  int64
	RouteID   int64
	RouteName string
	Name      string
	Amount    decimal.Decimal
	Status    string
}

// StudentRoute is the student's active transport assignment.
type StudentRoute struct {
	StudentID   int64
	RoutePlanID int64
	RouteName   string
	PlanName    string
	Amount      decimal.Decimal
}

// HostelCharge prices a hostel allocation.
type HostelCharge struct {
	ID       int64
	SchoolID int64
	Hostel   string
	Room     string
	Amount   decimal.Decimal
	Status   string
}

// Fine is a penalty raised against a student.
type Fine struct {
	ID        int64
	SchoolID  int64
	StudentID int64
	Reason    string
	Amount    decimal.Decimal
	IssuedOn  time.Time
	Status    string
}
