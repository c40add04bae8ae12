package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aamirsofi/fee-module-sub001/internal/catalog"
	"github.com/aamirsofi/fee-module-sub001/internal/fees"
	"github.com/aamirsofi/fee-module-sub001/internal/invoices"
	"github.com/aamirsofi/fee-module-sub001/internal/money"
	"github.com/aamirsofi/fee-module-sub001/internal/shared"
)

// RepositoryPort reads the student's billed state.
type RepositoryPort interface {
	StudentFees(ctx context.Context, schoolID, studentID, yearID int64) ([]FeeRecord, error)
	InvoiceItems(ctx context.Context, schoolID, studentID, yearID int64) ([]ItemRecord, error)
	Invoices(ctx context.Context, schoolID, studentID, yearID int64) ([]InvoiceRecord, error)
}

// CatalogPort reads the templates and assignments the projection starts from.
type CatalogPort interface {
	GetStudent(ctx context.Context, schoolID, studentID int64) (catalog.Student, error)
	GetAcademicYear(ctx context.Context, schoolID, yearID int64) (catalog.AcademicYear, error)
	CurrentAcademicYear(ctx context.Context, schoolID int64) (catalog.AcademicYear, error)
	ActiveRecord(ctx context.Context, schoolID, studentID, yearID int64) (catalog.AcademicRecord, error)
	ListActiveFeeStructures(ctx context.Context, schoolID, yearID int64, ids []int64) ([]catalog.FeeStructure, error)
	ActiveRoute(ctx context.Context, schoolID, studentID int64) (catalog.StudentRoute, bool, error)
}

// Service computes forecasts.
type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs the forecast service.
func NewService(repo RepositoryPort, cat CatalogPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, catalog: cat, logger: logger, now: time.Now}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

type snapshot struct {
	student    catalog.Student
	record     *catalog.AcademicRecord
	structures []catalog.FeeStructure
	route      *catalog.StudentRoute
	fees       []FeeRecord
	items      []ItemRecord
	invoices   []InvoiceRecord
}

// Forecast projects what the student owes by the target date. A zero target date means the
// end of the academic year.
func (s *Service) Forecast(ctx context.Context, req Request) (Forecast, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return Forecast{}, err
	}
	year, err := s.year(ctx, req)
	if err != nil {
		return Forecast{}, err
	}
	target := req.TargetDate
	if target.IsZero() {
		target = year.EndDate
	}
	today := s.now()
	from := year.StartDate
	if today.After(from) {
		from = today
	}
	if monthStart(target).Before(monthStart(from)) {
		return Forecast{}, fmt.Errorf("%w: %s is before %s", ErrTargetBeforeWindow, target.Format("2006-01-02"), monthStart(from).Format(monthLayout))
	}

	snap, err := s.load(ctx, req, year.ID)
	if err != nil {
		return Forecast{}, err
	}

	f := Forecast{
		SchoolID:       req.SchoolID,
		StudentID:      req.StudentID,
		StudentName:    snap.student.Name,
		AcademicYearID: year.ID,
		From:           monthStart(from),
		Target:         target,
		Months:         months(from, target),
		GeneratedAt:    today,
	}
	cutoff := endOfDay(target)
	first := f.Months[0]

	f.Lines = append(f.Lines, classLines(snap, first, cutoff)...)
	if req.busFees() && snap.route != nil {
		for _, m := range f.Months {
			f.Lines = append(f.Lines, Line{
				Category:    CategoryBus,
				Basis:       BasisProjected,
				SourceID:    snap.route.RoutePlanID,
				Description: fmt.Sprintf("Transport %s (%s)", snap.route.RouteName, snap.route.PlanName),
				Month:       m,
				Amount:      money.Round2(snap.route.Amount),
			})
		}
	}
	if req.previousBalance() && !snap.student.OpeningBalance.IsZero() {
		f.Lines = append(f.Lines, Line{
			Category:    CategoryPrevious,
			Basis:       BasisOpeningBalance,
			Description: "Previous balance",
			Month:       first,
			Amount:      money.Round2(snap.student.OpeningBalance),
		})
	}
	f.Lines = append(f.Lines, otherLines(snap.items, cutoff)...)

	for _, l := range f.Lines {
		f.Breakdown.add(l)
	}
	f.Breakdown = Breakdown{
		ClassFees:       money.Round2(f.Breakdown.ClassFees),
		BusFees:         money.Round2(f.Breakdown.BusFees),
		PreviousBalance: money.Round2(f.Breakdown.PreviousBalance),
		Other:           money.Round2(f.Breakdown.Other),
		Total:           money.Round2(f.Breakdown.Total),
	}
	f.Summary = summarize(snap, today)

	s.logger.Debug("forecast computed",
		slog.Int64("school_id", req.SchoolID),
		slog.Int64("student_id", req.StudentID),
		slog.Int("months", len(f.Months)),
		slog.String("total", f.Breakdown.Total.StringFixed(2)))
	return f, nil
}

func (s *Service) year(ctx context.Context, req Request) (catalog.AcademicYear, error) {
	if req.AcademicYearID > 0 {
		return s.catalog.GetAcademicYear(ctx, req.SchoolID, req.AcademicYearID)
	}
	return s.catalog.CurrentAcademicYear(ctx, req.SchoolID)
}

// load reads every input concurrently; the first failure cancels the rest.
func (s *Service) load(ctx context.Context, req Request, yearID int64) (snapshot, error) {
	var snap snapshot
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		student, err := s.catalog.GetStudent(ctx, req.SchoolID, req.StudentID)
		if err != nil {
			return err
		}
		snap.student = student
		return nil
	})
	g.Go(func() error {
		rec, err := s.catalog.ActiveRecord(ctx, req.SchoolID, req.StudentID, yearID)
		if err != nil {
			if errors.Is(err, catalog.ErrNoActiveRecord) {
				s.logger.Info("forecast without class assignment", slog.Int64("student_id", req.StudentID), slog.Int64("academic_year_id", yearID))
				return nil
			}
			return err
		}
		structures, err := s.catalog.ListActiveFeeStructures(ctx, req.SchoolID, yearID, nil)
		if err != nil {
			return err
		}
		snap.record = &rec
		for _, fs := range structures {
			if fs.AppliesToClass(rec.ClassID) {
				snap.structures = append(snap.structures, fs)
			}
		}
		return nil
	})
	g.Go(func() error {
		route, ok, err := s.catalog.ActiveRoute(ctx, req.SchoolID, req.StudentID)
		if err != nil || !ok {
			return err
		}
		snap.route = &route
		return nil
	})
	g.Go(func() error {
		rows, err := s.repo.StudentFees(ctx, req.SchoolID, req.StudentID, yearID)
		snap.fees = rows
		return err
	})
	g.Go(func() error {
		items, err := s.repo.InvoiceItems(ctx, req.SchoolID, req.StudentID, yearID)
		snap.items = items
		return err
	})
	g.Go(func() error {
		list, err := s.repo.Invoices(ctx, req.SchoolID, req.StudentID, yearID)
		snap.invoices = list
		return err
	})

	if err := g.Wait(); err != nil {
		return snapshot{}, err
	}
	return snap, nil
}

// classLines prefers generated fee rows, then invoiced FEE items, then a single projected
// occurrence in the first month for each structure.
func classLines(snap snapshot, first string, cutoff time.Time) []Line {
	feesByStructure := make(map[int64][]FeeRecord)
	for _, row := range snap.fees {
		feesByStructure[row.FeeStructureID] = append(feesByStructure[row.FeeStructureID], row)
	}
	itemsByStructure := make(map[int64][]ItemRecord)
	for _, it := range snap.items {
		if it.SourceType == invoices.SourceFee && it.SourceID != nil && it.InvoiceStatus != invoices.StatusCancelled {
			itemsByStructure[*it.SourceID] = append(itemsByStructure[*it.SourceID], it)
		}
	}

	var out []Line
	for _, fs := range snap.structures {
		if rows := feesByStructure[fs.ID]; len(rows) > 0 {
			for _, row := range rows {
				if row.Status == fees.FeeStatusPaid || (row.DueDate != nil && row.DueDate.After(cutoff)) {
					continue
				}
				month := first
				if row.DueDate != nil {
					month = row.DueDate.Format(monthLayout)
				}
				out = append(out, Line{Category: CategoryClass, Basis: BasisFeeRecord, SourceID: fs.ID, Description: fs.Name, Month: month, DueDate: row.DueDate, Amount: money.Round2(row.Amount)})
			}
			continue
		}
		if items := itemsByStructure[fs.ID]; len(items) > 0 {
			for _, it := range items {
				due := it.Due()
				if !it.Open() || due.After(cutoff) {
					continue
				}
				out = append(out, Line{Category: CategoryClass, Basis: BasisInvoiced, SourceID: fs.ID, Description: it.Description, Month: due.Format(monthLayout), DueDate: &due, Amount: money.Round2(it.Net())})
			}
			continue
		}
		out = append(out, Line{Category: CategoryClass, Basis: BasisProjected, SourceID: fs.ID, Description: fs.Name, Month: first, DueDate: fs.DueDate, Amount: money.Round2(fs.Amount)})
	}
	return out
}

// otherLines returns open hostel, fine and miscellaneous items due by the cutoff.
func otherLines(items []ItemRecord, cutoff time.Time) []Line {
	var out []Line
	for _, it := range items {
		switch it.SourceType {
		case invoices.SourceHostel, invoices.SourceFine, invoices.SourceMisc:
		default:
			continue
		}
		due := it.Due()
		if !it.Open() || due.After(cutoff) {
			continue
		}
		var source int64
		if it.SourceID != nil {
			source = *it.SourceID
		}
		out = append(out, Line{Category: CategoryOther, Basis: BasisInvoiced, SourceID: source, Description: it.Description, Month: due.Format(monthLayout), DueDate: &due, Amount: money.Round2(it.Net())})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

// summarize totals issued invoices plus generated fee rows whose structure was never
// invoiced, so a fee billed through an invoice is counted once.
func summarize(snap snapshot, today time.Time) Summary {
	var sum Summary
	dayStart := startOfDay(today)
	invoiced := make(map[int64]bool)
	for _, it := range snap.items {
		if it.SourceType == invoices.SourceFee && it.SourceID != nil && it.InvoiceStatus != invoices.StatusCancelled && it.InvoiceStatus != invoices.StatusDraft {
			invoiced[*it.SourceID] = true
		}
	}
	for _, inv := range snap.invoices {
		if inv.Status == invoices.StatusDraft || inv.Status == invoices.StatusCancelled {
			continue
		}
		sum.TotalDue = sum.TotalDue.Add(inv.TotalAmount.Sub(inv.DiscountAmount))
		sum.Paid = sum.Paid.Add(inv.PaidAmount)
		if !money.Positive(inv.BalanceAmount) {
			continue
		}
		if inv.DueDate.Before(dayStart) {
			sum.Overdue = sum.Overdue.Add(inv.BalanceAmount)
		} else {
			sum.Pending = sum.Pending.Add(inv.BalanceAmount)
		}
	}
	for _, row := range snap.fees {
		if invoiced[row.FeeStructureID] {
			continue
		}
		sum.TotalDue = sum.TotalDue.Add(row.Amount)
		switch {
		case row.Status == fees.FeeStatusPaid:
			sum.Paid = sum.Paid.Add(row.Amount)
		case row.Status == fees.FeeStatusOverdue || (row.DueDate != nil && row.DueDate.Before(dayStart)):
			sum.Overdue = sum.Overdue.Add(row.Amount)
		default:
			sum.Pending = sum.Pending.Add(row.Amount)
		}
	}
	return Summary{
		TotalDue: money.Round2(sum.TotalDue),
		Paid:     money.Round2(sum.Paid),
		Pending:  money.Round2(sum.Pending),
		Overdue:  money.Round2(sum.Overdue),
	}
}
