package fees

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aamirsofi/fee-module-sub001/internal/catalog"
	"github.com/aamirsofi/fee-module-sub001/internal/installments"
	"github.com/aamirsofi/fee-module-sub001/internal/money"
	"github.com/aamirsofi/fee-module-sub001/internal/shared"
)

// RepositoryPort abstracts fee persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CreateHistory(ctx context.Context, h History) (History, error)
	FinishHistory(ctx context.Context, h History) error
	GetHistory(ctx context.Context, schoolID, id int64) (History, error)
	ListHistory(ctx context.Context, schoolID int64, page, perPage int) ([]History, int, error)
	ListStudentFees(ctx context.Context, filter StudentFeeFilter) ([]StudentFee, int, error)
}

// CatalogPort reads the cohort and fee templates.
type CatalogPort interface {
	ActiveRecord(ctx context.Context, schoolID, studentID, yearID int64) (catalog.AcademicRecord, error)
	ListActiveRecords(ctx context.Context, schoolID, yearID int64, classIDs []int64) ([]catalog.AcademicRecord, error)
	ListActiveFeeStructures(ctx context.Context, schoolID, yearID int64, ids []int64) ([]catalog.FeeStructure, error)
	ListSchoolsWithCurrentYear(ctx context.Context) ([]catalog.AcademicYear, error)
}

// Locker guards automatic runs.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// Metrics receives generation outcomes.
type Metrics interface {
	FeeGenerationFinished(runType, status string, generated, failed int)
}

// AuditPort records generation runs.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Config tunes generation.
type Config struct {
	LockTTL time.Duration
}

// Service runs fee generation.
type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
	locker  Locker
	metrics Metrics
	audit   AuditPort
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

// NewService constructs the generation service. locker, metrics and audit may be nil.
func NewService(repo RepositoryPort, cat CatalogPort, locker Locker, metrics Metrics, audit AuditPort, cfg Config, logger *slog.Logger) *Service {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, catalog: cat, locker: locker, metrics: metrics, audit: audit, logger: logger, cfg: cfg, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// InstallmentOptions asks for each fee to be split monthly.
type InstallmentOptions struct {
	Count     int `validate:"gt=0,lte=60"`
	StartDate time.Time
}

// GenerateRequest selects a cohort by students or classes and the structures to bill.
type GenerateRequest struct {
	SchoolID           int64   `validate:"required,gt=0"`
	AcademicYearID     int64   `validate:"required,gt=0"`
	StudentIDs         []int64 `validate:"omitempty,dive,gt=0"`
	ClassIDs           []int64 `validate:"omitempty,dive,gt=0"`
	FeeStructureIDs    []int64 `validate:"min=1,dive,gt=0"`
	DiscountPercentage *decimal.Decimal
	DiscountAmount     *decimal.Decimal
	Installments       *InstallmentOptions
	DueDate            *time.Time
	RegenerateExisting bool
	ActorID            int64
}

func (r GenerateRequest) validate() error {
	if err := shared.ValidateStruct(r); err != nil {
		return err
	}
	if len(r.StudentIDs) == 0 && len(r.ClassIDs) == 0 {
		return fmt.Errorf("%w: student_ids or class_ids required", ErrInvalidRequest)
	}
	if p := r.DiscountPercentage; p != nil && (p.IsNegative() || p.GreaterThan(decimal.NewFromInt(100))) {
		return fmt.Errorf("%w: discount percentage must be between 0 and 100", ErrInvalidRequest)
	}
	if a := r.DiscountAmount; a != nil && a.IsNegative() {
		return fmt.Errorf("%w: discount amount must not be negative", ErrInvalidRequest)
	}
	if r.Installments != nil && r.Installments.StartDate.IsZero() {
		return fmt.Errorf("%w: installment start date required", ErrInvalidRequest)
	}
	return nil
}

// cohortMember is a student to bill; record is nil until resolved.
type cohortMember struct {
	studentID int64
	record    *catalog.AcademicRecord
}

// Generate creates StudentFee rows for the cohort. Each student is isolated: a failure is
// recorded against the run and the batch continues.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	structures, err := s.catalog.ListActiveFeeStructures(ctx, req.SchoolID, req.AcademicYearID, req.FeeStructureIDs)
	if err != nil {
		return Result{}, err
	}
	if missing := missingStructures(req.FeeStructureIDs, structures); len(missing) > 0 {
		return Result{}, fmt.Errorf("%w: %v", ErrInactiveStructure, missing)
	}
	cohort, err := s.cohort(ctx, req)
	if err != nil {
		return Result{}, err
	}

	params := map[string]any{
		"student_ids":         req.StudentIDs,
		"class_ids":           req.ClassIDs,
		"fee_structure_ids":   req.FeeStructureIDs,
		"regenerate_existing": req.RegenerateExisting,
	}
	if req.DiscountPercentage != nil {
		params["discount_percentage"] = req.DiscountPercentage.String()
	}
	if req.DiscountAmount != nil {
		params["discount_amount"] = req.DiscountAmount.String()
	}
	if req.Installments != nil {
		params["installment_count"] = req.Installments.Count
	}
	return s.run(ctx, History{
		SchoolID:       req.SchoolID,
		AcademicYearID: req.AcademicYearID,
		Type:           RunManual,
		Params:         params,
		CreatedBy:      req.ActorID,
	}, func(ctx context.Context, t *tally, historyID int64) {
		for _, member := range cohort {
			if ctx.Err() != nil {
				return
			}
			s.generateForStudent(ctx, t, req, member, structures, historyID)
		}
	})
}

func (s *Service) cohort(ctx context.Context, req GenerateRequest) ([]cohortMember, error) {
	if len(req.StudentIDs) > 0 {
		out := make([]cohortMember, 0, len(req.StudentIDs))
		seen := make(map[int64]bool, len(req.StudentIDs))
		for _, id := range req.StudentIDs {
			if !seen[id] {
				seen[id] = true
				out = append(out, cohortMember{studentID: id})
			}
		}
		return out, nil
	}
	records, err := s.catalog.ListActiveRecords(ctx, req.SchoolID, req.AcademicYearID, req.ClassIDs)
	if err != nil {
		return nil, err
	}
	out := make([]cohortMember, 0, len(records))
	for i := range records {
		out = append(out, cohortMember{studentID: records[i].StudentID, record: &records[i]})
	}
	return out, nil
}

func (s *Service) generateForStudent(ctx context.Context, t *tally, req GenerateRequest, member cohortMember, structures []catalog.FeeStructure, historyID int64) {
	record := member.record
	if record == nil {
		rec, err := s.catalog.ActiveRecord(ctx, req.SchoolID, member.studentID, req.AcademicYearID)
		if err != nil {
			if errors.Is(err, catalog.ErrNoActiveRecord) {
				t.fail(member.studentID, "no active class assignment for the academic year")
			} else {
				t.fail(member.studentID, err.Error())
			}
			return
		}
		record = &rec
	}

	var (
		rows    []StudentFee
		skipped int
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rows, skipped = nil, 0
		for _, fs := range structures {
			if !fs.AppliesToClass(record.ClassID) {
				continue
			}
			existing, err := tx.ExistingFees(ctx, member.studentID, fs.ID, req.AcademicYearID)
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				if !req.RegenerateExisting {
					skipped++
					continue
				}
				if err := tx.DeleteFees(ctx, feeIDs(existing)); err != nil {
					return err
				}
			}
			built, err := buildFees(req.SchoolID, member.studentID, req.AcademicYearID, fs, feeOptions{
				discountPercentage: req.DiscountPercentage,
				discountAmount:     req.DiscountAmount,
				installments:       req.Installments,
				dueDate:            s.defaultDueDate(req.DueDate),
				generationID:       historyID,
			})
			if err != nil {
				return err
			}
			rows = append(rows, built...)
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.InsertFees(ctx, rows)
	})
	if err != nil {
		t.fail(member.studentID, err.Error())
		return
	}
	t.skipped += skipped
	for _, row := range rows {
		t.generated++
		t.total = t.total.Add(row.Amount)
	}
}

// AutomaticRequest runs the school-wide expansion for one billing period.
type AutomaticRequest struct {
	SchoolID       int64 `validate:"required,gt=0"`
	AcademicYearID int64 `validate:"required,gt=0"`
	// Period is the billing month as YYYY-MM; empty means the current month.
	Period  string `validate:"omitempty,datetime=2006-01"`
	ActorID int64
}

// GenerateAutomatic bills every active record of the year against every active structure of
// the year, once per period per school. Fees already generated, including fully
// installmented ones, are skipped.
func (s *Service) GenerateAutomatic(ctx context.Context, req AutomaticRequest) (Result, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return Result{}, err
	}
	if req.Period == "" {
		req.Period = s.now().Format("2006-01")
	}
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, shared.FeeGenerationLockKey(req.SchoolID, req.Period), s.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, shared.ErrLockHeld) {
				return Result{}, ErrGenerationRunning
			}
			return Result{}, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("release generation lock failed", slog.Int64("school_id", req.SchoolID), slog.Any("error", err))
			}
		}()
	}

	periodStart, err := time.Parse("2006-01", req.Period)
	if err != nil {
		return Result{}, fmt.Errorf("%w: period must be YYYY-MM", shared.ErrValidation)
	}

	structures, err := s.catalog.ListActiveFeeStructures(ctx, req.SchoolID, req.AcademicYearID, nil)
	if err != nil {
		return Result{}, err
	}
	records, err := s.catalog.ListActiveRecords(ctx, req.SchoolID, req.AcademicYearID, nil)
	if err != nil {
		return Result{}, err
	}
	return s.run(ctx, History{
		SchoolID:       req.SchoolID,
		AcademicYearID: req.AcademicYearID,
		Type:           RunAutomatic,
		Period:         req.Period,
		Params:         map[string]any{"period": req.Period},
		CreatedBy:      req.ActorID,
	}, func(ctx context.Context, t *tally, historyID int64) {
		for _, rec := range records {
			if ctx.Err() != nil {
				return
			}
			s.automaticForStudent(ctx, t, rec, structures, periodStart, historyID)
		}
	})
}

func (s *Service) automaticForStudent(ctx context.Context, t *tally, rec catalog.AcademicRecord, structures []catalog.FeeStructure, periodStart time.Time, historyID int64) {
	var (
		rows    []StudentFee
		skipped int
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rows, skipped = nil, 0
		for _, fs := range structures {
			if !fs.AppliesToClass(rec.ClassID) {
				continue
			}
			existing, err := tx.ExistingFees(ctx, rec.StudentID, fs.ID, rec.AcademicYearID)
			if err != nil {
				return err
			}
			missing, err := missingInstallments(rec.SchoolID, rec.StudentID, fs, existing, historyID)
			if err != nil {
				return err
			}
			if len(existing) > 0 && len(missing) == 0 {
				skipped++
				continue
			}
			if len(existing) == 0 {
				missing, err = buildFees(rec.SchoolID, rec.StudentID, rec.AcademicYearID, fs, feeOptions{dueDate: periodStart, generationID: historyID})
				if err != nil {
					return err
				}
			}
			rows = append(rows, missing...)
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.InsertFees(ctx, rows)
	})
	if err != nil {
		t.fail(rec.StudentID, err.Error())
		return
	}
	t.skipped += skipped
	for _, row := range rows {
		t.generated++
		t.total = t.total.Add(row.Amount)
	}
}

// RunScheduled runs GenerateAutomatic for every school with a current academic year. Schools
// whose period is already running are skipped.
func (s *Service) RunScheduled(ctx context.Context, period string) ([]Result, error) {
	years, err := s.catalog.ListSchoolsWithCurrentYear(ctx)
	if err != nil {
		return nil, err
	}
	var (
		results []Result
		errs    []error
	)
	for _, year := range years {
		res, err := s.GenerateAutomatic(ctx, AutomaticRequest{SchoolID: year.SchoolID, AcademicYearID: year.ID, Period: period})
		if err != nil {
			if errors.Is(err, ErrGenerationRunning) {
				s.logger.Info("fee generation already running", slog.Int64("school_id", year.SchoolID), slog.String("period", period))
				continue
			}
			errs = append(errs, fmt.Errorf("school %d: %w", year.SchoolID, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// run wraps body with the history lifecycle: IN_PROGRESS before, COMPLETED or FAILED after,
// persisting partial counts either way.
func (s *Service) run(ctx context.Context, h History, body func(context.Context, *tally, int64)) (Result, error) {
	h.Status = RunInProgress
	h.StartedAt = s.now()
	created, err := s.repo.CreateHistory(ctx, h)
	if err != nil {
		return Result{}, fmt.Errorf("fees: create generation history: %w", err)
	}
	h = created

	t := &tally{total: decimal.Zero}
	body(ctx, t, h.ID)
	t.total = money.Round2(t.total)

	t.apply(&h)
	h.Status = RunCompleted
	runErr := ctx.Err()
	if runErr != nil {
		h.Status = RunFailed
	}
	completed := s.now()
	h.CompletedAt = &completed

	persistCtx := context.WithoutCancel(ctx)
	if err := s.repo.FinishHistory(persistCtx, h); err != nil {
		h.Status = RunFailed
		if retryErr := s.repo.FinishHistory(persistCtx, h); retryErr != nil {
			s.logger.Error("persist generation history failed", slog.Int64("history_id", h.ID), slog.Any("error", retryErr))
		}
		runErr = errors.Join(runErr, fmt.Errorf("fees: finish generation history: %w", err))
	}

	if s.metrics != nil {
		s.metrics.FeeGenerationFinished(string(h.Type), string(h.Status), h.Generated, h.Failed)
	}
	s.record(persistCtx, h)
	s.logger.Info("fee generation finished",
		slog.Int64("school_id", h.SchoolID),
		slog.Int64("history_id", h.ID),
		slog.String("type", string(h.Type)),
		slog.String("status", string(h.Status)),
		slog.Int("generated", h.Generated),
		slog.Int("skipped", h.Skipped),
		slog.Int("failed", h.Failed),
		slog.String("total_amount", h.TotalAmount.StringFixed(2)))
	return h.result(), runErr
}

func (s *Service) record(ctx context.Context, h History) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		SchoolID: h.SchoolID,
		ActorID:  h.CreatedBy,
		Action:   "fees.generate",
		Entity:   "fee_generation",
		EntityID: fmt.Sprintf("%d", h.ID),
		Meta: map[string]any{
			"type":      string(h.Type),
			"status":    string(h.Status),
			"generated": h.Generated,
			"failed":    h.Failed,
		},
		At: s.now(),
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", "fees.generate"), slog.Any("error", err))
	}
}

// GetHistory loads one run.
func (s *Service) GetHistory(ctx context.Context, schoolID, id int64) (History, error) {
	return s.repo.GetHistory(ctx, schoolID, id)
}

// ListHistory pages runs newest first.
func (s *Service) ListHistory(ctx context.Context, schoolID int64, page, perPage int) ([]History, shared.Pagination, error) {
	p := shared.NewPagination(page, perPage, 0)
	list, total, err := s.repo.ListHistory(ctx, schoolID, p.Page, p.PerPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return list, shared.NewPagination(p.Page, p.PerPage, total), nil
}

// ListStudentFees pages generated obligations.
func (s *Service) ListStudentFees(ctx context.Context, filter StudentFeeFilter) ([]StudentFee, shared.Pagination, error) {
	p := shared.NewPagination(filter.Page, filter.PerPage, 0)
	filter.Page, filter.PerPage = p.Page, p.PerPage
	list, total, err := s.repo.ListStudentFees(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return list, shared.NewPagination(p.Page, p.PerPage, total), nil
}

func missingStructures(requested []int64, active []catalog.FeeStructure) []int64 {
	found := make(map[int64]bool, len(active))
	for _, fs := range active {
		found[fs.ID] = true
	}
	var missing []int64
	for _, id := range requested {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

func feeIDs(fees []StudentFee) []int64 {
	ids := make([]int64, 0, len(fees))
	for _, f := range fees {
		ids = append(ids, f.ID)
	}
	return ids
}

type feeOptions struct {
	discountPercentage *decimal.Decimal
	discountAmount     *decimal.Decimal
	installments       *InstallmentOptions
	// dueDate applies when the structure carries none.
	dueDate      time.Time
	generationID int64
}

// defaultDueDate is the requested due date, or today when the request names none.
func (s *Service) defaultDueDate(requested *time.Time) time.Time {
	if requested != nil {
		return *requested
	}
	y, m, d := s.now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// buildFees prices one structure for one student: structure amount less discount, split into
// installments when requested.
func buildFees(schoolID, studentID, yearID int64, fs catalog.FeeStructure, opts feeOptions) ([]StudentFee, error) {
	original := money.Round2(fs.Amount)
	discount := money.ApplyDiscount(original, opts.discountPercentage, opts.discountAmount)
	final := original.Sub(discount)
	var pct *decimal.Decimal
	if opts.discountPercentage != nil && money.Positive(*opts.discountPercentage) {
		p := *opts.discountPercentage
		pct = &p
	}
	due := fs.DueDate
	if due == nil {
		if opts.dueDate.IsZero() {
			return nil, fmt.Errorf("%w: fee structure %d has no due date", shared.ErrValidation, fs.ID)
		}
		fallback := opts.dueDate
		due = &fallback
	}
	var generation *int64
	if opts.generationID > 0 {
		id := opts.generationID
		generation = &id
	}
	base := StudentFee{
		SchoolID:           schoolID,
		StudentID:          studentID,
		FeeStructureID:     fs.ID,
		AcademicYearID:     yearID,
		OriginalAmount:     original,
		DiscountAmount:     discount,
		DiscountPercentage: pct,
		Status:             FeeStatusPending,
		GenerationID:       generation,
	}
	if opts.installments == nil {
		row := base
		row.Amount = final
		row.DueDate = due
		return []StudentFee{row}, nil
	}
	plan, err := installments.Plan(final, opts.installments.Count, opts.installments.StartDate)
	if err != nil {
		return nil, err
	}
	count := opts.installments.Count
	start := opts.installments.StartDate
	rows := make([]StudentFee, 0, len(plan))
	for _, inst := range plan {
		row := base
		number := inst.Number
		dueDate := inst.DueDate
		row.Amount = inst.Amount
		row.DueDate = &dueDate
		row.InstallmentCount = &count
		row.InstallmentNumber = &number
		row.InstallmentStartDate = &start
		rows = append(rows, row)
	}
	return rows, nil
}

// missingInstallments returns the installment rows absent from a partially generated split.
// A complete split or a plain fee yields nothing.
func missingInstallments(schoolID, studentID int64, fs catalog.FeeStructure, existing []StudentFee, generationID int64) ([]StudentFee, error) {
	if len(existing) == 0 || !existing[0].Installmented() {
		return nil, nil
	}
	first := existing[0]
	count := *first.InstallmentCount
	if len(existing) >= count || first.InstallmentStartDate == nil {
		return nil, nil
	}
	have := make(map[int]bool, len(existing))
	for _, f := range existing {
		if f.InstallmentNumber != nil {
			have[*f.InstallmentNumber] = true
		}
	}
	// Price from the recorded split so new shares match the ones already issued.
	priced := fs
	priced.Amount = first.OriginalAmount
	rows, err := buildFees(schoolID, studentID, first.AcademicYearID, priced, feeOptions{
		discountPercentage: first.DiscountPercentage,
		discountAmount:     &first.DiscountAmount,
		installments:       &InstallmentOptions{Count: count, StartDate: *first.InstallmentStartDate},
		dueDate:            *first.InstallmentStartDate,
		generationID:       generationID,
	})
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, row := range rows {
		if !have[*row.InstallmentNumber] {
			out = append(out, row)
		}
	}
	return out, nil
}
