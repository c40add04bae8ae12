package forecast

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/aamirsofi/fee-module-sub001/internal/platform/httpx"
	"github.com/aamirsofi/fee-module-sub001/internal/shared"
)

type forecaster interface {
	Forecast(ctx context.Context, req Request) (Forecast, error)
}

// Handler exposes forecasts over JSON.
type Handler struct {
	logger  *slog.Logger
	service forecaster
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service forecaster) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the forecast route under a school scoped router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/students/{studentID}/forecast", h.handleForecast)
}

func (h *Handler) handleForecast(w http.ResponseWriter, r *http.Request) {
	schoolID, err := httpx.SchoolID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	studentID, err := httpx.IDParam(r, "studentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, err := parseQuery(r.URL.Query())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req.SchoolID, req.StudentID = schoolID, studentID
	f, err := h.service.Forecast(r.Context(), req)
	if err != nil {
		h.logger.Warn("forecast failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(f))
}

func parseQuery(q url.Values) (Request, error) {
	var req Request
	if raw := q.Get("target_date"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return Request{}, fmt.Errorf("%w: target_date must be YYYY-MM-DD", shared.ErrValidation)
		}
		req.TargetDate = t
	}
	if raw := q.Get("academic_year_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return Request{}, fmt.Errorf("%w: academic_year_id must be a positive integer", shared.ErrValidation)
		}
		req.AcademicYearID = id
	}
	var err error
	if req.IncludeBusFees, err = boolParam(q, "include_bus_fees"); err != nil {
		return Request{}, err
	}
	if req.IncludePreviousBalance, err = boolParam(q, "include_previous_balance"); err != nil {
		return Request{}, err
	}
	return req, nil
}

func boolParam(q url.Values, name string) (*bool, error) {
	raw := q.Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be true or false", shared.ErrValidation, name)
	}
	return &v, nil
}

type lineResponse struct {
	Category    Category        `json:"category"`
	Basis       Basis           `json:"basis"`
	SourceID    int64           `json:"source_id,omitempty"`
	Description string          `json:"description"`
	Month       string          `json:"month"`
	DueDate     string          `json:"due_date,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
}

type breakdownResponse struct {
	ClassFees       decimal.Decimal `json:"class_fees"`
	BusFees         decimal.Decimal `json:"bus_fees"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	Other           decimal.Decimal `json:"other"`
	Total           decimal.Decimal `json:"total"`
}

type summaryResponse struct {
	TotalDue decimal.Decimal `json:"total_due"`
	Paid     decimal.Decimal `json:"paid"`
	Pending  decimal.Decimal `json:"pending"`
	Overdue  decimal.Decimal `json:"overdue"`
}

type response struct {
	StudentID      int64             `json:"student_id"`
	StudentName    string            `json:"student_name"`
	AcademicYearID int64             `json:"academic_year_id"`
	From           string            `json:"from"`
	TargetDate     string            `json:"target_date"`
	Months         []string          `json:"months"`
	Lines          []lineResponse    `json:"lines"`
	Breakdown      breakdownResponse `json:"breakdown"`
	Summary        summaryResponse   `json:"summary"`
	GeneratedAt    time.Time         `json:"generated_at"`
}

func toResponse(f Forecast) response {
	lines := make([]lineResponse, 0, len(f.Lines))
	for _, l := range f.Lines {
		lr := lineResponse{
			Category:    l.Category,
			Basis:       l.Basis,
			SourceID:    l.SourceID,
			Description: l.Description,
			Month:       l.Month,
			Amount:      l.Amount,
		}
		if l.DueDate != nil {
			lr.DueDate = l.DueDate.Format("2006-01-02")
		}
		lines = append(lines, lr)
	}
	return response{
		StudentID:      f.StudentID,
		StudentName:    f.StudentName,
		AcademicYearID: f.AcademicYearID,
		From:           f.From.Format("2006-01-02"),
		TargetDate:     f.Target.Format("2006-01-02"),
		Months:         f.Months,
		Lines:          lines,
		Breakdown: breakdownResponse{
			ClassFees:       f.Breakdown.ClassFees,
			BusFees:         f.Breakdown.BusFees,
			PreviousBalance: f.Breakdown.PreviousBalance,
			Other:           f.Breakdown.Other,
			Total:           f.Breakdown.Total,
		},
		Summary: summaryResponse{
			TotalDue: f.Summary.TotalDue,
			Paid:     f.Summary.Paid,
			Pending:  f.Summary.Pending,
			Overdue:  f.Summary.Overdue,
		},
		GeneratedAt: f.GeneratedAt,
	}
}
