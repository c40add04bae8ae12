package fees

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aamirsofi/fee-module-sub001/internal/platform/httpx"
	"github.com/aamirsofi/fee-module-sub001/internal/shared"
)

type feeService interface {
	Generate(ctx context.Context, req GenerateRequest) (Result, error)
	GenerateAutomatic(ctx context.Context, req AutomaticRequest) (Result, error)
	GetHistory(ctx context.Context, schoolID, id int64) (History, error)
	ListHistory(ctx context.Context, schoolID int64, page, perPage int) ([]History, shared.Pagination, error)
	ListStudentFees(ctx context.Context, filter StudentFeeFilter) ([]StudentFee, shared.Pagination, error)
}

// Handler exposes fee generation over JSON.
type Handler struct {
	logger  *slog.Logger
	service feeService
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service feeService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers fee routes under a school scoped router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/fees", func(r chi.Router) {
		r.Get("/", h.handleListFees)
		r.Post("/generate", h.handleGenerate)
		r.Post("/generate/automatic", h.handleAutomatic)
		r.Get("/history", h.handleListHistory)
		r.Get("/history/{historyID}", h.handleGetHistory)
	})
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	schoolID, err := httpx.SchoolID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body generateRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, err := body.toRequest(schoolID, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Generate(r.Context(), req)
	if err != nil && res.HistoryID == 0 {
		h.fail(w, r, "generate fees", err)
		return
	}
	if err != nil {
		h.logger.Error("fee generation ended with error", slog.Int64("history_id", res.HistoryID), slog.Any("error", err))
	}
	httpx.JSON(w, http.StatusOK, toResultResponse(res))
}

func (h *Handler) handleAutomatic(w http.ResponseWriter, r *http.Request) {
	schoolID, err := httpx.SchoolID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body automaticRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.GenerateAutomatic(r.Context(), AutomaticRequest{
		SchoolID:       schoolID,
		AcademicYearID: body.AcademicYearID,
		Period:         body.Period,
		ActorID:        shared.ActorFromContext(r.Context()),
	})
	if err != nil && res.HistoryID == 0 {
		h.fail(w, r, "generate fees automatically", err)
		return
	}
	if err != nil {
		h.logger.Error("automatic fee generation ended with error", slog.Int64("history_id", res.HistoryID), slog.Any("error", err))
	}
	httpx.JSON(w, http.StatusOK, toResultResponse(res))
}

func (h *Handler) handleListHistory(w http.ResponseWriter, r *http.Request) {
	schoolID, err := httpx.SchoolID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, perPage := shared.PageFromQuery(r.URL.Query())
	list, pagination, err := h.service.ListHistory(r.Context(), schoolID, page, perPage)
	if err != nil {
		h.fail(w, r, "list generation history", err)
		return
	}
	data := make([]historyResponse, 0, len(list))
	for _, item := range list {
		data = append(data, toHistoryResponse(item))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": data, "pagination": pagination})
}

func (h *Handler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	schoolID, err := httpx.SchoolID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.IDParam(r, "historyID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	hist, err := h.service.GetHistory(r.Context(), schoolID, id)
	if err != nil {
		h.fail(w, r, "get generation history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toHistoryResponse(hist))
}

func (h *Handler) handleListFees(w http.ResponseWriter, r *http.Request) {
	schoolID, err := httpx.SchoolID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	filter := StudentFeeFilter{SchoolID: schoolID}
	filter.Page, filter.PerPage = shared.PageFromQuery(q)
	for param, target := range map[string]*int64{"student_id": &filter.StudentID, "academic_year_id": &filter.AcademicYearID} {
		raw := q.Get(param)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", param+" must be numeric")
			return
		}
		*target = id
	}
	list, pagination, err := h.service.ListStudentFees(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list student fees", err)
		return
	}
	data := make([]feeResponse, 0, len(list))
	for _, f := range list {
		data = append(data, toFeeResponse(f))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": data, "pagination": pagination})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Warn(op+" failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}
