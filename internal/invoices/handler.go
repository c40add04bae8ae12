package invoices

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aamirsofi/fee-module-sub001/internal/platform/httpx"
	"github.com/aamirsofi/fee-module-sub001/internal/shared"
)

// invoiceService is the subset of Service the HTTP layer calls.
type invoiceService interface {
	Create(ctx context.Context, in CreateInput) (Invoice, error)
	Finalize(ctx context.Context, schoolID, invoiceID, actorID int64) (Invoice, error)
	Update(ctx context.Context, in UpdateInput) (Invoice, error)
	Delete(ctx context.Context, schoolID, invoiceID, actorID int64) error
	Cancel(ctx context.Context, schoolID, invoiceID, actorID int64, reason string) (Invoice, error)
	GenerateFromTemplates(ctx context.Context, in TemplateInput) (Invoice, error)
	AttachItem(ctx context.Context, in AttachInput) (Invoice, error)
	Recalculate(ctx context.Context, schoolID, invoiceID, actorID int64) (Invoice, error)
	Get(ctx context.Context, schoolID, invoiceID int64) (Invoice, error)
	List(ctx context.Context, filter ListFilter) ([]Invoice, shared.Pagination, error)
}

// Handler exposes the invoice lifecycle over JSON.
type Handler struct {
	logger  *slog.Logger
	service invoiceService
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service invoiceService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers invoice routes under a school scoped router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/invoices", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Post("/generate", h.handleGenerate)
		r.Route("/{invoiceID}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Patch("/", h.handleUpdate)
			r.Delete("/", h.handleDelete)
			r.Post("/finalize", h.handleFinalize)
			r.Post("/cancel", h.handleCancel)
			r.Post("/items", h.handleAttachItem)
			r.Post("/recalculate", h.handleRecalculate)
		})
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	schoolID, err := httpx.SchoolID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	filter := ListFilter{SchoolID: schoolID}
	filter.Page, filter.PerPage = shared.PageFromQuery(q)
	if raw := q.Get("student_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "student_id must be numeric")
			return
		}
		filter.StudentID = id
	}
	if raw := q.Get("status"); raw != "" {
		if filter.Status, err = ParseStatus(raw); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	if raw := q.Get("type"); raw != "" {
		if filter.Type, err = ParseType(raw); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	list, page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list invoices", err)
		return
	}
	data := make([]invoiceResponse, 0, len(list))
	for _, inv := range list {
		data = append(data, toResponse(inv))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": data, "pagination": page})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	schoolID, err := httpx.SchoolID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in, err := req.toInput(schoolID, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(inv))
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	schoolID, err := httpx.SchoolID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req generateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in, err := req.toInput(schoolID, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.GenerateFromTemplates(r.Context(), in)
	if err != nil {
		h.fail(w, r, "generate invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(inv))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	schoolID, invoiceID, ok := h.ids(w, r)
	if !ok {
		return
	}
	inv, err := h.service.Get(r.Context(), schoolID, invoiceID)
	if err != nil {
		h.fail(w, r, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(inv))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	schoolID, invoiceID, ok := h.ids(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := UpdateInput{SchoolID: schoolID, InvoiceID: invoiceID, Notes: req.Notes, ActorID: shared.ActorFromContext(r.Context())}
	var err error
	if in.IssueDate, err = parseOptionalDate(req.IssueDate, "issue_date"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if in.DueDate, err = parseOptionalDate(req.DueDate, "due_date"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if in.Items, err = toItemInputs(req.Items); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.Update(r.Context(), in)
	if err != nil {
		h.fail(w, r, "update invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(inv))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	schoolID, invoiceID, ok := h.ids(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), schoolID, invoiceID, shared.ActorFromContext(r.Context())); err != nil {
		h.fail(w, r, "delete invoice", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	schoolID, invoiceID, ok := h.ids(w, r)
	if !ok {
		return
	}
	inv, err := h.service.Finalize(r.Context(), schoolID, invoiceID, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "finalize invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(inv))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	schoolID, invoiceID, ok := h.ids(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	inv, err := h.service.Cancel(r.Context(), schoolID, invoiceID, shared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		h.fail(w, r, "cancel invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(inv))
}

func (h *Handler) handleAttachItem(w http.ResponseWriter, r *http.Request) {
	schoolID, invoiceID, ok := h.ids(w, r)
	if !ok {
		return
	}
	var req itemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := req.toInput()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.AttachItem(r.Context(), AttachInput{
		SchoolID:  schoolID,
		InvoiceID: invoiceID,
		Item:      item,
		ActorID:   shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, "attach invoice item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(inv))
}

func (h *Handler) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	schoolID, invoiceID, ok := h.ids(w, r)
	if !ok {
		return
	}
	inv, err := h.service.Recalculate(r.Context(), schoolID, invoiceID, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "recalculate invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(inv))
}

func (h *Handler) ids(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	schoolID, err := httpx.SchoolID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	invoiceID, err := httpx.IDParam(r, "invoiceID")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	return schoolID, invoiceID, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Warn(op+" failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func (r createRequest) toInput(schoolID, actorID int64) (CreateInput, error) {
	t, err := ParseType(r.Type)
	if err != nil {
		return CreateInput{}, err
	}
	in := CreateInput{SchoolID: schoolID, StudentID: r.StudentID, AcademicYearID: r.AcademicYearID, Type: t, Notes: r.Notes, ActorID: actorID}
	if in.IssueDate, err = parseDate(r.IssueDate, "issue_date"); err != nil {
		return CreateInput{}, err
	}
	if in.DueDate, err = parseDate(r.DueDate, "due_date"); err != nil {
		return CreateInput{}, err
	}
	if in.PeriodDate, err = parseOptionalDate(r.PeriodDate, "period_date"); err != nil {
		return CreateInput{}, err
	}
	if in.Items, err = toItemInputs(r.Items); err != nil {
		return CreateInput{}, err
	}
	return in, nil
}

func (r generateRequest) toInput(schoolID, actorID int64) (TemplateInput, error) {
	t, err := ParseType(r.Type)
	if err != nil {
		return TemplateInput{}, err
	}
	in := TemplateInput{
		SchoolID:         schoolID,
		StudentID:        r.StudentID,
		AcademicYearID:   r.AcademicYearID,
		Type:             t,
		FeeStructureIDs:  r.FeeStructureIDs,
		IncludeTransport: r.IncludeTransport,
		ActorID:          actorID,
	}
	if in.PeriodDate, err = parseDate(r.PeriodDate, "period_date"); err != nil {
		return TemplateInput{}, err
	}
	if in.IssueDate, err = parseDate(r.IssueDate, "issue_date"); err != nil {
		return TemplateInput{}, err
	}
	if in.DueDate, err = parseDate(r.DueDate, "due_date"); err != nil {
		return TemplateInput{}, err
	}
	return in, nil
}
