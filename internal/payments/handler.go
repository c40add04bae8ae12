package payments

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aamirsofi/fee-module-sub001/internal/platform/httpx"
	"github.com/aamirsofi/fee-module-sub001/internal/shared"
)

const idempotencyModule = "payments.record"

// IdempotencyHeader carries the client key that makes a record request safe to retry.
const IdempotencyHeader = "Idempotency-Key"

type paymentService interface {
	Record(ctx context.Context, in RecordInput) (RecordResult, error)
	Update(ctx context.Context, in UpdateInput) (Payment, error)
	Delete(ctx context.Context, schoolID, paymentID, actorID int64) error
	Get(ctx context.Context, schoolID, paymentID int64) (Payment, error)
	List(ctx context.Context, filter ListFilter) ([]Payment, shared.Pagination, error)
	Receipt(ctx context.Context, schoolID, paymentID int64) (Receipt, error)
}

// IdempotencyStore remembers processed request keys per school.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, schoolID int64, key, module string) error
	Delete(ctx context.Context, schoolID int64, key, module string) error
}

// Handler exposes payments over JSON.
type Handler struct {
	logger      *slog.Logger
	service     paymentService
	idempotency IdempotencyStore
}

// NewHandler builds a Handler. idempotency may be nil, in which case the header is ignored.
func NewHandler(logger *slog.Logger, service paymentService, idempotency IdempotencyStore) *Handler {
	return &Handler{logger: logger, service: service, idempotency: idempotency}
}

// MountRoutes registers payment routes under a school scoped router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/payments", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleRecord)
		r.Route("/{paymentID}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Patch("/", h.handleUpdate)
			r.Delete("/", h.handleDelete)
			r.Get("/receipt", h.handleReceipt)
		})
	})
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	schoolID, err := httpx.SchoolID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req recordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in, err := req.toInput(schoolID, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), schoolID, key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Conflict", "a payment with this Idempotency-Key was already submitted")
				return
			}
			h.fail(w, r, "check idempotency key", err)
			return
		}
	}
	result, err := h.service.Record(r.Context(), in)
	if err != nil {
		if key != "" && h.idempotency != nil {
			if derr := h.idempotency.Delete(context.WithoutCancel(r.Context()), schoolID, key, idempotencyModule); derr != nil {
				h.logger.Warn("release idempotency key failed", slog.String("key", key), slog.Any("error", derr))
			}
		}
		h.fail(w, r, "record payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, recordResponse{
		Payment:       toResponse(result.Payment),
		Invoice:       toInvoiceSummary(result.Invoice),
		LedgerPending: result.LedgerPending,
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
	for param, target := range map[string]*int64{"invoice_id": &filter.InvoiceID, "student_id": &filter.StudentID} {
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
	list, page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list payments", err)
		return
	}
	data := make([]paymentResponse, 0, len(list))
	for _, p := range list {
		data = append(data, toResponse(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": data, "pagination": page})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	schoolID, paymentID, ok := h.ids(w, r)
	if !ok {
		return
	}
	p, err := h.service.Get(r.Context(), schoolID, paymentID)
	if err != nil {
		h.fail(w, r, "get payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(p))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	schoolID, paymentID, ok := h.ids(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in, err := req.toInput(schoolID, paymentID, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Update(r.Context(), in)
	if err != nil {
		h.fail(w, r, "update payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(p))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	schoolID, paymentID, ok := h.ids(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), schoolID, paymentID, shared.ActorFromContext(r.Context())); err != nil {
		h.fail(w, r, "delete payment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReceipt(w http.ResponseWriter, r *http.Request) {
	schoolID, paymentID, ok := h.ids(w, r)
	if !ok {
		return
	}
	receipt, err := h.service.Receipt(r.Context(), schoolID, paymentID)
	if err != nil {
		h.fail(w, r, "build receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toReceiptResponse(receipt))
}

func (h *Handler) ids(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	schoolID, err := httpx.SchoolID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	paymentID, err := httpx.IDParam(r, "paymentID")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	return schoolID, paymentID, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Warn(op+" failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}
