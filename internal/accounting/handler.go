package accounting

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/aamirsofi/fee-module-sub001/internal/platform/httpx"
)

// Handler exposes read-only ledger endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers HTTP routes for the ledger module.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/ledger/journals/{journalID}", h.handleGetJournal)
	r.Get("/ledger/trial-balance", h.handleTrialBalance)
}

type journalLineResponse struct {
	AccountID   int64           `json:"account_id"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description,omitempty"`
}

type journalResponse struct {
	ID           int64                 `json:"id"`
	Number       string                `json:"number"`
	EntryType    EntryType             `json:"entry_type"`
	Date         string                `json:"date"`
	SourceModule string                `json:"source_module"`
	Memo         string                `json:"memo"`
	Status       JournalStatus         `json:"status"`
	ReversalOf   *int64                `json:"reversal_of,omitempty"`
	Lines        []journalLineResponse `json:"lines"`
}

func (h *Handler) handleGetJournal(w http.ResponseWriter, r *http.Request) {
	schoolID, err := httpx.SchoolID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.IDParam(r, "journalID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.GetJournal(r.Context(), schoolID, id)
	if err != nil {
		h.logger.Warn("get journal failed", slog.Int64("school_id", schoolID), slog.Int64("journal_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := journalResponse{
		ID:           entry.ID,
		Number:       entry.Number,
		EntryType:    entry.EntryType,
		Date:         entry.Date.Format("2006-01-02"),
		SourceModule: entry.SourceModule,
		Memo:         entry.Memo,
		Status:       entry.Status,
		ReversalOf:   entry.ReversalOf,
	}
	for _, line := range entry.Lines {
		resp.Lines = append(resp.Lines, journalLineResponse{
			AccountID:   line.AccountID,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Description: line.Description,
		})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleTrialBalance(w http.ResponseWriter, r *http.Request) {
	schoolID, err := httpx.SchoolID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	tb, err := h.service.TrialBalance(r.Context(), schoolID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	type row struct {
		Code    string          `json:"code"`
		Name    string          `json:"name"`
		Type    AccountType     `json:"type"`
		Subtype AccountSubtype  `json:"subtype"`
		Debit   decimal.Decimal `json:"debit"`
		Credit  decimal.Decimal `json:"credit"`
		Closing decimal.Decimal `json:"closing"`
	}
	rows := make([]row, 0, len(tb.Rows))
	for _, r := range tb.Rows {
		rows = append(rows, row{Code: r.Code, Name: r.Name, Type: r.Type, Subtype: r.Subtype, Debit: r.Debit, Credit: r.Credit, Closing: r.Closing()})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"rows":         rows,
		"total_debit":  tb.TotalDebit,
		"total_credit": tb.TotalCredit,
		"balanced":     tb.Balanced(),
	})
}
