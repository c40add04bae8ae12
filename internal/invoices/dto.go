package invoices

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type itemRequest struct {
	SourceType     string           `json:"source_type"`
	SourceID       *int64           `json:"source_id,omitempty"`
	Description    string           `json:"description,omitempty"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	DiscountAmount decimal.Decimal  `json:"discount_amount"`
	DueDate        string           `json:"due_date,omitempty"`
	Notes          string           `json:"notes,omitempty"`
}

func (r itemRequest) toInput() (ItemInput, error) {
	st, err := ParseSourceType(r.SourceType)
	if err != nil {
		return ItemInput{}, err
	}
	due, err := parseOptionalDate(r.DueDate, "due_date")
	if err != nil {
		return ItemInput{}, err
	}
	return ItemInput{
		SourceType:     st,
		SourceID:       r.SourceID,
		Description:    r.Description,
		Amount:         r.Amount,
		DiscountAmount: r.DiscountAmount,
		DueDate:        due,
		Notes:          r.Notes,
	}, nil
}

func toItemInputs(reqs []itemRequest) ([]ItemInput, error) {
	if reqs == nil {
		return nil, nil
	}
	out := make([]ItemInput, 0, len(reqs))
	for _, r := range reqs {
		in, err := r.toInput()
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

type createRequest struct {
	StudentID      int64         `json:"student_id"`
	AcademicYearID int64         `json:"academic_year_id"`
	Type           string        `json:"type"`
	IssueDate      string        `json:"issue_date,omitempty"`
	DueDate        string        `json:"due_date,omitempty"`
	PeriodDate     string        `json:"period_date,omitempty"`
	Notes          string        `json:"notes,omitempty"`
	Items          []itemRequest `json:"items"`
}

type updateRequest struct {
	IssueDate string        `json:"issue_date,omitempty"`
	DueDate   string        `json:"due_date,omitempty"`
	Notes     *string       `json:"notes,omitempty"`
	Items     []itemRequest `json:"items,omitempty"`
}

type generateRequest struct {
	StudentID        int64   `json:"student_id"`
	AcademicYearID   int64   `json:"academic_year_id"`
	Type             string  `json:"type"`
	PeriodDate       string  `json:"period_date,omitempty"`
	IssueDate        string  `json:"issue_date,omitempty"`
	DueDate          string  `json:"due_date,omitempty"`
	FeeStructureIDs  []int64 `json:"fee_structure_ids,omitempty"`
	IncludeTransport bool    `json:"include_transport"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type itemResponse struct {
	ID             int64           `json:"id"`
	SourceType     SourceType      `json:"source_type"`
	SourceID       *int64          `json:"source_id,omitempty"`
	SourceMetadata Snapshot        `json:"source_metadata,omitempty"`
	Description    string          `json:"description"`
	Amount         decimal.Decimal `json:"amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	DueDate        string          `json:"due_date,omitempty"`
	Notes          string          `json:"notes,omitempty"`
}

type invoiceResponse struct {
	ID             int64           `json:"id"`
	SchoolID       int64           `json:"school_id"`
	StudentID      int64           `json:"student_id"`
	AcademicYearID int64           `json:"academic_year_id"`
	InvoiceNumber  string          `json:"invoice_number"`
	IssueDate      string          `json:"issue_date"`
	DueDate        string          `json:"due_date"`
	Type           Type            `json:"type"`
	Status         Status          `json:"status"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	BalanceAmount  decimal.Decimal `json:"balance_amount"`
	JournalEntryID *int64          `json:"journal_entry_id,omitempty"`
	PeriodMonth    *int            `json:"period_month,omitempty"`
	PeriodQuarter  *int            `json:"period_quarter,omitempty"`
	PeriodYear     *int            `json:"period_year,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	Items          []itemResponse  `json:"items,omitempty"`
}

func toResponse(inv Invoice) invoiceResponse {
	resp := invoiceResponse{
		ID:             inv.ID,
		SchoolID:       inv.SchoolID,
		StudentID:      inv.StudentID,
		AcademicYearID: inv.AcademicYearID,
		InvoiceNumber:  inv.InvoiceNumber,
		IssueDate:      inv.IssueDate.Format(dateLayout),
		DueDate:        inv.DueDate.Format(dateLayout),
		Type:           inv.Type,
		Status:         inv.Status,
		TotalAmount:    inv.TotalAmount,
		DiscountAmount: inv.DiscountAmount,
		PaidAmount:     inv.PaidAmount,
		BalanceAmount:  inv.BalanceAmount,
		JournalEntryID: inv.JournalEntryID,
		PeriodMonth:    inv.Period.Month,
		PeriodQuarter:  inv.Period.Quarter,
		PeriodYear:     inv.Period.Year,
		Notes:          inv.Notes,
	}
	for _, it := range inv.Items {
		ir := itemResponse{
			ID:             it.ID,
			SourceType:     it.SourceType,
			SourceID:       it.SourceID,
			SourceMetadata: it.Snapshot,
			Description:    it.Description,
			Amount:         it.Amount,
			DiscountAmount: it.DiscountAmount,
			Notes:          it.Notes,
		}
		if it.DueDate != nil {
			ir.DueDate = it.DueDate.Format(dateLayout)
		}
		resp.Items = append(resp.Items, ir)
	}
	return resp
}

func parseDate(raw, field string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", ErrInvalidInput, field)
	}
	return t, nil
}

func parseOptionalDate(raw, field string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := parseDate(raw, field)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
