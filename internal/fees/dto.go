package fees

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type installmentRequest struct {
	Count     int    `json:"count"`
	StartDate string `json:"start_date"`
}

type generateRequest struct {
	AcademicYearID     int64               `json:"academic_year_id"`
	StudentIDs         []int64             `json:"student_ids,omitempty"`
	ClassIDs           []int64             `json:"class_ids,omitempty"`
	FeeStructureIDs    []int64             `json:"fee_structure_ids"`
	DiscountPercentage *decimal.Decimal    `json:"discount_percentage,omitempty"`
	DiscountAmount     *decimal.Decimal    `json:"discount_amount,omitempty"`
	Installments       *installmentRequest `json:"installments,omitempty"`
	DueDate            string              `json:"due_date,omitempty"`
	RegenerateExisting bool                `json:"regenerate_existing"`
}

func (r generateRequest) toRequest(schoolID, actorID int64) (GenerateRequest, error) {
	req := GenerateRequest{
		SchoolID:           schoolID,
		AcademicYearID:     r.AcademicYearID,
		StudentIDs:         r.StudentIDs,
		ClassIDs:           r.ClassIDs,
		FeeStructureIDs:    r.FeeStructureIDs,
		DiscountPercentage: r.DiscountPercentage,
		DiscountAmount:     r.DiscountAmount,
		RegenerateExisting: r.RegenerateExisting,
		ActorID:            actorID,
	}
	if r.DueDate != "" {
		due, err := parseDate(r.DueDate, "due_date")
		if err != nil {
			return GenerateRequest{}, err
		}
		req.DueDate = &due
	}
	if r.Installments != nil {
		start, err := parseDate(r.Installments.StartDate, "installments.start_date")
		if err != nil {
			return GenerateRequest{}, err
		}
		req.Installments = &InstallmentOptions{Count: r.Installments.Count, StartDate: start}
	}
	return req, nil
}

type automaticRequest struct {
	AcademicYearID int64  `json:"academic_year_id"`
	Period         string `json:"period,omitempty"`
}

func parseDate(raw, field string) (time.Time, error) {
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", ErrInvalidRequest, field)
	}
	return t, nil
}

type resultResponse struct {
	HistoryID      int64            `json:"history_id"`
	Status         RunStatus        `json:"status"`
	Generated      int              `json:"generated"`
	Skipped        int              `json:"skipped"`
	Failed         int              `json:"failed"`
	TotalAmount    decimal.Decimal  `json:"total_amount"`
	Errors         []string         `json:"errors"`
	FailedStudents []StudentFailure `json:"failed_students"`
}

func toResultResponse(r Result) resultResponse {
	return resultResponse{
		HistoryID:      r.HistoryID,
		Status:         r.Status,
		Generated:      r.Generated,
		Skipped:        r.Skipped,
		Failed:         r.Failed,
		TotalAmount:    r.TotalAmount,
		Errors:         nonNil(r.Errors),
		FailedStudents: nonNilFailures(r.FailedStudents),
	}
}

type historyResponse struct {
	resultResponse
	SchoolID       int64          `json:"school_id"`
	AcademicYearID int64          `json:"academic_year_id"`
	Type           RunType        `json:"type"`
	Period         string         `json:"period,omitempty"`
	Params         map[string]any `json:"params,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

func toHistoryResponse(h History) historyResponse {
	return historyResponse{
		resultResponse: toResultResponse(h.result()),
		SchoolID:       h.SchoolID,
		AcademicYearID: h.AcademicYearID,
		Type:           h.Type,
		Period:         h.Period,
		Params:         h.Params,
		StartedAt:      h.StartedAt,
		CompletedAt:    h.CompletedAt,
	}
}

type feeResponse struct {
	ID                 int64            `json:"id"`
	StudentID          int64            `json:"student_id"`
	FeeStructureID     int64            `json:"fee_structure_id"`
	AcademicYearID     int64            `json:"academic_year_id"`
	Amount             decimal.Decimal  `json:"amount"`
	OriginalAmount     decimal.Decimal  `json:"original_amount"`
	DiscountAmount     decimal.Decimal  `json:"discount_amount"`
	DiscountPercentage *decimal.Decimal `json:"discount_percentage,omitempty"`
	DueDate            string           `json:"due_date,omitempty"`
	Status             FeeStatus        `json:"status"`
	InstallmentCount   *int             `json:"installment_count,omitempty"`
	InstallmentNumber  *int             `json:"installment_number,omitempty"`
}

func toFeeResponse(f StudentFee) feeResponse {
	resp := feeResponse{
		ID:                 f.ID,
		StudentID:          f.StudentID,
		FeeStructureID:     f.FeeStructureID,
		AcademicYearID:     f.AcademicYearID,
		Amount:             f.Amount,
		OriginalAmount:     f.OriginalAmount,
		DiscountAmount:     f.DiscountAmount,
		DiscountPercentage: f.DiscountPercentage,
		Status:             f.Status,
		InstallmentCount:   f.InstallmentCount,
		InstallmentNumber:  f.InstallmentNumber,
	}
	if f.DueDate != nil {
		resp.DueDate = f.DueDate.Format(dateLayout)
	}
	return resp
}
