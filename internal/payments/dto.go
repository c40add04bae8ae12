package payments

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aamirsofi/fee-module-sub001/internal/invoices"
)

const dateLayout = "2006-01-02"

type recordRequest struct {
	InvoiceID     int64           `json:"invoice_id"`
	StudentID     int64           `json:"student_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"payment_method"`
	PaymentDate   string          `json:"payment_date,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	ReceiptNumber string          `json:"receipt_number,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}

func (r recordRequest) toInput(schoolID, actorID int64) (RecordInput, error) {
	method, err := ParseMethod(r.Method)
	if err != nil {
		return RecordInput{}, err
	}
	in := RecordInput{
		SchoolID:      schoolID,
		InvoiceID:     r.InvoiceID,
		StudentID:     r.StudentID,
		Amount:        r.Amount,
		Method:        method,
		TransactionID: r.TransactionID,
		ReceiptNumber: r.ReceiptNumber,
		Notes:         r.Notes,
		ActorID:       actorID,
	}
	if r.PaymentDate != "" {
		in.PaymentDate, err = time.Parse(dateLayout, r.PaymentDate)
		if err != nil {
			return RecordInput{}, fmt.Errorf("%w: payment_date must be YYYY-MM-DD", ErrInvalidInput)
		}
	}
	return in, nil
}

type updateRequest struct {
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Method        *string          `json:"payment_method,omitempty"`
	TransactionID *string          `json:"transaction_id,omitempty"`
	Notes         *string          `json:"notes,omitempty"`
}

func (r updateRequest) toInput(schoolID, paymentID, actorID int64) (UpdateInput, error) {
	in := UpdateInput{
		SchoolID:      schoolID,
		PaymentID:     paymentID,
		Amount:        r.Amount,
		TransactionID: r.TransactionID,
		Notes:         r.Notes,
		ActorID:       actorID,
	}
	if r.Method != nil {
		m, err := ParseMethod(*r.Method)
		if err != nil {
			return UpdateInput{}, err
		}
		in.Method = &m
	}
	return in, nil
}

type paymentResponse struct {
	ID             int64           `json:"id"`
	SchoolID       int64           `json:"school_id"`
	InvoiceID      int64           `json:"invoice_id"`
	StudentID      int64           `json:"student_id"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentDate    string          `json:"payment_date"`
	Method         Method          `json:"payment_method"`
	TransactionID  *string         `json:"transaction_id,omitempty"`
	ReceiptNumber  string          `json:"receipt_number"`
	Status         Status          `json:"status"`
	Notes          string          `json:"notes,omitempty"`
	JournalEntryID *int64          `json:"journal_entry_id,omitempty"`
}

func toResponse(p Payment) paymentResponse {
	return paymentResponse{
		ID:             p.ID,
		SchoolID:       p.SchoolID,
		InvoiceID:      p.InvoiceID,
		StudentID:      p.StudentID,
		Amount:         p.Amount,
		PaymentDate:    p.PaymentDate.Format(dateLayout),
		Method:         p.Method,
		TransactionID:  p.TransactionID,
		ReceiptNumber:  p.ReceiptNumber,
		Status:         p.Status,
		Notes:          p.Notes,
		JournalEntryID: p.JournalEntryID,
	}
}

type invoiceSummary struct {
	ID            int64           `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	Status        invoices.Status `json:"status"`
	Total         decimal.Decimal `json:"total_amount"`
	Discount      decimal.Decimal `json:"discount_amount"`
	Paid          decimal.Decimal `json:"paid_amount"`
	Balance       decimal.Decimal `json:"balance_amount"`
}

func toInvoiceSummary(inv invoices.Invoice) invoiceSummary {
	return invoiceSummary{
		ID:            inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		Status:        inv.Status,
		Total:         inv.TotalAmount,
		Discount:      inv.DiscountAmount,
		Paid:          inv.PaidAmount,
		Balance:       inv.BalanceAmount,
	}
}

type recordResponse struct {
	Payment       paymentResponse `json:"payment"`
	Invoice       invoiceSummary  `json:"invoice"`
	LedgerPending bool            `json:"ledger_pending"`
}

type receiptLine struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Discount    decimal.Decimal `json:"discount_amount"`
}

type receiptResponse struct {
	ReceiptNumber   string          `json:"receipt_number"`
	PaymentDate     string          `json:"payment_date"`
	Method          Method          `json:"payment_method"`
	TransactionID   *string         `json:"transaction_id,omitempty"`
	Currency        string          `json:"currency"`
	Amount          decimal.Decimal `json:"amount"`
	AmountText      string          `json:"amount_text"`
	PaidText        string          `json:"paid_text"`
	BalanceText     string          `json:"balance_text"`
	SchoolName      string          `json:"school_name"`
	SchoolAddress   string          `json:"school_address,omitempty"`
	StudentName     string          `json:"student_name"`
	AdmissionNumber string          `json:"admission_number,omitempty"`
	Invoice         invoiceSummary  `json:"invoice"`
	Lines           []receiptLine   `json:"lines"`
}

func toReceiptResponse(r Receipt) receiptResponse {
	resp := receiptResponse{
		ReceiptNumber:   r.Payment.ReceiptNumber,
		PaymentDate:     r.Payment.PaymentDate.Format(dateLayout),
		Method:          r.Payment.Method,
		TransactionID:   r.Payment.TransactionID,
		Currency:        r.Currency,
		Amount:          r.Payment.Amount,
		AmountText:      r.AmountText,
		PaidText:        r.PaidText,
		BalanceText:     r.BalanceText,
		SchoolName:      r.School.Name,
		SchoolAddress:   r.School.Address,
		StudentName:     r.Student.Name,
		AdmissionNumber: r.Student.AdmissionNumber,
		Invoice:         toInvoiceSummary(r.Invoice),
		Lines:           make([]receiptLine, 0, len(r.Invoice.Items)),
	}
	for _, it := range r.Invoice.Items {
		resp.Lines = append(resp.Lines, receiptLine{Description: it.Description, Amount: it.Amount, Discount: it.DiscountAmount})
	}
	return resp
}
