package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aamirsofi/fee-module-sub001/internal/catalog"
	"github.com/aamirsofi/fee-module-sub001/internal/invoices"
	"github.com/aamirsofi/fee-module-sub001/internal/sequence"
)

type outboxRow struct {
	id      int64
	event   LedgerEvent
	payload []byte
	status  string
}

type paymentState struct {
	invoices map[int64]invoices.Invoice
	payments map[int64]Payment
	outbox   []outboxRow
	counters map[string]int64
	nextPay  int64
	nextEvt  int64
}

func (s paymentState) clone() paymentState {
	out := paymentState{
		invoices: make(map[int64]invoices.Invoice, len(s.invoices)),
		payments: make(map[int64]Payment, len(s.payments)),
		outbox:   append([]outboxRow(nil), s.outbox...),
		counters: make(map[string]int64, len(s.counters)),
		nextPay:  s.nextPay,
		nextEvt:  s.nextEvt,
	}
	for k, v := range s.invoices {
		out.invoices[k] = v
	}
	for k, v := range s.payments {
		out.payments[k] = v
	}
	for k, v := range s.counters {
		out.counters[k] = v
	}
	return out
}

// memoryPaymentRepo serialises transactions on one mutex, standing in for the invoice row lock.
type memoryPaymentRepo struct {
	mu    sync.Mutex
	state paymentState
}

func newMemoryPaymentRepo() *memoryPaymentRepo {
	return &memoryPaymentRepo{state: paymentState{
		invoices: map[int64]invoices.Invoice{},
		payments: map[int64]Payment{},
		counters: map[string]int64{},
	}}
}

func (m *memoryPaymentRepo) seedInvoice(inv invoices.Invoice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.invoices[inv.ID] = inv
}

func (m *memoryPaymentRepo) invoice(id int64) invoices.Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.invoices[id]
}

func (m *memoryPaymentRepo) outboxRows() []outboxRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]outboxRow(nil), m.state.outbox...)
}

func (m *memoryPaymentRepo) paymentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.payments)
}

func (m *memoryPaymentRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryPaymentTx{state: m.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

func (m *memoryPaymentRepo) Get(_ context.Context, schoolID, paymentID int64) (Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.payments[paymentID]
	if !ok || p.SchoolID != schoolID {
		return Payment{}, ErrPaymentNotFound
	}
	return p, nil
}

func (m *memoryPaymentRepo) List(_ context.Context, filter ListFilter) ([]Payment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Payment
	for id := int64(1); id <= m.state.nextPay; id++ {
		p, ok := m.state.payments[id]
		if !ok || p.SchoolID != filter.SchoolID {
			continue
		}
		if filter.InvoiceID > 0 && p.InvoiceID != filter.InvoiceID {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

type memoryPaymentTx struct {
	state paymentState
}

func (tx *memoryPaymentTx) LockInvoice(_ context.Context, schoolID, invoiceID int64) (invoices.Invoice, error) {
	inv, ok := tx.state.invoices[invoiceID]
	if !ok || inv.SchoolID != schoolID {
		return invoices.Invoice{}, invoices.ErrInvoiceNotFound
	}
	inv.Items = nil
	return inv, nil
}

func (tx *memoryPaymentTx) ListInvoiceItems(_ context.Context, invoiceID int64) ([]invoices.Item, error) {
	return append([]invoices.Item(nil), tx.state.invoices[invoiceID].Items...), nil
}

func (tx *memoryPaymentTx) ReceiptExists(_ context.Context, schoolID int64, receipt string) (bool, error) {
	for _, p := range tx.state.payments {
		if p.SchoolID == schoolID && p.ReceiptNumber == receipt {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryPaymentTx) TransactionExists(_ context.Context, transactionID string) (bool, error) {
	for _, p := range tx.state.payments {
		if p.TransactionID != nil && *p.TransactionID == transactionID {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryPaymentTx) NextReceiptNumber(_ context.Context, schoolID int64, day time.Time, prefix string) (string, error) {
	scope := sequence.ReceiptScope(prefix, day)
	key := fmt.Sprintf("%d|%s", schoolID, scope)
	tx.state.counters[key]++
	return sequence.Format(scope, tx.state.counters[key]), nil
}

func (tx *memoryPaymentTx) InsertPayment(_ context.Context, p Payment) (Payment, error) {
	if p.TransactionID != nil && *p.TransactionID == "" {
		return Payment{}, errors.New("empty transaction id must be stored as NULL")
	}
	tx.state.nextPay++
	p.ID = tx.state.nextPay
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	tx.state.payments[p.ID] = p
	return p, nil
}

func (tx *memoryPaymentTx) UpdateInvoiceBalance(_ context.Context, inv invoices.Invoice) error {
	current := tx.state.invoices[inv.ID]
	current.PaidAmount, current.BalanceAmount, current.Status = inv.PaidAmount, inv.BalanceAmount, inv.Status
	tx.state.invoices[inv.ID] = current
	return nil
}

func (tx *memoryPaymentTx) EnqueueLedgerEvent(_ context.Context, evt LedgerEvent) (int64, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return 0, err
	}
	tx.state.nextEvt++
	tx.state.outbox = append(tx.state.outbox, outboxRow{id: tx.state.nextEvt, event: evt, payload: payload, status: "PENDING"})
	return tx.state.nextEvt, nil
}

func (tx *memoryPaymentTx) GetForUpdate(_ context.Context, schoolID, paymentID int64) (Payment, error) {
	p, ok := tx.state.payments[paymentID]
	if !ok || p.SchoolID != schoolID {
		return Payment{}, ErrPaymentNotFound
	}
	return p, nil
}

func (tx *memoryPaymentTx) UpdatePayment(_ context.Context, p Payment) error {
	tx.state.payments[p.ID] = p
	return nil
}

func (tx *memoryPaymentTx) DiscardLedgerEvents(_ context.Context, paymentID int64) (int64, error) {
	var n int64
	for i, row := range tx.state.outbox {
		if row.event.PaymentID == paymentID && row.status == "PENDING" {
			tx.state.outbox[i].status = "DISCARDED"
			n++
		}
	}
	return n, nil
}

func (tx *memoryPaymentTx) DeletePayment(_ context.Context, paymentID int64) error {
	delete(tx.state.payments, paymentID)
	return nil
}

// stubDispatcher delivers events by handing out journal ids.
type stubDispatcher struct {
	mu        sync.Mutex
	delivered []int64
	nextID    int64
	err       error
}

func (d *stubDispatcher) Deliver(_ context.Context, eventID int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return 0, d.err
	}
	d.delivered = append(d.delivered, eventID)
	d.nextID++
	return 500 + d.nextID, nil
}

type countingMetrics struct {
	mu       sync.Mutex
	recorded map[string]int
	failures int
}

func (c *countingMetrics) PaymentRecorded(method string, _ float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recorded == nil {
		c.recorded = map[string]int{}
	}
	c.recorded[method]++
}

func (c *countingMetrics) LedgerPostFailed(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
}

// invoiceView reads invoices from the payment repository state for receipts.
type invoiceView struct {
	repo *memoryPaymentRepo
}

func (v invoiceView) Get(_ context.Context, schoolID, invoiceID int64) (invoices.Invoice, error) {
	inv := v.repo.invoice(invoiceID)
	if inv.ID == 0 || inv.SchoolID != schoolID {
		return invoices.Invoice{}, invoices.ErrInvoiceNotFound
	}
	return inv, nil
}

type stubCatalog struct{}

func (stubCatalog) GetSchool(_ context.Context, schoolID int64) (catalog.School, error) {
	if schoolID != 1 {
		return catalog.School{}, catalog.ErrSchoolNotFound
	}
	return catalog.School{ID: 1, Name: "Green Valley School", Address: "Srinagar", Currency: "INR"}, nil
}

func (stubCatalog) GetStudent(_ context.Context, _, studentID int64) (catalog.Student, error) {
	if studentID != 1 {
		return catalog.Student{}, catalog.ErrStudentNotFound
	}
	return catalog.Student{ID: 1, SchoolID: 1, Name: "Asha", AdmissionNumber: "ADM-101"}, nil
}

// issuedInvoice is the finalized 3000 + 500 invoice with a 50 discount.
func issuedInvoice(id int64) invoices.Invoice {
	entry := int64(900 + id)
	return invoices.Invoice{
		ID:             id,
		SchoolID:       1,
		StudentID:      1,
		AcademicYearID: 2025,
		InvoiceNumber:  fmt.Sprintf("INV-2025-%04d", id),
		Type:           invoices.TypeAdHoc,
		Status:         invoices.StatusIssued,
		TotalAmount:    decimal.NewFromInt(3500),
		DiscountAmount: decimal.NewFromInt(50),
		PaidAmount:     decimal.Zero,
		BalanceAmount:  decimal.NewFromInt(3450),
		JournalEntryID: &entry,
		Items: []invoices.Item{
			{ID: 1, InvoiceID: id, SourceType: invoices.SourceFee, Description: "Tuition", Amount: decimal.NewFromInt(3000)},
			{ID: 2, InvoiceID: id, SourceType: invoices.SourceFee, Description: "Lab", Amount: decimal.NewFromInt(500), DiscountAmount: decimal.NewFromInt(50)},
		},
	}
}
