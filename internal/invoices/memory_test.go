package invoices

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aamirsofi/fee-module-sub001/internal/catalog"
	"github.com/aamirsofi/fee-module-sub001/internal/sequence"
)

type memoryState struct {
	invoices map[int64]Invoice
	items    map[int64][]Item
	payments map[int64][]decimal.Decimal
	counters map[string]int64
	nextInv  int64
	nextItem int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		invoices: make(map[int64]Invoice, len(s.invoices)),
		items:    make(map[int64][]Item, len(s.items)),
		payments: make(map[int64][]decimal.Decimal, len(s.payments)),
		counters: make(map[string]int64, len(s.counters)),
		nextInv:  s.nextInv,
		nextItem: s.nextItem,
	}
	for k, v := range s.invoices {
		out.invoices[k] = v
	}
	for k, v := range s.items {
		out.items[k] = append([]Item(nil), v...)
	}
	for k, v := range s.payments {
		out.payments[k] = append([]decimal.Decimal(nil), v...)
	}
	for k, v := range s.counters {
		out.counters[k] = v
	}
	return out
}

// memoryInvoiceRepo is a transactional in-memory RepositoryPort: a tx works on a copy of the
// state that only replaces the committed state when fn succeeds.
type memoryInvoiceRepo struct {
	mu    sync.Mutex
	state memoryState
}

func newMemoryInvoiceRepo() *memoryInvoiceRepo {
	return &memoryInvoiceRepo{state: memoryState{
		invoices: map[int64]Invoice{},
		items:    map[int64][]Item{},
		payments: map[int64][]decimal.Decimal{},
		counters: map[string]int64{},
	}}
}

func (m *memoryInvoiceRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryInvoiceTx{state: m.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

func (m *memoryInvoiceRepo) Get(_ context.Context, schoolID, invoiceID int64) (Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.state.invoices[invoiceID]
	if !ok || inv.SchoolID != schoolID {
		return Invoice{}, ErrInvoiceNotFound
	}
	inv.Items = append([]Item(nil), m.state.items[invoiceID]...)
	return inv, nil
}

func (m *memoryInvoiceRepo) List(_ context.Context, filter ListFilter) ([]Invoice, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Invoice
	for id := int64(1); id <= m.state.nextInv; id++ {
		inv, ok := m.state.invoices[id]
		if !ok || inv.SchoolID != filter.SchoolID {
			continue
		}
		if filter.StudentID > 0 && inv.StudentID != filter.StudentID {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		out = append(out, inv)
	}
	total := len(out)
	start := (filter.Page - 1) * filter.PerPage
	if start > total {
		start = total
	}
	end := start + filter.PerPage
	if end > total {
		end = total
	}
	return out[start:end], total, nil
}

func (m *memoryInvoiceRepo) PeriodExists(_ context.Context, schoolID, studentID, yearID int64, t Type, period Period) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return periodTaken(m.state, schoolID, studentID, yearID, t, period), nil
}

func periodTaken(s memoryState, schoolID, studentID, yearID int64, t Type, period Period) bool {
	for _, inv := range s.invoices {
		if inv.SchoolID == schoolID && inv.StudentID == studentID && inv.AcademicYearID == yearID &&
			inv.Type == t && inv.Status != StatusCancelled && inv.Period.String() == period.String() {
			return true
		}
	}
	return false
}

func (m *memoryInvoiceRepo) addPayment(invoiceID int64, amount string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	amt := decimal.RequireFromString(amount)
	m.state.payments[invoiceID] = append(m.state.payments[invoiceID], amt)
	inv := m.state.invoices[invoiceID]
	inv.PaidAmount = inv.PaidAmount.Add(amt)
	inv.BalanceAmount = inv.BalanceAmount.Sub(amt)
	inv.Status = StatusAfterPayment(inv.Status, inv.PaidAmount, inv.BalanceAmount)
	m.state.invoices[invoiceID] = inv
}

func (m *memoryInvoiceRepo) dropPayments(invoiceID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state.payments, invoiceID)
}

type memoryInvoiceTx struct {
	state memoryState
}

func (tx *memoryInvoiceTx) NextInvoiceNumber(_ context.Context, schoolID int64, year int, prefix string) (string, error) {
	scope := sequence.InvoiceScope(prefix, year)
	key := fmt.Sprintf("%d|%s", schoolID, scope)
	tx.state.counters[key]++
	return sequence.Format(scope, tx.state.counters[key]), nil
}

func (tx *memoryInvoiceTx) InsertInvoice(_ context.Context, inv Invoice) (Invoice, error) {
	if inv.Type != TypeAdHoc && periodTaken(tx.state, inv.SchoolID, inv.StudentID, inv.AcademicYearID, inv.Type, inv.Period) {
		return Invoice{}, ErrDuplicatePeriod
	}
	tx.state.nextInv++
	inv.ID = tx.state.nextInv
	inv.CreatedAt = time.Now()
	inv.UpdatedAt = inv.CreatedAt
	inv.Items = nil
	tx.state.invoices[inv.ID] = inv
	return inv, nil
}

func (tx *memoryInvoiceTx) InsertItems(_ context.Context, invoiceID int64, items []Item) ([]Item, error) {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		tx.state.nextItem++
		it.ID = tx.state.nextItem
		it.InvoiceID = invoiceID
		tx.state.items[invoiceID] = append(tx.state.items[invoiceID], it)
		out = append(out, it)
	}
	return out, nil
}

func (tx *memoryInvoiceTx) GetForUpdate(_ context.Context, schoolID, invoiceID int64) (Invoice, error) {
	inv, ok := tx.state.invoices[invoiceID]
	if !ok || inv.SchoolID != schoolID {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (tx *memoryInvoiceTx) ListItems(_ context.Context, invoiceID int64) ([]Item, error) {
	return append([]Item(nil), tx.state.items[invoiceID]...), nil
}

func (tx *memoryInvoiceTx) CountPayments(_ context.Context, invoiceID int64) (int, error) {
	return len(tx.state.payments[invoiceID]), nil
}

func (tx *memoryInvoiceTx) SumPayments(_ context.Context, invoiceID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, p := range tx.state.payments[invoiceID] {
		sum = sum.Add(p)
	}
	return sum, nil
}

func (tx *memoryInvoiceTx) UpdateInvoice(_ context.Context, inv Invoice) error {
	current, ok := tx.state.invoices[inv.ID]
	if !ok {
		return ErrInvoiceNotFound
	}
	current.IssueDate, current.DueDate, current.Notes, current.Status = inv.IssueDate, inv.DueDate, inv.Notes, inv.Status
	current.TotalAmount, current.DiscountAmount = inv.TotalAmount, inv.DiscountAmount
	current.PaidAmount, current.BalanceAmount = inv.PaidAmount, inv.BalanceAmount
	tx.state.invoices[inv.ID] = current
	return nil
}

func (tx *memoryInvoiceTx) MarkIssued(_ context.Context, invoiceID, journalEntryID int64) error {
	inv := tx.state.invoices[invoiceID]
	if inv.Status != StatusDraft {
		return ErrNotDraft
	}
	inv.Status = StatusIssued
	inv.JournalEntryID = &journalEntryID
	tx.state.invoices[invoiceID] = inv
	return nil
}

func (tx *memoryInvoiceTx) SetStatus(_ context.Context, invoiceID int64, status Status) error {
	inv := tx.state.invoices[invoiceID]
	inv.Status = status
	tx.state.invoices[invoiceID] = inv
	return nil
}

func (tx *memoryInvoiceTx) DeleteItems(_ context.Context, invoiceID int64) error {
	delete(tx.state.items, invoiceID)
	return nil
}

func (tx *memoryInvoiceTx) DeleteInvoice(_ context.Context, invoiceID int64) error {
	delete(tx.state.items, invoiceID)
	delete(tx.state.invoices, invoiceID)
	return nil
}

// stubCatalog serves fixed catalog records.
type stubCatalog struct {
	students   map[int64]catalog.Student
	records    map[int64]catalog.AcademicRecord
	structures []catalog.FeeStructure
	routes     map[int64]catalog.StudentRoute
	plans      map[int64]catalog.RoutePlan
	hostels    map[int64]catalog.HostelCharge
	fines      map[int64]catalog.Fine
}

func newStubCatalog() *stubCatalog {
	classA := int64(10)
	classB := int64(20)
	return &stubCatalog{
		students: map[int64]catalog.Student{
			1: {ID: 1, SchoolID: 1, Name: "Asha"},
			2: {ID: 2, SchoolID: 1, Name: "Ravi"},
		},
		records: map[int64]catalog.AcademicRecord{
			1: {ID: 1, SchoolID: 1, StudentID: 1, AcademicYearID: 2025, ClassID: classA, Status: catalog.StatusActive},
		},
		structures: []catalog.FeeStructure{
			{ID: 100, SchoolID: 1, Name: "Tuition", Category: "ACADEMIC", Amount: decimal.NewFromInt(3000), ClassID: &classA, AcademicYearID: 2025, Frequency: catalog.FrequencyMonthly, Status: catalog.StatusActive},
			{ID: 101, SchoolID: 1, Name: "Lab", Category: "ACADEMIC", Amount: decimal.NewFromInt(500), AcademicYearID: 2025, Frequency: catalog.FrequencyMonthly, Status: catalog.StatusActive},
			{ID: 102, SchoolID: 1, Name: "Senior Tuition", Category: "ACADEMIC", Amount: decimal.NewFromInt(4000), ClassID: &classB, AcademicYearID: 2025, Frequency: catalog.FrequencyMonthly, Status: catalog.StatusActive},
			{ID: 103, SchoolID: 1, Name: "Annual Day", Category: "EVENT", Amount: decimal.NewFromInt(700), AcademicYearID: 2025, Frequency: catalog.FrequencyYearly, Status: catalog.StatusActive},
		},
		routes: map[int64]catalog.StudentRoute{
			1: {StudentID: 1, RoutePlanID: 7, RouteName: "North", PlanName: "Monthly", Amount: decimal.NewFromInt(800)},
		},
		plans: map[int64]catalog.RoutePlan{
			7: {ID: 7, SchoolID: 1, RouteName: "North", Name: "Monthly", Amount: decimal.NewFromInt(800), Status: catalog.StatusActive},
		},
		hostels: map[int64]catalog.HostelCharge{
			5: {ID: 5, SchoolID: 1, Hostel: "East Wing", Room: "12B", Amount: decimal.NewFromInt(1500)},
		},
		fines: map[int64]catalog.Fine{
			9: {ID: 9, SchoolID: 1, StudentID: 1, Reason: "Library late return", Amount: decimal.NewFromInt(50)},
		},
	}
}

func (c *stubCatalog) GetStudent(_ context.Context, schoolID, studentID int64) (catalog.Student, error) {
	s, ok := c.students[studentID]
	if !ok || s.SchoolID != schoolID {
		return catalog.Student{}, catalog.ErrStudentNotFound
	}
	return s, nil
}

func (c *stubCatalog) GetAcademicYear(_ context.Context, schoolID, yearID int64) (catalog.AcademicYear, error) {
	if yearID != 2025 {
		return catalog.AcademicYear{}, catalog.ErrAcademicYearNotFound
	}
	return catalog.AcademicYear{ID: 2025, SchoolID: schoolID, Name: "2025-26"}, nil
}

func (c *stubCatalog) ActiveRecord(_ context.Context, _, studentID, _ int64) (catalog.AcademicRecord, error) {
	rec, ok := c.records[studentID]
	if !ok {
		return catalog.AcademicRecord{}, catalog.ErrNoActiveRecord
	}
	return rec, nil
}

func (c *stubCatalog) ListActiveFeeStructures(_ context.Context, _, _ int64, ids []int64) ([]catalog.FeeStructure, error) {
	if len(ids) == 0 {
		return c.structures, nil
	}
	var out []catalog.FeeStructure
	for _, fs := range c.structures {
		for _, id := range ids {
			if fs.ID == id {
				out = append(out, fs)
			}
		}
	}
	return out, nil
}

func (c *stubCatalog) GetFeeStructure(_ context.Context, _, id int64) (catalog.FeeStructure, error) {
	for _, fs := range c.structures {
		if fs.ID == id {
			return fs, nil
		}
	}
	return catalog.FeeStructure{}, catalog.ErrFeeStructureNotFound
}

func (c *stubCatalog) GetRoutePlan(_ context.Context, _, id int64) (catalog.RoutePlan, error) {
	p, ok := c.plans[id]
	if !ok {
		return catalog.RoutePlan{}, catalog.ErrSourceNotFound
	}
	return p, nil
}

func (c *stubCatalog) GetHostelCharge(_ context.Context, _, id int64) (catalog.HostelCharge, error) {
	h, ok := c.hostels[id]
	if !ok {
		return catalog.HostelCharge{}, catalog.ErrSourceNotFound
	}
	return h, nil
}

func (c *stubCatalog) GetFine(_ context.Context, _, id int64) (catalog.Fine, error) {
	f, ok := c.fines[id]
	if !ok {
		return catalog.Fine{}, catalog.ErrSourceNotFound
	}
	return f, nil
}

func (c *stubCatalog) ActiveRoute(_ context.Context, _, studentID int64) (catalog.StudentRoute, bool, error) {
	r, ok := c.routes[studentID]
	return r, ok, nil
}

// stubLedger records postings keyed by invoice, mimicking source link idempotency.
type stubLedger struct {
	mu        sync.Mutex
	entries   map[int64]int64
	reversals map[int64]int64
	amounts   map[int64]decimal.Decimal
	nextID    int64
	posts     int
	failPost  error
}

func newStubLedger() *stubLedger {
	return &stubLedger{entries: map[int64]int64{}, reversals: map[int64]int64{}, amounts: map[int64]decimal.Decimal{}}
}

func (l *stubLedger) FindInvoiceEntry(_ context.Context, _, invoiceID int64) (int64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.entries[invoiceID]
	return id, ok, nil
}

func (l *stubLedger) PostInvoiceFinalized(_ context.Context, evt FinalizedEvent) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failPost != nil {
		return 0, l.failPost
	}
	if id, ok := l.entries[evt.InvoiceID]; ok {
		return id, nil
	}
	l.nextID++
	l.posts++
	l.entries[evt.InvoiceID] = l.nextID
	l.amounts[evt.InvoiceID] = evt.Amount
	return l.nextID, nil
}

func (l *stubLedger) PostInvoiceCancelled(_ context.Context, evt CancelledEvent) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failPost != nil {
		return 0, l.failPost
	}
	if _, ok := l.entries[evt.InvoiceID]; !ok {
		return 0, errors.New("no entry to reverse")
	}
	l.nextID++
	l.reversals[evt.InvoiceID] = l.nextID
	return l.nextID, nil
}
