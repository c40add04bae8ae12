package payments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aamirsofi/fee-module-sub001/internal/invoices"
	"github.com/aamirsofi/fee-module-sub001/internal/shared"
)

var testNow = time.Date(2025, 4, 15, 11, 0, 0, 0, time.UTC)

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, log.Action)
	return nil
}

type fixture struct {
	svc        *Service
	repo       *memoryPaymentRepo
	dispatcher *stubDispatcher
	metrics    *countingMetrics
	audit      *recordingAudit
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := newMemoryPaymentRepo()
	repo.seedInvoice(issuedInvoice(1))
	f := fixture{
		repo:       repo,
		dispatcher: &stubDispatcher{},
		metrics:    &countingMetrics{},
		audit:      &recordingAudit{},
	}
	f.svc = NewService(repo, invoiceView{repo: repo}, stubCatalog{}, f.dispatcher, f.metrics, f.audit, Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.svc.WithNow(func() time.Time { return testNow })
	return f
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s got %s", want, got)
}

func cash(amount string) RecordInput {
	return RecordInput{SchoolID: 1, InvoiceID: 1, StudentID: 1, Method: MethodCash, Amount: dec(amount), ActorID: 7}
}

func TestRecordFullPaymentSettlesInvoice(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Record(context.Background(), cash("3450"))
	require.NoError(t, err)
	require.Equal(t, invoices.StatusPaid, res.Invoice.Status)
	requireMoney(t, "3450", res.Invoice.PaidAmount)
	requireMoney(t, "0", res.Invoice.BalanceAmount)
	require.Equal(t, "RCP-20250415-0001", res.Payment.ReceiptNumber)
	require.Equal(t, StatusCompleted, res.Payment.Status)
	require.Nil(t, res.Payment.TransactionID)
	require.Equal(t, time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC), res.Payment.PaymentDate)
	require.False(t, res.LedgerPending)
	require.NotNil(t, res.Payment.JournalEntryID)

	stored := f.repo.invoice(1)
	require.Equal(t, invoices.StatusPaid, stored.Status)
	require.True(t, stored.BalanceConsistent())

	rows := f.repo.outboxRows()
	require.Len(t, rows, 1)
	require.Equal(t, []int64{rows[0].id}, f.dispatcher.delivered)

	var evt LedgerEvent
	require.NoError(t, json.Unmarshal(rows[0].payload, &evt))
	require.Equal(t, res.Payment.ID, evt.PaymentID)
	require.Equal(t, "INV-2025-0001", evt.InvoiceNumber)
	require.Equal(t, "RCP-20250415-0001", evt.ReceiptNumber)
	requireMoney(t, "3450", evt.Amount)

	require.Equal(t, 1, f.metrics.recorded["CASH"])
	require.Equal(t, []string{"payment.record"}, f.audit.actions)
}

func TestRecordPartialThenFinalPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Record(ctx, cash("2000"))
	require.NoError(t, err)
	require.Equal(t, invoices.StatusPartiallyPaid, first.Invoice.Status)
	requireMoney(t, "1450", first.Invoice.BalanceAmount)

	second, err := f.svc.Record(ctx, cash("1450"))
	require.NoError(t, err)
	require.Equal(t, invoices.StatusPaid, second.Invoice.Status)
	requireMoney(t, "3450", second.Invoice.PaidAmount)
	requireMoney(t, "0", second.Invoice.BalanceAmount)
	require.Equal(t, "RCP-20250415-0002", second.Payment.ReceiptNumber)
	require.GreaterOrEqual(t, second.Invoice.PaidAmount.Cmp(first.Invoice.PaidAmount), 0)

	_, err = f.svc.Record(ctx, cash("1"))
	require.ErrorIs(t, err, ErrInvoiceSettled)
}

func TestRecordRejectsOverpaymentWithoutSideEffects(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Record(context.Background(), cash("5000"))
	require.ErrorIs(t, err, ErrExceedsBalance)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Contains(t, err.Error(), "3450.00")

	stored := f.repo.invoice(1)
	require.Equal(t, invoices.StatusIssued, stored.Status)
	requireMoney(t, "3450", stored.BalanceAmount)
	requireMoney(t, "0", stored.PaidAmount)
	require.Zero(t, f.repo.paymentCount())
	require.Empty(t, f.repo.outboxRows())
	require.Empty(t, f.dispatcher.delivered)
}

func TestRecordRejectsUnpayableInvoices(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*invoices.Invoice)
		in     func(RecordInput) RecordInput
		want   error
	}{
		{name: "draft", mutate: func(inv *invoices.Invoice) { inv.Status = invoices.StatusDraft }, want: ErrInvoiceDraft},
		{name: "cancelled", mutate: func(inv *invoices.Invoice) { inv.Status = invoices.StatusCancelled }, want: ErrInvoiceCancelled},
		{name: "student mismatch", in: func(in RecordInput) RecordInput { in.StudentID = 2; return in }, want: ErrStudentMismatch},
		{name: "zero amount", in: func(in RecordInput) RecordInput { in.Amount = decimal.Zero; return in }, want: ErrInvalidAmount},
		{name: "negative amount", in: func(in RecordInput) RecordInput { in.Amount = dec("-10"); return in }, want: ErrInvalidAmount},
		{name: "unknown invoice", in: func(in RecordInput) RecordInput { in.InvoiceID = 99; return in }, want: invoices.ErrInvoiceNotFound},
		{name: "other school", in: func(in RecordInput) RecordInput { in.SchoolID = 2; return in }, want: invoices.ErrInvoiceNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			if tc.mutate != nil {
				inv := issuedInvoice(1)
				tc.mutate(&inv)
				f.repo.seedInvoice(inv)
			}
			in := cash("100")
			if tc.in != nil {
				in = tc.in(in)
			}
			_, err := f.svc.Record(context.Background(), in)
			require.ErrorIs(t, err, tc.want)
			require.Zero(t, f.repo.paymentCount())
		})
	}
}

func TestRecordRejectsInvalidMethod(t *testing.T) {
	f := newFixture(t)
	in := cash("100")
	in.Method = "BARTER"
	_, err := f.svc.Record(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRecordUniqueReceiptAndTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := cash("100")
	in.ReceiptNumber = "MANUAL-1"
	in.TransactionID = "  UPI-42 "
	in.Method = MethodUPI
	res, err := f.svc.Record(ctx, in)
	require.NoError(t, err)
	require.Equal(t, "MANUAL-1", res.Payment.ReceiptNumber)
	require.NotNil(t, res.Payment.TransactionID)
	require.Equal(t, "UPI-42", *res.Payment.TransactionID)

	dupReceipt := cash("100")
	dupReceipt.ReceiptNumber = "MANUAL-1"
	_, err = f.svc.Record(ctx, dupReceipt)
	require.ErrorIs(t, err, ErrDuplicateReceipt)

	dupTxn := cash("100")
	dupTxn.TransactionID = "UPI-42"
	_, err = f.svc.Record(ctx, dupTxn)
	require.ErrorIs(t, err, ErrDuplicateTransaction)

	// Blank transaction ids are stored as NULL and never collide.
	for i := 0; i < 2; i++ {
		blank := cash("100")
		blank.TransactionID = "   "
		res, err := f.svc.Record(ctx, blank)
		require.NoError(t, err)
		require.Nil(t, res.Payment.TransactionID)
	}
	require.Equal(t, 3, f.repo.paymentCount())
}

func TestRecordLedgerFailureLeavesEventPending(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.err = errors.New("ledger unavailable")

	res, err := f.svc.Record(context.Background(), cash("500"))
	require.NoError(t, err)
	require.True(t, res.LedgerPending)
	require.Nil(t, res.Payment.JournalEntryID)
	require.Equal(t, 1, f.metrics.failures)
	require.Equal(t, 1, f.repo.paymentCount())

	rows := f.repo.outboxRows()
	require.Len(t, rows, 1)
	require.Equal(t, "PENDING", rows[0].status)
	requireMoney(t, "2950", f.repo.invoice(1).BalanceAmount)
}

func TestRecordConcurrentOverpaymentAdmitsOne(t *testing.T) {
	f := newFixture(t)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Record(context.Background(), cash("2000"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrExceedsBalance):
				rejected++
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, succeeded)
	require.Equal(t, workers-1, rejected)
	stored := f.repo.invoice(1)
	requireMoney(t, "2000", stored.PaidAmount)
	requireMoney(t, "1450", stored.BalanceAmount)
	require.Equal(t, invoices.StatusPartiallyPaid, stored.Status)
}

func TestUpdateKeepsAmountImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Record(ctx, cash("1000"))
	require.NoError(t, err)

	changed := dec("900")
	_, err = f.svc.Update(ctx, UpdateInput{SchoolID: 1, PaymentID: res.Payment.ID, Amount: &changed})
	require.ErrorIs(t, err, ErrAmountImmutable)

	same := dec("1000.00")
	method := MethodCheque
	notes := "cheque 000123"
	txn := "CHQ-123"
	updated, err := f.svc.Update(ctx, UpdateInput{SchoolID: 1, PaymentID: res.Payment.ID, Amount: &same, Method: &method, Notes: &notes, TransactionID: &txn})
	require.NoError(t, err)
	require.Equal(t, MethodCheque, updated.Method)
	require.Equal(t, notes, updated.Notes)
	require.Equal(t, "CHQ-123", *updated.TransactionID)

	other, err := f.svc.Record(ctx, cash("100"))
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, UpdateInput{SchoolID: 1, PaymentID: other.Payment.ID, TransactionID: &txn})
	require.ErrorIs(t, err, ErrDuplicateTransaction)

	_, err = f.svc.Update(ctx, UpdateInput{SchoolID: 1, PaymentID: 404, Notes: &notes})
	require.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestDeleteLeavesInvoiceBalanceAndDiscardsPendingEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.dispatcher.err = errors.New("ledger unavailable")
	res, err := f.svc.Record(ctx, cash("1000"))
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, 1, res.Payment.ID, 7))
	require.Zero(t, f.repo.paymentCount())

	stored := f.repo.invoice(1)
	requireMoney(t, "1000", stored.PaidAmount)
	requireMoney(t, "2450", stored.BalanceAmount)

	rows := f.repo.outboxRows()
	require.Len(t, rows, 1)
	require.Equal(t, "DISCARDED", rows[0].status)
	require.Equal(t, []string{"payment.record", "payment.delete"}, f.audit.actions)

	require.ErrorIs(t, f.svc.Delete(ctx, 1, res.Payment.ID, 7), ErrPaymentNotFound)
}

func TestListFiltersByInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	second := issuedInvoice(2)
	f.repo.seedInvoice(second)

	_, err := f.svc.Record(ctx, cash("100"))
	require.NoError(t, err)
	other := cash("200")
	other.InvoiceID = 2
	_, err = f.svc.Record(ctx, other)
	require.NoError(t, err)

	list, page, err := f.svc.List(ctx, ListFilter{SchoolID: 1, InvoiceID: 2})
	require.NoError(t, err)
	require.Len(t, list, 1)
	requireMoney(t, "200", list[0].Amount)
	require.Equal(t, 1, page.Total)

	_, _, err = f.svc.List(ctx, ListFilter{})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReceiptFormatsAmounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Record(ctx, cash("3450"))
	require.NoError(t, err)

	receipt, err := f.svc.Receipt(ctx, 1, res.Payment.ID)
	require.NoError(t, err)
	require.Equal(t, "INR", receipt.Currency)
	require.Equal(t, "INR 3,450.00", receipt.AmountText)
	require.Equal(t, "INR 0.00", receipt.BalanceText)
	require.Equal(t, "Green Valley School", receipt.School.Name)
	require.Equal(t, "ADM-101", receipt.Student.AdmissionNumber)
	require.Equal(t, invoices.StatusPaid, receipt.Invoice.Status)

	_, err = f.svc.Receipt(ctx, 1, 999)
	require.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestAmountFormatterRejectsUnknownCurrency(t *testing.T) {
	_, err := newAmountFormatter("en-IN", "ZZZ")
	require.ErrorIs(t, err, ErrInvalidInput)

	fm, err := newAmountFormatter("en-US", "USD")
	require.NoError(t, err)
	require.Equal(t, "USD 1,234.50", fm.format(dec("1234.5")))
}
