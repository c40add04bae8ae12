package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/aamirsofi/fee-module-sub001/internal/catalog"
	"github.com/aamirsofi/fee-module-sub001/internal/invoices"
)

// Receipt is the read-only projection handed to receipt renderers.
type Receipt struct {
	Payment     Payment
	Invoice     invoices.Invoice
	Student     catalog.Student
	School      catalog.School
	Currency    string
	AmountText  string
	PaidText    string
	BalanceText string
	IssuedAt    time.Time
}

// Receipt assembles the projection for one payment.
func (s *Service) Receipt(ctx context.Context, schoolID, paymentID int64) (Receipt, error) {
	payment, err := s.repo.Get(ctx, schoolID, paymentID)
	if err != nil {
		return Receipt{}, err
	}
	var (
		inv     invoices.Invoice
		student catalog.Student
		school  catalog.School
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		inv, err = s.invoices.Get(gctx, schoolID, payment.InvoiceID)
		return err
	})
	g.Go(func() error {
		var err error
		student, err = s.catalog.GetStudent(gctx, schoolID, payment.StudentID)
		return err
	})
	g.Go(func() error {
		var err error
		school, err = s.catalog.GetSchool(gctx, schoolID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Receipt{}, err
	}

	code := s.cfg.Currency
	if school.Currency != "" {
		code = school.Currency
	}
	f, err := newAmountFormatter(s.cfg.Locale, code)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{
		Payment:     payment,
		Invoice:     inv,
		Student:     student,
		School:      school,
		Currency:    f.code,
		AmountText:  f.format(payment.Amount),
		PaidText:    f.format(inv.PaidAmount),
		BalanceText: f.format(inv.BalanceAmount),
		IssuedAt:    s.now(),
	}, nil
}

type amountFormatter struct {
	printer *message.Printer
	code    string
}

func newAmountFormatter(locale, code string) (amountFormatter, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return amountFormatter{}, fmt.Errorf("%w: unknown receipt locale %q", ErrInvalidInput, locale)
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return amountFormatter{}, fmt.Errorf("%w: unknown currency %q", ErrInvalidInput, code)
	}
	return amountFormatter{printer: message.NewPrinter(tag), code: unit.String()}, nil
}

func (f amountFormatter) format(amount decimal.Decimal) string {
	return f.printer.Sprintf("%s %v", f.code, number.Decimal(amount.InexactFloat64(), number.Scale(2)))
}
