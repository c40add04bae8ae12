package accounting

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aamirsofi/fee-module-sub001/internal/money"
	"github.com/aamirsofi/fee-module-sub001/internal/shared"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// AccountSubtype narrows an account type to the role billing posts against.
type AccountSubtype string

const (
	SubtypeReceivable      AccountSubtype = "RECEIVABLE"
	SubtypeOperatingIncome AccountSubtype = "OPERATING_INCOME"
	SubtypeCash            AccountSubtype = "CASH"
)

// AccountRole identifies an account by type and subtype within a school.
type AccountRole struct {
	Type    AccountType
	Subtype AccountSubtype
}

func (r AccountRole) String() string {
	return fmt.Sprintf("%s/%s", r.Type, r.Subtype)
}

// Roles billing depends on. Accounts are provisioned per school outside the core.
var (
	RoleReceivable      = AccountRole{Type: AccountTypeAsset, Subtype: SubtypeReceivable}
	RoleOperatingIncome = AccountRole{Type: AccountTypeRevenue, Subtype: SubtypeOperatingIncome}
	RoleCash            = AccountRole{Type: AccountTypeAsset, Subtype: SubtypeCash}
)

// EntryType classifies journal entries by the billing event that produced them.
type EntryType string

const (
	EntryTypeInvoice         EntryType = "INVOICE"
	EntryTypePayment         EntryType = "PAYMENT"
	EntryTypeInvoiceReversal EntryType = "INVOICE_REVERSAL"
)

// JournalStatus enumerates journal lifecycle values.
type JournalStatus string

const (
	JournalStatusPosted   JournalStatus = "POSTED"
	JournalStatusReversed JournalStatus = "REVERSED"
)

// Account models a chart of accounts node.
type Account struct {
	ID        int64
	SchoolID  int64
	Code      string
	Name      string
	Type      AccountType
	Subtype   AccountSubtype
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID           int64
	SchoolID     int64
	Number       string
	EntryType    EntryType
	Date         time.Time
	SourceModule string
	SourceID     uuid.UUID
	Memo         string
	PostedBy     int64
	PostedAt     time.Time
	Status       JournalStatus
	ReversalOf   *int64
	Lines        []JournalLine
}

// JournalLine stores debit or credit amount for an account.
type JournalLine struct {
	ID          int64
	JournalID   int64
	AccountID   int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// PostingLineInput describes a journal line for posting request.
type PostingLineInput struct {
	AccountID   int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// PostingInput groups fields required to create a journal entry.
type PostingInput struct {
	SchoolID     int64
	EntryType    EntryType
	Date         time.Time
	SourceModule string
	SourceID     uuid.UUID
	Memo         string
	PostedBy     int64
	ReversalOf   *int64
	Lines        []PostingLineInput
}

// ReverseInput wraps parameters for reversal.
type ReverseInput struct {
	SchoolID     int64
	EntryID      int64
	ActorID      int64
	Memo         string
	Date         time.Time
	SourceModule string
	SourceID     uuid.UUID
}

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = fmt.Errorf("%w: journal lines must balance", shared.ErrValidation)
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = fmt.Errorf("%w: journal requires at least two lines", shared.ErrValidation)
	// ErrSourceAlreadyLinked indicates idempotency conflict.
	ErrSourceAlreadyLinked = errors.New("accounting: source already linked")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = fmt.Errorf("%w: journal entry not found", shared.ErrNotFound)
	// ErrInvalidStatus indicates action can't proceed.
	ErrInvalidStatus = fmt.Errorf("%w: journal entry is not posted", shared.ErrConflict)
	// ErrAccountNotConfigured indicates a missing chart of accounts role for the school.
	ErrAccountNotConfigured = fmt.Errorf("%w: account not configured", shared.ErrConfiguration)
)

// Validate ensures posting input meets minimum criteria.
func (in PostingInput) Validate() error {
	if in.SchoolID == 0 {
		return fmt.Errorf("%w: accounting: school required", shared.ErrValidation)
	}
	if in.EntryType == "" {
		return fmt.Errorf("%w: accounting: entry type required", shared.ErrValidation)
	}
	if len(in.Lines) < 2 {
		return ErrTooFewLines
	}
	debit, credit := decimal.Zero, decimal.Zero
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("%w: accounting: line %d missing account", shared.ErrValidation, idx)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("%w: accounting: line %d negative amount", shared.ErrValidation, idx)
		}
		if money.Positive(line.Debit) && money.Positive(line.Credit) {
			return fmt.Errorf("%w: accounting: line %d cannot be both debit and credit", shared.ErrValidation, idx)
		}
		if line.Debit.IsZero() && line.Credit.IsZero() {
			return fmt.Errorf("%w: accounting: line %d has no amount", shared.ErrValidation, idx)
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if !money.Round2(debit).Equal(money.Round2(credit)) {
		return ErrUnbalanced
	}
	if in.SourceModule == "" {
		return fmt.Errorf("%w: accounting: source module required", shared.ErrValidation)
	}
	if in.SourceID == uuid.Nil {
		return fmt.Errorf("%w: accounting: source id required", shared.ErrValidation)
	}
	return nil
}

// SourceID derives the deterministic ledger source id for a billing document.
func SourceID(kind string, schoolID, id int64) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("%s:%d:%d", kind, schoolID, id)))
}

// TrialBalanceRow aggregates posted amounts for one account.
type TrialBalanceRow struct {
	AccountID int64
	Code      string
	Name      string
	Type      AccountType
	Subtype   AccountSubtype
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// Closing returns debit minus credit.
func (r TrialBalanceRow) Closing() decimal.Decimal {
	return r.Debit.Sub(r.Credit)
}

// TrialBalance is the per-school ledger summary.
type TrialBalance struct {
	Rows        []TrialBalanceRow
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
}

// Balanced reports whether total debits equal total credits.
func (tb TrialBalance) Balanced() bool {
	return money.Round2(tb.TotalDebit).Equal(money.Round2(tb.TotalCredit))
}
