package journals

import (
	"time"

	"github.com/shopspring/decimal"
)

// JournalStatus enumerates journal lifecycle values.
type JournalStatus string

const (
	JournalStatusDraft  JournalStatus = "DRAFT"
	JournalStatusPosted JournalStatus = "POSTED"
)

// ReversalSuffix tags the reference type of compensating entries.
const ReversalSuffix = "_reversal"

// Tolerance is the largest debit/credit difference accepted as balanced.
var Tolerance = decimal.NewFromFloat(0.01)

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID            int64
	CompanyID     int64
	PeriodID      int64
	Date          time.Time
	ReferenceType string
	ReferenceID   string
	SourceStatus  string
	Memo          string
	PostedBy      int64
	PostedAt      time.Time
	Status        JournalStatus
	ReversalOf    *int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Lines         []JournalLine
}

// JournalLine stores debit or credit amount for an account.
type JournalLine struct {
	ID           int64
	JournalID    int64
	LineNo       int
	AccountID    int64
	Debit        decimal.Decimal
	Credit       decimal.Decimal
	BranchID     *int64
	CostCenterID *int64
	Memo         string
}

// Totals returns the debit and credit sums of the entry.
func (e JournalEntry) Totals() (debit, credit decimal.Decimal) {
	for _, l := range e.Lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

// Balanced reports whether Σdebit equals Σcredit within Tolerance.
func (e JournalEntry) Balanced() bool {
	debit, credit := e.Totals()
	return len(e.Lines) > 0 && debit.Sub(credit).Abs().LessThan(Tolerance)
}

// NetByAccount returns debit minus credit per account.
func (e JournalEntry) NetByAccount() map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal, len(e.Lines))
	for _, l := range e.Lines {
		out[l.AccountID] = out[l.AccountID].Add(l.Debit).Sub(l.Credit)
	}
	return out
}
