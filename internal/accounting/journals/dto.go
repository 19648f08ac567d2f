package journals

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// PostingLineInput describes a journal line for posting request.
type PostingLineInput struct {
	AccountID    int64
	Debit        decimal.Decimal
	Credit       decimal.Decimal
	BranchID     *int64
	CostCenterID *int64
	Memo         string
}

// PostingInput groups fields required to create a journal entry.
// (ReferenceType, ReferenceID) is the idempotency key; SourceStatus is the
// status of the source document at the time of posting.
type PostingInput struct {
	CompanyID     int64
	Date          time.Time
	ReferenceType string
	ReferenceID   string
	SourceStatus  string
	Memo          string
	PostedBy      int64
	Lines         []PostingLineInput
}

// Validate ensures posting input meets the double-entry invariant.
func (in PostingInput) Validate() error {
	if in.CompanyID == 0 {
		return shared.ErrReferenceRequired
	}
	if strings.TrimSpace(in.ReferenceType) == "" || strings.TrimSpace(in.ReferenceID) == "" {
		return shared.ErrReferenceRequired
	}
	if in.Date.IsZero() {
		return shared.ErrNoPeriod
	}
	if len(in.Lines) < 2 {
		return shared.ErrTooFewLines
	}
	debit, credit := decimal.Zero, decimal.Zero
	for _, line := range in.Lines {
		if line.AccountID == 0 {
			return shared.ErrInvalidAccount
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return shared.ErrInvalidLine
		}
		if !shared.WholeCents(line.Debit) || !shared.WholeCents(line.Credit) {
			return shared.ErrSubCent
		}
		if line.Debit.IsPositive() == line.Credit.IsPositive() {
			return shared.ErrInvalidLine
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if !debit.Sub(credit).Abs().LessThan(Tolerance) {
		return shared.ErrUnbalanced
	}
	return nil
}

// ReverseInput wraps parameters for reversal.
type ReverseInput struct {
	CompanyID int64
	EntryID   int64
	ActorID   int64
	Memo      string
	// Date defaults to the original entry date.
	Date *time.Time
}
