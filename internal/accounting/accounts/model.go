package accounts

import "time"

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Valid reports whether t is a known category.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// NormalBalance is the side on which an account increases.
type NormalBalance string

const (
	NormalDebit  NormalBalance = "DEBIT"
	NormalCredit NormalBalance = "CREDIT"
)

// DefaultNormalBalance returns the conventional side for t.
func DefaultNormalBalance(t AccountType) NormalBalance {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return NormalDebit
	default:
		return NormalCredit
	}
}

// Account models a chart of accounts node.
type Account struct {
	ID            int64
	CompanyID     int64
	Code          string
	Name          string
	Type          AccountType
	NormalBalance NormalBalance
	ParentID      *int64
	IsGroup       bool
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Postable reports whether the account may receive journal lines for companyID.
func (a Account) Postable(companyID int64) bool {
	return a.ID != 0 && a.CompanyID == companyID && a.IsActive && !a.IsGroup
}

// CreateInput describes a new account.
type CreateInput struct {
	Code          string        `json:"code" validate:"required,max=32"`
	Name          string        `json:"name" validate:"required,max=160"`
	Type          AccountType   `json:"type" validate:"required"`
	NormalBalance NormalBalance `json:"normal_balance"`
	ParentID      *int64        `json:"parent_id" validate:"omitempty,gt=0"`
	IsGroup       bool          `json:"is_group"`
}
