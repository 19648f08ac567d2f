// Package refunds runs refund requests through a role-tiered approval chain and
// disburses them against the ledger exactly once.
package refunds

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/governance"
	core "github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/workflow"
)

// Refund statuses.
const (
	StatusPending         workflow.State = "pending"
	StatusBranchApproved  workflow.State = "branch_approved"
	StatusFinanceApproved workflow.State = "finance_approved"
	StatusApproved        workflow.State = "approved"
	StatusDisbursed       workflow.State = "disbursed"
	StatusRejected        workflow.State = "rejected"
)

// chain is the ordered list of approval stages.
var chain = []workflow.State{StatusBranchApproved, StatusFinanceApproved, StatusApproved}

// ReferenceType is the journal reference type of refund disbursements.
const ReferenceType = "refund_disbursement"

// Stage records who completed an approval stage and when.
type Stage struct {
	By *int64
	At *time.Time
}

// Done reports whether the stage was signed.
func (s Stage) Done() bool { return s.By != nil }

// RefundRequest is a customer refund awaiting approval and disbursement.
type RefundRequest struct {
	ID                    int64
	CompanyID             int64
	Number                string
	Status                workflow.State
	BranchID              *int64
	CostCenterID          *int64
	WarehouseID           *int64
	CreatedBy             int64
	RequestDate           time.Time
	Amount                decimal.Decimal
	ExpenseAccountID      int64
	Reason                string
	BranchApproval        Stage
	FinanceApproval       Stage
	FinalApproval         Stage
	RejectedBy            *int64
	RejectedAt            *time.Time
	RejectReason          string
	ReopenReason          string
	DisbursementVoucherID *int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (r RefundRequest) GovernanceStamp() governance.Stamp {
	return governance.Stamp{
		CompanyID:    r.CompanyID,
		BranchID:     r.BranchID,
		CostCenterID: r.CostCenterID,
		WarehouseID:  r.WarehouseID,
		CreatedBy:    r.CreatedBy,
	}
}

func (r *RefundRequest) ApplyGovernance(st governance.Stamp) {
	r.CompanyID = st.CompanyID
	r.BranchID = st.BranchID
	r.CostCenterID = st.CostCenterID
	r.WarehouseID = st.WarehouseID
	r.CreatedBy = st.CreatedBy
}

// stage returns a pointer to the stamp completed by reaching s.
func (r *RefundRequest) stage(s workflow.State) *Stage {
	switch s {
	case StatusBranchApproved:
		return &r.BranchApproval
	case StatusFinanceApproved:
		return &r.FinanceApproval
	case StatusApproved:
		return &r.FinalApproval
	}
	return nil
}

// clearApprovals wipes every approval and rejection stamp.
func (r *RefundRequest) clearApprovals() {
	r.BranchApproval, r.FinanceApproval, r.FinalApproval = Stage{}, Stage{}, Stage{}
	r.RejectedBy, r.RejectedAt, r.RejectReason = nil, nil, ""
}

// Voucher is the single disbursement of a refund request.
type Voucher struct {
	ID              int64
	CompanyID       int64
	RefundRequestID int64
	Number          string
	Amount          decimal.Decimal
	CashAccountID   int64
	JournalEntryID  int64
	DisbursedBy     int64
	DisbursedAt     time.Time
}

// AuditRecord is one append-only entry of a request's history.
type AuditRecord struct {
	ID        int64
	RequestID int64
	CompanyID int64
	Action    string
	ActorID   int64
	At        time.Time
	Details   map[string]any
}

// CreateInput describes a new refund request.
type CreateInput struct {
	BranchID         *int64
	CostCenterID     *int64
	WarehouseID      *int64
	RequestDate      time.Time
	Amount           decimal.Decimal
	ExpenseAccountID int64
	Reason           string
}

// DisburseInput selects the cash account paying the refund. Date defaults to today.
type DisburseInput struct {
	CashAccountID int64
	Date          *time.Time
}

// ListFilter narrows List.
type ListFilter struct {
	Status  workflow.State
	Page    int
	PerPage int
}

var (
	ErrNotFound       = core.NotFound("refund_not_found", "refund request not found")
	ErrReasonRequired = core.Validation("reason_required", "a reason is required")
	ErrInvalidAmount  = core.Validation("invalid_amount", "refund amount must be greater than zero")
	ErrSelfApproval   = core.Forbidden("self_approval", "requesters may not approve their own refund")
	ErrNotApprovable  = core.Conflict("not_awaiting_approval", "refund request is not awaiting approval")
	ErrApprovalTier   = core.Forbidden("approval_tier", "role may not approve the current stage")
	ErrNotApproved    = core.Conflict("not_approved", "refund request must be fully approved before disbursement")
	// ErrVoucherTaken reports a lost race on the voucher of a request.
	ErrVoucherTaken = core.Conflict("voucher_taken", "refund request already has a disbursement voucher")
	ErrNumberTaken  = core.Conflict("number_taken", "refund number already exists")
)

func validateCreate(in CreateInput) error {
	if !in.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !shared.WholeCents(in.Amount) {
		return shared.ErrSubCent
	}
	if in.RequestDate.IsZero() {
		return core.Validation("date_required", "request date is required")
	}
	if in.ExpenseAccountID == 0 {
		return core.Validation("account_required", "expense account is required")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return ErrReasonRequired
	}
	return nil
}
