package refunds

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	core "github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/workflow"
)

// step is the subject of a refund transition.
type step struct {
	Req      RefundRequest
	Tx       TxRepository
	At       time.Time
	Reason   string
	Disburse DisburseInput
	Voucher  Voucher
}

var (
	disburseRoles = []rbac.Role{rbac.RoleOwner, rbac.RoleAdmin, rbac.RoleFinance}
	rejectRoles   = []rbac.Role{rbac.RoleOwner, rbac.RoleAdmin, rbac.RoleManager, rbac.RoleFinance, rbac.RoleAccountant}
	reopenRoles   = []rbac.Role{rbac.RoleOwner, rbac.RoleAdmin, rbac.RoleManager, rbac.RoleFinance}
)

func (s *Service) buildMachine() *workflow.Machine[step] {
	m := workflow.New[step]("refund request", StatusPending).
		Edge(workflow.Edge[step]{Name: "branch approve", From: StatusPending, To: StatusBranchApproved,
			Roles: []rbac.Role{rbac.RoleManager}, Guard: notRequester, Effect: sign(StatusBranchApproved)}).
		Edge(workflow.Edge[step]{Name: "finance approve", From: StatusBranchApproved, To: StatusFinanceApproved,
			Roles: []rbac.Role{rbac.RoleFinance, rbac.RoleAccountant}, Guard: notRequester, Effect: sign(StatusFinanceApproved)}).
		Edge(workflow.Edge[step]{Name: "approve", From: StatusFinanceApproved, To: StatusApproved,
			Roles: []rbac.Role{rbac.RoleOwner}, Guard: notRequester, Effect: sign(StatusApproved)}).
		Edge(workflow.Edge[step]{Name: "disburse", From: StatusApproved, To: StatusDisbursed,
			Roles: disburseRoles, Effect: s.disburseEffect})
	for _, from := range []workflow.State{StatusRejected, StatusBranchApproved, StatusFinanceApproved, StatusApproved} {
		m.Edge(workflow.Edge[step]{Name: "reopen", From: from, To: StatusPending, Roles: reopenRoles, Guard: requireReason, Effect: reopenEffect})
	}
	return m.WithCancel(StatusRejected, rejectRoles, rejectEffect)
}

func notRequester(_ context.Context, st step, actor workflow.Actor) error {
	if st.Req.CreatedBy == actor.UserID {
		return ErrSelfApproval
	}
	return nil
}

func requireReason(_ context.Context, st step, _ workflow.Actor) error {
	if strings.TrimSpace(st.Reason) == "" {
		return ErrReasonRequired
	}
	return nil
}

// sign stamps the approval stage completed by reaching to.
func sign(to workflow.State) workflow.Effect[step] {
	return func(_ context.Context, st *step, _ workflow.State, actor workflow.Actor) error {
		stage := st.Req.stage(to)
		by, at := actor.UserID, st.At
		stage.By, stage.At = &by, &at
		return nil
	}
}

func rejectEffect(_ context.Context, st *step, _ workflow.State, actor workflow.Actor) error {
	by, at := actor.UserID, st.At
	st.Req.RejectedBy, st.Req.RejectedAt = &by, &at
	st.Req.RejectReason = strings.TrimSpace(st.Reason)
	return nil
}

func reopenEffect(_ context.Context, st *step, _ workflow.State, _ workflow.Actor) error {
	st.Req.clearApprovals()
	st.Req.ReopenReason = strings.TrimSpace(st.Reason)
	return nil
}

// disburseEffect posts refund expense against cash and links the single voucher.
func (s *Service) disburseEffect(ctx context.Context, st *step, _ workflow.State, actor workflow.Actor) error {
	req := st.Req
	date := periods.DateOnly(st.At)
	if st.Disburse.Date != nil {
		date = periods.DateOnly(*st.Disburse.Date)
	}
	entry, err := s.ledger.PostTx(ctx, st.Tx.Ledger(), journals.PostingInput{
		CompanyID:     req.CompanyID,
		Date:          date,
		ReferenceType: ReferenceType,
		ReferenceID:   strconv.FormatInt(req.ID, 10),
		SourceStatus:  string(StatusDisbursed),
		Memo:          fmt.Sprintf("refund %s", req.Number),
		PostedBy:      actor.UserID,
		Lines: []journals.PostingLineInput{
			{AccountID: req.ExpenseAccountID, Debit: req.Amount, BranchID: req.BranchID, CostCenterID: req.CostCenterID},
			{AccountID: st.Disburse.CashAccountID, Credit: req.Amount, BranchID: req.BranchID, CostCenterID: req.CostCenterID},
		},
	})
	if err != nil && !core.IsDuplicate(err) {
		return err
	}
	v, err := st.Tx.InsertVoucher(ctx, Voucher{
		CompanyID:       req.CompanyID,
		RefundRequestID: req.ID,
		Number:          "RV-" + date.Format("200601") + "-" + strings.ToUpper(uuid.NewString()[:8]),
		Amount:          req.Amount,
		CashAccountID:   st.Disburse.CashAccountID,
		JournalEntryID:  entry.ID,
		DisbursedBy:     actor.UserID,
		DisbursedAt:     st.At,
	})
	if err != nil {
		return err
	}
	st.Voucher = v
	st.Req.DisbursementVoucherID = &v.ID
	return nil
}
