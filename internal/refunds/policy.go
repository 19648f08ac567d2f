package refunds

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/governance"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	core "github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/workflow"
)

// tiers maps each approving role onto the one stage it signs.
var tiers = map[rbac.Role]workflow.State{
	rbac.RoleManager:    StatusBranchApproved,
	rbac.RoleFinance:    StatusFinanceApproved,
	rbac.RoleAccountant: StatusFinanceApproved,
	rbac.RoleOwner:      StatusApproved,
}

var progress = map[workflow.State]int{
	StatusPending:         0,
	StatusBranchApproved:  1,
	StatusFinanceApproved: 2,
	StatusApproved:        3,
	StatusDisbursed:       4,
}

// ApproverRoles lists the roles holding an approval tier.
func ApproverRoles() []rbac.Role {
	return []rbac.Role{rbac.RoleManager, rbac.RoleFinance, rbac.RoleAccountant, rbac.RoleOwner}
}

// CanApprove returns the single status actor may move a request in status to. A stage
// already signed yields a DuplicateAction error naming that stage.
func CanApprove(actor workflow.Actor, companyID int64, amount decimal.Decimal, status workflow.State) (workflow.State, error) {
	if actor.CompanyID != companyID {
		return "", governance.ErrScopeViolation
	}
	if !amount.IsPositive() {
		return "", ErrInvalidAmount
	}
	target, ok := tiers[actor.Role]
	if !ok {
		return "", core.Forbidden(ErrApprovalTier.Code, fmt.Sprintf("role %s holds no approval tier", actor.Role))
	}
	at, ok := progress[status]
	if !ok {
		return "", ErrNotApprovable
	}
	if at >= progress[target] {
		return "", core.Duplicate("already_approved", target)
	}
	if awaited := chain[at]; awaited != target {
		return "", core.Forbidden(ErrApprovalTier.Code, fmt.Sprintf("refund awaits %s, role %s signs %s", awaited, actor.Role, target))
	}
	return target, nil
}
