package rbac

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// Role is the closed set of company member roles, ordered by authority.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleFinance    Role = "finance"
	RoleAccountant Role = "accountant"
	RoleStaff      Role = "staff"
	RoleViewer     Role = "viewer"
)

var roleRank = map[Role]int{
	RoleOwner:      70,
	RoleAdmin:      60,
	RoleManager:    50,
	RoleFinance:    40,
	RoleAccountant: 30,
	RoleStaff:      20,
	RoleViewer:     10,
}

var folder = cases.Fold()

// ParseRole converts a stored role name, case-insensitively.
func ParseRole(raw string) (Role, error) {
	r := Role(folder.String(strings.TrimSpace(raw)))
	if _, ok := roleRank[r]; !ok {
		return "", fmt.Errorf("rbac: unknown role %q", raw)
	}
	return r, nil
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r carries at least the authority of other.
func (r Role) AtLeast(other Role) bool {
	return roleRank[r] >= roleRank[other]
}

// In reports whether r is one of roles.
func (r Role) In(roles ...Role) bool {
	for _, candidate := range roles {
		if r == candidate {
			return true
		}
	}
	return false
}

// Resource names a protected entity family.
type Resource string

const (
	ResourceInvoice         Resource = "invoice"
	ResourceBill            Resource = "bill"
	ResourceCommissionRun   Resource = "commission_run"
	ResourceDepreciationRun Resource = "depreciation_run"
	ResourceRefund          Resource = "refund"
	ResourceJournal         Resource = "journal"
	ResourcePeriod          Resource = "period"
	ResourceAccount         Resource = "account"
	ResourceMember          Resource = "member"
	ResourceJobs            Resource = "jobs"
)

// Action names an operation on a resource.
type Action string

const (
	ActionRead       Action = "read"
	ActionCreate     Action = "create"
	ActionUpdate     Action = "update"
	ActionTransition Action = "transition"
	ActionApprove    Action = "approve"
	ActionDisburse   Action = "disburse"
	ActionPost       Action = "post"
	ActionReverse    Action = "reverse"
	ActionClose      Action = "close"
	ActionOpen       Action = "open"
)

// Permission is a resource+action pair.
type Permission struct {
	Resource Resource
	Action   Action
}

func (p Permission) String() string {
	return string(p.Resource) + "." + string(p.Action)
}
