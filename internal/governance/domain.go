package governance

import (
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Visibility is the breadth of data a principal may see within a company.
type Visibility string

const (
	VisibilityFull   Visibility = "FULL"
	VisibilityBranch Visibility = "BRANCH"
	VisibilitySelf   Visibility = "SELF"
)

// Scope is the resolved visibility boundary for one principal in one company.
type Scope struct {
	CompanyID    int64
	UserID       int64
	Role         rbac.Role
	Visibility   Visibility
	BranchID     *int64
	CostCenterID *int64
	WarehouseID  *int64
}

// Member binds a user to a company with a role and optional hierarchy assignment.
type Member struct {
	UserID       int64
	CompanyID    int64
	Role         rbac.Role
	BranchID     *int64
	CostCenterID *int64
	WarehouseID  *int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Branch is a scoping unit owned by a company.
type Branch struct {
	ID        int64
	CompanyID int64
	Code      string
	Name      string
}

// CostCenter belongs to a branch.
type CostCenter struct {
	ID        int64
	CompanyID int64
	BranchID  int64
	Code      string
	Name      string
}

// Warehouse may default to a cost center.
type Warehouse struct {
	ID                  int64
	CompanyID           int64
	DefaultCostCenterID *int64
	Code                string
	Name                string
}

// Stamp carries the governance columns of a scoped record.
type Stamp struct {
	CompanyID    int64
	BranchID     *int64
	CostCenterID *int64
	WarehouseID  *int64
	CreatedBy    int64
}

// Scoped is implemented by every record subject to the scope filter.
type Scoped interface {
	GovernanceStamp() Stamp
}

// Stampable records accept governance data before persistence.
type Stampable interface {
	Scoped
	ApplyGovernance(Stamp)
}

var (
	// ErrNoMembership indicates the principal has no membership in the company.
	ErrNoMembership = &shared.Error{Kind: shared.ErrUnauthorized, Code: "no_membership", Reason: "principal is not a member of the company"}
	// ErrScopeViolation indicates a record falls outside the principal's scope.
	ErrScopeViolation = shared.Forbidden("scope_violation", "record is outside the principal's scope")
	// ErrPermissionDenied indicates the role lacks the requested capability.
	ErrPermissionDenied = shared.Forbidden("permission_denied", "role lacks the requested permission")
	// ErrHierarchyMismatch indicates a branch/cost center/warehouse of another company or branch.
	ErrHierarchyMismatch = shared.Validation("hierarchy_mismatch", "branch, cost center or warehouse does not belong to the company")
	// ErrUnitNotFound indicates a referenced hierarchy unit does not exist.
	ErrUnitNotFound = shared.Validation("unit_not_found", "referenced branch, cost center or warehouse does not exist")
)
