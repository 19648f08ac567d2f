package governance

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Resolver computes effective scopes and enforces them on reads and writes.
type Resolver struct {
	store     Store
	audit     shared.AuditSink
	logger    *slog.Logger
	fullRoles map[rbac.Role]struct{}
	lookups   singleflight.Group
	now       func() time.Time
}

// NewResolver constructs a Resolver. fullRoles defaults to owner and admin.
func NewResolver(store Store, audit shared.AuditSink, logger *slog.Logger, fullRoles ...rbac.Role) *Resolver {
	if len(fullRoles) == 0 {
		fullRoles = []rbac.Role{rbac.RoleOwner, rbac.RoleAdmin}
	}
	set := make(map[rbac.Role]struct{}, len(fullRoles))
	for _, r := range fullRoles {
		set[r] = struct{}{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, audit: audit, logger: logger, fullRoles: set, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (r *Resolver) WithNow(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

func (r *Resolver) member(ctx context.Context, userID, companyID int64) (Member, error) {
	key := strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(companyID, 10)
	// Callers share the lookup, so it must not end with the first caller's context.
	v, err, _ := r.lookups.Do(key, func() (any, error) {
		return r.store.GetMember(context.WithoutCancel(ctx), userID, companyID)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Member{}, ErrNoMembership
		}
		return Member{}, shared.Storage("load membership", err)
	}
	return v.(Member), nil
}

// ResolveScope computes the effective scope of p within companyID.
func (r *Resolver) ResolveScope(ctx context.Context, p shared.Principal, companyID int64) (Scope, error) {
	if p.UserID == 0 || companyID == 0 {
		return Scope{}, shared.ErrUnauthorized
	}
	m, err := r.member(ctx, p.UserID, companyID)
	if err != nil {
		return Scope{}, err
	}
	scope := Scope{
		CompanyID:    companyID,
		UserID:       p.UserID,
		Role:         m.Role,
		CostCenterID: m.CostCenterID,
		WarehouseID:  m.WarehouseID,
	}
	switch {
	case r.isFull(m.Role):
		scope.Visibility = VisibilityFull
		scope.CostCenterID = nil
		scope.WarehouseID = nil
	case m.BranchID != nil:
		scope.Visibility = VisibilityBranch
		scope.BranchID = m.BranchID
	default:
		scope.Visibility = VisibilitySelf
	}
	return scope, nil
}

func (r *Resolver) isFull(role rbac.Role) bool {
	_, ok := r.fullRoles[role]
	return ok
}

// AuthorizeScope resolves the scope and checks the role's capability table.
func (r *Resolver) AuthorizeScope(ctx context.Context, p shared.Principal, res rbac.Resource, action rbac.Action) (Scope, error) {
	scope, err := r.ResolveScope(ctx, p, p.CompanyID)
	if err != nil {
		return Scope{}, err
	}
	if !rbac.Can(scope.Role, res, action) {
		r.violation(ctx, scope, "governance.permission_denied", string(res), map[string]any{
			"resource": string(res),
			"action":   string(action),
			"role":     string(scope.Role),
		})
		return Scope{}, ErrPermissionDenied
	}
	return scope, nil
}

// Authorize implements rbac.Authorizer.
func (r *Resolver) Authorize(ctx context.Context, p shared.Principal, res rbac.Resource, action rbac.Action) error {
	_, err := r.AuthorizeScope(ctx, p, res, action)
	return err
}

// AddGovernanceData stamps rec with the scope's hierarchy before persistence.
// Non-FULL scopes overwrite client-supplied branch, cost center and warehouse.
func (r *Resolver) AddGovernanceData(scope Scope, rec Stampable) {
	st := rec.GovernanceStamp()
	st.CompanyID = scope.CompanyID
	st.CreatedBy = scope.UserID
	if scope.Visibility == VisibilityBranch {
		st.BranchID = copyID(scope.BranchID)
		if scope.CostCenterID != nil {
			st.CostCenterID = copyID(scope.CostCenterID)
		}
		if scope.WarehouseID != nil {
			st.WarehouseID = copyID(scope.WarehouseID)
		}
	}
	if scope.Visibility == VisibilitySelf {
		if scope.CostCenterID != nil {
			st.CostCenterID = copyID(scope.CostCenterID)
		}
		if scope.WarehouseID != nil {
			st.WarehouseID = copyID(scope.WarehouseID)
		}
	}
	rec.ApplyGovernance(st)
}

// ValidateGovernanceData asserts the stamped values still satisfy the scope and
// that every referenced unit belongs to the record's company.
func (r *Resolver) ValidateGovernanceData(ctx context.Context, scope Scope, rec Scoped) error {
	if err := r.CheckScope(ctx, scope, rec, "record"); err != nil {
		return err
	}
	st := rec.GovernanceStamp()
	if scope.Visibility != VisibilityFull && scope.CostCenterID != nil && !sameID(st.CostCenterID, scope.CostCenterID) {
		r.violation(ctx, scope, "governance.scope_violation", "cost_center", map[string]any{"cost_center_id": deref(st.CostCenterID)})
		return ErrScopeViolation
	}
	return r.ValidateHierarchy(ctx, st)
}

// CheckScope returns ErrScopeViolation when rec lies outside scope and records the
// attempt against target.
func (r *Resolver) CheckScope(ctx context.Context, scope Scope, rec Scoped, target string) error {
	if scope.Matches(rec) {
		return nil
	}
	st := rec.GovernanceStamp()
	r.violation(ctx, scope, "governance.scope_violation", target, map[string]any{
		"company_id": st.CompanyID,
		"branch_id":  deref(st.BranchID),
		"created_by": st.CreatedBy,
	})
	return ErrScopeViolation
}

// ValidateHierarchy checks that branch, cost center and warehouse belong to the stamp's company.
func (r *Resolver) ValidateHierarchy(ctx context.Context, st Stamp) error {
	if st.BranchID != nil {
		b, err := r.store.GetBranch(ctx, *st.BranchID)
		if err != nil {
			return unitErr(err)
		}
		if b.CompanyID != st.CompanyID {
			return ErrHierarchyMismatch
		}
	}
	if st.CostCenterID != nil {
		cc, err := r.store.GetCostCenter(ctx, *st.CostCenterID)
		if err != nil {
			return unitErr(err)
		}
		if cc.CompanyID != st.CompanyID {
			return ErrHierarchyMismatch
		}
		if st.BranchID != nil && cc.BranchID != *st.BranchID {
			return ErrHierarchyMismatch
		}
	}
	if st.WarehouseID != nil {
		w, err := r.store.GetWarehouse(ctx, *st.WarehouseID)
		if err != nil {
			return unitErr(err)
		}
		if w.CompanyID != st.CompanyID {
			return ErrHierarchyMismatch
		}
	}
	return nil
}

// AssignMember creates or updates a membership. Only FULL-scope members may manage
// members and only the owner may grant the owner role.
func (r *Resolver) AssignMember(ctx context.Context, p shared.Principal, m Member) (Member, error) {
	scope, err := r.AuthorizeScope(ctx, p, rbac.ResourceMember, rbac.ActionUpdate)
	if err != nil {
		return Member{}, err
	}
	if !m.Role.Valid() {
		return Member{}, shared.Validationf("invalid_role", "unknown role %q", m.Role)
	}
	if m.UserID == 0 {
		return Member{}, shared.Validation("user_required", "user id required")
	}
	if m.Role == rbac.RoleOwner && scope.Role != rbac.RoleOwner {
		return Member{}, shared.Forbidden("owner_grant", "only the owner may grant the owner role")
	}
	m.CompanyID = scope.CompanyID
	if err := r.ValidateHierarchy(ctx, Stamp{CompanyID: m.CompanyID, BranchID: m.BranchID, CostCenterID: m.CostCenterID, WarehouseID: m.WarehouseID}); err != nil {
		return Member{}, err
	}
	var old map[string]any
	if prev, err := r.store.GetMember(ctx, m.UserID, m.CompanyID); err == nil {
		old = memberSnapshot(prev)
	} else if !errors.Is(err, ErrNotFound) {
		return Member{}, shared.Storage("load membership", err)
	}
	if err := r.store.UpsertMember(ctx, m); err != nil {
		return Member{}, shared.Storage("upsert membership", err)
	}
	r.record(ctx, shared.AuditLog{
		ActorID:   p.UserID,
		CompanyID: m.CompanyID,
		Action:    "member.assign",
		Entity:    "company_member",
		EntityID:  strconv.FormatInt(m.UserID, 10),
		Old:       old,
		New:       memberSnapshot(m),
		At:        r.now(),
	})
	return m, nil
}

// RemoveMember deletes a membership.
func (r *Resolver) RemoveMember(ctx context.Context, p shared.Principal, userID int64) error {
	scope, err := r.AuthorizeScope(ctx, p, rbac.ResourceMember, rbac.ActionUpdate)
	if err != nil {
		return err
	}
	prev, err := r.store.GetMember(ctx, userID, scope.CompanyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return shared.NotFound("member_not_found", "membership not found")
		}
		return shared.Storage("load membership", err)
	}
	if prev.Role == rbac.RoleOwner && scope.Role != rbac.RoleOwner {
		return shared.Forbidden("owner_remove", "only the owner may remove an owner")
	}
	if err := r.store.DeleteMember(ctx, userID, scope.CompanyID); err != nil {
		return shared.Storage("delete membership", err)
	}
	r.record(ctx, shared.AuditLog{
		ActorID:   p.UserID,
		CompanyID: scope.CompanyID,
		Action:    "member.remove",
		Entity:    "company_member",
		EntityID:  strconv.FormatInt(userID, 10),
		Old:       memberSnapshot(prev),
		At:        r.now(),
	})
	return nil
}

func (r *Resolver) violation(ctx context.Context, scope Scope, action, target string, details map[string]any) {
	r.logger.Warn("governance violation",
		slog.String("action", action),
		slog.Int64("user_id", scope.UserID),
		slog.Int64("company_id", scope.CompanyID),
		slog.String("target", target))
	r.record(ctx, shared.AuditLog{
		ActorID:   scope.UserID,
		CompanyID: scope.CompanyID,
		Action:    action,
		Entity:    "governance",
		EntityID:  target,
		New:       details,
		At:        r.now(),
	})
}

func (r *Resolver) record(ctx context.Context, log shared.AuditLog) {
	if r.audit == nil {
		return
	}
	if err := r.audit.Record(ctx, log); err != nil {
		r.logger.Error("governance audit", slog.Any("error", err))
	}
}

func memberSnapshot(m Member) map[string]any {
	return map[string]any{
		"role":           string(m.Role),
		"branch_id":      deref(m.BranchID),
		"cost_center_id": deref(m.CostCenterID),
		"warehouse_id":   deref(m.WarehouseID),
	}
}

func unitErr(err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrUnitNotFound
	}
	return shared.Storage("load hierarchy unit", err)
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func deref(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
