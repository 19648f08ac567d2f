package governance

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
)

// ErrNotFound is returned by stores when a row is missing.
var ErrNotFound = errors.New("governance: not found")

// Store is the durable mapping of (user, company) to role and hierarchy assignment.
type Store interface {
	GetMember(ctx context.Context, userID, companyID int64) (Member, error)
	UpsertMember(ctx context.Context, m Member) error
	DeleteMember(ctx context.Context, userID, companyID int64) error
	GetBranch(ctx context.Context, id int64) (Branch, error)
	GetCostCenter(ctx context.Context, id int64) (CostCenter, error)
	GetWarehouse(ctx context.Context, id int64) (Warehouse, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the PostgreSQL scope store.
func NewRepository(pool *pgxpool.Pool) Store {
	return &repository{db: pool}
}

func (r *repository) GetMember(ctx context.Context, userID, companyID int64) (Member, error) {
	var m Member
	var role string
	err := r.db.QueryRow(ctx, `SELECT user_id, company_id, role, branch_id, cost_center_id, warehouse_id, created_at, updated_at
FROM company_members WHERE user_id=$1 AND company_id=$2`, userID, companyID).
		Scan(&m.UserID, &m.CompanyID, &role, &m.BranchID, &m.CostCenterID, &m.WarehouseID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Member{}, ErrNotFound
		}
		return Member{}, err
	}
	parsed, err := rbac.ParseRole(role)
	if err != nil {
		return Member{}, err
	}
	m.Role = parsed
	return m, nil
}

func (r *repository) UpsertMember(ctx context.Context, m Member) error {
	_, err := r.db.Exec(ctx, `INSERT INTO company_members (user_id, company_id, role, branch_id, cost_center_id, warehouse_id)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (user_id, company_id) DO UPDATE SET role=EXCLUDED.role, branch_id=EXCLUDED.branch_id,
	cost_center_id=EXCLUDED.cost_center_id, warehouse_id=EXCLUDED.warehouse_id, updated_at=NOW()`,
		m.UserID, m.CompanyID, string(m.Role), db.NullInt(m.BranchID), db.NullInt(m.CostCenterID), db.NullInt(m.WarehouseID))
	return err
}

func (r *repository) DeleteMember(ctx context.Context, userID, companyID int64) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM company_members WHERE user_id=$1 AND company_id=$2`, userID, companyID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) GetBranch(ctx context.Context, id int64) (Branch, error) {
	var b Branch
	err := r.db.QueryRow(ctx, `SELECT id, company_id, code, name FROM branches WHERE id=$1`, id).
		Scan(&b.ID, &b.CompanyID, &b.Code, &b.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Branch{}, ErrNotFound
	}
	return b, err
}

func (r *repository) GetCostCenter(ctx context.Context, id int64) (CostCenter, error) {
	var c CostCenter
	err := r.db.QueryRow(ctx, `SELECT id, company_id, branch_id, code, name FROM cost_centers WHERE id=$1`, id).
		Scan(&c.ID, &c.CompanyID, &c.BranchID, &c.Code, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return CostCenter{}, ErrNotFound
	}
	return c, err
}

func (r *repository) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	var w Warehouse
	err := r.db.QueryRow(ctx, `SELECT id, company_id, default_cost_center_id, code, name FROM warehouses WHERE id=$1`, id).
		Scan(&w.ID, &w.CompanyID, &w.DefaultCostCenterID, &w.Code, &w.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Warehouse{}, ErrNotFound
	}
	return w, err
}
