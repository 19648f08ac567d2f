package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	core "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Repository persists accounting periods.
type Repository interface {
	List(ctx context.Context, companyID int64) ([]Period, error)
	FindByDate(ctx context.Context, companyID int64, date time.Time) (Period, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	GetForUpdate(ctx context.Context, companyID, id int64) (Period, error)
	HasOverlap(ctx context.Context, companyID int64, start, end time.Time) (bool, error)
	Insert(ctx context.Context, p Period) (Period, error)
	UpdateStatus(ctx context.Context, p Period) error
	RecordAudit(ctx context.Context, log core.AuditLog) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const periodColumns = `id, company_id, code, start_date, end_date, status, closed_at, closed_by, reopened_at, reopened_by, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.CompanyID, &p.Code, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedAt, &p.ClosedBy, &p.ReopenedAt, &p.ReopenedBy, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// Scan reads one accounting_periods row selected with the package column order.
func Scan(row pgx.Row) (Period, error) {
	return scanPeriod(row)
}

// Columns lists accounting_periods columns in Scan order.
const Columns = periodColumns

func (r *repository) List(ctx context.Context, companyID int64) ([]Period, error) {
	rows, err := r.db.Query(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE company_id=$1 ORDER BY start_date`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FindByDate returns the period covering date regardless of status.
func (r *repository) FindByDate(ctx context.Context, companyID int64, date time.Time) (Period, error) {
	p, err := scanPeriod(r.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods
WHERE company_id=$1 AND $2::date BETWEEN start_date AND end_date`, companyID, DateOnly(date)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, shared.ErrNoPeriod
	}
	return p, err
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetForUpdate(ctx context.Context, companyID, id int64) (Period, error) {
	p, err := scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, shared.ErrPeriodNotFound
	}
	return p, err
}

func (r *txRepository) HasOverlap(ctx context.Context, companyID int64, start, end time.Time) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounting_periods
WHERE company_id=$1 AND start_date <= $3::date AND end_date >= $2::date)`, companyID, DateOnly(start), DateOnly(end)).Scan(&exists)
	return exists, err
}

func (r *txRepository) Insert(ctx context.Context, p Period) (Period, error) {
	inserted, err := scanPeriod(r.tx.QueryRow(ctx, `INSERT INTO accounting_periods (company_id, code, start_date, end_date, status)
VALUES ($1,$2,$3,$4,$5) RETURNING `+periodColumns, p.CompanyID, p.Code, DateOnly(p.StartDate), DateOnly(p.EndDate), string(p.Status)))
	if err != nil {
		if db.IsUniqueViolation(err, "") || db.IsExclusionViolation(err) {
			return Period{}, shared.ErrPeriodOverlap
		}
		return Period{}, err
	}
	return inserted, nil
}

func (r *txRepository) UpdateStatus(ctx context.Context, p Period) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounting_periods SET status=$3, closed_at=$4, closed_by=$5, reopened_at=$6, reopened_by=$7, updated_at=NOW()
WHERE company_id=$1 AND id=$2`, p.CompanyID, p.ID, string(p.Status), p.ClosedAt, db.NullInt(p.ClosedBy), p.ReopenedAt, db.NullInt(p.ReopenedBy))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrPeriodNotFound
	}
	return nil
}

func (r *txRepository) RecordAudit(ctx context.Context, log core.AuditLog) error {
	if err := core.RecordAudit(ctx, r.tx, log); err != nil {
		return err
	}
	core.Stage(ctx, log)
	return nil
}
