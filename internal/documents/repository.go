package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/governance"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	core "github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/workflow"
)

// Repository provides persistence for documents.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, companyID, id int64) (Document, error)
	// List returns the documents matching scope and f, plus the unpaged total.
	List(ctx context.Context, scope governance.Scope, f ListFilter) ([]Document, int, error)
}

// TxRepository exposes the writes of one transaction. Ledger binds the posting engine
// to the same transaction.
type TxRepository interface {
	Insert(ctx context.Context, d Document) (Document, error)
	GetForUpdate(ctx context.Context, companyID, id int64) (Document, error)
	Update(ctx context.Context, d Document) error
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	Ledger() journals.TxRepository
	RecordAudit(ctx context.Context, log core.AuditLog) error
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, ledger: journals.NewTxRepository(tx)})
	})
}

const documentColumns = `id, company_id, kind, number, status, branch_id, cost_center_id, warehouse_id, created_by, doc_date,
total_amount::text, debit_account_id, credit_account_id, notes, journal_entry_id, reversal_entry_id,
paid_by, paid_at, cancelled_by, cancelled_at, created_at, updated_at`

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	var total, status string
	err := row.Scan(&d.ID, &d.CompanyID, &d.Kind, &d.Number, &status, &d.BranchID, &d.CostCenterID, &d.WarehouseID,
		&d.CreatedBy, &d.DocDate, &total, &d.DebitAccountID, &d.CreditAccountID, &d.Notes, &d.JournalEntryID,
		&d.ReversalEntryID, &d.PaidBy, &d.PaidAt, &d.CancelledBy, &d.CancelledAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	d.Status = workflow.State(status)
	if d.TotalAmount, err = db.ParseNumeric(total); err != nil {
		return Document{}, err
	}
	return d, nil
}

func (r *repository) Get(ctx context.Context, companyID, id int64) (Document, error) {
	return scanDocument(r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE company_id=$1 AND id=$2`, companyID, id))
}

func (r *repository) List(ctx context.Context, scope governance.Scope, f ListFilter) ([]Document, int, error) {
	where, args := scope.Predicate("", 1)
	if f.Kind != "" {
		args = append(args, string(f.Kind))
		where += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page := core.NewPagination(f.Page, f.PerPage, total)
	args = append(args, page.PerPage, page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM documents WHERE %s ORDER BY doc_date DESC, id DESC LIMIT $%d OFFSET $%d`,
		documentColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

type txRepository struct {
	tx     pgx.Tx
	ledger journals.TxRepository
}

func (r *txRepository) Ledger() journals.TxRepository { return r.ledger }

func (r *txRepository) Insert(ctx context.Context, d Document) (Document, error) {
	out, err := scanDocument(r.tx.QueryRow(ctx, `INSERT INTO documents (company_id, kind, number, status, branch_id, cost_center_id, warehouse_id,
created_by, doc_date, total_amount, debit_account_id, credit_account_id, notes)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13) RETURNING `+documentColumns,
		d.CompanyID, string(d.Kind), d.Number, string(d.Status), db.NullInt(d.BranchID), db.NullInt(d.CostCenterID),
		db.NullInt(d.WarehouseID), d.CreatedBy, d.DocDate, db.Numeric(d.TotalAmount), d.DebitAccountID, d.CreditAccountID, d.Notes))
	if db.IsUniqueViolation(err, "uq_documents_number") {
		return Document{}, ErrNumberTaken
	}
	return out, err
}

func (r *txRepository) GetForUpdate(ctx context.Context, companyID, id int64) (Document, error) {
	return scanDocument(r.tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, id))
}

func (r *txRepository) Update(ctx context.Context, d Document) error {
	tag, err := r.tx.Exec(ctx, `UPDATE documents SET status=$3, branch_id=$4, cost_center_id=$5, warehouse_id=$6, doc_date=$7,
total_amount=$8, debit_account_id=$9, credit_account_id=$10, notes=$11, journal_entry_id=$12, reversal_entry_id=$13,
paid_by=$14, paid_at=$15, cancelled_by=$16, cancelled_at=$17, updated_at=NOW()
WHERE company_id=$1 AND id=$2`,
		d.CompanyID, d.ID, string(d.Status), db.NullInt(d.BranchID), db.NullInt(d.CostCenterID), db.NullInt(d.WarehouseID),
		d.DocDate, db.Numeric(d.TotalAmount), d.DebitAccountID, d.CreditAccountID, d.Notes, db.NullInt(d.JournalEntryID),
		db.NullInt(d.ReversalEntryID), db.NullInt(d.PaidBy), nullTime(d.PaidAt), db.NullInt(d.CancelledBy), nullTime(d.CancelledAt))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO document_payments (document_id, company_id, amount, paid_by, paid_at)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, p.DocumentID, p.CompanyID, db.Numeric(p.Amount), p.PaidBy, p.PaidAt).Scan(&p.ID)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_document_payments_document") {
			return Payment{}, ErrAlreadyPaid
		}
		return Payment{}, err
	}
	return p, nil
}

func (r *txRepository) RecordAudit(ctx context.Context, log core.AuditLog) error {
	if err := core.RecordAudit(ctx, r.tx, log); err != nil {
		return err
	}
	core.Stage(ctx, log)
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
