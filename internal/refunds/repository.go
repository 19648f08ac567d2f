package refunds

import (
	"context"
	"encoding/json"
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

// Repository provides persistence for refund requests.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, companyID, id int64) (RefundRequest, error)
	List(ctx context.Context, scope governance.Scope, f ListFilter) ([]RefundRequest, int, error)
	VoucherForRequest(ctx context.Context, companyID, requestID int64) (Voucher, error)
	History(ctx context.Context, companyID, requestID int64) ([]AuditRecord, error)
}

// TxRepository exposes the writes of one transaction.
type TxRepository interface {
	Insert(ctx context.Context, r RefundRequest) (RefundRequest, error)
	GetForUpdate(ctx context.Context, companyID, id int64) (RefundRequest, error)
	Update(ctx context.Context, r RefundRequest) error
	VoucherForRequest(ctx context.Context, companyID, requestID int64) (Voucher, error)
	InsertVoucher(ctx context.Context, v Voucher) (Voucher, error)
	AppendAudit(ctx context.Context, rec AuditRecord) error
	Ledger() journals.TxRepository
	RecordAudit(ctx context.Context, log core.AuditLog) error
}

// ErrVoucherNotFound is returned when a request has no voucher yet.
var ErrVoucherNotFound = errors.New("refunds: voucher not found")

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

const refundColumns = `id, company_id, number, status, branch_id, cost_center_id, warehouse_id, created_by, request_date,
amount::text, expense_account_id, reason, branch_approved_by, branch_approved_at, finance_approved_by, finance_approved_at,
approved_by, approved_at, rejected_by, rejected_at, reject_reason, reopen_reason, disbursement_voucher_id, created_at, updated_at`

func scanRefund(row pgx.Row) (RefundRequest, error) {
	var r RefundRequest
	var status, amount string
	err := row.Scan(&r.ID, &r.CompanyID, &r.Number, &status, &r.BranchID, &r.CostCenterID, &r.WarehouseID, &r.CreatedBy,
		&r.RequestDate, &amount, &r.ExpenseAccountID, &r.Reason, &r.BranchApproval.By, &r.BranchApproval.At,
		&r.FinanceApproval.By, &r.FinanceApproval.At, &r.FinalApproval.By, &r.FinalApproval.At, &r.RejectedBy, &r.RejectedAt,
		&r.RejectReason, &r.ReopenReason, &r.DisbursementVoucherID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RefundRequest{}, ErrNotFound
		}
		return RefundRequest{}, err
	}
	r.Status = workflow.State(status)
	if r.Amount, err = db.ParseNumeric(amount); err != nil {
		return RefundRequest{}, err
	}
	return r, nil
}

const voucherColumns = `id, company_id, refund_request_id, number, amount::text, cash_account_id, journal_entry_id, disbursed_by, disbursed_at`

func scanVoucher(row pgx.Row) (Voucher, error) {
	var v Voucher
	var amount string
	err := row.Scan(&v.ID, &v.CompanyID, &v.RefundRequestID, &v.Number, &amount, &v.CashAccountID, &v.JournalEntryID,
		&v.DisbursedBy, &v.DisbursedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voucher{}, ErrVoucherNotFound
		}
		return Voucher{}, err
	}
	if v.Amount, err = db.ParseNumeric(amount); err != nil {
		return Voucher{}, err
	}
	return v, nil
}

func (r *repository) Get(ctx context.Context, companyID, id int64) (RefundRequest, error) {
	return scanRefund(r.pool.QueryRow(ctx, `SELECT `+refundColumns+` FROM refund_requests WHERE company_id=$1 AND id=$2`, companyID, id))
}

func (r *repository) List(ctx context.Context, scope governance.Scope, f ListFilter) ([]RefundRequest, int, error) {
	where, args := scope.Predicate("", 1)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM refund_requests WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page := core.NewPagination(f.Page, f.PerPage, total)
	args = append(args, page.PerPage, page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM refund_requests WHERE %s ORDER BY request_date DESC, id DESC LIMIT $%d OFFSET $%d`,
		refundColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []RefundRequest
	for rows.Next() {
		req, err := scanRefund(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, req)
	}
	return out, total, rows.Err()
}

func (r *repository) VoucherForRequest(ctx context.Context, companyID, requestID int64) (Voucher, error) {
	return scanVoucher(r.pool.QueryRow(ctx, `SELECT `+voucherColumns+` FROM disbursement_vouchers
WHERE company_id=$1 AND refund_request_id=$2`, companyID, requestID))
}

func (r *repository) History(ctx context.Context, companyID, requestID int64) ([]AuditRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, refund_request_id, company_id, action, actor_id, occurred_at, details
FROM refund_audit WHERE company_id=$1 AND refund_request_id=$2 ORDER BY id`, companyID, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		var details []byte
		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.CompanyID, &rec.Action, &rec.ActorID, &rec.At, &details); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &rec.Details); err != nil {
				return nil, err
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx     pgx.Tx
	ledger journals.TxRepository
}

func (r *txRepository) Ledger() journals.TxRepository { return r.ledger }

func (r *txRepository) Insert(ctx context.Context, req RefundRequest) (RefundRequest, error) {
	out, err := scanRefund(r.tx.QueryRow(ctx, `INSERT INTO refund_requests (company_id, number, status, branch_id, cost_center_id,
warehouse_id, created_by, request_date, amount, expense_account_id, reason)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING `+refundColumns,
		req.CompanyID, req.Number, string(req.Status), db.NullInt(req.BranchID), db.NullInt(req.CostCenterID),
		db.NullInt(req.WarehouseID), req.CreatedBy, req.RequestDate, db.Numeric(req.Amount), req.ExpenseAccountID, req.Reason))
	if db.IsUniqueViolation(err, "uq_refund_requests_number") {
		return RefundRequest{}, ErrNumberTaken
	}
	return out, err
}

func (r *txRepository) GetForUpdate(ctx context.Context, companyID, id int64) (RefundRequest, error) {
	return scanRefund(r.tx.QueryRow(ctx, `SELECT `+refundColumns+` FROM refund_requests WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, id))
}

func (r *txRepository) Update(ctx context.Context, req RefundRequest) error {
	tag, err := r.tx.Exec(ctx, `UPDATE refund_requests SET status=$3, branch_approved_by=$4, branch_approved_at=$5,
finance_approved_by=$6, finance_approved_at=$7, approved_by=$8, approved_at=$9, rejected_by=$10, rejected_at=$11,
reject_reason=$12, reopen_reason=$13, disbursement_voucher_id=$14, updated_at=NOW()
WHERE company_id=$1 AND id=$2`,
		req.CompanyID, req.ID, string(req.Status),
		db.NullInt(req.BranchApproval.By), nullTime(req.BranchApproval.At),
		db.NullInt(req.FinanceApproval.By), nullTime(req.FinanceApproval.At),
		db.NullInt(req.FinalApproval.By), nullTime(req.FinalApproval.At),
		db.NullInt(req.RejectedBy), nullTime(req.RejectedAt), req.RejectReason, req.ReopenReason,
		db.NullInt(req.DisbursementVoucherID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) VoucherForRequest(ctx context.Context, companyID, requestID int64) (Voucher, error) {
	return scanVoucher(r.tx.QueryRow(ctx, `SELECT `+voucherColumns+` FROM disbursement_vouchers
WHERE company_id=$1 AND refund_request_id=$2`, companyID, requestID))
}

func (r *txRepository) InsertVoucher(ctx context.Context, v Voucher) (Voucher, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO disbursement_vouchers (company_id, refund_request_id, number, amount, cash_account_id,
journal_entry_id, disbursed_by, disbursed_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		v.CompanyID, v.RefundRequestID, v.Number, db.Numeric(v.Amount), v.CashAccountID, v.JournalEntryID, v.DisbursedBy,
		v.DisbursedAt).Scan(&v.ID)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_vouchers_refund") {
			return Voucher{}, ErrVoucherTaken
		}
		return Voucher{}, err
	}
	return v, nil
}

func (r *txRepository) AppendAudit(ctx context.Context, rec AuditRecord) error {
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO refund_audit (refund_request_id, company_id, action, actor_id, occurred_at, details)
VALUES ($1,$2,$3,$4,$5,$6)`, rec.RequestID, rec.CompanyID, rec.Action, rec.ActorID, rec.At, details)
	return err
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
