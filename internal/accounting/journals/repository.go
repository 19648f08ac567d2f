package journals

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	core "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Repository encapsulates DB operations for journals.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, companyID, id int64) (JournalEntry, error)
	FindByReference(ctx context.Context, companyID int64, refType, refID string) (JournalEntry, error)
	ListPosted(ctx context.Context, companyID int64, from, to time.Time) ([]JournalEntry, error)
	// UnbalancedEntries lists posted entries violating the balance invariant; companyID 0 scans all companies.
	UnbalancedEntries(ctx context.Context, companyID int64) ([]int64, error)
}

// TxRepository exposes methods available within a transaction. Document and refund
// repositories obtain one for their own transaction through NewTxRepository.
type TxRepository interface {
	// GetPeriodForDate takes a share lock on the covering period so a concurrent close waits.
	GetPeriodForDate(ctx context.Context, companyID int64, date time.Time) (periods.Period, error)
	GetAccounts(ctx context.Context, companyID int64, ids []int64) (map[int64]accounts.Account, error)
	FindByReference(ctx context.Context, companyID int64, refType, refID string) (JournalEntry, error)
	GetJournalWithLines(ctx context.Context, companyID, id int64) (JournalEntry, error)
	InsertJournal(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	RecordAudit(ctx context.Context, log core.AuditLog) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const entryColumns = `id, company_id, period_id, entry_date, reference_type, reference_id, source_status, memo, posted_by, posted_at, status, reversal_of, created_at, updated_at`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	var postedBy *int64
	err := row.Scan(&e.ID, &e.CompanyID, &e.PeriodID, &e.Date, &e.ReferenceType, &e.ReferenceID, &e.SourceStatus, &e.Memo, &postedBy, &e.PostedAt, &e.Status, &e.ReversalOf, &e.CreatedAt, &e.UpdatedAt)
	if postedBy != nil {
		e.PostedBy = *postedBy
	}
	return e, err
}

func loadLines(ctx context.Context, q db.Querier, ids []int64) (map[int64][]JournalLine, error) {
	out := make(map[int64][]JournalLine, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `SELECT id, je_id, line_no, account_id, debit::text, credit::text, branch_id, cost_center_id, memo
FROM journal_lines WHERE je_id = ANY($1) ORDER BY je_id, line_no`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l JournalLine
		var debit, credit string
		if err := rows.Scan(&l.ID, &l.JournalID, &l.LineNo, &l.AccountID, &debit, &credit, &l.BranchID, &l.CostCenterID, &l.Memo); err != nil {
			return nil, err
		}
		if l.Debit, err = db.ParseNumeric(debit); err != nil {
			return nil, err
		}
		if l.Credit, err = db.ParseNumeric(credit); err != nil {
			return nil, err
		}
		out[l.JournalID] = append(out[l.JournalID], l)
	}
	return out, rows.Err()
}

func getEntry(ctx context.Context, q db.Querier, where string, args ...any) (JournalEntry, error) {
	e, err := scanEntry(q.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE deleted_at IS NULL AND `+where, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, shared.ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	lines, err := loadLines(ctx, q, []int64{e.ID})
	if err != nil {
		return JournalEntry{}, err
	}
	e.Lines = lines[e.ID]
	return e, nil
}

func (r *repository) Get(ctx context.Context, companyID, id int64) (JournalEntry, error) {
	return getEntry(ctx, r.db, `company_id=$1 AND id=$2`, companyID, id)
}

func (r *repository) FindByReference(ctx context.Context, companyID int64, refType, refID string) (JournalEntry, error) {
	return getEntry(ctx, r.db, `company_id=$1 AND reference_type=$2 AND reference_id=$3`, companyID, refType, refID)
}

func (r *repository) ListPosted(ctx context.Context, companyID int64, from, to time.Time) ([]JournalEntry, error) {
	rows, err := r.db.Query(ctx, `SELECT `+entryColumns+` FROM journal_entries
WHERE deleted_at IS NULL AND status='POSTED' AND company_id=$1 AND entry_date BETWEEN $2::date AND $3::date
ORDER BY entry_date, id`, companyID, periods.DateOnly(from), periods.DateOnly(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	var ids []int64
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
		ids = append(ids, e.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	lines, err := loadLines(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Lines = lines[entries[i].ID]
	}
	return entries, nil
}

func (r *repository) UnbalancedEntries(ctx context.Context, companyID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT je.id FROM journal_entries je
LEFT JOIN journal_lines jl ON jl.je_id = je.id
WHERE je.deleted_at IS NULL AND je.status='POSTED' AND ($1::bigint = 0 OR je.company_id = $1)
GROUP BY je.id
HAVING COUNT(jl.id) = 0 OR ABS(COALESCE(SUM(jl.debit),0) - COALESCE(SUM(jl.credit),0)) >= 0.01
ORDER BY je.id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds the journal operations to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

func (r *txRepository) GetPeriodForDate(ctx context.Context, companyID int64, date time.Time) (periods.Period, error) {
	p, err := periods.Scan(r.tx.QueryRow(ctx, `SELECT `+periods.Columns+` FROM accounting_periods
WHERE company_id=$1 AND $2::date BETWEEN start_date AND end_date FOR SHARE`, companyID, periods.DateOnly(date)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return periods.Period{}, shared.ErrNoPeriod
		}
		return periods.Period{}, err
	}
	return p, nil
}

func (r *txRepository) GetAccounts(ctx context.Context, companyID int64, ids []int64) (map[int64]accounts.Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, company_id, code, name, type, normal_balance, is_group, is_active
FROM accounts WHERE company_id=$1 AND id = ANY($2)`, companyID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]accounts.Account, len(ids))
	for rows.Next() {
		var a accounts.Account
		if err := rows.Scan(&a.ID, &a.CompanyID, &a.Code, &a.Name, &a.Type, &a.NormalBalance, &a.IsGroup, &a.IsActive); err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

func (r *txRepository) FindByReference(ctx context.Context, companyID int64, refType, refID string) (JournalEntry, error) {
	return getEntry(ctx, r.tx, `company_id=$1 AND reference_type=$2 AND reference_id=$3`, companyID, refType, refID)
}

func (r *txRepository) GetJournalWithLines(ctx context.Context, companyID, id int64) (JournalEntry, error) {
	return getEntry(ctx, r.tx, `company_id=$1 AND id=$2`, companyID, id)
}

// InsertJournal writes the header and all lines. A lost race on the reference key
// surfaces as ErrReferenceTaken and aborts the transaction.
func (r *txRepository) InsertJournal(ctx context.Context, entry JournalEntry) (JournalEntry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (company_id, period_id, entry_date, reference_type, reference_id, source_status, memo, posted_by, posted_at, status, reversal_of)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW(),$9,$10) RETURNING `+entryColumns,
		entry.CompanyID, entry.PeriodID, periods.DateOnly(entry.Date), entry.ReferenceType, entry.ReferenceID, entry.SourceStatus,
		entry.Memo, db.NullInt(&entry.PostedBy), string(entry.Status), db.NullInt(entry.ReversalOf))
	inserted, err := scanEntry(row)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_journal_entries_reference") {
			return JournalEntry{}, shared.ErrReferenceTaken
		}
		return JournalEntry{}, err
	}
	inserted.Lines = make([]JournalLine, 0, len(entry.Lines))
	for i, line := range entry.Lines {
		line.JournalID = inserted.ID
		line.LineNo = i + 1
		if err := r.tx.QueryRow(ctx, `INSERT INTO journal_lines (je_id, line_no, account_id, debit, credit, branch_id, cost_center_id, memo)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`, inserted.ID, line.LineNo, line.AccountID, db.Numeric(line.Debit), db.Numeric(line.Credit),
			db.NullInt(line.BranchID), db.NullInt(line.CostCenterID), line.Memo).Scan(&line.ID); err != nil {
			return JournalEntry{}, err
		}
		inserted.Lines = append(inserted.Lines, line)
	}
	return inserted, nil
}

func (r *txRepository) RecordAudit(ctx context.Context, log core.AuditLog) error {
	if err := core.RecordAudit(ctx, r.tx, log); err != nil {
		return err
	}
	core.Stage(ctx, log)
	return nil
}
