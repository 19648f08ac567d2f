package refunds

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/governance"
	core "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// MemoryRepository keeps refund requests in process for test mode. Transactions are
// serialized, work on a copy and commit together with their ledger transaction.
type MemoryRepository struct {
	mu       sync.RWMutex
	txMu     sync.Mutex
	ledger   *journals.MemoryRepository
	nextID   int64
	requests map[int64]RefundRequest
	vouchers map[int64]Voucher
	history  []AuditRecord
	audit    []core.AuditLog
}

func NewMemoryRepository(ledger *journals.MemoryRepository) *MemoryRepository {
	return &MemoryRepository{ledger: ledger, requests: make(map[int64]RefundRequest), vouchers: make(map[int64]Voucher)}
}

func (m *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.RLock()
	tx := &memoryTx{
		nextID:   m.nextID,
		requests: make(map[int64]RefundRequest, len(m.requests)),
		vouchers: make(map[int64]Voucher, len(m.vouchers)),
	}
	for id, r := range m.requests {
		tx.requests[id] = r
	}
	for id, v := range m.vouchers {
		tx.vouchers[id] = v
	}
	m.mu.RUnlock()

	tx.ledger = m.ledger.Begin()
	if err := fn(ctx, tx); err != nil {
		tx.ledger.Rollback()
		return err
	}
	m.mu.Lock()
	m.requests, m.vouchers, m.nextID = tx.requests, tx.vouchers, tx.nextID
	for i, rec := range tx.history {
		rec.ID = int64(len(m.history) + 1)
		tx.history[i] = rec
		m.history = append(m.history, rec)
	}
	m.audit = append(m.audit, tx.audit...)
	m.mu.Unlock()
	tx.ledger.Commit()
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, companyID, id int64) (RefundRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok || r.CompanyID != companyID {
		return RefundRequest{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryRepository) List(_ context.Context, scope governance.Scope, f ListFilter) ([]RefundRequest, int, error) {
	m.mu.RLock()
	var all []RefundRequest
	for _, r := range m.requests {
		if f.Status == "" || r.Status == f.Status {
			all = append(all, r)
		}
	}
	m.mu.RUnlock()
	matched := governance.Filter(scope, all)
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].RequestDate.Equal(matched[j].RequestDate) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].RequestDate.After(matched[j].RequestDate)
	})
	page := core.NewPagination(f.Page, f.PerPage, len(matched))
	start := min(page.Offset(), len(matched))
	end := min(start+page.PerPage, len(matched))
	return matched[start:end], len(matched), nil
}

func (m *MemoryRepository) VoucherForRequest(_ context.Context, companyID, requestID int64) (Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return findVoucher(m.vouchers, companyID, requestID)
}

func (m *MemoryRepository) History(_ context.Context, companyID, requestID int64) ([]AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AuditRecord
	for _, rec := range m.history {
		if rec.CompanyID == companyID && rec.RequestID == requestID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Vouchers returns committed vouchers ordered by id.
func (m *MemoryRepository) Vouchers() []Voucher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Voucher, 0, len(m.vouchers))
	for _, v := range m.vouchers {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AuditTrail returns committed audit_logs records.
func (m *MemoryRepository) AuditTrail() []core.AuditLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.AuditLog(nil), m.audit...)
}

func findVoucher(vouchers map[int64]Voucher, companyID, requestID int64) (Voucher, error) {
	for _, v := range vouchers {
		if v.CompanyID == companyID && v.RefundRequestID == requestID {
			return v, nil
		}
	}
	return Voucher{}, ErrVoucherNotFound
}

type memoryTx struct {
	nextID   int64
	requests map[int64]RefundRequest
	vouchers map[int64]Voucher
	history  []AuditRecord
	audit    []core.AuditLog
	ledger   *journals.MemoryTx
}

func (t *memoryTx) Ledger() journals.TxRepository { return t.ledger }

func (t *memoryTx) Insert(_ context.Context, r RefundRequest) (RefundRequest, error) {
	for _, existing := range t.requests {
		if existing.CompanyID == r.CompanyID && existing.Number == r.Number {
			return RefundRequest{}, ErrNumberTaken
		}
	}
	t.nextID++
	r.ID = t.nextID
	now := time.Now()
	r.CreatedAt, r.UpdatedAt = now, now
	t.requests[r.ID] = r
	return r, nil
}

func (t *memoryTx) GetForUpdate(_ context.Context, companyID, id int64) (RefundRequest, error) {
	r, ok := t.requests[id]
	if !ok || r.CompanyID != companyID {
		return RefundRequest{}, ErrNotFound
	}
	return r, nil
}

func (t *memoryTx) Update(_ context.Context, r RefundRequest) error {
	if _, ok := t.requests[r.ID]; !ok {
		return ErrNotFound
	}
	r.UpdatedAt = time.Now()
	t.requests[r.ID] = r
	return nil
}

func (t *memoryTx) VoucherForRequest(_ context.Context, companyID, requestID int64) (Voucher, error) {
	return findVoucher(t.vouchers, companyID, requestID)
}

func (t *memoryTx) InsertVoucher(_ context.Context, v Voucher) (Voucher, error) {
	if _, err := findVoucher(t.vouchers, v.CompanyID, v.RefundRequestID); err == nil {
		return Voucher{}, ErrVoucherTaken
	}
	v.ID = int64(len(t.vouchers) + 1)
	t.vouchers[v.ID] = v
	return v, nil
}

func (t *memoryTx) AppendAudit(_ context.Context, rec AuditRecord) error {
	t.history = append(t.history, rec)
	return nil
}

func (t *memoryTx) RecordAudit(ctx context.Context, log core.AuditLog) error {
	t.audit = append(t.audit, log)
	core.Stage(ctx, log)
	return nil
}
