package periods

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	core "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// MemoryRepository keeps periods in process for test mode. Transactions work on a
// copy that replaces the committed state only when fn succeeds.
type MemoryRepository struct {
	mu     sync.RWMutex
	txMu   sync.Mutex
	nextID int64
	rows   map[int64]Period
	audit  []core.AuditLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[int64]Period)}
}

func (m *MemoryRepository) List(_ context.Context, companyID int64) ([]Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Period
	for _, p := range m.rows {
		if p.CompanyID == companyID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (m *MemoryRepository) FindByDate(_ context.Context, companyID int64, date time.Time) (Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.rows {
		if p.CompanyID == companyID && p.Contains(date) {
			return p, nil
		}
	}
	return Period{}, shared.ErrNoPeriod
}

// AuditTrail returns committed audit records.
func (m *MemoryRepository) AuditTrail() []core.AuditLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.AuditLog(nil), m.audit...)
}

func (m *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.RLock()
	tx := &memoryTx{nextID: m.nextID, rows: make(map[int64]Period, len(m.rows))}
	for id, p := range m.rows {
		tx.rows[id] = p
	}
	m.mu.RUnlock()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.mu.Lock()
	m.rows = tx.rows
	m.nextID = tx.nextID
	m.audit = append(m.audit, tx.audit...)
	m.mu.Unlock()
	return nil
}

type memoryTx struct {
	nextID int64
	rows   map[int64]Period
	audit  []core.AuditLog
}

func (t *memoryTx) GetForUpdate(_ context.Context, companyID, id int64) (Period, error) {
	p, ok := t.rows[id]
	if !ok || p.CompanyID != companyID {
		return Period{}, shared.ErrPeriodNotFound
	}
	return p, nil
}

func (t *memoryTx) HasOverlap(_ context.Context, companyID int64, start, end time.Time) (bool, error) {
	candidate := Period{StartDate: start, EndDate: end}
	for _, p := range t.rows {
		if p.CompanyID == companyID && p.Overlaps(candidate) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) Insert(_ context.Context, p Period) (Period, error) {
	t.nextID++
	p.ID = t.nextID
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	t.rows[p.ID] = p
	return p, nil
}

func (t *memoryTx) UpdateStatus(_ context.Context, p Period) error {
	if _, ok := t.rows[p.ID]; !ok {
		return shared.ErrPeriodNotFound
	}
	p.UpdatedAt = time.Now()
	t.rows[p.ID] = p
	return nil
}

func (t *memoryTx) RecordAudit(ctx context.Context, log core.AuditLog) error {
	t.audit = append(t.audit, log)
	core.Stage(ctx, log)
	return nil
}
