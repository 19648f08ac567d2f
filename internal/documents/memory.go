package documents

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/governance"
	core "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// MemoryRepository keeps documents in process for test mode. Each transaction works
// on a copy and commits together with its ledger transaction.
type MemoryRepository struct {
	mu       sync.RWMutex
	txMu     sync.Mutex
	ledger   *journals.MemoryRepository
	nextID   int64
	docs     map[int64]Document
	payments map[int64]Payment
	audit    []core.AuditLog
}

func NewMemoryRepository(ledger *journals.MemoryRepository) *MemoryRepository {
	return &MemoryRepository{ledger: ledger, docs: make(map[int64]Document), payments: make(map[int64]Payment)}
}

func (m *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.RLock()
	tx := &memoryTx{
		nextID:   m.nextID,
		docs:     make(map[int64]Document, len(m.docs)),
		payments: make(map[int64]Payment, len(m.payments)),
	}
	for id, d := range m.docs {
		tx.docs[id] = d
	}
	for id, p := range m.payments {
		tx.payments[id] = p
	}
	m.mu.RUnlock()

	tx.ledger = m.ledger.Begin()
	if err := fn(ctx, tx); err != nil {
		tx.ledger.Rollback()
		return err
	}
	m.mu.Lock()
	m.docs, m.payments, m.nextID = tx.docs, tx.payments, tx.nextID
	m.audit = append(m.audit, tx.audit...)
	m.mu.Unlock()
	tx.ledger.Commit()
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, companyID, id int64) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok || d.CompanyID != companyID {
		return Document{}, ErrNotFound
	}
	return d, nil
}

func (m *MemoryRepository) List(_ context.Context, scope governance.Scope, f ListFilter) ([]Document, int, error) {
	m.mu.RLock()
	var all []Document
	for _, d := range m.docs {
		if (f.Kind == "" || d.Kind == f.Kind) && (f.Status == "" || d.Status == f.Status) {
			all = append(all, d)
		}
	}
	m.mu.RUnlock()
	matched := governance.Filter(scope, all)
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].DocDate.Equal(matched[j].DocDate) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].DocDate.After(matched[j].DocDate)
	})
	page := core.NewPagination(f.Page, f.PerPage, len(matched))
	start := page.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + page.PerPage
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched), nil
}

// Payments returns committed payment records.
func (m *MemoryRepository) Payments() []Payment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Payment, 0, len(m.payments))
	for _, p := range m.payments {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AuditTrail returns committed audit records.
func (m *MemoryRepository) AuditTrail() []core.AuditLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.AuditLog(nil), m.audit...)
}

type memoryTx struct {
	nextID   int64
	docs     map[int64]Document
	payments map[int64]Payment
	audit    []core.AuditLog
	ledger   *journals.MemoryTx
}

func (t *memoryTx) Ledger() journals.TxRepository { return t.ledger }

func (t *memoryTx) Insert(_ context.Context, d Document) (Document, error) {
	for _, existing := range t.docs {
		if existing.CompanyID == d.CompanyID && existing.Kind == d.Kind && existing.Number == d.Number {
			return Document{}, ErrNumberTaken
		}
	}
	t.nextID++
	d.ID = t.nextID
	now := time.Now()
	d.CreatedAt, d.UpdatedAt = now, now
	t.docs[d.ID] = d
	return d, nil
}

func (t *memoryTx) GetForUpdate(_ context.Context, companyID, id int64) (Document, error) {
	d, ok := t.docs[id]
	if !ok || d.CompanyID != companyID {
		return Document{}, ErrNotFound
	}
	return d, nil
}

func (t *memoryTx) Update(_ context.Context, d Document) error {
	if _, ok := t.docs[d.ID]; !ok {
		return ErrNotFound
	}
	d.UpdatedAt = time.Now()
	t.docs[d.ID] = d
	return nil
}

func (t *memoryTx) InsertPayment(_ context.Context, p Payment) (Payment, error) {
	for _, existing := range t.payments {
		if existing.DocumentID == p.DocumentID {
			return Payment{}, ErrAlreadyPaid
		}
	}
	p.ID = int64(len(t.payments) + 1)
	t.payments[p.ID] = p
	return p, nil
}

func (t *memoryTx) RecordAudit(ctx context.Context, log core.AuditLog) error {
	t.audit = append(t.audit, log)
	core.Stage(ctx, log)
	return nil
}
