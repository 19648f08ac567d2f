package accounts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// MemoryRepository keeps accounts in process for test mode.
type MemoryRepository struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[int64]Account
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[int64]Account)}
}

func (m *MemoryRepository) List(_ context.Context, companyID int64) ([]Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Account
	for _, a := range m.rows {
		if a.CompanyID == companyID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *MemoryRepository) Get(_ context.Context, companyID, id int64) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.rows[id]
	if !ok || a.CompanyID != companyID {
		return Account{}, shared.ErrAccountNotFound
	}
	return a, nil
}

// Lookup returns the account regardless of company.
func (m *MemoryRepository) Lookup(id int64) (Account, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.rows[id]
	return a, ok
}

func (m *MemoryRepository) Insert(_ context.Context, a Account) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rows {
		if existing.CompanyID == a.CompanyID && existing.Code == a.Code {
			return Account{}, shared.ErrAccountCodeTaken
		}
	}
	if a.ID == 0 {
		m.nextID++
		a.ID = m.nextID
	} else if a.ID > m.nextID {
		m.nextID = a.ID
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	m.rows[a.ID] = a
	return a, nil
}

func (m *MemoryRepository) SetActive(_ context.Context, companyID, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok || a.CompanyID != companyID {
		return shared.ErrAccountNotFound
	}
	a.IsActive = active
	a.UpdatedAt = time.Now()
	m.rows[id] = a
	return nil
}
