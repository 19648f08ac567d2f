package governance

import (
	"context"
	"sync"
	"time"
)

type memberKey struct{ user, company int64 }

// MemoryStore is an in-process Store used by test mode and package tests.
type MemoryStore struct {
	mu          sync.RWMutex
	members     map[memberKey]Member
	branches    map[int64]Branch
	costCenters map[int64]CostCenter
	warehouses  map[int64]Warehouse
	Lookups     int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		members:     make(map[memberKey]Member),
		branches:    make(map[int64]Branch),
		costCenters: make(map[int64]CostCenter),
		warehouses:  make(map[int64]Warehouse),
	}
}

func (s *MemoryStore) GetMember(_ context.Context, userID, companyID int64) (Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Lookups++
	m, ok := s.members[memberKey{userID, companyID}]
	if !ok {
		return Member{}, ErrNotFound
	}
	return m, nil
}

func (s *MemoryStore) UpsertMember(_ context.Context, m Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if prev, ok := s.members[memberKey{m.UserID, m.CompanyID}]; ok {
		m.CreatedAt = prev.CreatedAt
	} else {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	s.members[memberKey{m.UserID, m.CompanyID}] = m
	return nil
}

func (s *MemoryStore) DeleteMember(_ context.Context, userID, companyID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[memberKey{userID, companyID}]; !ok {
		return ErrNotFound
	}
	delete(s.members, memberKey{userID, companyID})
	return nil
}

func (s *MemoryStore) GetBranch(_ context.Context, id int64) (Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.branches[id]
	if !ok {
		return Branch{}, ErrNotFound
	}
	return b, nil
}

func (s *MemoryStore) GetCostCenter(_ context.Context, id int64) (CostCenter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.costCenters[id]
	if !ok {
		return CostCenter{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) GetWarehouse(_ context.Context, id int64) (Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.warehouses[id]
	if !ok {
		return Warehouse{}, ErrNotFound
	}
	return w, nil
}

// AddBranch seeds a branch.
func (s *MemoryStore) AddBranch(b Branch) {
	s.mu.Lock()
	s.branches[b.ID] = b
	s.mu.Unlock()
}

// AddCostCenter seeds a cost center.
func (s *MemoryStore) AddCostCenter(c CostCenter) {
	s.mu.Lock()
	s.costCenters[c.ID] = c
	s.mu.Unlock()
}

// AddWarehouse seeds a warehouse.
func (s *MemoryStore) AddWarehouse(w Warehouse) {
	s.mu.Lock()
	s.warehouses[w.ID] = w
	s.mu.Unlock()
}
