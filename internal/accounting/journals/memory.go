package journals

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	core "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AccountSource resolves accounts for the in-memory ledger.
type AccountSource interface {
	Lookup(id int64) (accounts.Account, bool)
}

// PeriodSource resolves periods for the in-memory ledger.
type PeriodSource interface {
	FindByDate(ctx context.Context, companyID int64, date time.Time) (periods.Period, error)
}

// MemoryRepository is an in-process ledger used by test mode. Transactions are
// serialized and become visible only on Commit.
type MemoryRepository struct {
	mu       sync.RWMutex
	txMu     sync.Mutex
	accounts AccountSource
	periods  PeriodSource
	nextID   int64
	nextLine int64
	entries  map[int64]JournalEntry
	audit    []core.AuditLog
	// FailInserts makes the next n InsertJournal calls fail with a storage error.
	FailInserts int
}

func NewMemoryRepository(accounts AccountSource, periods PeriodSource) *MemoryRepository {
	return &MemoryRepository{accounts: accounts, periods: periods, entries: make(map[int64]JournalEntry)}
}

// Begin opens a serialized transaction. Callers must Commit or Rollback.
func (m *MemoryRepository) Begin() *MemoryTx {
	m.txMu.Lock()
	return &MemoryTx{repo: m}
}

func (m *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := m.Begin()
	if err := fn(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}
	tx.Commit()
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, companyID, id int64) (JournalEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok || e.CompanyID != companyID {
		return JournalEntry{}, shared.ErrJournalNotFound
	}
	return e, nil
}

func (m *MemoryRepository) FindByReference(_ context.Context, companyID int64, refType, refID string) (JournalEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findByReference(companyID, refType, refID)
}

func (m *MemoryRepository) findByReference(companyID int64, refType, refID string) (JournalEntry, error) {
	for _, e := range m.entries {
		if e.CompanyID == companyID && e.ReferenceType == refType && e.ReferenceID == refID {
			return e, nil
		}
	}
	return JournalEntry{}, shared.ErrJournalNotFound
}

func (m *MemoryRepository) ListPosted(_ context.Context, companyID int64, from, to time.Time) ([]JournalEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lo, hi := periods.DateOnly(from), periods.DateOnly(to)
	var out []JournalEntry
	for _, e := range m.entries {
		d := periods.DateOnly(e.Date)
		if e.CompanyID == companyID && e.Status == JournalStatusPosted && !d.Before(lo) && !d.After(hi) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

func (m *MemoryRepository) UnbalancedEntries(_ context.Context, companyID int64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []int64
	for _, e := range m.entries {
		if (companyID == 0 || e.CompanyID == companyID) && e.Status == JournalStatusPosted && !e.Balanced() {
			ids = append(ids, e.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Entries returns every committed entry ordered by id.
func (m *MemoryRepository) Entries() []JournalEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]JournalEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
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

// Corrupt replaces the lines of a committed entry, bypassing every check.
func (m *MemoryRepository) Corrupt(id int64, lines []JournalLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	e.Lines = lines
	m.entries[id] = e
}

// MemoryTx stages writes of one in-memory transaction.
type MemoryTx struct {
	repo    *MemoryRepository
	staged  []JournalEntry
	audit   []core.AuditLog
	done    bool
	onClose []func(committed bool)
}

// OnClose registers a hook run after Commit or Rollback.
func (t *MemoryTx) OnClose(fn func(committed bool)) {
	t.onClose = append(t.onClose, fn)
}

// Commit publishes staged writes and releases the transaction.
func (t *MemoryTx) Commit() {
	if t.done {
		return
	}
	t.done = true
	t.repo.mu.Lock()
	for _, e := range t.staged {
		t.repo.entries[e.ID] = e
	}
	t.repo.audit = append(t.repo.audit, t.audit...)
	t.repo.mu.Unlock()
	t.repo.txMu.Unlock()
	for _, fn := range t.onClose {
		fn(true)
	}
}

// Rollback discards staged writes and releases the transaction.
func (t *MemoryTx) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.repo.mu.Lock()
	t.repo.nextID -= int64(len(t.staged))
	t.repo.mu.Unlock()
	t.repo.txMu.Unlock()
	for _, fn := range t.onClose {
		fn(false)
	}
}

func (t *MemoryTx) GetPeriodForDate(ctx context.Context, companyID int64, date time.Time) (periods.Period, error) {
	if t.repo.periods == nil {
		return periods.Period{}, shared.ErrNoPeriod
	}
	return t.repo.periods.FindByDate(ctx, companyID, date)
}

func (t *MemoryTx) GetAccounts(_ context.Context, companyID int64, ids []int64) (map[int64]accounts.Account, error) {
	out := make(map[int64]accounts.Account, len(ids))
	if t.repo.accounts == nil {
		return out, nil
	}
	for _, id := range ids {
		if a, ok := t.repo.accounts.Lookup(id); ok && a.CompanyID == companyID {
			out[id] = a
		}
	}
	return out, nil
}

func (t *MemoryTx) FindByReference(_ context.Context, companyID int64, refType, refID string) (JournalEntry, error) {
	for _, e := range t.staged {
		if e.CompanyID == companyID && e.ReferenceType == refType && e.ReferenceID == refID {
			return e, nil
		}
	}
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	return t.repo.findByReference(companyID, refType, refID)
}

func (t *MemoryTx) GetJournalWithLines(_ context.Context, companyID, id int64) (JournalEntry, error) {
	for _, e := range t.staged {
		if e.ID == id && e.CompanyID == companyID {
			return e, nil
		}
	}
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	e, ok := t.repo.entries[id]
	if !ok || e.CompanyID != companyID {
		return JournalEntry{}, shared.ErrJournalNotFound
	}
	return e, nil
}

func (t *MemoryTx) InsertJournal(ctx context.Context, entry JournalEntry) (JournalEntry, error) {
	if _, err := t.FindByReference(ctx, entry.CompanyID, entry.ReferenceType, entry.ReferenceID); err == nil {
		return JournalEntry{}, shared.ErrReferenceTaken
	}
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if t.repo.FailInserts > 0 {
		t.repo.FailInserts--
		return JournalEntry{}, errMemoryStorage
	}
	t.repo.nextID++
	entry.ID = t.repo.nextID
	now := time.Now()
	entry.PostedAt, entry.CreatedAt, entry.UpdatedAt = now, now, now
	lines := make([]JournalLine, 0, len(entry.Lines))
	for i, l := range entry.Lines {
		t.repo.nextLine++
		l.ID = t.repo.nextLine
		l.JournalID = entry.ID
		l.LineNo = i + 1
		lines = append(lines, l)
	}
	entry.Lines = lines
	t.staged = append(t.staged, entry)
	return entry, nil
}

func (t *MemoryTx) RecordAudit(ctx context.Context, log core.AuditLog) error {
	t.audit = append(t.audit, log)
	core.Stage(ctx, log)
	return nil
}

type memoryStorageError struct{}

func (memoryStorageError) Error() string { return "journals: injected storage failure" }

var errMemoryStorage error = memoryStorageError{}
