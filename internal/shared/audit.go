package shared

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// AuditLog represents a record stored in audit_logs. Records are append-only.
type AuditLog struct {
	ActorID   int64
	CompanyID int64
	Action    string
	Entity    string
	EntityID  string
	Old       map[string]any
	New       map[string]any
	At        time.Time
}

// AuditSink receives audit records.
type AuditSink interface {
	Record(ctx context.Context, log AuditLog) error
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	return RecordAudit(ctx, l.pool, log)
}

// RecordAudit inserts log using q, letting callers keep the record inside their transaction.
func RecordAudit(ctx context.Context, q db.Querier, log AuditLog) error {
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	oldJSON, err := json.Marshal(log.Old)
	if err != nil {
		return err
	}
	newJSON, err := json.Marshal(log.New)
	if err != nil {
		return err
	}
	var at any
	if !log.At.IsZero() {
		at = log.At
	}
	_, err = q.Exec(ctx, `INSERT INTO audit_logs (actor_id, company_id, action, entity, entity_id, old_values, new_values, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`, log.ActorID, log.CompanyID, log.Action, log.Entity, log.EntityID, oldJSON, newJSON, at)
	return err
}

// FanoutSink records to every sink, returning the first failure.
type FanoutSink []AuditSink

// Record implements AuditSink.
func (f FanoutSink) Record(ctx context.Context, log AuditLog) error {
	var first error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, log); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// MemoryAuditSink keeps records in memory. Test mode and package tests read it back.
type MemoryAuditSink struct {
	mu   sync.Mutex
	logs []AuditLog
}

// Record implements AuditSink.
func (m *MemoryAuditSink) Record(_ context.Context, log AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return nil
}

// Logs returns a copy of the recorded entries in arrival order.
func (m *MemoryAuditSink) Logs() []AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditLog(nil), m.logs...)
}

// Actions returns the action of every recorded entry.
func (m *MemoryAuditSink) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.logs))
	for _, log := range m.logs {
		out = append(out, log.Action)
	}
	return out
}

// Reset drops every recorded entry.
func (m *MemoryAuditSink) Reset() {
	m.mu.Lock()
	m.logs = nil
	m.mu.Unlock()
}
