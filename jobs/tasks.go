package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGLIntegrity re-checks the balance invariant of posted journal entries.
	TaskGLIntegrity = "ledger:gl_integrity"
	// TaskAuditForward hands one audit record to the external audit collaborator.
	TaskAuditForward = "audit:forward"
)

// GLIntegrityPayload selects the company to scan. Zero scans every company.
type GLIntegrityPayload struct {
	CompanyID int64 `json:"company_id"`
}

// NewGLIntegrityTask constructs an Asynq task.
func NewGLIntegrityTask(companyID int64) (*asynq.Task, error) {
	data, err := json.Marshal(GLIntegrityPayload{CompanyID: companyID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLIntegrity, data), nil
}

// AuditForwardPayload mirrors one audit_logs record.
type AuditForwardPayload struct {
	ActorID   int64          `json:"actor_id"`
	CompanyID int64          `json:"company_id"`
	Action    string         `json:"action"`
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entity_id"`
	Old       map[string]any `json:"old,omitempty"`
	New       map[string]any `json:"new,omitempty"`
	At        time.Time      `json:"at"`
}

// NewAuditForwardTask constructs an Asynq task.
func NewAuditForwardTask(payload AuditForwardPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditForward, data), nil
}
