package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// IntegrityChecker reports posted entries whose lines do not balance.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context, companyID int64) ([]int64, error)
}

// GLIntegrityJob scans the ledger for entries violating the balance invariant.
type GLIntegrityJob struct {
	Checker IntegrityChecker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewGLIntegrityJob initialises the integrity handler.
func NewGLIntegrityJob(checker IntegrityChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{
		Checker: checker,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one integrity scan. Unbalanced entries are reported, not repaired.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Checker == nil {
		return errors.New("gl integrity: handler not configured")
	}
	var payload GLIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	start := j.clock()
	tracker := j.Metrics.Track(TaskGLIntegrity)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int64("company_id", payload.CompanyID))
	ids, err := j.Checker.CheckIntegrity(ctx, payload.CompanyID)
	if err != nil {
		logger.Error("gl integrity check failed", slog.Any("error", err))
		return err
	}
	j.Metrics.SetUnbalanced(payload.CompanyID, len(ids))
	if len(ids) > 0 {
		logger.Warn("unbalanced journal entries detected", slog.Any("entry_ids", ids))
	}
	logger.Info("completed gl integrity check",
		slog.Int("unbalanced", len(ids)),
		slog.Duration("duration", j.clock().Sub(start)),
	)
	return nil
}

func (j *GLIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
