package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// DefaultAuditStream is the Redis stream read by the external audit collaborator.
const DefaultAuditStream = "odyssey:audit"

// Enqueuer submits tasks; *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AuditForwarder is a shared.AuditSink that queues records for forwarding.
type AuditForwarder struct {
	queue Enqueuer
}

// NewAuditForwarder wraps queue. A nil queue yields a sink that drops records.
func NewAuditForwarder(queue Enqueuer) *AuditForwarder {
	return &AuditForwarder{queue: queue}
}

// Record enqueues log on the default queue.
func (f *AuditForwarder) Record(ctx context.Context, log shared.AuditLog) error {
	if f == nil || f.queue == nil {
		return nil
	}
	at := log.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	task, err := NewAuditForwardTask(AuditForwardPayload{
		ActorID:   log.ActorID,
		CompanyID: log.CompanyID,
		Action:    log.Action,
		Entity:    log.Entity,
		EntityID:  log.EntityID,
		Old:       log.Old,
		New:       log.New,
		At:        at,
	})
	if err != nil {
		return err
	}
	_, err = f.queue.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(5))
	return err
}

// AuditForwardJob appends queued audit records to a Redis stream.
type AuditForwardJob struct {
	Redis   *redis.Client
	Stream  string
	MaxLen  int64
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditForwardJob initialises the forward handler.
func NewAuditForwardJob(client *redis.Client, stream string, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditForwardJob {
	if stream == "" {
		stream = DefaultAuditStream
	}
	return &AuditForwardJob{Redis: client, Stream: stream, MaxLen: 100000, Logger: logger, Metrics: metrics}
}

// Handle executes one forward. Malformed payloads are dropped without retry.
func (j *AuditForwardJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Redis == nil {
		return errors.New("audit forward: handler not configured")
	}
	var payload AuditForwardPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Action == "" || payload.Entity == "" {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskAuditForward)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	values, err := streamValues(payload)
	if err != nil {
		return fmt.Errorf("audit forward: encode: %w", err)
	}
	id, err := j.Redis.XAdd(ctx, &redis.XAddArgs{
		Stream: j.Stream,
		MaxLen: j.MaxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		j.logger().Error("audit forward failed", slog.String("action", payload.Action), slog.Any("error", err))
		return err
	}
	j.Metrics.AddForwarded(payload.Action)
	j.logger().Debug("audit record forwarded", slog.String("stream_id", id), slog.String("action", payload.Action))
	return nil
}

func streamValues(p AuditForwardPayload) (map[string]any, error) {
	oldJSON, err := json.Marshal(p.Old)
	if err != nil {
		return nil, err
	}
	newJSON, err := json.Marshal(p.New)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"actor_id":   strconv.FormatInt(p.ActorID, 10),
		"company_id": strconv.FormatInt(p.CompanyID, 10),
		"action":     p.Action,
		"entity":     p.Entity,
		"entity_id":  p.EntityID,
		"old":        string(oldJSON),
		"new":        string(newJSON),
		"at":         p.At.UTC().Format(time.RFC3339Nano),
	}, nil
}

func (j *AuditForwardJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
