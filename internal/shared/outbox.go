package shared

import (
	"context"
	"log/slog"
	"sync"
)

type outboxKey struct{}

// Outbox holds audit records written inside a transaction until it commits.
type Outbox struct {
	mu   sync.Mutex
	logs []AuditLog
}

// WithOutbox returns a context carrying a fresh Outbox.
func WithOutbox(ctx context.Context) (context.Context, *Outbox) {
	box := &Outbox{}
	return context.WithValue(ctx, outboxKey{}, box), box
}

// Stage queues log on the outbox carried by ctx. Without one it does nothing.
func Stage(ctx context.Context, log AuditLog) {
	box, _ := ctx.Value(outboxKey{}).(*Outbox)
	if box == nil {
		return
	}
	box.mu.Lock()
	box.logs = append(box.logs, log)
	box.mu.Unlock()
}

// Flush hands every staged record to sink and empties the outbox. Delivery failures
// are logged; the committed audit_logs rows remain the durable copy.
func (o *Outbox) Flush(ctx context.Context, sink AuditSink, logger *slog.Logger) {
	o.mu.Lock()
	logs := o.logs
	o.logs = nil
	o.mu.Unlock()
	if sink == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, log := range logs {
		if err := sink.Record(ctx, log); err != nil && logger != nil {
			logger.Warn("audit forward", slog.String("action", log.Action), slog.Any("error", err))
		}
	}
}

// AfterCommit runs commit with an outbox in ctx and, once commit succeeds, forwards
// the records staged during it to sink. A nil sink runs commit unchanged.
func AfterCommit(ctx context.Context, sink AuditSink, logger *slog.Logger, commit func(context.Context) error) error {
	if sink == nil {
		return commit(ctx)
	}
	ctx, box := WithOutbox(ctx)
	if err := commit(ctx); err != nil {
		return err
	}
	box.Flush(ctx, sink, logger)
	return nil
}
