package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/documents"
	"github.com/odyssey-erp/odyssey-ledger/internal/governance"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/refunds"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/testing/fixture"
)

// Services holds the wired domain services.
type Services struct {
	Resolver  *governance.Resolver
	Accounts  *accounts.Service
	Periods   *periods.Service
	Journals  *journals.Service
	Documents *documents.Service
	Refunds   *refunds.Service
}

// ServiceDeps groups infrastructure used to build Services.
type ServiceDeps struct {
	Config  *Config
	Logger  *slog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics
	// Audit receives every audit record in addition to audit_logs. Transactional
	// records are handed over after their transaction commits.
	Audit shared.AuditSink
}

// NewServices wires the Postgres-backed services.
func NewServices(deps ServiceDeps) (*Services, error) {
	if deps.Pool == nil {
		return nil, fmt.Errorf("app: services require a database pool")
	}
	fullRoles, err := deps.Config.FullRoles()
	if err != nil {
		return nil, err
	}
	audit := shared.FanoutSink{shared.NewAuditLogger(deps.Pool), deps.Audit}

	resolver := governance.NewResolver(governance.NewRepository(deps.Pool), audit, deps.Logger, fullRoles...)
	locker := cache.NewLocker(deps.Redis, deps.Config.LockTTL)

	ledger := journals.NewService(journals.NewRepository(deps.Pool), resolver, deps.Logger)
	ledger.WithRetries(deps.Config.PostingRetry)
	ledger.WithMetrics(deps.Metrics)
	ledger.WithAuditForward(deps.Audit)

	periodService := periods.NewService(periods.NewRepository(deps.Pool), resolver, locker, deps.Logger)
	periodService.WithAuditForward(deps.Audit)

	documentService := documents.NewService(documents.NewRepository(deps.Pool), resolver, ledger, deps.Logger)
	documentService.WithRetries(deps.Config.PostingRetry)
	documentService.WithAuditForward(deps.Audit)

	refundService := refunds.NewService(refunds.NewRepository(deps.Pool), resolver, ledger, deps.Logger)
	refundService.WithRetries(deps.Config.PostingRetry)
	refundService.WithMetrics(deps.Metrics)
	refundService.WithAuditForward(deps.Audit)

	return &Services{
		Resolver:  resolver,
		Accounts:  accounts.NewService(accounts.NewRepository(deps.Pool), resolver, audit),
		Periods:   periodService,
		Journals:  ledger,
		Documents: documentService,
		Refunds:   refundService,
	}, nil
}

// NewMemoryServices wires the in-memory demo company used in test mode.
func NewMemoryServices(ctx context.Context, logger *slog.Logger, metrics *observability.Metrics) (*Services, error) {
	world, err := fixture.New(ctx, logger)
	if err != nil {
		return nil, err
	}
	world.Journals.WithMetrics(metrics)
	refundService := refunds.NewService(refunds.NewMemoryRepository(world.Ledger), world.Resolver, world.Journals, logger)
	refundService.WithMetrics(metrics)
	refundService.WithAuditForward(world.Audit)
	documentService := documents.NewService(documents.NewMemoryRepository(world.Ledger), world.Resolver, world.Journals, logger)
	documentService.WithAuditForward(world.Audit)
	return &Services{
		Resolver:  world.Resolver,
		Accounts:  accounts.NewService(world.Accounts, world.Resolver, world.Audit),
		Periods:   world.PeriodService,
		Journals:  world.Journals,
		Documents: documentService,
		Refunds:   refundService,
	}, nil
}
