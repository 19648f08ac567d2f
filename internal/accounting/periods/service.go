package periods

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	core "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Locker serializes close/open of one period across processes.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(context.Context) error, error)
}

// Service is the period registry and lock manager.
type Service struct {
	repo    Repository
	authz   rbac.Authorizer
	locker  Locker
	logger  *slog.Logger
	now     func() time.Time
	forward core.AuditSink
}

func NewService(repo Repository, authz rbac.Authorizer, locker Locker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, authz: authz, locker: locker, logger: logger, now: time.Now}
}

func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithAuditForward hands every audit record committed by this service to sink.
func (s *Service) WithAuditForward(sink core.AuditSink) {
	s.forward = sink
}

// withTx runs fn in a repository transaction and forwards its audit records after commit.
func (s *Service) withTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return core.AfterCommit(ctx, s.forward, s.logger, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, fn)
	})
}

// ListPeriods returns the company's periods ordered by start date.
func (s *Service) ListPeriods(ctx context.Context, p core.Principal) ([]Period, error) {
	if err := s.authz.Authorize(ctx, p, rbac.ResourcePeriod, rbac.ActionRead); err != nil {
		return nil, err
	}
	list, err := s.repo.List(ctx, p.CompanyID)
	if err != nil {
		return nil, core.Storage("list periods", err)
	}
	return list, nil
}

// FindForDate returns the period covering date in any status.
func (s *Service) FindForDate(ctx context.Context, p core.Principal, date time.Time) (Period, error) {
	if err := s.authz.Authorize(ctx, p, rbac.ResourcePeriod, rbac.ActionRead); err != nil {
		return Period{}, err
	}
	period, err := s.repo.FindByDate(ctx, p.CompanyID, date)
	if err != nil {
		return Period{}, core.Storage("find period", err)
	}
	return period, nil
}

// CreatePeriod registers an open period. Periods of a company never overlap.
func (s *Service) CreatePeriod(ctx context.Context, p core.Principal, in CreateInput) (Period, error) {
	if err := s.authz.Authorize(ctx, p, rbac.ResourcePeriod, rbac.ActionCreate); err != nil {
		return Period{}, err
	}
	in.Code = strings.TrimSpace(in.Code)
	if in.Code == "" {
		return Period{}, core.Validation("period_code_required", "period code is required")
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() || DateOnly(in.EndDate).Before(DateOnly(in.StartDate)) {
		return Period{}, core.Validation("invalid_period_range", "end date must not precede start date")
	}
	var created Period
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		overlap, err := tx.HasOverlap(ctx, p.CompanyID, in.StartDate, in.EndDate)
		if err != nil {
			return err
		}
		if overlap {
			return shared.ErrPeriodOverlap
		}
		created, err = tx.Insert(ctx, Period{
			CompanyID: p.CompanyID,
			Code:      in.Code,
			StartDate: DateOnly(in.StartDate),
			EndDate:   DateOnly(in.EndDate),
			Status:    PeriodStatusOpen,
		})
		if err != nil {
			return err
		}
		return tx.RecordAudit(ctx, core.AuditLog{
			ActorID:   p.UserID,
			CompanyID: p.CompanyID,
			Action:    "period.create",
			Entity:    "accounting_period",
			EntityID:  strconv.FormatInt(created.ID, 10),
			New:       snapshot(created),
			At:        s.now(),
		})
	})
	if err != nil {
		return Period{}, core.Storage("create period", err)
	}
	return created, nil
}

// ClosePeriod closes a period. Allowed for owner and admin.
func (s *Service) ClosePeriod(ctx context.Context, p core.Principal, periodID int64) (Period, error) {
	if err := s.authz.Authorize(ctx, p, rbac.ResourcePeriod, rbac.ActionClose); err != nil {
		return Period{}, err
	}
	return s.setStatus(ctx, p, periodID, PeriodStatusClosed)
}

// OpenPeriod reopens a closed period. Allowed for owner only; always audit-logged.
func (s *Service) OpenPeriod(ctx context.Context, p core.Principal, periodID int64) (Period, error) {
	if err := s.authz.Authorize(ctx, p, rbac.ResourcePeriod, rbac.ActionOpen); err != nil {
		return Period{}, err
	}
	return s.setStatus(ctx, p, periodID, PeriodStatusOpen)
}

func (s *Service) setStatus(ctx context.Context, p core.Principal, periodID int64, target PeriodStatus) (Period, error) {
	release, err := s.acquire(ctx, core.PeriodLockKey(p.CompanyID, periodID))
	if err != nil {
		return Period{}, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release period lock", slog.Int64("period_id", periodID), slog.Any("error", err))
		}
	}()

	var result Period
	err = s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, p.CompanyID, periodID)
		if err != nil {
			return err
		}
		if current.Status == target {
			result = current
			return nil
		}
		old := snapshot(current)
		now := s.now()
		actor := p.UserID
		action := "period.close"
		if target == PeriodStatusClosed {
			current.ClosedAt = &now
			current.ClosedBy = &actor
		} else {
			action = "period.reopen"
			current.ReopenedAt = &now
			current.ReopenedBy = &actor
		}
		current.Status = target
		if err := tx.UpdateStatus(ctx, current); err != nil {
			return err
		}
		result = current
		return tx.RecordAudit(ctx, core.AuditLog{
			ActorID:   actor,
			CompanyID: p.CompanyID,
			Action:    action,
			Entity:    "accounting_period",
			EntityID:  strconv.FormatInt(current.ID, 10),
			Old:       old,
			New:       snapshot(current),
			At:        now,
		})
	})
	if err != nil {
		return Period{}, core.Storage("update period status", err)
	}
	s.logger.Info("period status", slog.Int64("period_id", periodID), slog.String("status", string(result.Status)), slog.Int64("actor_id", p.UserID))
	return result, nil
}

func (s *Service) acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	if s.locker == nil {
		return func(context.Context) error { return nil }, nil
	}
	release, err := s.locker.Acquire(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			return nil, shared.ErrPeriodBusy
		}
		return nil, core.Storage("acquire period lock", err)
	}
	return release, nil
}

func snapshot(p Period) map[string]any {
	return map[string]any{
		"code":       p.Code,
		"start_date": p.StartDate.Format(time.DateOnly),
		"end_date":   p.EndDate.Format(time.DateOnly),
		"status":     string(p.Status),
	}
}
