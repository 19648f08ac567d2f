package periods

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	core "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type roleAuthorizer map[int64]rbac.Role

func (a roleAuthorizer) Authorize(_ context.Context, p core.Principal, res rbac.Resource, action rbac.Action) error {
	role, ok := a[p.UserID]
	if !ok {
		return core.ErrUnauthorized
	}
	if !rbac.Can(role, res, action) {
		return core.ErrForbidden
	}
	return nil
}

var (
	owner      = core.Principal{UserID: 1, CompanyID: 3}
	admin      = core.Principal{UserID: 2, CompanyID: 3}
	accountant = core.Principal{UserID: 3, CompanyID: 3}
)

func newService(t *testing.T, locker Locker) (*Service, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	authz := roleAuthorizer{1: rbac.RoleOwner, 2: rbac.RoleAdmin, 3: rbac.RoleAccountant}
	svc := NewService(repo, authz, locker, nil)
	svc.WithNow(func() time.Time { return time.Date(2024, 2, 3, 10, 0, 0, 0, time.UTC) })
	return svc, repo
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCreatePeriodRejectsOverlap(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	jan, err := svc.CreatePeriod(ctx, admin, CreateInput{Code: "2024-01", StartDate: date(2024, 1, 1), EndDate: date(2024, 1, 31)})
	require.NoError(t, err)
	require.Equal(t, PeriodStatusOpen, jan.Status)

	_, err = svc.CreatePeriod(ctx, admin, CreateInput{Code: "X", StartDate: date(2024, 1, 31), EndDate: date(2024, 2, 28)})
	require.ErrorIs(t, err, shared.ErrPeriodOverlap)

	_, err = svc.CreatePeriod(ctx, admin, CreateInput{Code: "2024-02", StartDate: date(2024, 2, 1), EndDate: date(2024, 2, 29)})
	require.NoError(t, err)

	_, err = svc.CreatePeriod(ctx, admin, CreateInput{Code: "bad", StartDate: date(2024, 4, 2), EndDate: date(2024, 4, 1)})
	require.ErrorIs(t, err, core.ErrValidation)

	_, err = svc.CreatePeriod(ctx, accountant, CreateInput{Code: "2024-03", StartDate: date(2024, 3, 1), EndDate: date(2024, 3, 31)})
	require.ErrorIs(t, err, core.ErrForbidden)

	list, err := svc.ListPeriods(ctx, accountant)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "2024-01", list[0].Code)
}

func TestBoundsAreInclusive(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	_, err := svc.CreatePeriod(ctx, admin, CreateInput{Code: "2024-01", StartDate: date(2024, 1, 1), EndDate: date(2024, 1, 31)})
	require.NoError(t, err)

	p, err := svc.FindForDate(ctx, accountant, time.Date(2024, 1, 31, 23, 59, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, "2024-01", p.Code)

	p, err = svc.FindForDate(ctx, accountant, date(2024, 1, 1))
	require.NoError(t, err)
	require.True(t, p.Contains(date(2024, 1, 1)))

	_, err = svc.FindForDate(ctx, accountant, date(2024, 2, 1))
	require.ErrorIs(t, err, shared.ErrNoPeriod)
}

func TestCloseAndReopenPermissions(t *testing.T) {
	svc, repo := newService(t, nil)
	ctx := context.Background()
	jan, err := svc.CreatePeriod(ctx, admin, CreateInput{Code: "2024-01", StartDate: date(2024, 1, 1), EndDate: date(2024, 1, 31)})
	require.NoError(t, err)

	_, err = svc.ClosePeriod(ctx, accountant, jan.ID)
	require.ErrorIs(t, err, core.ErrForbidden)

	closed, err := svc.ClosePeriod(ctx, admin, jan.ID)
	require.NoError(t, err)
	require.Equal(t, PeriodStatusClosed, closed.Status)
	require.Equal(t, admin.UserID, *closed.ClosedBy)

	again, err := svc.ClosePeriod(ctx, admin, jan.ID)
	require.NoError(t, err)
	require.Equal(t, PeriodStatusClosed, again.Status)

	_, err = svc.OpenPeriod(ctx, admin, jan.ID)
	require.ErrorIs(t, err, core.ErrForbidden)

	opened, err := svc.OpenPeriod(ctx, owner, jan.ID)
	require.NoError(t, err)
	require.True(t, opened.IsOpen())
	require.Equal(t, owner.UserID, *opened.ReopenedBy)

	var reopen *core.AuditLog
	actions := []string{}
	for _, log := range repo.AuditTrail() {
		actions = append(actions, log.Action)
		if log.Action == "period.reopen" {
			l := log
			reopen = &l
		}
	}
	require.Equal(t, []string{"period.create", "period.close", "period.reopen"}, actions)
	require.NotNil(t, reopen)
	require.Equal(t, owner.UserID, reopen.ActorID)
	require.False(t, reopen.At.IsZero())
	require.Equal(t, "CLOSED", reopen.Old["status"])

	_, err = svc.ClosePeriod(ctx, admin, 999)
	require.ErrorIs(t, err, shared.ErrPeriodNotFound)
}

func TestCloseRejectsWhileLockHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := cache.NewLocker(client, time.Minute)

	svc, _ := newService(t, locker)
	ctx := context.Background()
	jan, err := svc.CreatePeriod(ctx, admin, CreateInput{Code: "2024-01", StartDate: date(2024, 1, 1), EndDate: date(2024, 1, 31)})
	require.NoError(t, err)

	release, err := locker.Acquire(ctx, core.PeriodLockKey(admin.CompanyID, jan.ID))
	require.NoError(t, err)

	_, err = svc.ClosePeriod(ctx, admin, jan.ID)
	require.ErrorIs(t, err, shared.ErrPeriodBusy)
	require.ErrorIs(t, err, core.ErrStateConflict)

	require.NoError(t, release(ctx))
	closed, err := svc.ClosePeriod(ctx, admin, jan.ID)
	require.NoError(t, err)
	require.Equal(t, PeriodStatusClosed, closed.Status)
	require.False(t, mr.Exists(core.PeriodLockKey(admin.CompanyID, jan.ID)))
}

func TestStatusChangesAreForwardedAfterCommit(t *testing.T) {
	svc, repo := newService(t, nil)
	ctx := context.Background()
	sink := &core.MemoryAuditSink{}
	svc.WithAuditForward(sink)

	jan, err := svc.CreatePeriod(ctx, admin, CreateInput{Code: "2024-01", StartDate: date(2024, 1, 1), EndDate: date(2024, 1, 31)})
	require.NoError(t, err)
	_, err = svc.CreatePeriod(ctx, admin, CreateInput{Code: "overlap", StartDate: date(2024, 1, 15), EndDate: date(2024, 2, 15)})
	require.ErrorIs(t, err, shared.ErrPeriodOverlap)
	_, err = svc.ClosePeriod(ctx, admin, jan.ID)
	require.NoError(t, err)
	_, err = svc.ClosePeriod(ctx, admin, jan.ID)
	require.NoError(t, err)
	_, err = svc.OpenPeriod(ctx, owner, jan.ID)
	require.NoError(t, err)

	require.Equal(t, []string{"period.create", "period.close", "period.reopen"}, sink.Actions())
	require.Equal(t, repo.AuditTrail(), sink.Logs())
}
