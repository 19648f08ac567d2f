package accounts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
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

func TestCreateAccountDefaultsNormalBalance(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, roleAuthorizer{1: rbac.RoleAccountant}, nil)
	p := core.Principal{UserID: 1, CompanyID: 7}
	ctx := context.Background()

	group, err := svc.Create(ctx, p, CreateInput{Code: "1000", Name: "Assets", Type: "asset", IsGroup: true})
	require.NoError(t, err)
	require.Equal(t, NormalDebit, group.NormalBalance)

	cash, err := svc.Create(ctx, p, CreateInput{Code: "1100", Name: "Cash", Type: AccountTypeAsset, ParentID: &group.ID})
	require.NoError(t, err)
	require.True(t, cash.Postable(7))
	require.False(t, group.Postable(7))
	require.False(t, cash.Postable(8))

	revenue, err := svc.Create(ctx, p, CreateInput{Code: "4000", Name: "Sales", Type: AccountTypeRevenue})
	require.NoError(t, err)
	require.Equal(t, NormalCredit, revenue.NormalBalance)

	_, err = svc.Create(ctx, p, CreateInput{Code: "1100", Name: "Dup", Type: AccountTypeAsset})
	require.ErrorIs(t, err, shared.ErrAccountCodeTaken)

	_, err = svc.Create(ctx, p, CreateInput{Code: "1200", Name: "Bank", Type: AccountTypeAsset, ParentID: &cash.ID})
	require.ErrorIs(t, err, core.ErrValidation)

	_, err = svc.Create(ctx, p, CreateInput{Code: "9", Name: "Odd", Type: "MISC"})
	require.ErrorIs(t, err, core.ErrValidation)

	list, err := svc.List(ctx, p)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "1000", list[0].Code)
}

func TestSetActiveRequiresPermission(t *testing.T) {
	repo := NewMemoryRepository()
	authz := roleAuthorizer{1: rbac.RoleAdmin, 2: rbac.RoleAccountant}
	svc := NewService(repo, authz, nil)
	ctx := context.Background()
	admin := core.Principal{UserID: 1, CompanyID: 7}

	a, err := svc.Create(ctx, admin, CreateInput{Code: "5000", Name: "Expense", Type: AccountTypeExpense})
	require.NoError(t, err)

	require.ErrorIs(t, svc.SetActive(ctx, core.Principal{UserID: 2, CompanyID: 7}, a.ID, false), core.ErrForbidden)
	require.NoError(t, svc.SetActive(ctx, admin, a.ID, false))

	got, err := svc.Get(ctx, admin, a.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)
	require.False(t, got.Postable(7))

	require.ErrorIs(t, svc.SetActive(ctx, admin, 999, true), core.ErrNotFound)
}
