// Package fixture assembles an in-memory company with a chart of accounts, a fiscal
// year of open periods and members of every role. Test mode and package tests share it.
package fixture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/governance"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	core "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const (
	CompanyID      int64 = 1
	OtherCompanyID int64 = 2

	BranchJakarta  int64 = 10
	BranchSurabaya int64 = 11
	BranchForeign  int64 = 20
	CostCenterJKT  int64 = 100
	CostCenterSBY  int64 = 101
	WarehouseMain  int64 = 500
)

// Users of CompanyID, one per role. StaffSelf has no branch and sees only its own records.
const (
	Owner int64 = iota + 1
	Admin
	Manager
	Finance
	Accountant
	Staff
	Viewer
	StaffSelf
	ManagerSurabaya
)

// Chart of accounts of CompanyID.
const (
	AccountAssets                  int64 = 1000
	AccountCash                    int64 = 1101
	AccountReceivable              int64 = 1201
	AccountAccumulatedDepreciation int64 = 1501
	AccountPayable                 int64 = 2101
	AccountCommissionPayable       int64 = 2201
	AccountRevenue                 int64 = 4101
	AccountCommissionExpense       int64 = 6101
	AccountDepreciationExpense     int64 = 6201
	AccountRefundExpense           int64 = 6301
	AccountPurchases               int64 = 5101
)

// FullRoles see the whole company. Finance and accounting staff settle documents of every branch.
var FullRoles = []rbac.Role{rbac.RoleOwner, rbac.RoleAdmin, rbac.RoleFinance, rbac.RoleAccountant}

// Year is the fiscal year covered by the seeded periods.
const Year = 2024

// World is the in-memory stack.
type World struct {
	Members       *governance.MemoryStore
	Resolver      *governance.Resolver
	Accounts      *accounts.MemoryRepository
	Periods       *periods.MemoryRepository
	PeriodService *periods.Service
	Ledger        *journals.MemoryRepository
	Journals      *journals.Service
	// Audit receives resolver records and every forwarded transactional record.
	Audit         *core.MemoryAuditSink
}

// New builds and seeds a World. logger may be nil.
func New(ctx context.Context, logger *slog.Logger) (*World, error) {
	w := &World{
		Members:  governance.NewMemoryStore(),
		Accounts: accounts.NewMemoryRepository(),
		Periods:  periods.NewMemoryRepository(),
		Audit:    &core.MemoryAuditSink{},
	}
	w.Resolver = governance.NewResolver(w.Members, w.Audit, logger, FullRoles...)
	w.PeriodService = periods.NewService(w.Periods, w.Resolver, nil, logger)
	w.PeriodService.WithAuditForward(w.Audit)
	w.Ledger = journals.NewMemoryRepository(w.Accounts, w.Periods)
	w.Journals = journals.NewService(w.Ledger, w.Resolver, logger)
	w.Journals.WithAuditForward(w.Audit)

	if err := w.seedHierarchy(ctx); err != nil {
		return nil, err
	}
	if err := w.seedAccounts(ctx); err != nil {
		return nil, err
	}
	if err := w.seedPeriods(ctx); err != nil {
		return nil, err
	}
	w.Audit.Reset()
	return w, nil
}

// Principal returns the principal of user in CompanyID.
func Principal(user int64) core.Principal {
	return core.Principal{UserID: user, CompanyID: CompanyID}
}

// Date returns a calendar date in Year.
func Date(m time.Month, d int) time.Time {
	return time.Date(Year, m, d, 0, 0, 0, 0, time.UTC)
}

// ID returns a pointer to v.
func ID(v int64) *int64 { return &v }

func (w *World) seedHierarchy(ctx context.Context) error {
	w.Members.AddBranch(governance.Branch{ID: BranchJakarta, CompanyID: CompanyID, Code: "JKT", Name: "Jakarta"})
	w.Members.AddBranch(governance.Branch{ID: BranchSurabaya, CompanyID: CompanyID, Code: "SBY", Name: "Surabaya"})
	w.Members.AddBranch(governance.Branch{ID: BranchForeign, CompanyID: OtherCompanyID, Code: "SG", Name: "Singapore"})
	w.Members.AddCostCenter(governance.CostCenter{ID: CostCenterJKT, CompanyID: CompanyID, BranchID: BranchJakarta, Code: "JKT-OPS"})
	w.Members.AddCostCenter(governance.CostCenter{ID: CostCenterSBY, CompanyID: CompanyID, BranchID: BranchSurabaya, Code: "SBY-OPS"})
	w.Members.AddWarehouse(governance.Warehouse{ID: WarehouseMain, CompanyID: CompanyID, DefaultCostCenterID: ID(CostCenterJKT), Code: "WH-1"})

	members := []governance.Member{
		{UserID: Owner, Role: rbac.RoleOwner},
		{UserID: Admin, Role: rbac.RoleAdmin},
		{UserID: Manager, Role: rbac.RoleManager, BranchID: ID(BranchJakarta)},
		{UserID: Finance, Role: rbac.RoleFinance},
		{UserID: Accountant, Role: rbac.RoleAccountant},
		{UserID: Staff, Role: rbac.RoleStaff, BranchID: ID(BranchJakarta), CostCenterID: ID(CostCenterJKT)},
		{UserID: Viewer, Role: rbac.RoleViewer},
		{UserID: StaffSelf, Role: rbac.RoleStaff},
		{UserID: ManagerSurabaya, Role: rbac.RoleManager, BranchID: ID(BranchSurabaya)},
	}
	for _, m := range members {
		m.CompanyID = CompanyID
		if err := w.Members.UpsertMember(ctx, m); err != nil {
			return fmt.Errorf("fixture: seed member %d: %w", m.UserID, err)
		}
	}
	return nil
}

func (w *World) seedAccounts(ctx context.Context) error {
	chart := []accounts.Account{
		{ID: AccountAssets, Code: "1000", Name: "Assets", Type: accounts.AccountTypeAsset, IsGroup: true},
		{ID: AccountCash, Code: "1101", Name: "Cash", Type: accounts.AccountTypeAsset, ParentID: ID(AccountAssets)},
		{ID: AccountReceivable, Code: "1201", Name: "Accounts Receivable", Type: accounts.AccountTypeAsset, ParentID: ID(AccountAssets)},
		{ID: AccountAccumulatedDepreciation, Code: "1501", Name: "Accumulated Depreciation", Type: accounts.AccountTypeAsset, NormalBalance: accounts.NormalCredit},
		{ID: AccountPayable, Code: "2101", Name: "Accounts Payable", Type: accounts.AccountTypeLiability},
		{ID: AccountCommissionPayable, Code: "2201", Name: "Commission Payable", Type: accounts.AccountTypeLiability},
		{ID: AccountRevenue, Code: "4101", Name: "Sales Revenue", Type: accounts.AccountTypeRevenue},
		{ID: AccountPurchases, Code: "5101", Name: "Purchases", Type: accounts.AccountTypeExpense},
		{ID: AccountCommissionExpense, Code: "6101", Name: "Commission Expense", Type: accounts.AccountTypeExpense},
		{ID: AccountDepreciationExpense, Code: "6201", Name: "Depreciation Expense", Type: accounts.AccountTypeExpense},
		{ID: AccountRefundExpense, Code: "6301", Name: "Refund Expense", Type: accounts.AccountTypeExpense},
	}
	for _, a := range chart {
		a.CompanyID = CompanyID
		a.IsActive = true
		if a.NormalBalance == "" {
			a.NormalBalance = accounts.DefaultNormalBalance(a.Type)
		}
		if _, err := w.Accounts.Insert(ctx, a); err != nil {
			return fmt.Errorf("fixture: seed account %s: %w", a.Code, err)
		}
	}
	return nil
}

func (w *World) seedPeriods(ctx context.Context) error {
	owner := Principal(Owner)
	for m := time.January; m <= time.December; m++ {
		start := Date(m, 1)
		_, err := w.PeriodService.CreatePeriod(ctx, owner, periods.CreateInput{
			Code:      start.Format("2006-01"),
			StartDate: start,
			EndDate:   start.AddDate(0, 1, -1),
		})
		if err != nil {
			return fmt.Errorf("fixture: seed period %s: %w", start.Format("2006-01"), err)
		}
	}
	return nil
}

// Period returns the seeded period of month m.
func (w *World) Period(ctx context.Context, m time.Month) (periods.Period, error) {
	return w.Periods.FindByDate(ctx, CompanyID, Date(m, 1))
}
