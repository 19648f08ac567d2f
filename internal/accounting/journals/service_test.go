package journals

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
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

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingRecorder) ObservePosting(op, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[op+"/"+outcome]++
}

const company = int64(3)

const (
	cashID     = int64(1)
	revenueID  = int64(2)
	groupID    = int64(3)
	inactiveID = int64(4)
	foreignID  = int64(5)
)

var (
	owner      = core.Principal{UserID: 1, CompanyID: company}
	accountant = core.Principal{UserID: 3, CompanyID: company}
	viewer     = core.Principal{UserID: 9, CompanyID: company}
)

type fixture struct {
	svc     *Service
	repo    *MemoryRepository
	periods *periods.Service
	january periods.Period
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	authz := roleAuthorizer{1: rbac.RoleOwner, 3: rbac.RoleAccountant, 9: rbac.RoleViewer}

	accts := accounts.NewMemoryRepository()
	for _, a := range []accounts.Account{
		{ID: cashID, CompanyID: company, Code: "1100", Name: "Cash", Type: accounts.AccountTypeAsset, IsActive: true},
		{ID: revenueID, CompanyID: company, Code: "4000", Name: "Sales", Type: accounts.AccountTypeRevenue, IsActive: true},
		{ID: groupID, CompanyID: company, Code: "1000", Name: "Assets", Type: accounts.AccountTypeAsset, IsGroup: true, IsActive: true},
		{ID: inactiveID, CompanyID: company, Code: "1200", Name: "Old bank", Type: accounts.AccountTypeAsset},
		{ID: foreignID, CompanyID: 99, Code: "1100", Name: "Cash", Type: accounts.AccountTypeAsset, IsActive: true},
	} {
		_, err := accts.Insert(ctx, a)
		require.NoError(t, err)
	}

	periodRepo := periods.NewMemoryRepository()
	periodSvc := periods.NewService(periodRepo, authz, nil, nil)
	jan, err := periodSvc.CreatePeriod(ctx, owner, periods.CreateInput{Code: "2024-01", StartDate: date(2024, 1, 1), EndDate: date(2024, 1, 31)})
	require.NoError(t, err)
	_, err = periodSvc.CreatePeriod(ctx, owner, periods.CreateInput{Code: "2024-02", StartDate: date(2024, 2, 1), EndDate: date(2024, 2, 29)})
	require.NoError(t, err)

	repo := NewMemoryRepository(accts, periodRepo)
	svc := NewService(repo, authz, nil)
	svc.WithNow(func() time.Time { return time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC) })
	return fixture{svc: svc, repo: repo, periods: periodSvc, january: jan}
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func saleInput(refID string, on time.Time) PostingInput {
	return PostingInput{
		CompanyID:     company,
		Date:          on,
		ReferenceType: "invoice",
		ReferenceID:   refID,
		SourceStatus:  "posted",
		PostedBy:      accountant.UserID,
		Lines: []PostingLineInput{
			{AccountID: cashID, Debit: amount("150.00")},
			{AccountID: revenueID, Credit: amount("150.00")},
		},
	}
}

func TestPostingInputValidation(t *testing.T) {
	base := saleInput("INV-1", date(2024, 2, 5))

	cases := map[string]struct {
		mutate func(*PostingInput)
		want   error
	}{
		"single line": {func(in *PostingInput) { in.Lines = in.Lines[:1] }, shared.ErrTooFewLines},
		"unbalanced": {func(in *PostingInput) {
			in.Lines[1].Credit = amount("149.98")
		}, shared.ErrUnbalanced},
		"both sides": {func(in *PostingInput) {
			in.Lines[0].Credit = amount("1")
		}, shared.ErrInvalidLine},
		"zero line": {func(in *PostingInput) {
			in.Lines = append(in.Lines, PostingLineInput{AccountID: cashID})
		}, shared.ErrInvalidLine},
		"negative": {func(in *PostingInput) {
			in.Lines[0].Debit = amount("-150")
		}, shared.ErrInvalidLine},
		"missing reference": {func(in *PostingInput) { in.ReferenceID = " " }, shared.ErrReferenceRequired},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			in := base
			in.Lines = append([]PostingLineInput(nil), base.Lines...)
			tc.mutate(&in)
			require.ErrorIs(t, in.Validate(), tc.want)
		})
	}

	subCent := saleInput("INV-2", date(2024, 2, 5))
	subCent.Lines[1].Credit = amount("149.995")
	require.ErrorIs(t, subCent.Validate(), shared.ErrSubCent)
}

func TestPostRejectsSubCentAmounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := map[string][]PostingLineInput{
		"half cents rounding to zero": {
			{AccountID: cashID, Debit: amount("0.005")},
			{AccountID: cashID, Debit: amount("0.005")},
			{AccountID: cashID, Debit: amount("0.005")},
			{AccountID: revenueID, Credit: amount("0.015")},
		},
		"rounding breaks balance": {
			{AccountID: cashID, Debit: amount("100.004")},
			{AccountID: cashID, Debit: amount("0.004")},
			{AccountID: revenueID, Credit: amount("100.008")},
		},
	}
	for name, lines := range cases {
		t.Run(name, func(t *testing.T) {
			in := saleInput("INV-"+name, date(2024, 2, 5))
			in.Lines = lines
			_, err := f.svc.Post(ctx, in)
			require.ErrorIs(t, err, shared.ErrSubCent)
		})
	}
	require.Empty(t, f.repo.Entries())

	in := saleInput("INV-CENTS", date(2024, 2, 5))
	in.Lines = []PostingLineInput{
		{AccountID: cashID, Debit: amount("100.01")},
		{AccountID: revenueID, Credit: amount("100.010")},
	}
	entry, err := f.svc.Post(ctx, in)
	require.NoError(t, err)
	require.True(t, entry.Balanced())
}

func TestPostCreatesBalancedEntry(t *testing.T) {
	f := newFixture(t)
	entry, err := f.svc.Post(context.Background(), saleInput("INV-1", date(2024, 2, 5)))
	require.NoError(t, err)
	require.NotZero(t, entry.ID)
	require.Equal(t, JournalStatusPosted, entry.Status)
	require.Len(t, entry.Lines, 2)
	require.True(t, entry.Balanced())
	require.Equal(t, []int{1, 2}, []int{entry.Lines[0].LineNo, entry.Lines[1].LineNo})

	trail := f.repo.AuditTrail()
	require.Len(t, trail, 1)
	require.Equal(t, "journal.post", trail[0].Action)
	require.Equal(t, "150.00", trail[0].New["amount"])
}

func TestPostIsIdempotentPerReference(t *testing.T) {
	f := newFixture(t)
	rec := &countingRecorder{}
	f.svc.WithMetrics(rec)
	ctx := context.Background()

	first, err := f.svc.Post(ctx, saleInput("INV-7", date(2024, 2, 5)))
	require.NoError(t, err)

	again, err := f.svc.Post(ctx, saleInput("INV-7", date(2024, 2, 5)))
	require.True(t, core.IsDuplicate(err))
	require.Equal(t, first.ID, again.ID)
	require.Len(t, f.repo.Entries(), 1)

	changed := saleInput("INV-7", date(2024, 2, 5))
	changed.SourceStatus = "paid"
	_, err = f.svc.Post(ctx, changed)
	require.ErrorIs(t, err, shared.ErrAlreadyPosted)
	require.ErrorIs(t, err, core.ErrStateConflict)
	require.Len(t, f.repo.Entries(), 1)

	require.Equal(t, 1, rec.counts["post/created"])
	require.Equal(t, 1, rec.counts["post/duplicate"])
	require.Equal(t, 1, rec.counts["post/rejected"])
}

func TestConcurrentPostsYieldOneEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]int64, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := f.svc.Post(ctx, saleInput("INV-9", date(2024, 2, 5)))
			ids[i], errs[i] = e.ID, err
		}(i)
	}
	wg.Wait()

	created := 0
	for i, err := range errs {
		if err == nil {
			created++
		} else {
			require.True(t, core.IsDuplicate(err), "unexpected error: %v", err)
		}
		require.Equal(t, ids[0], ids[i])
	}
	require.Equal(t, 1, created)
	require.Len(t, f.repo.Entries(), 1)
}

func TestClosedPeriodRejectsUntilReopened(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.periods.ClosePeriod(ctx, owner, f.january.ID)
	require.NoError(t, err)

	_, err = f.svc.Post(ctx, saleInput("INV-JAN", date(2024, 1, 15)))
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
	require.ErrorIs(t, err, core.ErrStateConflict)
	require.Empty(t, f.repo.Entries())

	_, err = f.periods.OpenPeriod(ctx, owner, f.january.ID)
	require.NoError(t, err)

	entry, err := f.svc.Post(ctx, saleInput("INV-JAN", date(2024, 1, 15)))
	require.NoError(t, err)
	require.Equal(t, f.january.ID, entry.PeriodID)
	require.Len(t, f.repo.Entries(), 1)
	require.Len(t, entry.Lines, 2)
	require.True(t, entry.Balanced())
}

func TestPostWithoutPeriodIsValidationError(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Post(context.Background(), saleInput("INV-MAR", date(2024, 3, 1)))
	require.ErrorIs(t, err, shared.ErrNoPeriod)
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestPostRejectsUnpostableAccounts(t *testing.T) {
	f := newFixture(t)
	for _, id := range []int64{groupID, inactiveID, foreignID, 404} {
		in := saleInput("INV-ACC", date(2024, 2, 5))
		in.Lines[0].AccountID = id
		_, err := f.svc.Post(context.Background(), in)
		require.ErrorIs(t, err, core.ErrValidation, "account %d", id)
	}
	require.Empty(t, f.repo.Entries())
}

func TestPostRetriesStorageFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.FailInserts = 1
	entry, err := f.svc.Post(context.Background(), saleInput("INV-R", date(2024, 2, 5)))
	require.NoError(t, err)
	require.NotZero(t, entry.ID)

	f.repo.FailInserts = 2
	_, err = f.svc.Post(context.Background(), saleInput("INV-S", date(2024, 2, 5)))
	require.ErrorIs(t, err, core.ErrStorageFailure)
	require.Len(t, f.repo.Entries(), 1)
}

func TestPostForwardsAuditAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sink := &core.MemoryAuditSink{}
	f.svc.WithAuditForward(sink)

	f.repo.FailInserts = 2
	_, err := f.svc.Post(ctx, saleInput("INV-F", date(2024, 2, 5)))
	require.ErrorIs(t, err, core.ErrStorageFailure)
	require.Empty(t, sink.Logs())

	entry, err := f.svc.Post(ctx, saleInput("INV-F", date(2024, 2, 5)))
	require.NoError(t, err)
	_, err = f.svc.ReverseEntry(ctx, accountant, entry.ID, "", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"journal.post", "journal.reverse"}, sink.Actions())
	require.Equal(t, f.repo.AuditTrail(), sink.Logs())
}

func TestReverseNegatesEveryAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := saleInput("INV-REV", date(2024, 2, 5))
	in.Lines = []PostingLineInput{
		{AccountID: cashID, Debit: amount("100.00")},
		{AccountID: cashID, Debit: amount("20.50")},
		{AccountID: revenueID, Credit: amount("120.50")},
	}
	original, err := f.svc.Post(ctx, in)
	require.NoError(t, err)

	reversal, err := f.svc.ReverseEntry(ctx, accountant, original.ID, "", nil)
	require.NoError(t, err)
	require.Equal(t, "invoice"+ReversalSuffix, reversal.ReferenceType)
	require.Equal(t, original.ReferenceID, reversal.ReferenceID)
	require.Equal(t, original.Date, reversal.Date)
	require.NotNil(t, reversal.ReversalOf)
	require.Equal(t, original.ID, *reversal.ReversalOf)
	require.True(t, reversal.Balanced())

	before := original.NetByAccount()
	after := reversal.NetByAccount()
	for acct, net := range before {
		require.True(t, net.Neg().Equal(after[acct]), "account %d", acct)
	}

	stored, err := f.repo.Get(ctx, company, original.ID)
	require.NoError(t, err)
	require.Equal(t, original.Lines, stored.Lines)

	again, err := f.svc.ReverseEntry(ctx, accountant, original.ID, "", nil)
	require.True(t, core.IsDuplicate(err))
	require.Equal(t, reversal.ID, again.ID)

	_, err = f.svc.ReverseEntry(ctx, accountant, reversal.ID, "", nil)
	require.ErrorIs(t, err, core.ErrStateConflict)
}

func TestReverseIntoClosedPeriodFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original, err := f.svc.Post(ctx, saleInput("INV-OLD", date(2024, 1, 20)))
	require.NoError(t, err)
	_, err = f.periods.ClosePeriod(ctx, owner, f.january.ID)
	require.NoError(t, err)

	_, err = f.svc.ReverseEntry(ctx, accountant, original.ID, "", nil)
	require.ErrorIs(t, err, shared.ErrPeriodClosed)

	feb := date(2024, 2, 1)
	reversal, err := f.svc.ReverseEntry(ctx, accountant, original.ID, "correct in February", &feb)
	require.NoError(t, err)
	require.Equal(t, feb, reversal.Date)
}

func TestManualPostingRequiresPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := ManualInput{
		Date:           date(2024, 2, 6),
		IdempotencyKey: "adj-1",
		Lines: []PostingLineInput{
			{AccountID: cashID, Debit: amount("10")},
			{AccountID: revenueID, Credit: amount("10")},
		},
	}
	_, err := f.svc.PostManual(ctx, viewer, in)
	require.ErrorIs(t, err, core.ErrForbidden)

	entry, err := f.svc.PostManual(ctx, accountant, in)
	require.NoError(t, err)
	require.Equal(t, ReferenceManual, entry.ReferenceType)
	require.Equal(t, "adj-1", entry.ReferenceID)

	_, err = f.svc.PostManual(ctx, accountant, in)
	require.True(t, core.IsDuplicate(err))
}

func TestCheckIntegrityReportsCorruption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry, err := f.svc.Post(ctx, saleInput("INV-C", date(2024, 2, 5)))
	require.NoError(t, err)

	ids, err := f.svc.CheckIntegrity(ctx, company)
	require.NoError(t, err)
	require.Empty(t, ids)

	f.repo.Corrupt(entry.ID, entry.Lines[:1])
	ids, err = f.svc.CheckIntegrity(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []int64{entry.ID}, ids)
}

func TestHandlerPostAndQuery(t *testing.T) {
	f := newFixture(t)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(core.ContextWithPrincipal(req.Context(), accountant)))
		})
	})
	NewHandler(nil, f.svc).MountRoutes(r)

	body := `{"date":"2024-02-07","memo":"cash sale","lines":[{"account_id":1,"debit":"42.10"},{"account_id":2,"credit":"42.10"}]}`
	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/entries", strings.NewReader(body))
		req.Header.Set(HeaderIdempotencyKey, "till-7")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}
	require.Equal(t, http.StatusCreated, post().Code)
	require.Equal(t, http.StatusOK, post().Code)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/entries?from=2024-02-01&to=2024-02-29", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"total_debit":"42.10"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/entries?from=2024-02-29&to=2024-02-01", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerExposesStorageCauseOnlyInDebug(t *testing.T) {
	for _, debug := range []bool{false, true} {
		f := newFixture(t)
		r := chi.NewRouter()
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(core.ContextWithPrincipal(req.Context(), accountant)))
			})
		})
		NewHandler(nil, f.svc).WithDebug(debug).MountRoutes(r)

		f.repo.FailInserts = 2
		body := `{"date":"2024-02-07","lines":[{"account_id":1,"debit":"5.00"},{"account_id":2,"credit":"5.00"}]}`
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/entries", strings.NewReader(body)))
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		require.Contains(t, rec.Body.String(), "internal error")
		if debug {
			require.Contains(t, rec.Body.String(), "injected storage failure")
		} else {
			require.NotContains(t, rec.Body.String(), "injected storage failure")
		}
	}
}
