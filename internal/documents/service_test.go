package documents

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/governance"
	core "github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/testing/fixture"
	"github.com/odyssey-erp/odyssey-ledger/internal/workflow"
)

type env struct {
	world *fixture.World
	repo  *MemoryRepository
	svc   *Service
}

func newEnv(t *testing.T) env {
	t.Helper()
	world, err := fixture.New(context.Background(), nil)
	require.NoError(t, err)
	repo := NewMemoryRepository(world.Ledger)
	svc := NewService(repo, world.Resolver, world.Journals, nil)
	svc.WithNow(func() time.Time { return time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC) })
	return env{world: world, repo: repo, svc: svc}
}

func invoiceInput(on time.Time, total string) CreateInput {
	return CreateInput{
		Kind:            KindInvoice,
		DocDate:         on,
		TotalAmount:     decimal.RequireFromString(total),
		DebitAccountID:  fixture.AccountReceivable,
		CreditAccountID: fixture.AccountRevenue,
	}
}

func (e env) move(t *testing.T, user, id int64, to workflow.State) Document {
	t.Helper()
	doc, err := e.svc.Transition(context.Background(), fixture.Principal(user), id, to)
	require.NoError(t, err)
	require.Equal(t, to, doc.Status)
	return doc
}

func TestCreateStampsGovernanceData(t *testing.T) {
	e := newEnv(t)
	in := invoiceInput(fixture.Date(time.February, 10), "250")
	in.BranchID = fixture.ID(fixture.BranchSurabaya)

	doc, err := e.svc.Create(context.Background(), fixture.Principal(fixture.Staff), in)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, doc.Status)
	require.Equal(t, fixture.CompanyID, doc.CompanyID)
	require.Equal(t, fixture.Staff, doc.CreatedBy)
	require.Equal(t, fixture.BranchJakarta, *doc.BranchID)
	require.Equal(t, fixture.CostCenterJKT, *doc.CostCenterID)
	require.True(t, strings.HasPrefix(doc.Number, "INV-202402-"))
	require.Equal(t, "250.00", doc.TotalAmount.StringFixed(2))
}

func TestCreateValidatesInput(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	owner := fixture.Principal(fixture.Owner)

	bad := invoiceInput(fixture.Date(time.February, 10), "0")
	_, err := e.svc.Create(ctx, owner, bad)
	require.ErrorIs(t, err, core.ErrValidation)

	same := invoiceInput(fixture.Date(time.February, 10), "10")
	same.CreditAccountID = same.DebitAccountID
	_, err = e.svc.Create(ctx, owner, same)
	require.ErrorIs(t, err, core.ErrValidation)

	foreign := invoiceInput(fixture.Date(time.February, 10), "10")
	foreign.BranchID = fixture.ID(fixture.BranchForeign)
	_, err = e.svc.Create(ctx, owner, foreign)
	require.ErrorIs(t, err, governance.ErrHierarchyMismatch)

	_, err = e.svc.Create(ctx, fixture.Principal(fixture.Viewer), invoiceInput(fixture.Date(time.February, 10), "10"))
	require.ErrorIs(t, err, core.ErrForbidden)

	_, err = e.svc.Create(ctx, owner, CreateInput{Kind: "RECEIPT"})
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestInvoicePostAndPay(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doc, err := e.svc.Create(ctx, fixture.Principal(fixture.Staff), invoiceInput(fixture.Date(time.February, 12), "1200.50"))
	require.NoError(t, err)

	_, err = e.svc.Transition(ctx, fixture.Principal(fixture.Staff), doc.ID, StatusPosted)
	require.ErrorIs(t, err, core.ErrForbidden)

	_, err = e.svc.Transition(ctx, fixture.Principal(fixture.Finance), doc.ID, StatusPaid)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)

	posted := e.move(t, fixture.Accountant, doc.ID, StatusPosted)
	require.NotNil(t, posted.JournalEntryID)

	entry, err := e.world.Ledger.Get(ctx, fixture.CompanyID, *posted.JournalEntryID)
	require.NoError(t, err)
	require.True(t, entry.Balanced())
	require.Equal(t, "invoice", entry.ReferenceType)
	require.Equal(t, strconv.FormatInt(doc.ID, 10), entry.ReferenceID)
	net := entry.NetByAccount()
	require.Equal(t, "1200.50", net[fixture.AccountReceivable].StringFixed(2))
	require.Equal(t, "-1200.50", net[fixture.AccountRevenue].StringFixed(2))

	again := e.move(t, fixture.Accountant, doc.ID, StatusPosted)
	require.Equal(t, posted.JournalEntryID, again.JournalEntryID)

	paid := e.move(t, fixture.Finance, doc.ID, StatusPaid)
	require.Equal(t, fixture.Finance, *paid.PaidBy)
	require.NotNil(t, paid.PaidAt)
	e.move(t, fixture.Finance, doc.ID, StatusPaid)

	require.Len(t, e.repo.Payments(), 1)
	require.Len(t, e.world.Ledger.Entries(), 1)

	_, err = e.svc.Transition(ctx, fixture.Principal(fixture.Admin), doc.ID, StatusCancelled)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
}

func TestCommissionRunFollowsApprovalChain(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doc, err := e.svc.Create(ctx, fixture.Principal(fixture.Staff), CreateInput{
		Kind:            KindCommissionRun,
		DocDate:         fixture.Date(time.March, 31),
		TotalAmount:     decimal.RequireFromString("3000"),
		DebitAccountID:  fixture.AccountCommissionExpense,
		CreditAccountID: fixture.AccountCommissionPayable,
	})
	require.NoError(t, err)
	require.Equal(t, []workflow.State{StatusReviewed, StatusCancelled}, e.svc.NextStatuses(KindCommissionRun, doc.Status))

	_, err = e.svc.Transition(ctx, fixture.Principal(fixture.Manager), doc.ID, StatusApproved)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
	_, err = e.svc.Transition(ctx, fixture.Principal(fixture.Manager), doc.ID, StatusPosted)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)

	e.move(t, fixture.Accountant, doc.ID, StatusReviewed)

	_, err = e.svc.Transition(ctx, fixture.Principal(fixture.Accountant), doc.ID, StatusApproved)
	require.ErrorIs(t, err, core.ErrForbidden)
	_, err = e.svc.Transition(ctx, fixture.Principal(fixture.ManagerSurabaya), doc.ID, StatusApproved)
	require.ErrorIs(t, err, governance.ErrScopeViolation)

	e.move(t, fixture.Manager, doc.ID, StatusApproved)
	_, err = e.svc.Transition(ctx, fixture.Principal(fixture.Manager), doc.ID, StatusPosted)
	require.ErrorIs(t, err, core.ErrForbidden)

	posted := e.move(t, fixture.Finance, doc.ID, StatusPosted)
	require.NotNil(t, posted.JournalEntryID)
	e.move(t, fixture.Finance, doc.ID, StatusPaid)

	var actions []string
	for _, log := range e.repo.AuditTrail() {
		actions = append(actions, log.Action)
	}
	require.Equal(t, []string{"document.create", "document.transition", "document.transition", "document.transition", "document.transition"}, actions)
}

func TestDepreciationRunPostsOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doc, err := e.svc.Create(ctx, fixture.Principal(fixture.Accountant), CreateInput{
		Kind:            KindDepreciationRun,
		DocDate:         fixture.Date(time.April, 30),
		TotalAmount:     decimal.RequireFromString("812.33"),
		DebitAccountID:  fixture.AccountDepreciationExpense,
		CreditAccountID: fixture.AccountAccumulatedDepreciation,
	})
	require.NoError(t, err)
	e.move(t, fixture.Accountant, doc.ID, StatusPosted)
	_, err = e.svc.Transition(ctx, fixture.Principal(fixture.Finance), doc.ID, StatusCancelled)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
	_, err = e.svc.Transition(ctx, fixture.Principal(fixture.Finance), doc.ID, StatusPaid)
	require.ErrorIs(t, err, ErrUnknownStatus)
	require.Len(t, e.world.Ledger.Entries(), 1)
}

func TestFinancialFieldsImmutableAfterPosting(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	owner := fixture.Principal(fixture.Owner)
	doc, err := e.svc.Create(ctx, owner, invoiceInput(fixture.Date(time.May, 2), "99"))
	require.NoError(t, err)

	changed := decimal.RequireFromString("120")
	doc, err = e.svc.Update(ctx, owner, doc.ID, UpdateInput{TotalAmount: &changed})
	require.NoError(t, err)
	require.Equal(t, "120.00", doc.TotalAmount.StringFixed(2))

	e.move(t, fixture.Owner, doc.ID, StatusPosted)

	tampered := decimal.RequireFromString("1")
	_, err = e.svc.Update(ctx, owner, doc.ID, UpdateInput{TotalAmount: &tampered})
	require.ErrorIs(t, err, ErrImmutable)
	later := fixture.Date(time.May, 20)
	_, err = e.svc.Update(ctx, owner, doc.ID, UpdateInput{DocDate: &later})
	require.ErrorIs(t, err, ErrImmutable)

	note := "customer asked for a copy"
	updated, err := e.svc.Update(ctx, owner, doc.ID, UpdateInput{Notes: &note, TotalAmount: &changed})
	require.NoError(t, err)
	require.Equal(t, note, updated.Notes)
	require.Equal(t, "120.00", updated.TotalAmount.StringFixed(2))
}

func TestCancelPostedDocumentReverses(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doc, err := e.svc.Create(ctx, fixture.Principal(fixture.Staff), CreateInput{
		Kind:            KindBill,
		DocDate:         fixture.Date(time.June, 3),
		TotalAmount:     decimal.RequireFromString("640"),
		DebitAccountID:  fixture.AccountPurchases,
		CreditAccountID: fixture.AccountPayable,
	})
	require.NoError(t, err)
	e.move(t, fixture.Manager, doc.ID, StatusApproved)
	posted := e.move(t, fixture.Finance, doc.ID, StatusPosted)

	cancelled := e.move(t, fixture.Manager, doc.ID, StatusCancelled)
	require.Equal(t, posted.JournalEntryID, cancelled.JournalEntryID)
	require.NotNil(t, cancelled.ReversalEntryID)
	require.Equal(t, fixture.Manager, *cancelled.CancelledBy)

	entries := e.world.Ledger.Entries()
	require.Len(t, entries, 2)
	total := map[int64]decimal.Decimal{}
	for _, entry := range entries {
		for acct, net := range entry.NetByAccount() {
			total[acct] = total[acct].Add(net)
		}
	}
	for acct, net := range total {
		require.True(t, net.IsZero(), "account %d nets to %s", acct, net)
	}
	require.Equal(t, "bill"+journals.ReversalSuffix, entries[1].ReferenceType)

	_, err = e.svc.Transition(ctx, fixture.Principal(fixture.Owner), doc.ID, StatusPosted)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
}

func TestClosedPeriodBlocksPostingUntilReopened(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	jan, err := e.world.Period(ctx, time.January)
	require.NoError(t, err)
	_, err = e.world.PeriodService.ClosePeriod(ctx, fixture.Principal(fixture.Admin), jan.ID)
	require.NoError(t, err)

	doc, err := e.svc.Create(ctx, fixture.Principal(fixture.Owner), invoiceInput(fixture.Date(time.January, 15), "500"))
	require.NoError(t, err)

	_, err = e.svc.Transition(ctx, fixture.Principal(fixture.Accountant), doc.ID, StatusPosted)
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
	require.ErrorIs(t, err, core.ErrStateConflict)

	stored, err := e.svc.Get(ctx, fixture.Principal(fixture.Owner), doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, stored.Status)
	require.Nil(t, stored.JournalEntryID)
	require.Empty(t, e.world.Ledger.Entries())

	_, err = e.world.PeriodService.OpenPeriod(ctx, fixture.Principal(fixture.Admin), jan.ID)
	require.ErrorIs(t, err, core.ErrForbidden)
	_, err = e.world.PeriodService.OpenPeriod(ctx, fixture.Principal(fixture.Owner), jan.ID)
	require.NoError(t, err)

	posted := e.move(t, fixture.Accountant, doc.ID, StatusPosted)
	entries := e.world.Ledger.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, *posted.JournalEntryID, entries[0].ID)
	require.Len(t, entries[0].Lines, 2)
	require.True(t, entries[0].Balanced())
}

func TestScopedReads(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	jakarta, err := e.svc.Create(ctx, fixture.Principal(fixture.Staff), invoiceInput(fixture.Date(time.July, 1), "10"))
	require.NoError(t, err)
	self, err := e.svc.Create(ctx, fixture.Principal(fixture.StaffSelf), invoiceInput(fixture.Date(time.July, 2), "20"))
	require.NoError(t, err)
	surabaya := invoiceInput(fixture.Date(time.July, 3), "30")
	surabaya.BranchID = fixture.ID(fixture.BranchSurabaya)
	_, err = e.svc.Create(ctx, fixture.Principal(fixture.Owner), surabaya)
	require.NoError(t, err)

	ids := func(user int64) []int64 {
		docs, page, err := e.svc.List(ctx, fixture.Principal(user), ListFilter{Kind: KindInvoice})
		require.NoError(t, err)
		require.Equal(t, len(docs), page.Total)
		out := make([]int64, 0, len(docs))
		for _, d := range docs {
			out = append(out, d.ID)
		}
		return out
	}
	require.Len(t, ids(fixture.Owner), 3)
	require.Equal(t, []int64{jakarta.ID}, ids(fixture.Manager))
	require.Equal(t, []int64{self.ID}, ids(fixture.StaffSelf))

	_, err = e.svc.Get(ctx, fixture.Principal(fixture.ManagerSurabaya), jakarta.ID)
	require.ErrorIs(t, err, governance.ErrScopeViolation)
	_, err = e.svc.Get(ctx, fixture.Principal(fixture.Staff), self.ID)
	require.ErrorIs(t, err, core.ErrForbidden)

	_, _, err = e.svc.List(ctx, fixture.Principal(fixture.Owner), ListFilter{Kind: "RECEIPT"})
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestHandlerLifecycle(t *testing.T) {
	e := newEnv(t)
	r := chi.NewRouter()
	r.Use(governance.PrincipalMiddleware)
	NewHandler(nil, e.svc).MountRoutes(r)

	do := func(user int64, method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(governance.HeaderPrincipalID, strconv.FormatInt(user, 10))
		req.Header.Set(governance.HeaderCompanyID, strconv.FormatInt(fixture.CompanyID, 10))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := do(fixture.Staff, http.MethodPost, "/", `{"kind":"invoice","doc_date":"2024-08-01","total_amount":"75.25","debit_account_id":1201,"credit_account_id":4101}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"next":["posted","cancelled"]`)

	docs, _, err := e.svc.List(context.Background(), fixture.Principal(fixture.Owner), ListFilter{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	path := "/" + strconv.FormatInt(docs[0].ID, 10)

	rec = do(fixture.Accountant, http.MethodPost, path+"/transitions", `{"to":"posted"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"journal_entry_id"`)

	rec = do(fixture.Owner, http.MethodPatch, path, `{"total_amount":"1.00"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "immutable_after_posting")

	rec = do(fixture.Owner, http.MethodPatch, path, `{"notes":"sent by courier"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(fixture.Staff, http.MethodPost, path+"/transitions", `{"to":"paid"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(0, http.MethodGet, path, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestScopeViolationsAreAudited(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doc, err := e.svc.Create(ctx, fixture.Principal(fixture.Staff), invoiceInput(fixture.Date(time.May, 2), "40"))
	require.NoError(t, err)
	e.world.Audit.Reset()

	outsider := fixture.Principal(fixture.ManagerSurabaya)
	_, err = e.svc.Get(ctx, outsider, doc.ID)
	require.ErrorIs(t, err, governance.ErrScopeViolation)
	notes := "moved"
	_, err = e.svc.Update(ctx, outsider, doc.ID, UpdateInput{Notes: &notes})
	require.ErrorIs(t, err, governance.ErrScopeViolation)
	_, err = e.svc.Transition(ctx, outsider, doc.ID, StatusPosted)
	require.ErrorIs(t, err, governance.ErrScopeViolation)

	logs := e.world.Audit.Logs()
	require.Len(t, logs, 3)
	for _, log := range logs {
		require.Equal(t, "governance.scope_violation", log.Action)
		require.Equal(t, fixture.ManagerSurabaya, log.ActorID)
		require.Equal(t, "document:"+strconv.FormatInt(doc.ID, 10), log.EntityID)
	}

	got, err := e.svc.Get(ctx, fixture.Principal(fixture.Manager), doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, got.Status)
	require.Empty(t, got.Notes)
}

func TestGetChecksMembershipBeforeLookup(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doc, err := e.svc.Create(ctx, fixture.Principal(fixture.Staff), invoiceInput(fixture.Date(time.May, 2), "40"))
	require.NoError(t, err)

	stranger := core.Principal{UserID: 77, CompanyID: fixture.CompanyID}
	for _, id := range []int64{doc.ID, doc.ID + 1000} {
		_, err := e.svc.Get(ctx, stranger, id)
		require.ErrorIs(t, err, governance.ErrNoMembership, "id %d", id)
	}

	r := chi.NewRouter()
	r.Use(governance.PrincipalMiddleware)
	NewHandler(nil, e.svc).MountRoutes(r)
	for _, id := range []int64{doc.ID, doc.ID + 1000} {
		req := httptest.NewRequest(http.MethodGet, "/"+strconv.FormatInt(id, 10), nil)
		req.Header.Set(governance.HeaderPrincipalID, "77")
		req.Header.Set(governance.HeaderCompanyID, strconv.FormatInt(fixture.CompanyID, 10))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "id %d", id)
	}

	_, err = e.svc.Get(ctx, fixture.Principal(fixture.Owner), doc.ID+1000)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionRetriesStorageFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first, err := e.svc.Create(ctx, fixture.Principal(fixture.Staff), invoiceInput(fixture.Date(time.May, 3), "80"))
	require.NoError(t, err)

	e.world.Ledger.FailInserts = 1
	posted := e.move(t, fixture.Accountant, first.ID, StatusPosted)
	require.NotNil(t, posted.JournalEntryID)
	require.Len(t, e.world.Ledger.Entries(), 1)

	second, err := e.svc.Create(ctx, fixture.Principal(fixture.Staff), invoiceInput(fixture.Date(time.May, 4), "90"))
	require.NoError(t, err)
	e.svc.WithRetries(0)
	e.world.Ledger.FailInserts = 1
	_, err = e.svc.Transition(ctx, fixture.Principal(fixture.Accountant), second.ID, StatusPosted)
	require.Equal(t, core.ErrStorageFailure, core.KindOf(err))

	got, err := e.svc.Get(ctx, fixture.Principal(fixture.Owner), second.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, got.Status)
	require.Nil(t, got.JournalEntryID)
	require.Len(t, e.world.Ledger.Entries(), 1)
}

func TestTransitionForwardsAuditAfterCommit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.svc.WithAuditForward(e.world.Audit)
	e.svc.WithRetries(0)
	doc, err := e.svc.Create(ctx, fixture.Principal(fixture.Staff), invoiceInput(fixture.Date(time.May, 6), "15"))
	require.NoError(t, err)
	require.Equal(t, []string{"document.create"}, e.world.Audit.Actions())
	e.world.Audit.Reset()

	e.world.Ledger.FailInserts = 1
	_, err = e.svc.Transition(ctx, fixture.Principal(fixture.Accountant), doc.ID, StatusPosted)
	require.Error(t, err)
	require.Empty(t, e.world.Audit.Logs())

	e.move(t, fixture.Accountant, doc.ID, StatusPosted)
	require.Equal(t, []string{"journal.post", "document.transition"}, e.world.Audit.Actions())
}

func TestAmountsMustBeWholeCents(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	owner := fixture.Principal(fixture.Owner)

	_, err := e.svc.Create(ctx, owner, invoiceInput(fixture.Date(time.May, 7), "10.005"))
	require.ErrorIs(t, err, shared.ErrSubCent)

	doc, err := e.svc.Create(ctx, owner, invoiceInput(fixture.Date(time.May, 7), "10.50"))
	require.NoError(t, err)
	total := decimal.RequireFromString("3.333")
	_, err = e.svc.Update(ctx, owner, doc.ID, UpdateInput{TotalAmount: &total})
	require.ErrorIs(t, err, shared.ErrSubCent)

	got, err := e.svc.Get(ctx, owner, doc.ID)
	require.NoError(t, err)
	require.Equal(t, "10.50", got.TotalAmount.StringFixed(2))
}
