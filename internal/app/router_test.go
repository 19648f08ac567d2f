package app

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/governance"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/testing/fixture"
	_ "github.com/odyssey-erp/odyssey-ledger/internal/testing/guard"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	metrics := observability.NewMetrics()
	services, err := NewMemoryServices(context.Background(), nil, metrics)
	require.NoError(t, err)
	return NewRouter(RouterParams{
		Config:   &Config{AppEnv: "test"},
		Services: services,
		Metrics:  metrics,
	})
}

func call(h http.Handler, user int64, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user > 0 {
		req.Header.Set(governance.HeaderPrincipalID, strconv.FormatInt(user, 10))
		req.Header.Set(governance.HeaderCompanyID, strconv.FormatInt(fixture.CompanyID, 10))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTestModeIsForcedInTests(t *testing.T) {
	RefreshTestMode()
	require.True(t, InTestMode())
}

func TestRouterServesHealthAndSecurityHeaders(t *testing.T) {
	h := newTestRouter(t)
	rec := call(h, 0, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestRouterRequiresPrincipal(t *testing.T) {
	h := newTestRouter(t)
	for _, path := range []string{"/governance/scope", "/accounts/", "/periods/", "/ledger/entries", "/documents/", "/refunds/"} {
		rec := call(h, 0, http.MethodGet, path, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestRouterPostsThroughTheStack(t *testing.T) {
	h := newTestRouter(t)

	rec := call(h, fixture.Manager, http.MethodGet, "/governance/scope", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"visibility":"BRANCH"`)

	rec = call(h, fixture.Accountant, http.MethodPost, "/ledger/entries",
		`{"date":"2024-05-02","memo":"opening cash","lines":[{"account_id":1101,"debit":"500.00"},{"account_id":4101,"credit":"500.00"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = call(h, fixture.Viewer, http.MethodGet, "/ledger/entries?from=2024-05-01&to=2024-05-31", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "opening cash")

	rec = call(h, fixture.Staff, http.MethodPost, "/refunds/",
		`{"request_date":"2024-05-03","amount":"12.50","expense_account_id":6301,"reason":"broken seal"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = call(h, 0, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "odyssey_ledger_postings_total")
	require.Contains(t, rec.Body.String(), "odyssey_http_requests_total")
}

func TestConfigParsesFullRoles(t *testing.T) {
	cfg := &Config{GovernanceFullRoles: []string{"Owner", "finance"}}
	roles, err := cfg.FullRoles()
	require.NoError(t, err)
	require.Len(t, roles, 2)

	cfg.GovernanceFullRoles = []string{"superuser"}
	_, err = cfg.FullRoles()
	require.Error(t, err)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GOVERNANCE_FULL_ROLES", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 1, cfg.PostingRetry)
	require.True(t, cfg.IsDevelopment())

	t.Setenv("POSTING_RETRY", "-1")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestJobsRoutesRequireAdministrator(t *testing.T) {
	services, err := NewMemoryServices(context.Background(), nil, nil)
	require.NoError(t, err)
	h := NewRouter(RouterParams{Services: services, JobHandler: jobs.NewHandler(nil, nil)})

	rec := call(h, fixture.Owner, http.MethodGet, "/jobs/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"queue":"default"`)

	rec = call(h, fixture.Staff, http.MethodGet, "/jobs/health", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{AppEnv: "staging", LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("dropped")
	logger.Warn("kept", slog.Int64("company_id", 1))

	out := buf.String()
	require.NotContains(t, out, "dropped")
	require.Contains(t, out, `"msg":"kept"`)
	require.Contains(t, out, `"service":"odyssey-ledger"`)
	require.Contains(t, out, `"env":"staging"`)
}
