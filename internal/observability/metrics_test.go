package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec
}

func TestHandlerExposesRuntimeCollectors(t *testing.T) {
	rec := scrape(t, NewMetrics())
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestObservePostingCountsOutcomes(t *testing.T) {
	m := NewMetrics()
	m.ObservePosting("post", "created")
	m.ObservePosting("post", "duplicate")
	m.ObservePosting("post", "duplicate")
	m.ObserveTransition("refund.disburse", "applied")

	require.Equal(t, 1.0, testutil.ToFloat64(m.postings.WithLabelValues("post", "created")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.postings.WithLabelValues("post", "duplicate")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("refund.disburse", "applied")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObservePosting("post", "created")
	m.ObserveTransition("refund.approve", "rejected")
	require.Equal(t, http.StatusServiceUnavailable, scrape(t, m).Code)

	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	require.NotNil(t, m.Middleware(next))
}

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	m := NewMetrics()
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rc := chi.NewRouteContext()
	rc.RoutePatterns = append(rc.RoutePatterns, "/ledger/entries/{id}")
	req := httptest.NewRequest(http.MethodGet, "/ledger/entries/7", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTeapot, rec.Code)

	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/ledger/entries/{id}", "418")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
	require.Contains(t, scrape(t, m).Body.String(), `odyssey_http_request_duration_seconds_bucket{route="/ledger/entries/{id}"`)
}
