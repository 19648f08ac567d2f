package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeJSONRejectsUnknownAndTrailingInput(t *testing.T) {
	type body struct {
		Memo string `json:"memo"`
	}
	var dst body

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"memo":"ok"}`))
	require.NoError(t, DecodeJSON(req, &dst))
	require.Equal(t, "ok", dst.Memo)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"memo":"ok","extra":1}`))
	require.Error(t, DecodeJSON(req, &dst))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"memo":"a"}{"memo":"b"}`))
	require.Error(t, DecodeJSON(req, &dst))
}

func TestProblemCarriesInstance(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ledger/entries", nil)
	Problem(rec, req, http.StatusTooManyRequests, "rate_limited", "slow down")

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p ProblemDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	require.Equal(t, "rate_limited", p.Code)
	require.Equal(t, "/ledger/entries", p.Instance)
}
