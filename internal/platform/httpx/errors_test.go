package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func TestRespondErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{shared.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{shared.Forbidden("scope_violation", "outside branch"), http.StatusForbidden, "scope_violation"},
		{shared.Validation("unbalanced", "debits != credits"), http.StatusBadRequest, "unbalanced"},
		{shared.Conflict("period_closed", "closed"), http.StatusConflict, "period_closed"},
		{shared.Duplicate("already_posted", 7), http.StatusConflict, "already_posted"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code)
		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		require.Equal(t, tc.code, body.Code)
		require.NotEmpty(t, body.Detail)
	}
}

func TestRespondErrorHidesStorageDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, errors.New("pq: connection refused at 10.0.0.3"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "10.0.0.3")

	rr = httptest.NewRecorder()
	RespondErrorDebug(rr, errors.New("pq: connection refused at 10.0.0.3"))
	require.Contains(t, rr.Body.String(), "10.0.0.3")
}
