// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// StatusFor maps an error kind to its boundary status code.
func StatusFor(err error) int {
	switch shared.KindOf(err) {
	case shared.ErrUnauthorized:
		return http.StatusUnauthorized
	case shared.ErrForbidden:
		return http.StatusForbidden
	case shared.ErrValidation:
		return http.StatusBadRequest
	case shared.ErrNotFound:
		return http.StatusNotFound
	case shared.ErrStateConflict, shared.ErrDuplicateAction:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	respondError(w, err, false)
}

// RespondErrorDebug behaves like RespondError but exposes the internal cause.
// Only development deployments may use it.
func RespondErrorDebug(w http.ResponseWriter, err error) {
	respondError(w, err, true)
}

func respondError(w http.ResponseWriter, err error, debug bool) {
	status := StatusFor(err)
	kind := shared.KindOf(err)
	problem := ProblemDetail{
		Title:  http.StatusText(status),
		Status: status,
		Code:   string(kind),
	}
	var typed *shared.Error
	if errors.As(err, &typed) {
		problem.Code = typed.Code
		problem.Detail = typed.Reason
	} else if kind != shared.ErrStorageFailure {
		problem.Detail = err.Error()
	}
	if kind == shared.ErrStorageFailure {
		problem.Detail = "internal error"
		if debug {
			problem.Debug = err.Error()
		}
	}
	JSON(w, status, problem)
}
