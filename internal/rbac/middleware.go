package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Authorizer checks a principal against the capability table within its company.
type Authorizer interface {
	Authorize(ctx context.Context, p shared.Principal, res Resource, action Action) error
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Authorizer Authorizer
	Logger     *slog.Logger
}

// Require ensures the current principal holds the permission.
func (m Middleware) Require(res Resource, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			if err := m.Authorizer.Authorize(r.Context(), p, res, action); err != nil {
				if m.Logger != nil && shared.KindOf(err) == shared.ErrStorageFailure {
					m.Logger.Error("rbac require", slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
