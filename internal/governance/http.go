package governance

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Principal headers set by the upstream identity proxy.
const (
	HeaderPrincipalID = "X-Principal-ID"
	HeaderCompanyID   = "X-Company-ID"
)

// PrincipalMiddleware attaches the authenticated principal to the request context.
// Requests without a principal pass through; Require-style guards reject them.
func PrincipalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, errUser := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderPrincipalID)), 10, 64)
		companyID, errCompany := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderCompanyID)), 10, 64)
		if errUser != nil || errCompany != nil || userID <= 0 || companyID <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		ctx := shared.ContextWithPrincipal(r.Context(), shared.Principal{UserID: userID, CompanyID: companyID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Handler exposes scope and membership endpoints.
type Handler struct {
	resolver *Resolver
	logger   *slog.Logger
	validate *validator.Validate
	debug    bool
}

// NewHandler builds the governance handler.
func NewHandler(logger *slog.Logger, resolver *Resolver) *Handler {
	return &Handler{resolver: resolver, logger: logger, validate: validator.New()}
}

// WithDebug exposes internal error causes in responses. Development only.
func (h *Handler) WithDebug(on bool) *Handler {
	h.debug = on
	return h
}

// MountRoutes registers governance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/scope", h.scope)
	r.Put("/members/{userID}", h.assignMember)
	r.Delete("/members/{userID}", h.removeMember)
}

type scopeResponse struct {
	CompanyID    int64    `json:"company_id"`
	UserID       int64    `json:"user_id"`
	Role         string   `json:"role"`
	Visibility   string   `json:"visibility"`
	BranchID     *int64   `json:"branch_id,omitempty"`
	CostCenterID *int64   `json:"cost_center_id,omitempty"`
	WarehouseID  *int64   `json:"warehouse_id,omitempty"`
	Permissions  []string `json:"permissions"`
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	scope, err := h.resolver.ResolveScope(r.Context(), p, p.CompanyID)
	if err != nil {
		h.fail(w, "resolve scope", err)
		return
	}
	perms := rbac.Permissions(scope.Role)
	names := make([]string, 0, len(perms))
	for _, perm := range perms {
		names = append(names, perm.String())
	}
	httpx.JSON(w, http.StatusOK, scopeResponse{
		CompanyID:    scope.CompanyID,
		UserID:       scope.UserID,
		Role:         string(scope.Role),
		Visibility:   string(scope.Visibility),
		BranchID:     scope.BranchID,
		CostCenterID: scope.CostCenterID,
		WarehouseID:  scope.WarehouseID,
		Permissions:  names,
	})
}

type memberRequest struct {
	Role         string `json:"role" validate:"required"`
	BranchID     *int64 `json:"branch_id" validate:"omitempty,gt=0"`
	CostCenterID *int64 `json:"cost_center_id" validate:"omitempty,gt=0"`
	WarehouseID  *int64 `json:"warehouse_id" validate:"omitempty,gt=0"`
}

func (h *Handler) assignMember(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		httpx.RespondError(w, shared.Validation("invalid_user", "user id must be a positive integer"))
		return
	}
	var req memberRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Validation("invalid_body", err.Error()))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Validation("invalid_body", err.Error()))
		return
	}
	role, err := rbac.ParseRole(req.Role)
	if err != nil {
		httpx.RespondError(w, shared.Validation("invalid_role", err.Error()))
		return
	}
	m, err := h.resolver.AssignMember(r.Context(), p, Member{
		UserID:       userID,
		Role:         role,
		BranchID:     req.BranchID,
		CostCenterID: req.CostCenterID,
		WarehouseID:  req.WarehouseID,
	})
	if err != nil {
		h.fail(w, "assign member", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id":        m.UserID,
		"company_id":     m.CompanyID,
		"role":           string(m.Role),
		"branch_id":      m.BranchID,
		"cost_center_id": m.CostCenterID,
		"warehouse_id":   m.WarehouseID,
	})
}

func (h *Handler) removeMember(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		httpx.RespondError(w, shared.Validation("invalid_user", "user id must be a positive integer"))
		return
	}
	if err := h.resolver.RemoveMember(r.Context(), p, userID); err != nil {
		h.fail(w, "remove member", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if shared.KindOf(err) == shared.ErrStorageFailure && h.logger != nil {
		h.logger.Error(op, slog.Any("error", err))
	}
	if h.debug {
		httpx.RespondErrorDebug(w, err)
		return
	}
	httpx.RespondError(w, err)
}
