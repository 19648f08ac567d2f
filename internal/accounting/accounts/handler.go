package accounts

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	core "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type Handler struct {
	service  *Service
	logger   *slog.Logger
	validate *validator.Validate
	debug    bool
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// WithDebug exposes internal error causes in responses. Development only.
func (h *Handler) WithDebug(on bool) *Handler {
	h.debug = on
	return h
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/activate", h.setActive(true))
	r.Post("/{id}/deactivate", h.setActive(false))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := core.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, core.ErrUnauthorized)
		return
	}
	accounts, err := h.service.List(r.Context(), p)
	if err != nil {
		h.fail(w, "list accounts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": toViews(accounts)})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := core.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, core.ErrUnauthorized)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, core.Validation("invalid_id", "account id must be an integer"))
		return
	}
	a, err := h.service.Get(r.Context(), p, id)
	if err != nil {
		h.fail(w, "get account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(a))
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := core.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, core.ErrUnauthorized)
		return
	}
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, core.Validation("invalid_body", err.Error()))
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.RespondError(w, core.Validation("invalid_body", err.Error()))
		return
	}
	a, err := h.service.Create(r.Context(), p, in)
	if err != nil {
		h.fail(w, "create account", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toView(a))
}

func (h *Handler) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := core.PrincipalFromContext(r.Context())
		if !ok {
			httpx.RespondError(w, core.ErrUnauthorized)
			return
		}
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.RespondError(w, core.Validation("invalid_id", "account id must be an integer"))
			return
		}
		if err := h.service.SetActive(r.Context(), p, id, active); err != nil {
			h.fail(w, "set account active", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if core.KindOf(err) == core.ErrStorageFailure && h.logger != nil {
		h.logger.Error(op, slog.Any("error", err))
	}
	if h.debug {
		httpx.RespondErrorDebug(w, err)
		return
	}
	httpx.RespondError(w, err)
}

type accountView struct {
	ID            int64  `json:"id"`
	Code          string `json:"code"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	NormalBalance string `json:"normal_balance"`
	ParentID      *int64 `json:"parent_id,omitempty"`
	IsGroup       bool   `json:"is_group"`
	IsActive      bool   `json:"is_active"`
}

func toView(a Account) accountView {
	return accountView{
		ID:            a.ID,
		Code:          a.Code,
		Name:          a.Name,
		Type:          string(a.Type),
		NormalBalance: string(a.NormalBalance),
		ParentID:      a.ParentID,
		IsGroup:       a.IsGroup,
		IsActive:      a.IsActive,
	}
}

func toViews(list []Account) []accountView {
	out := make([]accountView, 0, len(list))
	for _, a := range list {
		out = append(out, toView(a))
	}
	return out
}
