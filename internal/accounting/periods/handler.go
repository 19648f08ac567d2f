package periods

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

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
	r.Get("/lookup", h.Lookup)
	r.Post("/{id}/close", h.Close)
	r.Post("/{id}/open", h.Open)
}

type periodView struct {
	ID         int64      `json:"id"`
	Code       string     `json:"code"`
	StartDate  string     `json:"start_date"`
	EndDate    string     `json:"end_date"`
	Status     string     `json:"status"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	ClosedBy   *int64     `json:"closed_by,omitempty"`
	ReopenedAt *time.Time `json:"reopened_at,omitempty"`
	ReopenedBy *int64     `json:"reopened_by,omitempty"`
}

func toView(p Period) periodView {
	return periodView{
		ID:         p.ID,
		Code:       p.Code,
		StartDate:  p.StartDate.Format(time.DateOnly),
		EndDate:    p.EndDate.Format(time.DateOnly),
		Status:     string(p.Status),
		ClosedAt:   p.ClosedAt,
		ClosedBy:   p.ClosedBy,
		ReopenedAt: p.ReopenedAt,
		ReopenedBy: p.ReopenedBy,
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := core.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, core.ErrUnauthorized)
		return
	}
	list, err := h.service.ListPeriods(r.Context(), p)
	if err != nil {
		h.fail(w, "list periods", err)
		return
	}
	views := make([]periodView, 0, len(list))
	for _, period := range list {
		views = append(views, toView(period))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"periods": views})
}

type createRequest struct {
	Code      string `json:"code" validate:"required,max=32"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := core.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, core.ErrUnauthorized)
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, core.Validation("invalid_body", err.Error()))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, core.Validation("invalid_body", err.Error()))
		return
	}
	start, _ := time.Parse(time.DateOnly, req.StartDate)
	end, _ := time.Parse(time.DateOnly, req.EndDate)
	period, err := h.service.CreatePeriod(r.Context(), p, CreateInput{Code: req.Code, StartDate: start, EndDate: end})
	if err != nil {
		h.fail(w, "create period", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toView(period))
}

func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	p, ok := core.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, core.ErrUnauthorized)
		return
	}
	date, err := time.Parse(time.DateOnly, r.URL.Query().Get("date"))
	if err != nil {
		httpx.RespondError(w, core.Validation("invalid_date", "date must be YYYY-MM-DD"))
		return
	}
	period, err := h.service.FindForDate(r.Context(), p, date)
	if err != nil {
		h.fail(w, "find period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(period))
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.ClosePeriod)
}

func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.OpenPeriod)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, p core.Principal, id int64) (Period, error)) {
	p, ok := core.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, core.ErrUnauthorized)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, core.Validation("invalid_id", "period id must be an integer"))
		return
	}
	period, err := fn(r.Context(), p, id)
	if err != nil {
		h.fail(w, "change period status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(period))
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
