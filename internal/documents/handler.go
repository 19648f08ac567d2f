package documents

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	core "github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/workflow"
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
	r.Patch("/{id}", h.Update)
	r.Post("/{id}/transitions", h.Transition)
}

type documentView struct {
	ID              int64      `json:"id"`
	Kind            string     `json:"kind"`
	Number          string     `json:"number"`
	Status          string     `json:"status"`
	Next            []string   `json:"next"`
	BranchID        *int64     `json:"branch_id,omitempty"`
	CostCenterID    *int64     `json:"cost_center_id,omitempty"`
	WarehouseID     *int64     `json:"warehouse_id,omitempty"`
	CreatedBy       int64      `json:"created_by"`
	DocDate         string     `json:"doc_date"`
	TotalAmount     string     `json:"total_amount"`
	DebitAccountID  int64      `json:"debit_account_id"`
	CreditAccountID int64      `json:"credit_account_id"`
	Notes           string     `json:"notes,omitempty"`
	JournalEntryID  *int64     `json:"journal_entry_id,omitempty"`
	ReversalEntryID *int64     `json:"reversal_entry_id,omitempty"`
	PaidBy          *int64     `json:"paid_by,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	CancelledBy     *int64     `json:"cancelled_by,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
}

func (h *Handler) toView(d Document) documentView {
	next := h.service.NextStatuses(d.Kind, d.Status)
	v := documentView{
		ID:              d.ID,
		Kind:            string(d.Kind),
		Number:          d.Number,
		Status:          string(d.Status),
		Next:            make([]string, 0, len(next)),
		BranchID:        d.BranchID,
		CostCenterID:    d.CostCenterID,
		WarehouseID:     d.WarehouseID,
		CreatedBy:       d.CreatedBy,
		DocDate:         d.DocDate.Format(time.DateOnly),
		TotalAmount:     d.TotalAmount.StringFixed(2),
		DebitAccountID:  d.DebitAccountID,
		CreditAccountID: d.CreditAccountID,
		Notes:           d.Notes,
		JournalEntryID:  d.JournalEntryID,
		ReversalEntryID: d.ReversalEntryID,
		PaidBy:          d.PaidBy,
		PaidAt:          d.PaidAt,
		CancelledBy:     d.CancelledBy,
		CancelledAt:     d.CancelledAt,
	}
	for _, s := range next {
		v.Next = append(v.Next, string(s))
	}
	return v
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := core.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, core.ErrUnauthorized)
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	docs, pagination, err := h.service.List(r.Context(), p, ListFilter{
		Kind:    Kind(q.Get("kind")),
		Status:  workflow.State(q.Get("status")),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		h.fail(w, "list documents", err)
		return
	}
	views := make([]documentView, 0, len(docs))
	for _, d := range docs {
		views = append(views, h.toView(d))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"documents": views, "pagination": pagination})
}

type createRequest struct {
	Kind            string `json:"kind" validate:"required"`
	Number          string `json:"number" validate:"max=64"`
	DocDate         string `json:"doc_date" validate:"required,datetime=2006-01-02"`
	TotalAmount     string `json:"total_amount" validate:"required,numeric"`
	DebitAccountID  int64  `json:"debit_account_id" validate:"required,gt=0"`
	CreditAccountID int64  `json:"credit_account_id" validate:"required,gt=0,nefield=DebitAccountID"`
	BranchID        *int64 `json:"branch_id"`
	CostCenterID    *int64 `json:"cost_center_id"`
	WarehouseID     *int64 `json:"warehouse_id"`
	Notes           string `json:"notes" validate:"max=1000"`
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
	date, _ := time.Parse(time.DateOnly, req.DocDate)
	total, err := decimal.NewFromString(req.TotalAmount)
	if err != nil {
		httpx.RespondError(w, core.Validation("invalid_amount", "total_amount must be a decimal"))
		return
	}
	doc, err := h.service.Create(r.Context(), p, CreateInput{
		Kind:            Kind(req.Kind),
		Number:          req.Number,
		DocDate:         date,
		TotalAmount:     total,
		DebitAccountID:  req.DebitAccountID,
		CreditAccountID: req.CreditAccountID,
		BranchID:        req.BranchID,
		CostCenterID:    req.CostCenterID,
		WarehouseID:     req.WarehouseID,
		Notes:           req.Notes,
	})
	if err != nil {
		h.fail(w, "create document", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.toView(doc))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.target(w, r)
	if !ok {
		return
	}
	doc, err := h.service.Get(r.Context(), p, id)
	if err != nil {
		h.fail(w, "get document", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toView(doc))
}

type updateRequest struct {
	Notes           *string `json:"notes" validate:"omitempty,max=1000"`
	DocDate         *string `json:"doc_date" validate:"omitempty,datetime=2006-01-02"`
	TotalAmount     *string `json:"total_amount" validate:"omitempty,numeric"`
	DebitAccountID  *int64  `json:"debit_account_id" validate:"omitempty,gt=0"`
	CreditAccountID *int64  `json:"credit_account_id" validate:"omitempty,gt=0"`
	BranchID        *int64  `json:"branch_id"`
	CostCenterID    *int64  `json:"cost_center_id"`
	WarehouseID     *int64  `json:"warehouse_id"`
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, core.Validation("invalid_body", err.Error()))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, core.Validation("invalid_body", err.Error()))
		return
	}
	in := UpdateInput{
		Notes:           req.Notes,
		DebitAccountID:  req.DebitAccountID,
		CreditAccountID: req.CreditAccountID,
		BranchID:        req.BranchID,
		CostCenterID:    req.CostCenterID,
		WarehouseID:     req.WarehouseID,
	}
	if req.DocDate != nil {
		d, _ := time.Parse(time.DateOnly, *req.DocDate)
		in.DocDate = &d
	}
	if req.TotalAmount != nil {
		total, err := decimal.NewFromString(*req.TotalAmount)
		if err != nil {
			httpx.RespondError(w, core.Validation("invalid_amount", "total_amount must be a decimal"))
			return
		}
		in.TotalAmount = &total
	}
	doc, err := h.service.Update(r.Context(), p, id, in)
	if err != nil {
		h.fail(w, "update document", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toView(doc))
}

type transitionRequest struct {
	To string `json:"to" validate:"required"`
}

func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, core.Validation("invalid_body", err.Error()))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, core.Validation("invalid_body", err.Error()))
		return
	}
	doc, err := h.service.Transition(r.Context(), p, id, workflow.State(req.To))
	if err != nil {
		h.fail(w, "transition document", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toView(doc))
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (core.Principal, int64, bool) {
	p, ok := core.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, core.ErrUnauthorized)
		return core.Principal{}, 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, core.Validation("invalid_id", "document id must be an integer"))
		return core.Principal{}, 0, false
	}
	return p, id, true
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
