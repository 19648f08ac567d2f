package refunds

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
	r.Get("/{id}/history", h.History)
	r.Post("/{id}/approve", h.Approve)
	r.Post("/{id}/reject", h.Reject)
	r.Post("/{id}/reopen", h.Reopen)
	r.Post("/{id}/disburse", h.Disburse)
}

type stageView struct {
	By *int64     `json:"by,omitempty"`
	At *time.Time `json:"at,omitempty"`
}

type refundView struct {
	ID                    int64      `json:"id"`
	Number                string     `json:"number"`
	Status                string     `json:"status"`
	Next                  []string   `json:"next"`
	BranchID              *int64     `json:"branch_id,omitempty"`
	CostCenterID          *int64     `json:"cost_center_id,omitempty"`
	CreatedBy             int64      `json:"created_by"`
	RequestDate           string     `json:"request_date"`
	Amount                string     `json:"amount"`
	ExpenseAccountID      int64      `json:"expense_account_id"`
	Reason                string     `json:"reason"`
	BranchApproval        stageView  `json:"branch_approval"`
	FinanceApproval       stageView  `json:"finance_approval"`
	FinalApproval         stageView  `json:"final_approval"`
	RejectedBy            *int64     `json:"rejected_by,omitempty"`
	RejectedAt            *time.Time `json:"rejected_at,omitempty"`
	RejectReason          string     `json:"reject_reason,omitempty"`
	ReopenReason          string     `json:"reopen_reason,omitempty"`
	DisbursementVoucherID *int64     `json:"disbursement_voucher_id,omitempty"`
}

func (h *Handler) toView(r RefundRequest) refundView {
	next := h.service.NextStatuses(r.Status)
	v := refundView{
		ID:                    r.ID,
		Number:                r.Number,
		Status:                string(r.Status),
		Next:                  make([]string, 0, len(next)),
		BranchID:              r.BranchID,
		CostCenterID:          r.CostCenterID,
		CreatedBy:             r.CreatedBy,
		RequestDate:           r.RequestDate.Format(time.DateOnly),
		Amount:                r.Amount.StringFixed(2),
		ExpenseAccountID:      r.ExpenseAccountID,
		Reason:                r.Reason,
		BranchApproval:        stageView(r.BranchApproval),
		FinanceApproval:       stageView(r.FinanceApproval),
		FinalApproval:         stageView(r.FinalApproval),
		RejectedBy:            r.RejectedBy,
		RejectedAt:            r.RejectedAt,
		RejectReason:          r.RejectReason,
		ReopenReason:          r.ReopenReason,
		DisbursementVoucherID: r.DisbursementVoucherID,
	}
	for _, s := range next {
		v.Next = append(v.Next, string(s))
	}
	return v
}

type voucherView struct {
	ID              int64     `json:"id"`
	RefundRequestID int64     `json:"refund_request_id"`
	Number          string    `json:"number"`
	Amount          string    `json:"amount"`
	CashAccountID   int64     `json:"cash_account_id"`
	JournalEntryID  int64     `json:"journal_entry_id"`
	DisbursedBy     int64     `json:"disbursed_by"`
	DisbursedAt     time.Time `json:"disbursed_at"`
	Duplicate       bool      `json:"duplicate"`
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
	reqs, pagination, err := h.service.List(r.Context(), p, ListFilter{
		Status:  workflow.State(q.Get("status")),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		h.fail(w, "list refunds", err)
		return
	}
	views := make([]refundView, 0, len(reqs))
	for _, req := range reqs {
		views = append(views, h.toView(req))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"refunds": views, "pagination": pagination})
}

type createRequest struct {
	RequestDate      string `json:"request_date" validate:"required,datetime=2006-01-02"`
	Amount           string `json:"amount" validate:"required,numeric"`
	ExpenseAccountID int64  `json:"expense_account_id" validate:"required,gt=0"`
	Reason           string `json:"reason" validate:"required,max=1000"`
	BranchID         *int64 `json:"branch_id"`
	CostCenterID     *int64 `json:"cost_center_id"`
	WarehouseID      *int64 `json:"warehouse_id"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := core.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, core.ErrUnauthorized)
		return
	}
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, _ := time.Parse(time.DateOnly, req.RequestDate)
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.RespondError(w, core.Validation("invalid_amount", "amount must be a decimal"))
		return
	}
	created, err := h.service.Create(r.Context(), p, CreateInput{
		BranchID:         req.BranchID,
		CostCenterID:     req.CostCenterID,
		WarehouseID:      req.WarehouseID,
		RequestDate:      date,
		Amount:           amount,
		ExpenseAccountID: req.ExpenseAccountID,
		Reason:           req.Reason,
	})
	if err != nil {
		h.fail(w, "create refund", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.toView(created))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.target(w, r)
	if !ok {
		return
	}
	req, err := h.service.Get(r.Context(), p, id)
	if err != nil {
		h.fail(w, "get refund", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toView(req))
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.target(w, r)
	if !ok {
		return
	}
	recs, err := h.service.History(r.Context(), p, id)
	if err != nil {
		h.fail(w, "refund history", err)
		return
	}
	out := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		out = append(out, map[string]any{
			"id":       rec.ID,
			"action":   rec.Action,
			"actor_id": rec.ActorID,
			"at":       rec.At,
			"details":  rec.Details,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"history": out})
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.target(w, r)
	if !ok {
		return
	}
	req, err := h.service.Approve(r.Context(), p, id)
	h.respondRefund(w, "approve refund", req, err)
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var body reasonRequest
	if r.ContentLength != 0 && !h.decode(w, r, &body) {
		return
	}
	req, err := h.service.Reject(r.Context(), p, id, body.Reason)
	h.respondRefund(w, "reject refund", req, err)
}

func (h *Handler) Reopen(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var body reasonRequest
	if !h.decode(w, r, &body) {
		return
	}
	req, err := h.service.Reopen(r.Context(), p, id, body.Reason)
	h.respondRefund(w, "reopen refund", req, err)
}

type disburseRequest struct {
	CashAccountID int64  `json:"cash_account_id" validate:"required,gt=0"`
	Date          string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

func (h *Handler) Disburse(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var body disburseRequest
	if !h.decode(w, r, &body) {
		return
	}
	in := DisburseInput{CashAccountID: body.CashAccountID}
	if body.Date != "" {
		d, _ := time.Parse(time.DateOnly, body.Date)
		in.Date = &d
	}
	v, err := h.service.Disburse(r.Context(), p, id, in)
	status := http.StatusCreated
	if core.IsDuplicate(err) {
		status, err = http.StatusOK, nil
	}
	if err != nil {
		h.fail(w, "disburse refund", err)
		return
	}
	httpx.JSON(w, status, voucherView{
		ID:              v.ID,
		RefundRequestID: v.RefundRequestID,
		Number:          v.Number,
		Amount:          v.Amount.StringFixed(2),
		CashAccountID:   v.CashAccountID,
		JournalEntryID:  v.JournalEntryID,
		DisbursedBy:     v.DisbursedBy,
		DisbursedAt:     v.DisbursedAt,
		Duplicate:       status == http.StatusOK,
	})
}

func (h *Handler) respondRefund(w http.ResponseWriter, op string, req RefundRequest, err error) {
	if err != nil && !core.IsDuplicate(err) {
		h.fail(w, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toView(req))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.RespondError(w, core.Validation("invalid_body", err.Error()))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		httpx.RespondError(w, core.Validation("invalid_body", err.Error()))
		return false
	}
	return true
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (core.Principal, int64, bool) {
	p, ok := core.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, core.ErrUnauthorized)
		return core.Principal{}, 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, core.Validation("invalid_id", "refund id must be an integer"))
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
