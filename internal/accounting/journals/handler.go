package journals

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
)

// HeaderIdempotencyKey carries the client-chosen key of a manual posting.
const HeaderIdempotencyKey = "Idempotency-Key"

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

type lineView struct {
	LineNo       int    `json:"line_no"`
	AccountID    int64  `json:"account_id"`
	Debit        string `json:"debit"`
	Credit       string `json:"credit"`
	BranchID     *int64 `json:"branch_id,omitempty"`
	CostCenterID *int64 `json:"cost_center_id,omitempty"`
	Memo         string `json:"memo,omitempty"`
}

type entryView struct {
	ID            int64      `json:"id"`
	PeriodID      int64      `json:"period_id"`
	Date          string     `json:"date"`
	ReferenceType string     `json:"reference_type"`
	ReferenceID   string     `json:"reference_id"`
	SourceStatus  string     `json:"source_status"`
	Memo          string     `json:"memo,omitempty"`
	Status        string     `json:"status"`
	PostedBy      int64      `json:"posted_by"`
	PostedAt      time.Time  `json:"posted_at"`
	ReversalOf    *int64     `json:"reversal_of,omitempty"`
	TotalDebit    string     `json:"total_debit"`
	TotalCredit   string     `json:"total_credit"`
	Lines         []lineView `json:"lines"`
}

func toView(e JournalEntry) entryView {
	debit, credit := e.Totals()
	v := entryView{
		ID:            e.ID,
		PeriodID:      e.PeriodID,
		Date:          e.Date.Format(time.DateOnly),
		ReferenceType: e.ReferenceType,
		ReferenceID:   e.ReferenceID,
		SourceStatus:  e.SourceStatus,
		Memo:          e.Memo,
		Status:        string(e.Status),
		PostedBy:      e.PostedBy,
		PostedAt:      e.PostedAt,
		ReversalOf:    e.ReversalOf,
		TotalDebit:    debit.StringFixed(2),
		TotalCredit:   credit.StringFixed(2),
		Lines:         make([]lineView, 0, len(e.Lines)),
	}
	for _, l := range e.Lines {
		v.Lines = append(v.Lines, lineView{
			LineNo:       l.LineNo,
			AccountID:    l.AccountID,
			Debit:        l.Debit.StringFixed(2),
			Credit:       l.Credit.StringFixed(2),
			BranchID:     l.BranchID,
			CostCenterID: l.CostCenterID,
			Memo:         l.Memo,
		})
	}
	return v
}

// List serves the ledger query surface: posted entries dated within from..to.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := core.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, core.ErrUnauthorized)
		return
	}
	q := r.URL.Query()
	from, ferr := time.Parse(time.DateOnly, q.Get("from"))
	to, terr := time.Parse(time.DateOnly, q.Get("to"))
	if ferr != nil || terr != nil {
		httpx.RespondError(w, core.Validation("invalid_range", "from and to must be YYYY-MM-DD"))
		return
	}
	entries, err := h.service.ListPosted(r.Context(), p, from, to)
	if err != nil {
		h.fail(w, "list journals", err)
		return
	}
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, toView(e))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": views})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := core.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, core.ErrUnauthorized)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, core.Validation("invalid_id", "entry id must be an integer"))
		return
	}
	entry, err := h.service.Get(r.Context(), p, id)
	if err != nil {
		h.fail(w, "get journal", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(entry))
}

type lineRequest struct {
	AccountID    int64  `json:"account_id" validate:"required,gt=0"`
	Debit        string `json:"debit" validate:"omitempty,numeric"`
	Credit       string `json:"credit" validate:"omitempty,numeric"`
	BranchID     *int64 `json:"branch_id"`
	CostCenterID *int64 `json:"cost_center_id"`
	Memo         string `json:"memo" validate:"max=255"`
}

type createRequest struct {
	Date  string        `json:"date" validate:"required,datetime=2006-01-02"`
	Memo  string        `json:"memo" validate:"max=255"`
	Lines []lineRequest `json:"lines" validate:"required,min=2,dive"`
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
	date, _ := time.Parse(time.DateOnly, req.Date)
	lines := make([]PostingLineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, PostingLineInput{
			AccountID:    l.AccountID,
			Debit:        parseAmount(l.Debit),
			Credit:       parseAmount(l.Credit),
			BranchID:     l.BranchID,
			CostCenterID: l.CostCenterID,
			Memo:         l.Memo,
		})
	}
	entry, err := h.service.PostManual(r.Context(), p, ManualInput{
		Date:           date,
		IdempotencyKey: r.Header.Get(HeaderIdempotencyKey),
		Memo:           req.Memo,
		Lines:          lines,
	})
	if core.IsDuplicate(err) {
		httpx.JSON(w, http.StatusOK, toView(entry))
		return
	}
	if err != nil {
		h.fail(w, "post journal", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toView(entry))
}

type reverseRequest struct {
	Memo string `json:"memo" validate:"max=255"`
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	p, ok := core.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, core.ErrUnauthorized)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, core.Validation("invalid_id", "entry id must be an integer"))
		return
	}
	var req reverseRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, core.Validation("invalid_body", err.Error()))
			return
		}
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, core.Validation("invalid_body", err.Error()))
		return
	}
	var date *time.Time
	if req.Date != "" {
		d, _ := time.Parse(time.DateOnly, req.Date)
		date = &d
	}
	entry, err := h.service.ReverseEntry(r.Context(), p, id, req.Memo, date)
	if core.IsDuplicate(err) {
		httpx.JSON(w, http.StatusOK, toView(entry))
		return
	}
	if err != nil {
		h.fail(w, "reverse journal", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toView(entry))
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

func parseAmount(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}
