package jobs

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// QueueInspector reports queue state; *asynq.Inspector satisfies it.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Handler serves the operator endpoints under /jobs.
type Handler struct {
	inspector QueueInspector
	queue     Enqueuer
	logger    *slog.Logger
}

// NewHandler builds the handler. A nil inspector reports an empty queue.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, logger: logger}
}

// WithEnqueuer enables on-demand integrity scans.
func (h *Handler) WithEnqueuer(q Enqueuer) *Handler {
	h.queue = q
	return h
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
	r.Post("/gl-integrity", h.triggerIntegrity)
}

type queueHealth struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Retry     int    `json:"retry"`
	Scheduled int    `json:"scheduled"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	out := queueHealth{Queue: QueueDefault}
	if h.inspector != nil {
		info, err := h.inspector.GetQueueInfo(QueueDefault)
		if err != nil {
			h.logger.Warn("jobs health", slog.Any("error", err))
			httpx.Problem(w, r, http.StatusServiceUnavailable, "queue_unavailable", "queue state could not be read")
			return
		}
		if info != nil {
			out = queueHealth{
				Queue:     info.Queue,
				Pending:   info.Pending,
				Active:    info.Active,
				Retry:     info.Retry,
				Scheduled: info.Scheduled,
			}
		}
	}
	httpx.JSON(w, http.StatusOK, out)
}

type integrityRequest struct {
	CompanyID int64 `json:"company_id"`
}

func (h *Handler) triggerIntegrity(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		httpx.Problem(w, r, http.StatusServiceUnavailable, "queue_disabled", "no job queue configured")
		return
	}
	var req integrityRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, r, http.StatusBadRequest, "invalid_body", err.Error())
			return
		}
	}
	if req.CompanyID < 0 {
		httpx.Problem(w, r, http.StatusBadRequest, "invalid_company", "company_id must not be negative")
		return
	}
	info, err := EnqueueGLIntegrity(r.Context(), h.queue, req.CompanyID)
	if err != nil {
		h.logger.Warn("enqueue gl integrity", slog.Any("error", err))
		httpx.Problem(w, r, http.StatusServiceUnavailable, "enqueue_failed", "integrity scan could not be queued")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": info.ID, "queue": info.Queue})
}
