package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/documents"
	"github.com/odyssey-erp/odyssey-ledger/internal/governance"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/internal/refunds"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger   *slog.Logger
	Config   *Config
	Services *Services
	// JobHandler is optional; the server runs without a queue in test mode.
	JobHandler *jobs.Handler
	Metrics    *observability.Metrics
}

// NewRouter constructs the chi.Router with Odyssey defaults.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	svc := params.Services
	debug := params.Config.IsDevelopment()
	r.Route("/governance", governance.NewHandler(logger, svc.Resolver).WithDebug(debug).MountRoutes)
	r.Route("/accounts", accounts.NewHandler(logger, svc.Accounts).WithDebug(debug).MountRoutes)
	r.Route("/periods", periods.NewHandler(logger, svc.Periods).WithDebug(debug).MountRoutes)
	r.Route("/ledger", journals.NewHandler(logger, svc.Journals).WithDebug(debug).MountRoutes)
	r.Route("/documents", documents.NewHandler(logger, svc.Documents).WithDebug(debug).MountRoutes)
	r.Route("/refunds", refunds.NewHandler(logger, svc.Refunds).WithDebug(debug).MountRoutes)
	if params.JobHandler != nil {
		guard := rbac.Middleware{Authorizer: svc.Resolver, Logger: logger}
		r.With(guard.Require(rbac.ResourceJobs, rbac.ActionRead)).Route("/jobs", params.JobHandler.MountRoutes)
	}
	return r
}
