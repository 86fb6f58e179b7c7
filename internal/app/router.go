package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/jobs"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReconcileEnqueuer submits on-demand reconciliation runs.
type ReconcileEnqueuer interface {
	EnqueueLedgerReconcile(ctx context.Context, tenantID string) (*asynq.TaskInfo, error)
}

// RouterParams groups dependencies for building the ops router.
type RouterParams struct {
	Logger     *slog.Logger
	Config     *Config
	DB         Pinger
	Metrics    *observability.Metrics
	JobHandler *jobs.Handler
	Enqueuer   ReconcileEnqueuer
	RateLimit  int
}

// NewRouter constructs the ops chi.Router.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:    logger,
		Config:    params.Config,
		Metrics:   params.Metrics,
		RateLimit: params.RateLimit,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.DB.Ping(ctx); err != nil {
				logger.Warn("healthz: database ping", slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, "Database Unavailable", err.Error())
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	r.Route("/jobs", func(jr chi.Router) {
		if params.JobHandler != nil {
			params.JobHandler.MountRoutes(jr)
		}
		jr.Post("/reconcile", func(w http.ResponseWriter, r *http.Request) {
			if params.Enqueuer == nil {
				httpx.Problem(w, http.StatusServiceUnavailable, "Worker Unavailable", "job queue not configured")
				return
			}
			tenant := r.URL.Query().Get("tenant")
			info, err := params.Enqueuer.EnqueueLedgerReconcile(r.Context(), tenant)
			if err != nil {
				logger.Error("enqueue reconcile", slog.Any("error", err))
				httpx.Problem(w, http.StatusInternalServerError, "Enqueue Failed", "")
				return
			}
			httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": info.ID, "queue": info.Queue})
		})
	})

	return r
}
