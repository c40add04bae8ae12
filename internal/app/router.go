package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/aamirsofi/fee-module-sub001/internal/accounting"
	"github.com/aamirsofi/fee-module-sub001/internal/fees"
	"github.com/aamirsofi/fee-module-sub001/internal/forecast"
	"github.com/aamirsofi/fee-module-sub001/internal/invoices"
	"github.com/aamirsofi/fee-module-sub001/internal/observability"
	"github.com/aamirsofi/fee-module-sub001/internal/payments"
	"github.com/aamirsofi/fee-module-sub001/internal/platform/httpx"
	"github.com/aamirsofi/fee-module-sub001/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	FeesHandler       *fees.Handler
	InvoicesHandler   *invoices.Handler
	PaymentsHandler   *payments.Handler
	ForecastHandler   *forecast.Handler
	AccountingHandler *accounting.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error
}

// NewRouter constructs the chi.Router with the billing API mounted under /api/v1.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if params.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Ready(ctx); err != nil {
				params.Logger.Warn("readiness check failed", slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, "Not Ready", "backing store unavailable")
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/schools/{schoolID}", func(r chi.Router) {
			if params.FeesHandler != nil {
				params.FeesHandler.MountRoutes(r)
			}
			if params.InvoicesHandler != nil {
				params.InvoicesHandler.MountRoutes(r)
			}
			if params.PaymentsHandler != nil {
				params.PaymentsHandler.MountRoutes(r)
			}
			if params.ForecastHandler != nil {
				params.ForecastHandler.MountRoutes(r)
			}
			if params.AccountingHandler != nil {
				params.AccountingHandler.MountRoutes(r)
			}
		})
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}
