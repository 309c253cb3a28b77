package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/consolbatch/internal/observability"
)

// RouterParams carries the dependencies of the worker's ops endpoint.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
	// Mount registers routes under /jobs; they are rate limited per client IP.
	Mount func(chi.Router)
}

// NewRouter constructs the ops chi.Router: /healthz, /metrics and the job routes.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	if params.Mount != nil {
		limit := 60
		if params.Config != nil && params.Config.OpsRateLimit > 0 {
			limit = params.Config.OpsRateLimit
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Use(httprate.Limit(limit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
			params.Mount(r)
		})
	}
	return r
}
