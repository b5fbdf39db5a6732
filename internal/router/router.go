package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"github.com/simatei/kpi/internal/auth"
	"github.com/simatei/kpi/internal/handler"
	"github.com/simatei/kpi/internal/metrics"
	mw "github.com/simatei/kpi/internal/middleware"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

func New(
	jwtSecret string,
	logger *log.Logger,
	m *metrics.Registry,
	subH *handler.SubmissionHandler,
	health map[string]Pinger,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(mw.Recovery(logger))
	r.Use(mw.Logger(logger, m))
	r.Use(mw.CORS)

	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Get("/healthz", healthz(health))

	r.Route("/api/v2/assets/{assetUid}/data", func(r chi.Router) {
		r.Use(auth.Middleware(jwtSecret))

		r.Get("/", subH.List)
		r.Patch("/bulk", subH.BulkUpdate)
		r.Delete("/bulk", subH.BulkDelete)
		r.Patch("/validation_statuses", subH.ValidationStatuses)
		r.Delete("/validation_statuses", subH.ValidationStatuses)

		r.Get("/{id}", subH.Get)
		r.Delete("/{id}", subH.Delete)
		r.Post("/{id}/duplicate", subH.Duplicate)
		r.Get("/{id}/edit", subH.Edit)
		r.Get("/{id}/validation_status", subH.ValidationStatus)
		r.Patch("/{id}/validation_status", subH.ValidationStatus)
		r.Delete("/{id}/validation_status", subH.ValidationStatus)
	})

	return r
}

func healthz(deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		body := map[string]string{}
		for name, p := range deps {
			if err := p.Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body[name] = err.Error()
				continue
			}
			body[name] = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}
}
