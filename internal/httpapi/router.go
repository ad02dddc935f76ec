// Package httpapi serves the bizflow HTTP surface: entity mutations
// through the capture pipeline, audit queries, and external rule triggers.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/bizflow/internal/app"
	"github.com/roach88/bizflow/internal/metrics"
)

// Server holds the handlers' dependencies.
type Server struct {
	app    *app.App
	logger *slog.Logger
}

// NewRouter builds the chi router for a.
func NewRouter(a *app.App) http.Handler {
	s := &Server{app: a, logger: a.Logger.With("component", "http")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, Recover(s.logger), Metrics, Scope)

	r.Get("/health", s.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/audit", s.listAudit)
		r.Get("/audit/{id}", s.getAudit)
		r.Get("/audit/{id}/target", s.auditTarget)

		r.Route("/entities/{type}", func(r chi.Router) {
			r.Get("/", s.listEntities)
			r.Post("/", s.createEntity)
			r.Get("/{pk}", s.getEntity)
			r.Patch("/{pk}", s.updateEntity)
			r.Delete("/{pk}", s.deleteEntity)
		})

		r.Post("/sessions", s.login)
		r.Delete("/sessions/{key}", s.logout)

		r.Get("/rules", s.listRules)
		r.Post("/rules/{name}/trigger", s.triggerRule)
	})
	return r
}
