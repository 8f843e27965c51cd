// Package api exposes the daemon's host-facing HTTP surface: record capture,
// sync control, change feeds for peer devices, and health.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes (no auth required)
		r.Get("/health", h.Health)

		// Protected routes (auth required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))

			r.Post("/records/clients", h.CaptureClient)
			r.Post("/records/events", h.CaptureEvent)
			r.Get("/records/clients/{baseEntityID}", h.GetClient)
			r.Get("/records/events/{formSubmissionID}", h.GetEvent)
			r.Get("/records/entities/{baseEntityID}/events", h.GetEntityEvents)

			r.Get("/changes/events", h.EventChanges)
			r.Get("/changes/clients", h.ClientChanges)

			r.Get("/sync/status", h.SyncStatus)
			r.Post("/sync", h.TriggerSync)
			r.Post("/validate", h.RunValidation)
		})
	})

	return r
}
