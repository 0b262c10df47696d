package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/config"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/discover", s.handleDiscover)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Delete("/", s.handleDeleteDevice)
					r.Post("/actions/{action}", s.handleDispatch)
					r.Get("/events", s.handleDeviceEvents)
				})
			})

			r.Get("/policy", s.handleGetPolicy)
			r.Get("/events", s.handleEventStates)
			r.Get("/audit", s.handleListAudit)
			r.Get(wsPath(s.wsCfg), s.handleWebSocket)
		})
	})

	return r
}

// wsPath returns the configured WebSocket path under /api/v1.
func wsPath(cfg config.WebSocketConfig) string {
	if cfg.Path == "" {
		return "/ws"
	}
	return cfg.Path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"devices": len(s.fleet.Devices()),
	})
}
