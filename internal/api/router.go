package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
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

	// WebSocket upgrade. Authentication happens in-band on the first
	// frame (device_auth / device_reconnect / user_auth), not here.
	r.Get(s.wsPath, s.gateway.HandleWS)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Account endpoints (no auth required)
		r.Post("/users/register", s.handleRegister)
		r.Post("/users/login", s.handleLogin)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// One-time pairing credential for a new device
			r.Get("/binding-token", s.handleIssueBindingToken)

			// Device endpoints
			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)

				r.Route("/{hardwareID}", func(r chi.Router) {
					r.Patch("/", s.handleUpdateAlias)
					r.Delete("/", s.handleUnbindDevice)
					r.Get("/config", s.handleGetDeviceConfig)
					r.Put("/config", s.handleSetDeviceConfig)
					r.Get("/commands", s.handleListDeviceCommands)
				})
			})

			// Live connection snapshot
			r.Get("/ws-status", s.handleWSStatus)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
