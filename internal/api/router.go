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

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)

		// Broker callbacks. The webhook authenticates with its shared
		// secret header; the ACL hook is answered for any caller.
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware)
			r.Post("/emqx/webhook", s.handleWebhook)
			r.Post("/emqx/acl", s.handleACL)
		})

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Post("/token", s.handleIssueToken)

			r.Route("/messages", func(r chi.Router) {
				r.Get("/", s.handleListMessages)
				r.Post("/", s.handleSendMessage)
			})

			r.Get("/devices", s.handleListDevices)

			r.Route("/push/devices", func(r chi.Router) {
				r.Get("/", s.handleListPushDevices)
				r.Post("/", s.handleRegisterPushDevice)
				r.Delete("/", s.handleUnregisterPushDevice)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Get("/metrics", s.handleMetrics)
				r.Get("/users", s.handleListUsers)
				r.Post("/users", s.handleCreateUser)
				r.Patch("/users/{id}", s.handleUpdateUser)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	broker := "disabled"
	if s.broker != nil {
		broker = "disconnected"
		if s.broker.IsConnected() {
			broker = "connected"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"mqtt":    broker,
	})
}
