package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/playrelay/internal/relay"
)

// defaultWSPath is used when websocket.path is empty.
const defaultWSPath = "/ws"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	// Unauthenticated
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = defaultWSPath
	}
	r.Get(wsPath, s.handleWebSocket)

	// First key creation from loopback while no key exists.
	r.With(s.setupOrAuthMiddleware).Post("/admin/keys", s.handleCreateKey)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		for _, route := range relay.Routes() {
			r.Post(route.Path, s.handleCommand(route.Command))
		}

		r.Get("/state", s.handleState)
		r.Get("/commands", s.handleCommandCatalog)

		r.Get("/admin/keys", s.handleListKeys)
		r.Patch("/admin/keys/{id}", s.handleRenameKey)
		r.Delete("/admin/keys/{id}", s.handleDeleteKey)
		r.Get("/admin/sessions", s.handleListSessions)
		r.Get("/admin/audit", s.handleListAuditLogs)
	})

	return r
}
