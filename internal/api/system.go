package api

import (
	"net/http"
	"time"

	"github.com/nerrad567/playrelay/internal/playback"
	"github.com/nerrad567/playrelay/internal/session"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status           string `json:"status"`
	Version          string `json:"version"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	Clients          int    `json:"clients"`
	Sessions         int    `json:"sessions"`
	ControllerActive bool   `json:"controller_active"`
	MQTTConnected    *bool  `json:"mqtt_connected,omitempty"`
}

// handleHealth reports process status and session counts. No auth.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	registry := s.broadcaster.Registry()
	resp := HealthResponse{
		Status:           "ok",
		Version:          s.version,
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
		Clients:          registry.ExternalCount(),
		Sessions:         registry.Count(),
		ControllerActive: s.broadcaster.State().Snapshot().ControllerActive,
	}
	if s.mqtt != nil {
		connected := s.mqtt.IsConnected()
		resp.MQTTConnected = &connected
	}
	writeJSON(w, http.StatusOK, resp)
}

// stateResponse flattens the snapshot next to the success flag.
type stateResponse struct {
	Success bool `json:"success"`
	playback.Snapshot
}

// handleState returns the shared playback state.
func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, stateResponse{
		Success:  true,
		Snapshot: s.broadcaster.State().Snapshot(),
	})
}

// handleListSessions lists every connected session, controllers included.
func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	registry := s.broadcaster.Registry()
	sessions := registry.List()

	controllers := 0
	for _, sess := range sessions {
		if sess.Role == session.RoleController {
			controllers++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"sessions":    sessions,
		"count":       len(sessions),
		"controllers": controllers,
	})
}
