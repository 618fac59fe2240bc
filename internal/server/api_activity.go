package server

import (
	"net/http"

	"opsdec/internal/models"
)

// handleActivity returns the live session snapshot the engine maintains.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	sessions := []models.ActiveSession{}
	if s.engine != nil {
		if cur, err := s.engine.CurrentSessions(); err == nil {
			sessions = cur
		} else {
			writeInternal(w, "loading active sessions", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}
