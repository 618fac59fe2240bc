package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.ListSettings()
	if err != nil {
		writeInternal(w, "listing settings", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := s.store.GetSetting(key)
	if err != nil {
		writeInternal(w, "loading setting", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.store.SetSetting(key, req.Value); err != nil {
		writeInternal(w, "saving setting", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}

// handleMonitoringRestart re-reads server rows and kicks an immediate poll.
func (s *Server) handleMonitoringRestart(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "monitoring is not running")
		return
	}
	if err := s.engine.Reload(); err != nil {
		writeInternal(w, "reloading monitored servers", err)
		return
	}
	s.engine.TriggerPoll()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Monitoring restarted"})
}
