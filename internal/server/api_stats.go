package server

import "net/http"

func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	active := 0
	if s.engine != nil {
		if sessions, err := s.engine.CurrentSessions(); err == nil {
			active = len(sessions)
		}
	}

	stats, err := s.store.DashboardStats(active)
	if err != nil {
		writeInternal(w, "computing dashboard stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
