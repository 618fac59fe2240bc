package server

import (
	"errors"
	"net/http"

	"opsdec/internal/models"
)

func (s *Server) handleListMediaUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListMediaUsers()
	if err != nil {
		writeInternal(w, "listing media users", err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleGetMediaUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	user, err := s.store.GetMediaUserByID(id)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		writeInternal(w, "loading media user", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleUpdateMediaUser toggles per-user history recording.
func (s *Server) handleUpdateMediaUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req struct {
		HistoryEnabled *bool `json:"history_enabled"`
	}
	if err := decodeJSON(r, &req); err != nil || req.HistoryEnabled == nil {
		writeError(w, http.StatusBadRequest, "history_enabled is required")
		return
	}

	err = s.store.SetHistoryEnabled(id, *req.HistoryEnabled)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		writeInternal(w, "updating media user", err)
		return
	}

	user, err := s.store.GetMediaUserByID(id)
	if err != nil {
		writeInternal(w, "loading media user", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleMediaUserStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	user, err := s.store.GetMediaUserByID(id)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		writeInternal(w, "loading media user", err)
		return
	}

	stats, err := s.store.MediaUserStats(user.UserName)
	if err != nil {
		writeInternal(w, "computing user stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
