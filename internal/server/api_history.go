package server

import (
	"errors"
	"net/http"
	"strconv"

	"opsdec/internal/models"
	"opsdec/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.HistoryFilter{
		UserName: q.Get("user"),
		Limit:    defaultHistoryLimit,
	}
	if kind := q.Get("media_kind"); kind != "" {
		filter.MediaKind = models.MediaKind(kind)
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = min(n, maxHistoryLimit)
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	records, total, err := s.store.ListHistory(filter)
	if err != nil {
		writeInternal(w, "listing history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"total":   total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid history id")
		return
	}

	err = s.store.DeleteHistory(id)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "history record not found")
		return
	}
	if err != nil {
		writeInternal(w, "deleting history record", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "History record deleted"})
}
