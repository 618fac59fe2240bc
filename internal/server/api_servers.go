package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"opsdec/internal/httputil"
	"opsdec/internal/models"
)

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.store.ListServers()
	if err != nil {
		writeInternal(w, "listing servers", err)
		return
	}
	writeJSON(w, http.StatusOK, servers)
}

func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var input models.ServerInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	srv := input.ToServer()
	if err := srv.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := httputil.ValidateServerURL(srv.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.CreateServer(srv); err != nil {
		writeInternal(w, "creating server", err)
		return
	}

	if s.engine != nil && srv.Enabled {
		if err := s.engine.AddServer(*srv); err != nil {
			writeInternal(w, "registering server with engine", err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, srv)
}

// handleUpdateServer modifies a user-created server. Environment-provisioned
// rows are owned by the deployment config and cannot be edited here.
func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid server id")
		return
	}

	existing, err := s.store.GetServer(id)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "server not found")
		return
	}
	if err != nil {
		writeInternal(w, "loading server", err)
		return
	}
	if existing.Origin == models.OriginEnvironment {
		writeError(w, http.StatusBadRequest, "environment-provisioned servers are read-only")
		return
	}

	var input models.ServerInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	existing.Name = input.Name
	existing.Kind = input.Kind
	existing.URL = input.URL
	existing.Enabled = input.Enabled
	if input.Credential != "" {
		existing.Credential = input.Credential
	}
	if err := existing.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := httputil.ValidateServerURL(existing.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.UpdateServer(existing); err != nil {
		writeInternal(w, "updating server", err)
		return
	}

	if s.engine != nil {
		s.engine.RemoveServer(id)
		if existing.Enabled {
			if err := s.engine.AddServer(*existing); err != nil {
				writeInternal(w, "registering server with engine", err)
				return
			}
		}
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid server id")
		return
	}

	existing, err := s.store.GetServer(id)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "server not found")
		return
	}
	if err != nil {
		writeInternal(w, "loading server", err)
		return
	}
	if existing.Origin == models.OriginEnvironment {
		writeError(w, http.StatusBadRequest, "environment-provisioned servers are read-only")
		return
	}

	if err := s.store.DeleteServer(id); err != nil {
		writeInternal(w, "deleting server", err)
		return
	}
	if s.engine != nil {
		s.engine.RemoveServer(id)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Server deleted"})
}

func (s *Server) handleTestServer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid server id")
		return
	}
	if _, err := s.store.GetServer(id); errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "server not found")
		return
	} else if err != nil {
		writeInternal(w, "loading server", err)
		return
	}

	adapter, ok := s.engine.GetAdapter(id)
	if !ok {
		writeError(w, http.StatusBadRequest, "server is not being monitored")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := adapter.TestConnection(ctx); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type serverHealth struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Enabled bool   `json:"enabled"`
	Ok      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// handleServersHealth probes every monitored server concurrently.
func (s *Server) handleServersHealth(w http.ResponseWriter, r *http.Request) {
	servers, err := s.store.ListServers()
	if err != nil {
		writeInternal(w, "listing servers", err)
		return
	}

	results := make([]serverHealth, len(servers))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(8)
	for i, srv := range servers {
		i, srv := i, srv
		g.Go(func() error {
			h := serverHealth{ID: srv.ID, Name: srv.Name, Kind: string(srv.Kind), Enabled: srv.Enabled}
			if adapter, ok := s.engine.GetAdapter(srv.ID); ok {
				probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				defer cancel()
				if err := adapter.TestConnection(probeCtx); err != nil {
					h.Error = err.Error()
				} else {
					h.Ok = true
				}
			} else {
				h.Error = "not monitored"
			}
			mu.Lock()
			results[i] = h
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	writeJSON(w, http.StatusOK, results)
}
