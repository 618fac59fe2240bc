package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"opsdec/internal/auth"
	"opsdec/internal/models"
	"opsdec/internal/store"
)

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (s *Server) handleListAuthUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListAuthUsers()
	if err != nil {
		writeInternal(w, "listing accounts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) handleCreateAuthUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Email    string `json:"email"`
		IsAdmin  bool   `json:"is_admin"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := s.auth.CreateUser(req.Username, req.Password, req.Email, req.IsAdmin)
	if err != nil {
		s.writeAuthValidationError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

// handleUpdateAuthUser changes role, active flag, or email. Admins cannot
// strip their own admin role or deactivate themselves.
func (s *Server) handleUpdateAuthUser(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())

	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req struct {
		Username *string `json:"username"`
		Email    *string `json:"email"`
		IsAdmin  *bool   `json:"is_admin"`
		IsActive *bool   `json:"is_active"`
		Password *string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.store.GetAuthUserByID(id)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		writeInternal(w, "loading account", err)
		return
	}

	if req.IsAdmin != nil {
		if id == claims.UserID && user.IsAdmin && !*req.IsAdmin {
			writeError(w, http.StatusBadRequest, "Cannot remove your own admin role")
			return
		}
		user.IsAdmin = *req.IsAdmin
	}
	if req.IsActive != nil {
		if id == claims.UserID && !*req.IsActive {
			writeError(w, http.StatusBadRequest, "Cannot deactivate your own account")
			return
		}
		user.IsActive = *req.IsActive
	}
	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.Username != nil {
		if err := auth.ValidateUsername(*req.Username); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		user.Username = *req.Username
	}

	err = s.store.UpdateAuthUser(user)
	if errors.Is(err, store.ErrUsernameTaken) {
		writeError(w, http.StatusBadRequest, "username already taken")
		return
	}
	if err != nil {
		writeInternal(w, "updating account", err)
		return
	}

	if req.Password != nil {
		if err := auth.ValidatePassword(*req.Password); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			writeInternal(w, "hashing password", err)
			return
		}
		if err := s.store.UpdateAuthPassword(id, hash); err != nil {
			writeInternal(w, "updating password", err)
			return
		}
		if err := s.store.RevokeUserRefreshTokens(id); err != nil {
			writeInternal(w, "revoking sessions", err)
			return
		}
	}

	// Deactivation cuts existing sessions off at the next refresh.
	if req.IsActive != nil && !*req.IsActive {
		if err := s.store.RevokeUserRefreshTokens(id); err != nil {
			writeInternal(w, "revoking sessions", err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) handleDeleteAuthUser(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())

	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if id == claims.UserID {
		writeError(w, http.StatusBadRequest, "Cannot delete your own account")
		return
	}

	err = s.store.DeleteAuthUser(id)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		writeInternal(w, "deleting account", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "User deleted"})
}
