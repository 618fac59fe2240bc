package server

import (
	"errors"
	"net/http"

	"opsdec/internal/auth"
	"opsdec/internal/store"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

func (s *Server) handleSetupRequired(w http.ResponseWriter, r *http.Request) {
	required, err := s.auth.IsSetupRequired()
	if err != nil {
		writeInternal(w, "checking setup state", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"setupRequired": required})
}

// handleRegister creates the bootstrap admin when no accounts exist. Once an
// account exists, registration requires an authenticated admin.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	required, err := s.auth.IsSetupRequired()
	if err != nil {
		writeInternal(w, "checking setup state", err)
		return
	}

	if required {
		user, pair, err := s.auth.RegisterFirst(req.Username, req.Password, req.Email)
		if err != nil {
			s.writeAuthValidationError(w, err)
			return
		}
		s.auth.SetCookies(w, r, pair)
		writeJSON(w, http.StatusCreated, map[string]any{
			"user":         user,
			"accessToken":  pair.AccessToken,
			"refreshToken": pair.RefreshToken,
		})
		return
	}

	// Post-bootstrap registration is admin-only.
	claims, err := s.auth.VerifyAccess(bearerToken(r))
	if err != nil || !claims.IsAdmin {
		writeError(w, http.StatusUnauthorized, "admin authentication required")
		return
	}
	user, err := s.auth.CreateUser(req.Username, req.Password, req.Email, false)
	if err != nil {
		s.writeAuthValidationError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (s *Server) writeAuthValidationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrUsernameTaken):
		writeError(w, http.StatusBadRequest, "username already taken")
	case errors.Is(err, store.ErrSetupComplete):
		writeError(w, http.StatusBadRequest, "setup already complete")
	case errors.Is(err, auth.ErrUsernameTooShort),
		errors.Is(err, auth.ErrUsernameInvalid),
		errors.Is(err, auth.ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeInternal(w, "creating account", err)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, pair, err := s.auth.Login(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrAccountDisabled):
		writeError(w, http.StatusUnauthorized, "account disabled")
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	case err != nil:
		writeInternal(w, "logging in", err)
		return
	}

	s.auth.SetCookies(w, r, pair)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":         user,
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}

// refreshFromRequest pulls the refresh token from the cookie or, for
// cookieless clients, the request body.
func refreshFromRequest(r *http.Request) string {
	if c, err := r.Cookie(auth.RefreshCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeJSON(r, &body); err == nil {
		return body.RefreshToken
	}
	return ""
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := refreshFromRequest(r)
	if token == "" {
		writeError(w, http.StatusBadRequest, "Refresh token required")
		return
	}

	access, err := s.auth.Refresh(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	secure := r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
	http.SetCookie(w, &http.Cookie{
		Name:     auth.AccessCookieName,
		Value:    access,
		Path:     "/",
		MaxAge:   int(auth.DefaultAccessTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"accessToken": access})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := refreshFromRequest(r)
	if err := s.auth.Logout(token); err != nil {
		writeInternal(w, "logging out", err)
		return
	}
	s.auth.ClearCookies(w, r)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())
	user, err := s.auth.Store().GetAuthUserByID(claims.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())

	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "current and new passwords are required")
		return
	}

	err := s.auth.ChangePassword(claims.UserID, req.CurrentPassword, req.NewPassword)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid current password")
		return
	case errors.Is(err, auth.ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeInternal(w, "changing password", err)
		return
	}

	s.auth.ClearCookies(w, r)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed"})
}
