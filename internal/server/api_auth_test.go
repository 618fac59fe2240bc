package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSetupFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/auth/setup-required", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var setup struct {
		SetupRequired bool `json:"setupRequired"`
	}
	decodeBody(t, rec, &setup)
	if !setup.SetupRequired {
		t.Fatal("fresh instance should require setup")
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "admin",
		"password": "password123",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d body %s", rec.Code, rec.Body.String())
	}
	var registered struct {
		User struct {
			Username string `json:"username"`
			IsAdmin  bool   `json:"is_admin"`
		} `json:"user"`
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	decodeBody(t, rec, &registered)
	if !registered.User.IsAdmin {
		t.Error("bootstrap account should be admin")
	}
	if registered.AccessToken == "" || registered.RefreshToken == "" {
		t.Error("register should return both tokens")
	}

	cookies := rec.Result().Cookies()
	var gotAccess, gotRefresh bool
	for _, c := range cookies {
		switch c.Name {
		case "opsdec_access_token":
			gotAccess = true
			if !c.HttpOnly {
				t.Error("access cookie should be HttpOnly")
			}
		case "opsdec_refresh_token":
			gotRefresh = true
			if !c.HttpOnly {
				t.Error("refresh cookie should be HttpOnly")
			}
		}
	}
	if !gotAccess || !gotRefresh {
		t.Fatalf("expected both auth cookies, got %v", cookies)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/auth/setup-required", "", nil)
	decodeBody(t, rec, &setup)
	if setup.SetupRequired {
		t.Error("setup should be complete after registering")
	}

	// Second anonymous registration is rejected.
	rec = doJSON(t, srv, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "intruder",
		"password": "password123",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("post-bootstrap anonymous register: status %d", rec.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "admin",
	})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "required") {
		t.Fatalf("missing password: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "ab",
		"password": "password123",
	})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "3 characters") {
		t.Fatalf("short username: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "admin",
		"password": "short",
	})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "8 characters") {
		t.Fatalf("short password: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestLoginFailures(t *testing.T) {
	srv, st := newTestServer(t)
	registerAdmin(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "admin",
		"password": "wrong-password",
	})
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "Invalid") {
		t.Fatalf("bad password: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "nobody",
		"password": "password123",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown user: status %d", rec.Code)
	}

	// Disable the account and verify login is refused.
	user, err := st.GetAuthUserByUsername("admin")
	if err != nil {
		t.Fatal(err)
	}
	user.IsActive = false
	if err := st.UpdateAuthUser(user); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "admin",
		"password": "password123",
	})
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "disabled") {
		t.Fatalf("disabled account: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestRefreshAndLogout(t *testing.T) {
	srv, _ := newTestServer(t)
	registerAdmin(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "admin",
		"password": "password123",
	})
	var refreshCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "opsdec_refresh_token" {
			refreshCookie = c
		}
	}
	if refreshCookie == nil {
		t.Fatal("login should set a refresh cookie")
	}

	// Refresh without any token.
	rec = doJSON(t, srv, http.MethodPost, "/api/auth/refresh", "", nil)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "Refresh token required") {
		t.Fatalf("missing refresh token: status %d body %s", rec.Code, rec.Body.String())
	}

	// Refresh via cookie.
	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.AddCookie(refreshCookie)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("refresh: status %d body %s", w.Code, w.Body.String())
	}
	var refreshed struct {
		AccessToken string `json:"accessToken"`
	}
	decodeBody(t, w, &refreshed)
	if refreshed.AccessToken == "" {
		t.Fatal("expected fresh access token")
	}

	// Refresh via body works for cookieless clients.
	rec = doJSON(t, srv, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refreshToken": refreshCookie.Value,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh via body: status %d", rec.Code)
	}

	// Logout revokes it.
	rec = doJSON(t, srv, http.MethodPost, "/api/auth/logout", "", map[string]string{
		"refreshToken": refreshCookie.Value,
	})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Logged out") {
		t.Fatalf("logout: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refreshToken": refreshCookie.Value,
	})
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "Invalid refresh token") {
		t.Fatalf("refresh after logout: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestMeRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	token := registerAdmin(t, srv)

	rec := doJSON(t, srv, http.MethodGet, "/api/auth/me", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous /me: status %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("/me: status %d body %s", rec.Code, rec.Body.String())
	}
	var me struct {
		User struct {
			Username string `json:"username"`
		} `json:"user"`
	}
	decodeBody(t, rec, &me)
	if me.User.Username != "admin" {
		t.Errorf("username = %q, want admin", me.User.Username)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/auth/me", "garbage-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status %d", rec.Code)
	}
}

func TestChangePasswordRevokesRefreshTokens(t *testing.T) {
	srv, _ := newTestServer(t)
	token := registerAdmin(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "admin",
		"password": "password123",
	})
	var refreshToken string
	for _, c := range rec.Result().Cookies() {
		if c.Name == "opsdec_refresh_token" {
			refreshToken = c.Value
		}
	}

	rec = doJSON(t, srv, http.MethodPut, "/api/auth/password", token, map[string]string{
		"currentPassword": "wrong",
		"newPassword":     "newpassword456",
	})
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "Invalid current password") {
		t.Fatalf("wrong current password: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodPut, "/api/auth/password", token, map[string]string{
		"currentPassword": "password123",
		"newPassword":     "newpassword456",
	})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Password changed") {
		t.Fatalf("change password: status %d body %s", rec.Code, rec.Body.String())
	}

	// Old refresh tokens are dead.
	rec = doJSON(t, srv, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refreshToken": refreshToken,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after password change: status %d", rec.Code)
	}

	// New password works.
	rec = doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "admin",
		"password": "newpassword456",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login with new password: status %d", rec.Code)
	}
}

func TestLoginRateLimit(t *testing.T) {
	srv, _ := newTestServer(t)
	registerAdmin(t, srv)

	// Ten failures fill the window; the next attempt is cut off even with
	// correct credentials.
	for i := 0; i < 10; i++ {
		rec := doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
			"username": "admin",
			"password": "wrong-password",
		})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status %d", i, rec.Code)
		}
	}

	rec := doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "admin",
		"password": "password123",
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("over limit: status %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "900" {
		t.Errorf("Retry-After = %q, want 900", got)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("health: status %d body %s", rec.Code, rec.Body.String())
	}
}
