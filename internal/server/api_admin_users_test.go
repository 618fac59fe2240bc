package server

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"opsdec/internal/models"
)

func TestAdminUserManagement(t *testing.T) {
	srv, _ := newTestServer(t)
	adminToken := registerAdmin(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/auth/users", adminToken, map[string]any{
		"username": "viewer",
		"password": "password123",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user: status %d body %s", rec.Code, rec.Body.String())
	}
	var createResp struct {
		User models.AuthUser `json:"user"`
	}
	decodeBody(t, rec, &createResp)
	created := createResp.User
	if created.IsAdmin {
		t.Error("created user should not be admin by default")
	}

	// Duplicate username.
	rec = doJSON(t, srv, http.MethodPost, "/api/auth/users", adminToken, map[string]any{
		"username": "viewer",
		"password": "password123",
	})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "already taken") {
		t.Fatalf("duplicate username: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/auth/users", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list users: status %d", rec.Code)
	}
	var listResp struct {
		Users []models.AuthUser `json:"users"`
	}
	decodeBody(t, rec, &listResp)
	if len(listResp.Users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(listResp.Users))
	}

	// Non-admins are locked out of user management.
	rec = doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "viewer",
		"password": "password123",
	})
	var login struct {
		AccessToken string `json:"accessToken"`
	}
	decodeBody(t, rec, &login)

	rec = doJSON(t, srv, http.MethodGet, "/api/auth/users", login.AccessToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin list users: status %d", rec.Code)
	}

	// Promote, then deactivate.
	rec = doJSON(t, srv, http.MethodPut, fmt.Sprintf("/api/auth/users/%d", created.ID), adminToken, map[string]any{
		"is_admin": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("promote: status %d body %s", rec.Code, rec.Body.String())
	}
	var updateResp struct {
		User models.AuthUser `json:"user"`
	}
	decodeBody(t, rec, &updateResp)
	if !updateResp.User.IsAdmin {
		t.Error("user should be admin after promotion")
	}

	rec = doJSON(t, srv, http.MethodPut, fmt.Sprintf("/api/auth/users/%d", created.ID), adminToken, map[string]any{
		"is_active": false,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/auth/users/%d", created.ID), adminToken, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "deleted") {
		t.Fatalf("delete: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/auth/users/%d", created.ID), adminToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("delete again: status %d", rec.Code)
	}
}

func TestAdminSelfProtection(t *testing.T) {
	srv, st := newTestServer(t)
	adminToken := registerAdmin(t, srv)

	admin, err := st.GetAuthUserByUsername("admin")
	if err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, srv, http.MethodPut, fmt.Sprintf("/api/auth/users/%d", admin.ID), adminToken, map[string]any{
		"is_admin": false,
	})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "Cannot remove") {
		t.Fatalf("self-demote: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodPut, fmt.Sprintf("/api/auth/users/%d", admin.ID), adminToken, map[string]any{
		"is_active": false,
	})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "Cannot deactivate") {
		t.Fatalf("self-deactivate: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/auth/users/%d", admin.ID), adminToken, nil)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "Cannot delete") {
		t.Fatalf("self-delete: status %d body %s", rec.Code, rec.Body.String())
	}
}
