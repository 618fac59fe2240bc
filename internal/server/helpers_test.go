package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"

	"opsdec/internal/auth"
	"opsdec/internal/engine"
	"opsdec/internal/imagecache"
	"opsdec/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	_, file, _, _ := runtime.Caller(0)
	migrations := filepath.Join(filepath.Dir(file), "..", "..", "migrations")
	if err := st.Migrate(migrations); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return st
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *store.Store) {
	t.Helper()

	st := newTestStore(t)
	minter, err := auth.NewTokenMinter("test-secret-at-least-16-bytes")
	if err != nil {
		t.Fatal(err)
	}
	svc := auth.NewService(st, minter)

	all := append([]Option{
		WithAuth(svc),
		WithEngine(engine.New(st)),
	}, opts...)

	srv := NewServer(st, all...)
	t.Cleanup(srv.Close)
	return srv, st
}

func newTestImageCache(t *testing.T, st *store.Store) *imagecache.Cache {
	t.Helper()
	c, err := imagecache.New(t.TempDir(), st)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v (body: %s)", err, rec.Body.String())
	}
}

// registerAdmin bootstraps the first account and returns its access token.
func registerAdmin(t *testing.T, srv *Server) string {
	t.Helper()

	rec := doJSON(t, srv, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "admin",
		"password": "password123",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("registering admin: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "admin",
		"password": "password123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("logging in admin: status %d body %s", rec.Code, rec.Body.String())
	}

	var body struct {
		AccessToken string `json:"accessToken"`
	}
	decodeBody(t, rec, &body)
	if body.AccessToken == "" {
		t.Fatal("expected an access token from login")
	}
	return body.AccessToken
}
