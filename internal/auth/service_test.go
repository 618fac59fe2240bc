package auth

import (
	"errors"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"opsdec/internal/store"
)

func newTestService(t *testing.T, opts ...Option) *Service {
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

	minter, err := NewTokenMinter("test-secret-at-least-16-bytes")
	if err != nil {
		t.Fatal(err)
	}
	return NewService(st, minter, opts...)
}

func TestRegisterFirst(t *testing.T) {
	svc := newTestService(t)

	required, err := svc.IsSetupRequired()
	if err != nil {
		t.Fatal(err)
	}
	if !required {
		t.Fatal("fresh instance should require setup")
	}

	user, pair, err := svc.RegisterFirst("admin", "password123", "admin@example.com")
	if err != nil {
		t.Fatalf("RegisterFirst failed: %v", err)
	}
	if !user.IsAdmin {
		t.Error("first user should be admin")
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Error("expected both tokens")
	}

	required, err = svc.IsSetupRequired()
	if err != nil {
		t.Fatal(err)
	}
	if required {
		t.Error("setup should be complete after first admin")
	}

	// A second bootstrap attempt must fail.
	if _, _, err := svc.RegisterFirst("admin2", "password123", ""); !errors.Is(err, store.ErrSetupComplete) {
		t.Errorf("expected ErrSetupComplete, got %v", err)
	}
}

func TestRegisterFirst_Validation(t *testing.T) {
	svc := newTestService(t)

	if _, _, err := svc.RegisterFirst("ab", "password123", ""); !errors.Is(err, ErrUsernameTooShort) {
		t.Errorf("expected ErrUsernameTooShort, got %v", err)
	}
	if _, _, err := svc.RegisterFirst("admin", "short", ""); !errors.Is(err, ErrPasswordTooShort) {
		t.Errorf("expected ErrPasswordTooShort, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc := newTestService(t)
	if _, _, err := svc.RegisterFirst("admin", "password123", ""); err != nil {
		t.Fatal(err)
	}

	user, pair, err := svc.Login("admin", "password123")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if user.Username != "admin" {
		t.Errorf("unexpected user: %s", user.Username)
	}
	if user.LastLogin == nil {
		t.Error("expected last login to be set")
	}

	claims, err := svc.VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess failed: %v", err)
	}
	if claims.UserID != user.ID {
		t.Errorf("claims user = %d, want %d", claims.UserID, user.ID)
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	svc := newTestService(t)
	if _, _, err := svc.RegisterFirst("admin", "password123", ""); err != nil {
		t.Fatal(err)
	}

	if _, _, err := svc.Login("admin", "wrongpass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login("nobody", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLogin_DisabledAccount(t *testing.T) {
	svc := newTestService(t)
	if _, _, err := svc.RegisterFirst("admin", "password123", ""); err != nil {
		t.Fatal(err)
	}
	user, err := svc.CreateUser("viewer", "password123", "", false)
	if err != nil {
		t.Fatal(err)
	}

	user.IsActive = false
	if err := svc.Store().UpdateAuthUser(user); err != nil {
		t.Fatal(err)
	}

	if _, _, err := svc.Login("viewer", "password123"); !errors.Is(err, ErrAccountDisabled) {
		t.Errorf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestRefresh(t *testing.T) {
	svc := newTestService(t)
	_, pair, err := svc.RegisterFirst("admin", "password123", "")
	if err != nil {
		t.Fatal(err)
	}

	access, err := svc.Refresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if _, err := svc.VerifyAccess(access); err != nil {
		t.Fatalf("refreshed access token invalid: %v", err)
	}

	// Tokens are not rotated: the same refresh token works again.
	if _, err := svc.Refresh(pair.RefreshToken); err != nil {
		t.Fatalf("second Refresh failed: %v", err)
	}
}

func TestRefresh_Revoked(t *testing.T) {
	svc := newTestService(t)
	_, pair, err := svc.RegisterFirst("admin", "password123", "")
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Logout(pair.RefreshToken); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Refresh(pair.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Errorf("expected ErrRefreshInvalid after logout, got %v", err)
	}
}

func TestRefresh_Unknown(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Refresh("no-such-token"); !errors.Is(err, ErrRefreshInvalid) {
		t.Errorf("expected ErrRefreshInvalid, got %v", err)
	}
}

func TestRefresh_Expired(t *testing.T) {
	svc := newTestService(t, WithRefreshTTL(-time.Minute))
	_, pair, err := svc.RegisterFirst("admin", "password123", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Refresh(pair.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Errorf("expected ErrRefreshInvalid for expired token, got %v", err)
	}
}

func TestLogout_Empty(t *testing.T) {
	svc := newTestService(t)
	if err := svc.Logout(""); err != nil {
		t.Errorf("logout without token should be a no-op, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	svc := newTestService(t)
	user, pair, err := svc.RegisterFirst("admin", "oldpassword", "")
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.ChangePassword(user.ID, "wrongpass", "newpassword1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}

	if err := svc.ChangePassword(user.ID, "oldpassword", "newpassword1"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	if _, _, err := svc.Login("admin", "oldpassword"); !errors.Is(err, ErrInvalidCredentials) {
		t.Error("old password should no longer work")
	}
	if _, _, err := svc.Login("admin", "newpassword1"); err != nil {
		t.Errorf("new password should work: %v", err)
	}

	// Password change revokes existing refresh tokens.
	if _, err := svc.Refresh(pair.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Errorf("expected old refresh token revoked, got %v", err)
	}
}

func TestCreateUser_DuplicateUsername(t *testing.T) {
	svc := newTestService(t)
	if _, _, err := svc.RegisterFirst("admin", "password123", ""); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.CreateUser("viewer", "password123", "", false); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateUser("viewer", "password456", "", false); !errors.Is(err, store.ErrUsernameTaken) {
		t.Errorf("expected ErrUsernameTaken, got %v", err)
	}
}
