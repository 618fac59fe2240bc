package auth

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"
	"unicode/utf8"

	"opsdec/internal/models"
	"opsdec/internal/store"
)

const (
	AccessCookieName  = "opsdec_access_token"
	RefreshCookieName = "opsdec_refresh_token"

	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrRefreshInvalid     = errors.New("refresh token invalid")
	ErrUsernameTooShort   = errors.New("username must be at least 3 characters")
	ErrUsernameInvalid    = errors.New("username can only contain letters, numbers, underscores, and hyphens")
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateUsername enforces the account naming rules shared by register and
// admin user creation.
func ValidateUsername(username string) error {
	length := utf8.RuneCountInString(username)
	if length < 3 {
		return ErrUsernameTooShort
	}
	if length > 32 {
		return fmt.Errorf("username must be at most 32 characters")
	}
	if !usernameRegex.MatchString(username) {
		return ErrUsernameInvalid
	}
	return nil
}

// Service is the authentication core: bootstrap, login, refresh, logout,
// password change. HTTP shape lives in internal/server.
type Service struct {
	store      *store.Store
	minter     *TokenMinter
	accessTTL  time.Duration
	refreshTTL time.Duration
}

type Option func(*Service)

func WithAccessTTL(d time.Duration) Option {
	return func(s *Service) { s.accessTTL = d }
}

func WithRefreshTTL(d time.Duration) Option {
	return func(s *Service) { s.refreshTTL = d }
}

func NewService(st *store.Store, minter *TokenMinter, opts ...Option) *Service {
	s := &Service{
		store:      st,
		minter:     minter,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Store() *store.Store { return s.store }

// TokenPair is what register and login hand back to the client.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

func (s *Service) IsSetupRequired() (bool, error) {
	return s.store.IsSetupRequired()
}

// IssueTokens mints an access token and a tracked refresh token for the user.
func (s *Service) IssueTokens(user *models.AuthUser) (*TokenPair, error) {
	access, err := s.minter.MintAccess(user.ID, user.Username, user.IsAdmin, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.store.CreateRefreshToken(user.ID, time.Now().UTC().Add(s.refreshTTL))
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// RegisterFirst creates the bootstrap admin. Only valid while no users exist.
func (s *Service) RegisterFirst(username, password, email string) (*models.AuthUser, *TokenPair, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, nil, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, nil, err
	}
	user, err := s.store.CreateFirstAdmin(username, hash, email)
	if err != nil {
		return nil, nil, err
	}
	pair, err := s.IssueTokens(user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// CreateUser adds an account on behalf of an admin.
func (s *Service) CreateUser(username, password, email string, isAdmin bool) (*models.AuthUser, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	return s.store.CreateAuthUser(username, hash, email, isAdmin)
}

// Login verifies credentials and issues a token pair. Unknown users are
// verified against DummyHash so response timing does not leak existence.
func (s *Service) Login(username, password string) (*models.AuthUser, *TokenPair, error) {
	user, err := s.store.GetAuthUserByUsername(username)
	found := err == nil && user.PasswordHash != ""

	hashToVerify := DummyHash
	if found {
		hashToVerify = user.PasswordHash
	}
	valid, _ := VerifyPassword(password, hashToVerify)
	if !found || !valid {
		return nil, nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, nil, ErrAccountDisabled
	}

	pair, err := s.IssueTokens(user)
	if err != nil {
		return nil, nil, err
	}
	if err := s.store.UpdateLastLogin(user.ID); err != nil {
		return nil, nil, err
	}
	// Re-read so the caller sees the login timestamp just written.
	user, err = s.store.GetAuthUserByID(user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Refresh exchanges a tracked refresh token for a fresh access token. The
// refresh token itself is not rotated; it stays usable until revocation.
func (s *Service) Refresh(refreshID string) (string, error) {
	rt, err := s.store.GetRefreshToken(refreshID)
	if err != nil {
		return "", ErrRefreshInvalid
	}
	if rt.Revoked || time.Now().UTC().After(rt.ExpiresAt) {
		return "", ErrRefreshInvalid
	}
	user, err := s.store.GetAuthUserByID(rt.UserID)
	if err != nil || !user.IsActive {
		return "", ErrRefreshInvalid
	}
	return s.minter.MintAccess(user.ID, user.Username, user.IsAdmin, s.accessTTL)
}

// Logout revokes the refresh token if present. Idempotent by design.
func (s *Service) Logout(refreshID string) error {
	if refreshID == "" {
		return nil
	}
	return s.store.RevokeRefreshToken(refreshID)
}

// ChangePassword verifies the current password, stores the new hash, and
// revokes every refresh token the user holds.
func (s *Service) ChangePassword(userID int64, current, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	user, err := s.store.GetAuthUserByID(userID)
	if err != nil {
		return err
	}
	valid, _ := VerifyPassword(current, user.PasswordHash)
	if !valid {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdateAuthPassword(userID, hash); err != nil {
		return err
	}
	return s.store.RevokeUserRefreshTokens(userID)
}

// VerifyAccess validates an access token and returns its claims.
func (s *Service) VerifyAccess(token string) (*Claims, error) {
	return s.minter.Verify(token)
}

// SetCookies attaches both tokens as HttpOnly cookies.
func (s *Service) SetCookies(w http.ResponseWriter, r *http.Request, pair *TokenPair) {
	secure := isSecureRequest(r)
	http.SetCookie(w, &http.Cookie{
		Name:     AccessCookieName,
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   int(s.accessTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    pair.RefreshToken,
		Path:     "/",
		MaxAge:   int(s.refreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookies expires both auth cookies.
func (s *Service) ClearCookies(w http.ResponseWriter, r *http.Request) {
	secure := isSecureRequest(r)
	for _, name := range []string{AccessCookieName, RefreshCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func isSecureRequest(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}
