package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"opsdec/internal/models"
)

var ErrSetupComplete = errors.New("setup already complete")
var ErrUsernameTaken = errors.New("username already taken")

const authUserColumns = `id, username, password_hash, email, is_admin, is_active, created_at, last_login`

func scanAuthUser(scanner interface{ Scan(...any) error }) (models.AuthUser, error) {
	var u models.AuthUser
	var lastLogin sql.NullString
	err := scanner.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Email, &u.IsAdmin, &u.IsActive, &u.CreatedAt, &lastLogin)
	if err != nil {
		return u, err
	}
	if lastLogin.Valid {
		t, perr := parseSQLiteTime(lastLogin.String)
		if perr == nil && !t.IsZero() {
			u.LastLogin = &t
		}
	}
	return u, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsSetupRequired reports whether no operator accounts exist yet.
func (s *Store) IsSetupRequired() (bool, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM auth_users`).Scan(&count); err != nil {
		return false, fmt.Errorf("counting auth users: %w", err)
	}
	return count == 0, nil
}

// CreateFirstAdmin atomically creates the bootstrap admin if and only if no
// users exist. The guarded insert avoids a check-then-act race.
func (s *Store) CreateFirstAdmin(username, passwordHash, email string) (*models.AuthUser, error) {
	result, err := s.db.Exec(
		`INSERT INTO auth_users (username, password_hash, email, is_admin, is_active)
		 SELECT ?, ?, ?, 1, 1
		 WHERE NOT EXISTS (SELECT 1 FROM auth_users LIMIT 1)`,
		username, passwordHash, email,
	)
	if err != nil {
		return nil, fmt.Errorf("creating first admin: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrSetupComplete
	}
	id, _ := result.LastInsertId()
	return s.GetAuthUserByID(id)
}

func (s *Store) CreateAuthUser(username, passwordHash, email string, isAdmin bool) (*models.AuthUser, error) {
	result, err := s.db.Exec(
		`INSERT INTO auth_users (username, password_hash, email, is_admin, is_active) VALUES (?, ?, ?, ?, 1)`,
		username, passwordHash, email, isAdmin,
	)
	if isUniqueViolation(err) {
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, fmt.Errorf("creating auth user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting last insert id: %w", err)
	}
	return s.GetAuthUserByID(id)
}

func (s *Store) GetAuthUserByUsername(username string) (*models.AuthUser, error) {
	u, err := scanAuthUser(s.db.QueryRow(
		`SELECT `+authUserColumns+` FROM auth_users WHERE username = ?`, username,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("auth user %q: %w", username, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting auth user: %w", err)
	}
	return &u, nil
}

func (s *Store) GetAuthUserByID(id int64) (*models.AuthUser, error) {
	u, err := scanAuthUser(s.db.QueryRow(
		`SELECT `+authUserColumns+` FROM auth_users WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("auth user %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting auth user: %w", err)
	}
	return &u, nil
}

func (s *Store) ListAuthUsers() ([]models.AuthUser, error) {
	rows, err := s.db.Query(`SELECT ` + authUserColumns + ` FROM auth_users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing auth users: %w", err)
	}
	defer rows.Close()

	users := []models.AuthUser{}
	for rows.Next() {
		u, err := scanAuthUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateAuthUser(u *models.AuthUser) error {
	result, err := s.db.Exec(
		`UPDATE auth_users SET username = ?, email = ?, is_admin = ?, is_active = ? WHERE id = ?`,
		u.Username, u.Email, u.IsAdmin, u.IsActive, u.ID,
	)
	if isUniqueViolation(err) {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("updating auth user: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("auth user %d: %w", u.ID, models.ErrNotFound)
	}
	return nil
}

func (s *Store) UpdateAuthPassword(userID int64, passwordHash string) error {
	result, err := s.db.Exec(
		`UPDATE auth_users SET password_hash = ? WHERE id = ?`, passwordHash, userID,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("auth user %d: %w", userID, models.ErrNotFound)
	}
	return nil
}

func (s *Store) UpdateLastLogin(userID int64) error {
	_, err := s.db.Exec(
		`UPDATE auth_users SET last_login = ? WHERE id = ?`, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}
	return nil
}

func (s *Store) DeleteAuthUser(id int64) error {
	result, err := s.db.Exec(`DELETE FROM auth_users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting auth user: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("auth user %d: %w", id, models.ErrNotFound)
	}
	return nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// CreateRefreshToken mints an opaque server-tracked token for the user.
func (s *Store) CreateRefreshToken(userID int64, expiresAt time.Time) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generating refresh token: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO refresh_tokens (id, user_id, expires_at) VALUES (?, ?, ?)`,
		token, userID, expiresAt.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("creating refresh token: %w", err)
	}
	return token, nil
}

func (s *Store) GetRefreshToken(id string) (*models.RefreshToken, error) {
	var rt models.RefreshToken
	err := s.db.QueryRow(
		`SELECT id, user_id, expires_at, revoked, created_at FROM refresh_tokens WHERE id = ?`, id,
	).Scan(&rt.ID, &rt.UserID, &rt.ExpiresAt, &rt.Revoked, &rt.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("refresh token: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting refresh token: %w", err)
	}
	return &rt, nil
}

func (s *Store) RevokeRefreshToken(id string) error {
	_, err := s.db.Exec(`UPDATE refresh_tokens SET revoked = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("revoking refresh token: %w", err)
	}
	return nil
}

// RevokeUserRefreshTokens revokes every token the user holds. Called on
// password change so all other sessions must log in again.
func (s *Store) RevokeUserRefreshTokens(userID int64) error {
	_, err := s.db.Exec(`UPDATE refresh_tokens SET revoked = 1 WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("revoking user refresh tokens: %w", err)
	}
	return nil
}

func (s *Store) DeleteExpiredRefreshTokens() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM refresh_tokens WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired refresh tokens: %w", err)
	}
	return result.RowsAffected()
}
