package store

import (
	"database/sql"
	"errors"
	"fmt"

	"opsdec/internal/models"
)

const mediaUserColumns = `id, server_kind, user_name, thumb_url, last_seen, history_enabled, total_plays, total_duration`

func scanMediaUser(scanner interface{ Scan(...any) error }) (models.MediaUser, error) {
	var u models.MediaUser
	err := scanner.Scan(&u.ID, &u.ServerKind, &u.UserName, &u.ThumbURL, &u.LastSeen, &u.HistoryEnabled, &u.TotalPlays, &u.TotalDuration)
	return u, err
}

// TouchMediaUser upserts the (server_kind, user_name) row and bumps
// last_seen. Called once per observed session per cycle; counters are
// untouched here.
func (q *queries) TouchMediaUser(kind models.ServerKind, userName, thumbURL string, seenAt int64) error {
	_, err := q.db.Exec(
		`INSERT INTO media_users (server_kind, user_name, thumb_url, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (server_kind, user_name) DO UPDATE SET
			last_seen = excluded.last_seen,
			thumb_url = CASE WHEN excluded.thumb_url != '' THEN excluded.thumb_url ELSE media_users.thumb_url END`,
		kind, userName, thumbURL, seenAt,
	)
	if err != nil {
		return fmt.Errorf("touching media user: %w", err)
	}
	return nil
}

func (q *queries) GetMediaUser(kind models.ServerKind, userName string) (*models.MediaUser, error) {
	u, err := scanMediaUser(q.db.QueryRow(
		`SELECT `+mediaUserColumns+` FROM media_users WHERE server_kind = ? AND user_name = ?`,
		kind, userName,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("media user %s/%s: %w", kind, userName, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting media user: %w", err)
	}
	return &u, nil
}

// IncrementMediaUserTotals adds one play and the given effective seconds.
// Runs in the same transaction as the history insert it accounts for.
func (q *queries) IncrementMediaUserTotals(kind models.ServerKind, userName string, duration int64) error {
	result, err := q.db.Exec(
		`UPDATE media_users SET total_plays = total_plays + 1, total_duration = total_duration + ?
		WHERE server_kind = ? AND user_name = ?`,
		duration, kind, userName,
	)
	if err != nil {
		return fmt.Errorf("incrementing user totals: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("media user %s/%s: %w", kind, userName, models.ErrNotFound)
	}
	return nil
}

func (s *Store) ListMediaUsers() ([]models.MediaUser, error) {
	rows, err := s.db.Query(`SELECT ` + mediaUserColumns + ` FROM media_users ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing media users: %w", err)
	}
	defer rows.Close()

	users := []models.MediaUser{}
	for rows.Next() {
		u, err := scanMediaUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) GetMediaUserByID(id int64) (*models.MediaUser, error) {
	u, err := scanMediaUser(s.db.QueryRow(
		`SELECT `+mediaUserColumns+` FROM media_users WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("media user %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting media user: %w", err)
	}
	return &u, nil
}

// SetHistoryEnabled toggles history recording for one viewer. Existing
// records are left alone.
func (s *Store) SetHistoryEnabled(id int64, enabled bool) error {
	result, err := s.db.Exec(
		`UPDATE media_users SET history_enabled = ? WHERE id = ?`, enabled, id,
	)
	if err != nil {
		return fmt.Errorf("setting history_enabled: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("media user %d: %w", id, models.ErrNotFound)
	}
	return nil
}
