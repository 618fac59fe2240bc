package store

import (
	"database/sql"
	"errors"
	"fmt"

	"opsdec/internal/models"
)

const historyColumns = `id, session_id, server_kind, user_name, media_kind, media_id, title, parent_title, grandparent_title,
	season_number, episode_number, year, thumb_url, watched_at, duration_s, percent_complete, stream_duration,
	ip_address, geo_city, geo_country`

func scanHistory(scanner interface{ Scan(...any) error }) (models.HistoryRecord, error) {
	var h models.HistoryRecord
	err := scanner.Scan(
		&h.ID, &h.SessionID, &h.ServerKind, &h.UserName, &h.MediaKind, &h.MediaID,
		&h.Title, &h.ParentTitle, &h.GrandparentTitle,
		&h.SeasonNumber, &h.EpisodeNumber, &h.Year, &h.ThumbURL,
		&h.WatchedAt, &h.Duration, &h.PercentComplete, &h.StreamDuration,
		&h.IPAddress, &h.GeoCity, &h.GeoCountry,
	)
	return h, err
}

// InsertHistory appends one record unless a row already exists for the
// (session_id, media_id) pair. Reports whether a row was written.
func (q *queries) InsertHistory(h *models.HistoryRecord) (bool, error) {
	result, err := q.db.Exec(
		`INSERT INTO watch_history (session_id, server_kind, user_name, media_kind, media_id, title, parent_title, grandparent_title,
			season_number, episode_number, year, thumb_url, watched_at, duration_s, percent_complete, stream_duration,
			ip_address, geo_city, geo_country)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, media_id) DO NOTHING`,
		h.SessionID, h.ServerKind, h.UserName, h.MediaKind, h.MediaID,
		h.Title, h.ParentTitle, h.GrandparentTitle,
		h.SeasonNumber, h.EpisodeNumber, h.Year, h.ThumbURL,
		h.WatchedAt, h.Duration, h.PercentComplete, h.StreamDuration,
		h.IPAddress, h.GeoCity, h.GeoCountry,
	)
	if err != nil {
		return false, fmt.Errorf("inserting history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	h.ID, _ = result.LastInsertId()
	return true, nil
}

type HistoryFilter struct {
	UserName  string
	MediaKind models.MediaKind
	Limit     int
	Offset    int
}

func (s *Store) ListHistory(f HistoryFilter) ([]models.HistoryRecord, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if f.UserName != "" {
		where += ` AND user_name = ?`
		args = append(args, f.UserName)
	}
	if f.MediaKind != "" {
		where += ` AND media_kind = ?`
		args = append(args, f.MediaKind)
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM watch_history`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting history: %w", err)
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	rows, err := s.db.Query(
		`SELECT `+historyColumns+` FROM watch_history`+where+` ORDER BY watched_at DESC, id DESC LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing history: %w", err)
	}
	defer rows.Close()

	records := []models.HistoryRecord{}
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, h)
	}
	return records, total, rows.Err()
}

func (s *Store) GetHistory(id int64) (*models.HistoryRecord, error) {
	h, err := scanHistory(s.db.QueryRow(
		`SELECT `+historyColumns+` FROM watch_history WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("history %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting history: %w", err)
	}
	return &h, nil
}

func (s *Store) DeleteHistory(id int64) error {
	result, err := s.db.Exec(`DELETE FROM watch_history WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("history %d: %w", id, models.ErrNotFound)
	}
	return nil
}
