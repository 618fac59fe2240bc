package store

import (
	"database/sql"
	"errors"
	"fmt"

	"opsdec/internal/models"
)

const sessionColumns = `id, server_id, session_key, user_name, media_kind, media_id, title, parent_title, grandparent_title,
	season_number, episode_number, year, thumb_url, state, progress_percent, current_time_s, duration_s,
	started_at, updated_at, stopped_at, playback_time, last_position_update, paused_counter,
	ip_address, geo_city, geo_country, geo_lat, geo_lng`

func scanSession(scanner interface{ Scan(...any) error }) (models.Session, error) {
	var sess models.Session
	var stoppedAt, lastPos sql.NullInt64
	err := scanner.Scan(
		&sess.ID, &sess.ServerID, &sess.SessionKey, &sess.UserName, &sess.MediaKind, &sess.MediaID,
		&sess.Title, &sess.ParentTitle, &sess.GrandparentTitle,
		&sess.SeasonNumber, &sess.EpisodeNumber, &sess.Year, &sess.ThumbURL,
		&sess.State, &sess.ProgressPercent, &sess.CurrentTime, &sess.Duration,
		&sess.StartedAt, &sess.UpdatedAt, &stoppedAt, &sess.PlaybackTime, &lastPos, &sess.PausedCounter,
		&sess.IPAddress, &sess.GeoCity, &sess.GeoCountry, &sess.GeoLat, &sess.GeoLng,
	)
	if stoppedAt.Valid {
		v := stoppedAt.Int64
		sess.StoppedAt = &v
	}
	if lastPos.Valid {
		v := lastPos.Int64
		sess.LastPositionUpdate = &v
	}
	return sess, err
}

// ActiveSessions returns every session row whose state is not stopped,
// optionally filtered to one server.
func (q *queries) ActiveSessions(serverID int64) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM play_sessions WHERE state != ?`
	args := []any{models.StateStopped}
	if serverID > 0 {
		query += ` AND server_id = ?`
		args = append(args, serverID)
	}
	rows, err := q.db.Query(query+` ORDER BY started_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing active sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (q *queries) GetSession(id int64) (*models.Session, error) {
	sess, err := scanSession(q.db.QueryRow(
		`SELECT `+sessionColumns+` FROM play_sessions WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return &sess, nil
}

func (q *queries) InsertSession(sess *models.Session) error {
	var lastPos any
	if sess.LastPositionUpdate != nil {
		lastPos = *sess.LastPositionUpdate
	}
	result, err := q.db.Exec(
		`INSERT INTO play_sessions (server_id, session_key, user_name, media_kind, media_id, title, parent_title, grandparent_title,
			season_number, episode_number, year, thumb_url, state, progress_percent, current_time_s, duration_s,
			started_at, updated_at, playback_time, last_position_update, paused_counter,
			ip_address, geo_city, geo_country, geo_lat, geo_lng)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ServerID, sess.SessionKey, sess.UserName, sess.MediaKind, sess.MediaID,
		sess.Title, sess.ParentTitle, sess.GrandparentTitle,
		sess.SeasonNumber, sess.EpisodeNumber, sess.Year, sess.ThumbURL,
		sess.State, sess.ProgressPercent, sess.CurrentTime, sess.Duration,
		sess.StartedAt, sess.UpdatedAt, sess.PlaybackTime, lastPos, sess.PausedCounter,
		sess.IPAddress, sess.GeoCity, sess.GeoCountry, sess.GeoLat, sess.GeoLng,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	sess.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	return nil
}

// UpdateSession persists the mutable fields of one tracked session.
// started_at is immutable after insert and deliberately absent here.
func (q *queries) UpdateSession(sess *models.Session) error {
	var lastPos any
	if sess.LastPositionUpdate != nil {
		lastPos = *sess.LastPositionUpdate
	}
	result, err := q.db.Exec(
		`UPDATE play_sessions SET state = ?, progress_percent = ?, current_time_s = ?, duration_s = ?,
			updated_at = ?, playback_time = ?, last_position_update = ?, paused_counter = ?, thumb_url = ?
		WHERE id = ?`,
		sess.State, sess.ProgressPercent, sess.CurrentTime, sess.Duration,
		sess.UpdatedAt, sess.PlaybackTime, lastPos, sess.PausedCounter, sess.ThumbURL,
		sess.ID,
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session %d: %w", sess.ID, models.ErrNotFound)
	}
	return nil
}

// StopSession marks the session terminal at epoch second stoppedAt.
func (q *queries) StopSession(id, stoppedAt int64) error {
	result, err := q.db.Exec(
		`UPDATE play_sessions SET state = ?, stopped_at = ?, updated_at = ? WHERE id = ?`,
		models.StateStopped, stoppedAt, stoppedAt, id,
	)
	if err != nil {
		return fmt.Errorf("stopping session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session %d: %w", id, models.ErrNotFound)
	}
	return nil
}
