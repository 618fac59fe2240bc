package store

import (
	"fmt"

	"opsdec/internal/models"
)

// DashboardStats aggregates the watch history into the landing-page rollup.
// activeSessions is supplied by the caller (the engine owns the live set).
func (s *Store) DashboardStats(activeSessions int) (*models.DashboardStats, error) {
	stats := &models.DashboardStats{ActiveSessions: activeSessions}

	err := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(stream_duration), 0), COUNT(DISTINCT user_name) FROM watch_history`,
	).Scan(&stats.TotalPlays, &stats.TotalTime, &stats.UniqueUsers)
	if err != nil {
		return nil, fmt.Errorf("dashboard totals: %w", err)
	}

	stats.TopTitles, err = s.topTitles("", 10)
	if err != nil {
		return nil, err
	}

	stats.TopUsers, err = s.topUsers(10)
	if err != nil {
		return nil, err
	}

	stats.TopLocations, err = s.topLocations("", 10)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// MediaUserStats aggregates one viewer's history for GET /users/:id/stats.
func (s *Store) MediaUserStats(userName string) (*models.UserDetailStats, error) {
	stats := &models.UserDetailStats{}

	err := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(stream_duration), 0) FROM watch_history WHERE user_name = ?`, userName,
	).Scan(&stats.PlayCount, &stats.TotalTime)
	if err != nil {
		return nil, fmt.Errorf("user totals: %w", err)
	}

	stats.TopTitles, err = s.topTitles(userName, 10)
	if err != nil {
		return nil, err
	}

	stats.Locations, err = s.topLocations(userName, 10)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

func (s *Store) topTitles(userName string, limit int) ([]models.TitleStat, error) {
	query := `SELECT title, media_id, year, COUNT(*), COALESCE(SUM(stream_duration), 0) FROM watch_history`
	args := []any{}
	if userName != "" {
		query += ` WHERE user_name = ?`
		args = append(args, userName)
	}
	query += ` GROUP BY title, media_id, year ORDER BY COUNT(*) DESC, SUM(stream_duration) DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("top titles: %w", err)
	}
	defer rows.Close()

	out := []models.TitleStat{}
	for rows.Next() {
		var t models.TitleStat
		if err := rows.Scan(&t.Title, &t.MediaID, &t.Year, &t.PlayCount, &t.TotalTime); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) topUsers(limit int) ([]models.UserStat, error) {
	rows, err := s.db.Query(
		`SELECT user_name, COUNT(*), COALESCE(SUM(stream_duration), 0) FROM watch_history
		GROUP BY user_name ORDER BY COUNT(*) DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("top users: %w", err)
	}
	defer rows.Close()

	out := []models.UserStat{}
	for rows.Next() {
		var u models.UserStat
		if err := rows.Scan(&u.UserName, &u.PlayCount, &u.TotalTime); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) topLocations(userName string, limit int) ([]models.LocationStat, error) {
	query := `SELECT geo_city, geo_country, COUNT(*) FROM watch_history WHERE geo_country != ''`
	args := []any{}
	if userName != "" {
		query += ` AND user_name = ?`
		args = append(args, userName)
	}
	query += ` GROUP BY geo_city, geo_country ORDER BY COUNT(*) DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("top locations: %w", err)
	}
	defer rows.Close()

	out := []models.LocationStat{}
	for rows.Next() {
		var l models.LocationStat
		if err := rows.Scan(&l.City, &l.Country, &l.PlayCount); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
