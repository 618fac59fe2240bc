package store

import (
	"database/sql"
	"errors"
	"fmt"

	"opsdec/internal/models"
)

const imageCacheColumns = `url_hash, original_url, file_path, content_type, file_size, created_at, last_accessed_at`

func scanImageCacheEntry(scanner interface{ Scan(...any) error }) (models.ImageCacheEntry, error) {
	var e models.ImageCacheEntry
	err := scanner.Scan(&e.URLHash, &e.OriginalURL, &e.FilePath, &e.ContentType, &e.FileSize, &e.CreatedAt, &e.LastAccessedAt)
	return e, err
}

func (s *Store) GetImageCacheEntry(urlHash string) (*models.ImageCacheEntry, error) {
	e, err := scanImageCacheEntry(s.db.QueryRow(
		`SELECT `+imageCacheColumns+` FROM image_cache WHERE url_hash = ?`, urlHash,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("image cache %s: %w", urlHash, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting image cache entry: %w", err)
	}
	return &e, nil
}

// UpsertImageCacheEntry replaces any prior row for the same URL hash.
func (s *Store) UpsertImageCacheEntry(e *models.ImageCacheEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO image_cache (url_hash, original_url, file_path, content_type, file_size, created_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (url_hash) DO UPDATE SET
			original_url = excluded.original_url,
			file_path = excluded.file_path,
			content_type = excluded.content_type,
			file_size = excluded.file_size,
			last_accessed_at = excluded.last_accessed_at`,
		e.URLHash, e.OriginalURL, e.FilePath, e.ContentType, e.FileSize, e.CreatedAt, e.LastAccessedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting image cache entry: %w", err)
	}
	return nil
}

func (s *Store) TouchImageCacheEntry(urlHash string, accessedAt int64) error {
	_, err := s.db.Exec(
		`UPDATE image_cache SET last_accessed_at = ? WHERE url_hash = ?`, accessedAt, urlHash,
	)
	if err != nil {
		return fmt.Errorf("touching image cache entry: %w", err)
	}
	return nil
}

func (s *Store) DeleteImageCacheEntry(urlHash string) error {
	_, err := s.db.Exec(`DELETE FROM image_cache WHERE url_hash = ?`, urlHash)
	if err != nil {
		return fmt.Errorf("deleting image cache entry: %w", err)
	}
	return nil
}

// ImageCacheEntriesOlderThan returns entries whose last access precedes the
// cutoff epoch second.
func (s *Store) ImageCacheEntriesOlderThan(cutoff int64) ([]models.ImageCacheEntry, error) {
	rows, err := s.db.Query(
		`SELECT `+imageCacheColumns+` FROM image_cache WHERE last_accessed_at < ? ORDER BY last_accessed_at`, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("listing stale image cache entries: %w", err)
	}
	return collectImageCacheEntries(rows)
}

// ImageCacheEntriesByLRU returns all entries, least recently used first.
func (s *Store) ImageCacheEntriesByLRU() ([]models.ImageCacheEntry, error) {
	rows, err := s.db.Query(
		`SELECT ` + imageCacheColumns + ` FROM image_cache ORDER BY last_accessed_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing image cache entries: %w", err)
	}
	return collectImageCacheEntries(rows)
}

func collectImageCacheEntries(rows *sql.Rows) ([]models.ImageCacheEntry, error) {
	defer rows.Close()
	entries := []models.ImageCacheEntry{}
	for rows.Next() {
		e, err := scanImageCacheEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ImageCacheStats returns the row count and byte total of the cache.
func (s *Store) ImageCacheStats() (entries int64, totalSize int64, err error) {
	err = s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(file_size), 0) FROM image_cache`).Scan(&entries, &totalSize)
	if err != nil {
		return 0, 0, fmt.Errorf("image cache stats: %w", err)
	}
	return entries, totalSize, nil
}
