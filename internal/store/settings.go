package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const settingUpsert = `INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`

func (q *queries) GetSetting(key string) (string, error) {
	var value string
	err := q.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting setting: %w", err)
	}
	return value, nil
}

func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(settingUpsert, key, value)
	if err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}
	return nil
}

func (s *Store) ListSettings() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

const (
	historyMinDurationKey       = "history_min_duration"
	historyMinPercentKey        = "history_min_percent"
	historyExclusionPatternsKey = "history_exclusion_patterns"

	DefaultHistoryMinDuration = 30
	DefaultHistoryMinPercent  = 10
)

// HistoryPolicy is the recording policy evaluated on session termination.
type HistoryPolicy struct {
	MinDuration       int64
	MinPercent        float64
	ExclusionPatterns []string
}

// ShouldExclude reports whether any configured pattern is a case-insensitive
// substring of the title.
func (p HistoryPolicy) ShouldExclude(title string) bool {
	lower := strings.ToLower(title)
	for _, pat := range p.ExclusionPatterns {
		if pat != "" && strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}

// GetHistoryPolicy loads the policy settings, applying defaults for unset or
// unparseable values. Works inside a reconciliation transaction.
func (q *queries) GetHistoryPolicy() (HistoryPolicy, error) {
	p := HistoryPolicy{
		MinDuration:       DefaultHistoryMinDuration,
		MinPercent:        DefaultHistoryMinPercent,
		ExclusionPatterns: []string{"theme", "trailer"},
	}

	if v, err := q.GetSetting(historyMinDurationKey); err != nil {
		return p, err
	} else if v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			p.MinDuration = n
		}
	}

	if v, err := q.GetSetting(historyMinPercentKey); err != nil {
		return p, err
	} else if v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			p.MinPercent = f
		}
	}

	if v, err := q.GetSetting(historyExclusionPatternsKey); err != nil {
		return p, err
	} else if v != "" {
		patterns := []string{}
		for _, pat := range strings.Split(v, ",") {
			if pat = strings.ToLower(strings.TrimSpace(pat)); pat != "" {
				patterns = append(patterns, pat)
			}
		}
		p.ExclusionPatterns = patterns
	}

	return p, nil
}

const (
	imageCacheMaxAgeKey  = "image_cache_max_age_seconds"
	imageCacheMaxSizeKey = "image_cache_max_size_bytes"
	allowedImageHostsKey = "image_proxy_allowed_hosts"

	DefaultImageCacheMaxAge  = 30 * 24 * 60 * 60
	DefaultImageCacheMaxSize = 512 << 20
)

// defaultAllowedImageHosts are well-known avatar providers; configurable, not
// hard-coded policy.
var defaultAllowedImageHosts = []string{"plex.tv", "gravatar.com", "secure.gravatar.com", "github.com", "googleusercontent.com"}

func (s *Store) GetImageCacheLimits() (maxAge int64, maxSize int64, err error) {
	maxAge, maxSize = DefaultImageCacheMaxAge, DefaultImageCacheMaxSize

	if v, gerr := s.GetSetting(imageCacheMaxAgeKey); gerr != nil {
		return 0, 0, gerr
	} else if v != "" {
		if n, perr := strconv.ParseInt(v, 10, 64); perr == nil && n > 0 {
			maxAge = n
		}
	}

	if v, gerr := s.GetSetting(imageCacheMaxSizeKey); gerr != nil {
		return 0, 0, gerr
	} else if v != "" {
		if n, perr := strconv.ParseInt(v, 10, 64); perr == nil && n > 0 {
			maxSize = n
		}
	}

	return maxAge, maxSize, nil
}

// GetAllowedImageHosts returns the avatar-provider allow-list for the image
// proxy SSRF gate.
func (s *Store) GetAllowedImageHosts() ([]string, error) {
	v, err := s.GetSetting(allowedImageHostsKey)
	if err != nil {
		return nil, err
	}
	if v == "" {
		return defaultAllowedImageHosts, nil
	}
	hosts := []string{}
	for _, h := range strings.Split(v, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts, nil
}
