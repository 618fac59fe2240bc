// Package imagecache stores proxied thumbnails on disk, keyed by the SHA-256
// of the source URL, with metadata rows in the store. A row is only valid
// while its file exists; either going missing invalidates the pair.
package imagecache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"opsdec/internal/models"
	"opsdec/internal/store"
)

type Cache struct {
	dir   string
	store *store.Store
	now   func() time.Time
}

type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(dir string, st *store.Store, opts ...Option) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating image cache dir: %w", err)
	}
	c := &Cache{dir: dir, store: st, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func urlHash(url string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(url)))
	return hex.EncodeToString(sum[:])
}

func extForContentType(contentType string) string {
	switch {
	case strings.Contains(contentType, "jpeg"):
		return ".jpg"
	case strings.Contains(contentType, "png"):
		return ".png"
	case strings.Contains(contentType, "webp"):
		return ".webp"
	case strings.Contains(contentType, "gif"):
		return ".gif"
	case strings.Contains(contentType, "svg+xml"):
		return ".svg"
	case strings.Contains(contentType, "avif"):
		return ".avif"
	default:
		return ".bin"
	}
}

// Get returns the cached bytes and content type for a URL, or a miss. A row
// whose backing file vanished is deleted and reported as a miss. Hits bump
// last_accessed_at.
func (c *Cache) Get(url string) ([]byte, string, bool) {
	hash := urlHash(url)
	entry, err := c.store.GetImageCacheEntry(hash)
	if err != nil {
		return nil, "", false
	}

	data, err := os.ReadFile(entry.FilePath)
	if err != nil {
		c.store.DeleteImageCacheEntry(hash)
		return nil, "", false
	}

	if err := c.store.TouchImageCacheEntry(hash, c.now().Unix()); err == nil {
		return data, entry.ContentType, true
	}
	return data, entry.ContentType, true
}

// Lookup is Get plus the entry's age, so callers can decide whether a hit is
// fresh enough to serve without revalidation.
func (c *Cache) Lookup(url string) (data []byte, contentType string, age time.Duration, hit bool) {
	hash := urlHash(url)
	entry, err := c.store.GetImageCacheEntry(hash)
	if err != nil {
		return nil, "", 0, false
	}

	data, err = os.ReadFile(entry.FilePath)
	if err != nil {
		c.store.DeleteImageCacheEntry(hash)
		return nil, "", 0, false
	}

	c.store.TouchImageCacheEntry(hash, c.now().Unix())
	age = time.Duration(c.now().Unix()-entry.CreatedAt) * time.Second
	return data, entry.ContentType, age, true
}

// Put writes the bytes to disk and upserts the metadata row.
func (c *Cache) Put(url string, data []byte, contentType string) error {
	hash := urlHash(url)
	path := filepath.Join(c.dir, hash+extForContentType(contentType))

	// A changed content type changes the extension; the old file would be
	// orphaned once the row repoints.
	if prior, err := c.store.GetImageCacheEntry(hash); err == nil && prior.FilePath != path {
		os.Remove(prior.FilePath)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}

	now := c.now().Unix()
	err := c.store.UpsertImageCacheEntry(&models.ImageCacheEntry{
		URLHash:        hash,
		OriginalURL:    url,
		FilePath:       path,
		ContentType:    contentType,
		FileSize:       int64(len(data)),
		CreatedAt:      now,
		LastAccessedAt: now,
	})
	if err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// EvictResult reports how many entries each eviction phase removed.
type EvictResult struct {
	RemovedByAge int `json:"removed_by_age"`
	RemovedByLRU int `json:"removed_by_lru"`
}

// Evict drops entries older than maxAge, then trims least-recently-used
// entries until the cache fits in maxSize bytes.
func (c *Cache) Evict(maxAge time.Duration, maxSize int64) (EvictResult, error) {
	var res EvictResult

	cutoff := c.now().Add(-maxAge).Unix()
	stale, err := c.store.ImageCacheEntriesOlderThan(cutoff)
	if err != nil {
		return res, err
	}
	for _, e := range stale {
		if err := c.remove(e); err != nil {
			return res, err
		}
		res.RemovedByAge++
	}

	entries, err := c.store.ImageCacheEntriesByLRU()
	if err != nil {
		return res, err
	}
	var total int64
	for _, e := range entries {
		total += e.FileSize
	}
	for _, e := range entries {
		if total <= maxSize {
			break
		}
		if err := c.remove(e); err != nil {
			return res, err
		}
		total -= e.FileSize
		res.RemovedByLRU++
	}
	return res, nil
}

// ClearAll removes every cached file and row.
func (c *Cache) ClearAll() error {
	entries, err := c.store.ImageCacheEntriesByLRU()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := c.remove(e); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns entry count and total byte size.
func (c *Cache) Stats() (entries int64, totalSize int64, err error) {
	return c.store.ImageCacheStats()
}

func (c *Cache) remove(e models.ImageCacheEntry) error {
	if err := os.Remove(e.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing cache file: %w", err)
	}
	return c.store.DeleteImageCacheEntry(e.URLHash)
}
