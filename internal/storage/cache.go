package storage

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/starford/librarian/internal/apperr"
	"github.com/starford/librarian/internal/checksum"
)

// DefaultCacheSize is the number of files kept when no size is configured.
const DefaultCacheSize = 10

// Content is a file body served from the cache.
type Content struct {
	Path    string    `json:"path"`
	Data    []byte    `json:"-"`
	ModTime time.Time `json:"mod_time"`
	Digest  string    `json:"digest"`
	Cached  bool      `json:"cached"`
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

type cacheEntry struct {
	modTime time.Time
	data    []byte
	digest  string
}

// Cache keeps recently read file bodies. Staleness and eviction are
// separate checks: an entry is served only if its recorded mtime equals
// the file's current mtime, and the LRU bounds how many entries survive.
type Cache struct {
	provider Provider
	entries  *lru.Cache[string, cacheEntry]
	hits     atomic.Uint64
	misses   atomic.Uint64
}

// NewCache creates a Cache holding at most size files.
func NewCache(provider Provider, size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("storage: new cache: %w", err)
	}
	return &Cache{provider: provider, entries: entries}, nil
}

// Get returns the content of path, re-reading it when the cached copy is
// missing or its mtime no longer matches. A vanished file drops its entry
// and returns apperr.ErrNotFound.
func (c *Cache) Get(path string) (Content, error) {
	abs, err := c.provider.Resolve(path)
	if err != nil {
		return Content{}, err
	}
	meta, err := c.provider.Stat(abs)
	if err != nil {
		c.entries.Remove(abs)
		return Content{}, err
	}

	if e, ok := c.entries.Get(abs); ok && e.modTime.Equal(meta.ModTime) {
		c.hits.Add(1)
		return Content{Path: abs, Data: e.data, ModTime: e.modTime, Digest: e.digest, Cached: true}, nil
	}

	c.misses.Add(1)
	data, err := c.provider.Read(abs)
	if err != nil {
		c.entries.Remove(abs)
		return Content{}, err
	}
	// The mtime observed before the read is recorded, so a write racing
	// the read is caught by the next staleness check.
	e := cacheEntry{modTime: meta.ModTime, data: data, digest: checksum.Sum(data)}
	c.entries.Add(abs, e)
	return Content{Path: abs, Data: data, ModTime: e.modTime, Digest: e.digest}, nil
}

// Invalidate drops path from the cache.
func (c *Cache) Invalidate(path string) {
	abs, err := c.provider.Resolve(path)
	if err != nil {
		return
	}
	c.entries.Remove(abs)
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.entries.Purge()
}

// Contains reports whether path currently has an entry, stale or not.
func (c *Cache) Contains(path string) bool {
	abs, err := c.provider.Resolve(path)
	if err != nil {
		return false
	}
	return c.entries.Contains(abs)
}

// Stats returns a point-in-time view of the cache counters.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Entries: c.entries.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}

// IsNotFound reports whether err means the file no longer exists.
func IsNotFound(err error) bool {
	return errors.Is(err, apperr.ErrNotFound)
}
