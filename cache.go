package vfskit

import (
	"sync"
	"time"
)

// ============================================================================
// Archive Index Cache
// ============================================================================

// CacheStatistics contains cache performance metrics.
type CacheStatistics struct {
	Hits      int64
	Misses    int64
	Size      int64
	Evictions int64
	HitRate   float64
}

type indexCacheEntry struct {
	index   *archiveIndex
	stored  time.Time
	expires time.Time
}

// IndexCache keeps parsed archive directories across File handles, keyed by
// the archive's credential-free URL. An entry is dropped when its TTL runs
// out or when the archive's modification time or size no longer matches
// the values recorded when it was indexed.
//
// It is safe for concurrent use.
type IndexCache struct {
	mu         sync.Mutex
	entries    map[string]*indexCacheEntry
	ttl        time.Duration
	maxEntries int

	hits      int64
	misses    int64
	evictions int64
}

// NewIndexCache creates a cache. A ttl of 0 means no expiration; a
// maxEntries of 0 means no bound.
func NewIndexCache(ttl time.Duration, maxEntries int) *IndexCache {
	return &IndexCache{
		entries:    make(map[string]*indexCacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

func (c *IndexCache) get(key string, modTime time.Time, size int64) (*archiveIndex, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if (!e.expires.IsZero() && time.Now().After(e.expires)) || e.index.stale(modTime, size) {
		delete(c.entries, key)
		c.evictions++
		c.misses++
		return nil, false
	}
	c.hits++
	return e.index, true
}

func (c *IndexCache) put(key string, idx *archiveIndex) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	now := time.Now()
	e := &indexCacheEntry{index: idx, stored: now}
	if c.ttl > 0 {
		e.expires = now.Add(c.ttl)
	}
	c.entries[key] = e
}

func (c *IndexCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.stored.Before(oldest) {
			oldestKey, oldest = k, e.stored
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

// Invalidate drops the index cached for the archive at u.
func (c *IndexCache) Invalidate(u *FileURL) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, u.Format(CredentialsNone))
}

// Clear removes all values from the cache.
func (c *IndexCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*indexCacheEntry)
}

// Stats returns cache statistics.
func (c *IndexCache) Stats() CacheStatistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return CacheStatistics{
		Hits:      c.hits,
		Misses:    c.misses,
		Size:      int64(len(c.entries)),
		Evictions: c.evictions,
		HitRate:   hitRate,
	}
}
