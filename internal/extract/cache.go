package extract

import "time"

const defaultCacheTTL = 5 * time.Minute

// Point is a screen coordinate in viewport pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Region is a bounding box, kept per cache entry for diagnostics and
// re-verification.
type Region struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// CacheEntry remembers where a target's open affordance was last
// clicked successfully. The click point is a hint only: the
// orchestrator re-verifies after using it and invalidates the entry
// on a mismatch.
type CacheEntry struct {
	Region      Region
	Click       Point
	lastSuccess time.Time
	successes   int
}

// Successes returns how many times the entry has been confirmed.
func (e *CacheEntry) Successes() int { return e.successes }

// CacheStats is a read-only aggregate over the cache.
type CacheStats struct {
	Count          int
	TotalSuccesses int
	Names          []string
}

// LocationCache maps target names to previously successful screen
// coordinates so repeated visits skip the expensive vision detection.
// Expiry is evaluated lazily on Get; there is no background sweep.
// Single-goroutine ownership, same as ActionTracker.
type LocationCache struct {
	entries map[string]*CacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewLocationCache(ttl time.Duration) *LocationCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &LocationCache{
		entries: make(map[string]*CacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the entry for name if it is still within the TTL
// window, dropping a stale entry on the way. Nil means absent.
func (c *LocationCache) Get(name string) *CacheEntry {
	entry, ok := c.entries[name]
	if !ok {
		return nil
	}
	if c.now().Sub(entry.lastSuccess) > c.ttl {
		delete(c.entries, name)
		return nil
	}
	return entry
}

// Set inserts or overwrites the entry with a fresh success stamp.
func (c *LocationCache) Set(name string, region Region, click Point) {
	c.entries[name] = &CacheEntry{
		Region:      region,
		Click:       click,
		lastSuccess: c.now(),
		successes:   1,
	}
}

// RecordSuccess refreshes an existing entry. It never creates one:
// first successes must go through Set with real coordinates.
func (c *LocationCache) RecordSuccess(name string) {
	entry, ok := c.entries[name]
	if !ok {
		return
	}
	entry.successes++
	entry.lastSuccess = c.now()
}

// Invalidate drops the entry for name, forcing fresh detection.
func (c *LocationCache) Invalidate(name string) {
	delete(c.entries, name)
}

// Stats returns a read-only aggregate. Stale entries still count
// until a Get evicts them, matching the lazy-expiry contract.
func (c *LocationCache) Stats() CacheStats {
	stats := CacheStats{Names: make([]string, 0, len(c.entries))}
	for name, entry := range c.entries {
		stats.Count++
		stats.TotalSuccesses += entry.successes
		stats.Names = append(stats.Names, name)
	}
	return stats
}
