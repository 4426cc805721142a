// Package cache provides caching of compile results.
package cache

import (
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/codezoo/codezoo/internal/pen"
)

// Entry represents a cached compile result
type Entry struct {
	Result    pen.Result
	ExpiresAt time.Time
	storedAt  time.Time
}

// IsExpired returns true if the entry has expired
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// Cache defines the interface for compile result caching
type Cache interface {
	// Get retrieves a result from the cache
	Get(key string) (pen.Result, bool)

	// Set stores a result with the given TTL
	Set(key string, result pen.Result, ttl time.Duration)

	// Invalidate removes an entry from the cache
	Invalidate(key string)

	// InvalidateAll removes all entries from the cache
	InvalidateAll()
}

// Key derives a cache key from everything that affects a compile.
func Key(src pen.Sources, sel pen.Selection) string {
	d := xxhash.New()
	sel = sel.Normalize()
	for _, p := range pen.Panes() {
		// Length prefixes keep ("ab","c") and ("a","bc") apart.
		_, _ = d.WriteString(string(sel.Get(p)))
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(strconv.Itoa(len(src.Get(p))))
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(src.Get(p))
	}
	return strconv.FormatUint(d.Sum64(), 16)
}

// MemoryCache is an in-memory cache implementation with TTL support and a
// size bound; when full the oldest entry is evicted.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	maxEntries int

	// For background cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once // Ensures Stop() is idempotent
}

// NewMemoryCache creates a new in-memory cache holding at most maxEntries
// results (unbounded when maxEntries <= 0)
func NewMemoryCache(maxEntries int) *MemoryCache {
	c := &MemoryCache{
		entries:         make(map[string]*Entry),
		maxEntries:      maxEntries,
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get retrieves a result from the cache
func (c *MemoryCache) Get(key string) (pen.Result, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return pen.Result{}, false
	}

	if entry.IsExpired() {
		c.Invalidate(key)
		return pen.Result{}, false
	}

	return entry.Result, true
}

// Set stores a result in the cache with the given TTL
func (c *MemoryCache) Set(key string, result pen.Result, ttl time.Duration) {
	now := time.Now()
	entry := &Entry{
		Result:    result,
		ExpiresAt: now.Add(ttl),
		storedAt:  now,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = entry
}

func (c *MemoryCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.storedAt.Before(oldest) {
			oldestKey, oldest = key, entry.storedAt
		}
	}
	delete(c.entries, oldestKey)
}

// Invalidate removes an entry from the cache
func (c *MemoryCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll removes all entries from the cache
func (c *MemoryCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.mu.Unlock()
}

// cleanupLoop periodically removes expired entries
func (c *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCleanup:
			return
		}
	}
}

// cleanup removes all expired entries
func (c *MemoryCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}
}

// Stop stops the background cleanup goroutine
// Safe to call multiple times
func (c *MemoryCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCleanup)
	})
}

// Len returns the number of entries in the cache (for testing)
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
