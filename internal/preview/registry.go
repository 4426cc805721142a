package preview

import (
	"sync"
	"time"
)

// Entry is the latest rendered document of one pen for one user.
type Entry struct {
	Document  string
	Version   uint64
	UpdatedAt time.Time
}

type key struct {
	user string
	pen  string
}

// Registry keeps the last-good document per (user, pen). Entries idle for
// longer than the TTL are dropped by a background loop.
type Registry struct {
	mu       sync.RWMutex
	entries  map[key]*Entry
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates a registry and starts its cleanup loop.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	r := &Registry{
		entries:  make(map[key]*Entry),
		ttl:      ttl,
		interval: 5 * time.Minute,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

// Put stores doc as the pen's current preview and returns its version.
func (r *Registry) Put(userID, penID, doc string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{userID, penID}
	e, ok := r.entries[k]
	if !ok {
		e = &Entry{}
		r.entries[k] = e
	}
	e.Version++
	e.Document = doc
	e.UpdatedAt = r.now()
	return e.Version
}

// Get returns the current preview of a pen.
func (r *Registry) Get(userID, penID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key{userID, penID}]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Delete drops a pen's preview.
func (r *Registry) Delete(userID, penID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key{userID, penID})
}

// Len returns the number of stored previews.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.cleanup()
		case <-r.stop:
			return
		}
	}
}

func (r *Registry) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for k, e := range r.entries {
		if now.Sub(e.UpdatedAt) > r.ttl {
			delete(r.entries, k)
		}
	}
}

// Stop ends the cleanup loop. Safe to call multiple times.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}
