package server

import (
	"container/list"
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/codezoo/codezoo/internal/auth"
)

// CORSMiddleware adds CORS headers to responses.
// If origins is empty or nil, CORS headers are not added.
// The API authenticates with the session cookie, so credentials are only
// allowed for explicitly listed origins, never for "*".
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(origins) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// Check if origin is allowed
			allowed := false
			allowAll := false
			for _, o := range origins {
				if o == "*" {
					allowed = true
					allowAll = true
					break
				}
				if o == origin {
					allowed = true
					break
				}
			}

			if allowed && origin != "" {
				// When wildcard is configured, use "*" header; otherwise echo the specific origin
				if allowAll {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Add("Vary", "Origin")
				w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours
			}

			// Handle preflight request
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeadersMiddleware adds security headers to all responses.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			// The preview iframe is a srcdoc document and inherits this policy,
			// so pen code may use inline scripts and styles and load from https
			// CDNs. The iframe's sandbox keeps it off the app's origin.
			// Preview routes replace this with preview.ContentSecurityPolicy.
			w.Header().Set("Content-Security-Policy",
				"default-src 'self'; "+
					"script-src 'self' 'unsafe-inline' 'unsafe-eval' https:; "+
					"style-src 'self' 'unsafe-inline' https:; "+
					"img-src 'self' data: blob: https:; "+
					"font-src 'self' data: https:; "+
					"connect-src 'self' https:; "+
					"frame-src 'self'; "+
					"frame-ancestors 'none'")

			next.ServeHTTP(w, r)
		})
	}
}

// evictionLogInterval is the minimum time between eviction log messages.
const evictionLogInterval = 30 * time.Second

// Idle clients are forgotten after clientIdleTTL; sweeps run every
// clientSweepInterval.
const (
	clientIdleTTL       = 10 * time.Minute
	clientSweepInterval = 5 * time.Minute
)

// clientBucket is the token bucket of one client address.
type clientBucket struct {
	key      string
	tokens   *rate.Limiter
	lastSeen time.Time
}

// rateLimiter hands out one token bucket per client address. The API and
// the editor socket handshake draw from the same bucket. When maxClients
// addresses are tracked, the least recently seen one is dropped.
type rateLimiter struct {
	rps        rate.Limit
	burst      int
	maxClients int

	mu      sync.Mutex
	clients map[string]*list.Element
	recent  *list.List // front is the most recently seen client

	evicted      int
	lastEvictLog time.Time
}

func newRateLimiter(rps float64, burst, maxClients int) *rateLimiter {
	if maxClients <= 0 {
		maxClients = 10000
	}
	return &rateLimiter{
		rps:        rate.Limit(rps),
		burst:      burst,
		maxClients: maxClients,
		clients:    make(map[string]*list.Element),
		recent:     list.New(),
	}
}

// allow takes one token from key's bucket.
func (l *rateLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.clients[key]; ok {
		l.recent.MoveToFront(e)
		b := e.Value.(*clientBucket)
		b.lastSeen = now
		return b.tokens.AllowN(now, 1)
	}

	if l.recent.Len() >= l.maxClients {
		l.evictOldest(now)
	}
	b := &clientBucket{key: key, tokens: rate.NewLimiter(l.rps, l.burst), lastSeen: now}
	l.clients[key] = l.recent.PushFront(b)
	return b.tokens.AllowN(now, 1)
}

func (l *rateLimiter) evictOldest(now time.Time) {
	oldest := l.recent.Back()
	if oldest == nil {
		return
	}
	l.recent.Remove(oldest)
	delete(l.clients, oldest.Value.(*clientBucket).key)
	l.evicted++
	if now.Sub(l.lastEvictLog) >= evictionLogInterval {
		log.Printf("[RateLimit] Dropped %d least recent client(s), tracking %d", l.evicted, l.maxClients)
		l.lastEvictLog = now
		l.evicted = 0
	}
}

// sweep forgets clients idle for longer than idle and returns how many.
// Recency order is by last request, so the scan stops at the first client
// that is still active.
func (l *rateLimiter) sweep(now time.Time, idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for e := l.recent.Back(); e != nil; {
		b := e.Value.(*clientBucket)
		if now.Sub(b.lastSeen) <= idle {
			break
		}
		prev := e.Prev()
		l.recent.Remove(e)
		delete(l.clients, b.key)
		n++
		e = prev
	}
	return n
}

func (l *rateLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recent.Len()
}

// run sweeps idle clients until ctx is done, then closes the returned channel.
func (l *rateLimiter) run(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				l.sweep(now, clientIdleTTL)
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}

// middleware rejects requests over the client's rate with 429.
func (l *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(auth.ClientIP(r), time.Now()) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
