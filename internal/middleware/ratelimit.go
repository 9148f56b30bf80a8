package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"storefront/server/internal/observability"
)

// RateLimiter is a per-client token bucket limiter.
// Uses in-memory state; each server instance enforces independently.
type RateLimiter struct {
	limit rate.Limit
	burst int
	// trustedHops is the number of reverse proxies in front of the server
	// that append to X-Forwarded-For. Zero ignores the header.
	trustedHops int
	now         func() time.Time
	mu          sync.Mutex
	clients     map[string]*clientLimiter
	stop        chan struct{}
	once        sync.Once
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewRateLimiter creates a rate limiter allowing perSecond requests per
// client with a burst of the same size. trustedProxyHops is the number of
// proxies whose X-Forwarded-For entries are trusted; with 0 the client is
// identified by the connection peer alone.
func NewRateLimiter(perSecond, trustedProxyHops int) *RateLimiter {
	rl := newRateLimiter(perSecond)
	if trustedProxyHops > 0 {
		rl.trustedHops = trustedProxyHops
	}
	go rl.cleanup()
	return rl
}

func newRateLimiter(perSecond int) *RateLimiter {
	if perSecond < 1 {
		perSecond = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   perSecond,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
		stop:    make(chan struct{}),
	}
}

// Allow checks if a request from the given client is allowed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cl, ok := rl.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = cl
	}
	cl.lastAccess = now
	return cl.limiter.AllowN(now, 1)
}

// Stop ends the background cleanup loop.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// cleanup removes stale client entries every 60 seconds.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.evictIdle(5 * time.Minute)
		}
	}
}

func (rl *RateLimiter) evictIdle(idle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-idle)
	for key, cl := range rl.clients {
		if cl.lastAccess.Before(cutoff) {
			delete(rl.clients, key)
		}
	}
}

// Middleware returns an HTTP middleware that limits requests by client IP.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, rl.trustedHops)
		if !rl.Allow(ip) {
			observability.LogSecurityEvent(GetRequestID(r.Context()), "rate_limited", map[string]any{
				"client_ip": ip,
				"path":      r.URL.Path,
			})
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{
				"error":   "rate_limited",
				"message": "Too many requests. Please slow down.",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP returns the connection peer, or with trusted proxies the
// X-Forwarded-For entry appended by the outermost trusted proxy. Entries to
// its left are client supplied and never used.
func clientIP(r *http.Request, trustedHops int) string {
	if trustedHops > 0 {
		var hops []string
		for _, v := range r.Header.Values("X-Forwarded-For") {
			for _, hop := range strings.Split(v, ",") {
				hops = append(hops, strings.TrimSpace(hop))
			}
		}
		if len(hops) >= trustedHops {
			if ip := hops[len(hops)-trustedHops]; ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
