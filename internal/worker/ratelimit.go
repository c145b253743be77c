package worker

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter tracks one client's bucket and when it was last used.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// PerClientRateLimiter applies a token bucket per client address.
type PerClientRateLimiter struct {
	lastCleanup     time.Time
	clients         map[string]*clientLimiter
	now             func() time.Time
	rate            rate.Limit
	burst           int
	cleanupInterval time.Duration
	maxIdleTime     time.Duration
	requests        int64
	rejected        int64
	mu              sync.Mutex
}

// NewPerClientRateLimiter creates a limiter allowing perSecond requests per client with the given burst.
func NewPerClientRateLimiter(perSecond float64, burst int) *PerClientRateLimiter {
	return &PerClientRateLimiter{
		rate:            rate.Limit(perSecond),
		burst:           max(burst, 1),
		clients:         make(map[string]*clientLimiter),
		cleanupInterval: 5 * time.Minute,
		maxIdleTime:     10 * time.Minute,
		now:             time.Now,
		lastCleanup:     time.Now(),
	}
}

// Allow reports whether a request from clientKey may proceed.
func (l *PerClientRateLimiter) Allow(clientKey string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastCleanup) > l.cleanupInterval {
		l.cleanupLocked(now)
	}

	c, ok := l.clients[clientKey]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[clientKey] = c
	}
	c.lastSeen = now

	l.requests++
	if c.limiter.AllowN(now, 1) {
		return true
	}
	l.rejected++
	return false
}

// cleanupLocked drops idle clients. Caller holds l.mu.
func (l *PerClientRateLimiter) cleanupLocked(now time.Time) {
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > l.maxIdleTime {
			delete(l.clients, key)
		}
	}
	l.lastCleanup = now
}

// Stats returns aggregate limiter statistics.
func (l *PerClientRateLimiter) Stats() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return map[string]any{
		"rate":           float64(l.rate),
		"burst":          l.burst,
		"active_clients": len(l.clients),
		"total_requests": l.requests,
		"total_rejected": l.rejected,
	}
}

// PerClientRateLimitMiddleware rejects clients over their budget with 429.
// The client key is X-Real-IP when present (set by chi's RealIP), else RemoteAddr.
func PerClientRateLimitMiddleware(limiter *PerClientRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := r.RemoteAddr
			if ip := r.Header.Get("X-Real-IP"); ip != "" {
				clientKey = ip
			}
			if !limiter.Allow(clientKey) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
