// Package ratelimit throttles per-IP request rate on sensitive endpoints —
// in this vault, POST /api/unlock, where repeated password guesses are
// slowed down per client IP.
//
// Grounded on frnd1406-NasServer's middleware/logic/ratelimit.go: a
// map[string]*rate.Limiter keyed by client IP with lazy creation and
// periodic TTL-based cleanup of idle entries, using the same
// golang.org/x/time/rate token bucket.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is a per-IP token bucket limiter with idle-entry eviction.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	ttl      time.Duration
}

// New returns a Limiter allowing burst immediate requests per IP, refilling
// at r per second, evicting an IP's bucket after ttl of inactivity.
func New(r float64, burst int, ttl time.Duration) *Limiter {
	return &Limiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(r),
		burst:    burst,
		ttl:      ttl,
	}
}

func (l *Limiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evictLocked()

	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter.Allow()
}

func (l *Limiter) evictLocked() {
	cutoff := time.Now().Add(-l.ttl)
	for key, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
}

// Middleware returns gin middleware that answers 429 once a client IP
// exceeds its bucket.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := clientKey(c)
		if !l.allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
				"code":  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}

func clientKey(c *gin.Context) string {
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return host
}
