package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────────────────
// Token Bucket Rate Limiter
// ──────────────────────────────────────────────────────────────────────────────

const (
	evictEvery = 5 * time.Minute
	idleAfter  = 10 * time.Minute
)

// bucket is an in-memory token bucket for one client key.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// RateLimiter holds per-key buckets. Keys are the authenticated operator
// when there is one, the client IP otherwise.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   float64 // maximum token capacity
	now     func() time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second per key
// with a burst of max(10, rps).
func NewRateLimiter(rps int) *RateLimiter {
	burst := float64(rps)
	if burst < 10 {
		burst = 10
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    float64(rps),
		burst:   burst,
		now:     time.Now,
	}
}

// Allow deducts one token from key's bucket and reports whether one was
// available.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.RLock()
	b, ok := rl.buckets[key]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		if b, ok = rl.buckets[key]; !ok {
			b = &bucket{tokens: rl.burst, lastRefill: rl.now()}
			rl.buckets[key] = b
		}
		rl.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := rl.now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * rl.rate
	if b.tokens > rl.burst {
		b.tokens = rl.burst
	}
	b.lastRefill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Evict drops buckets idle for longer than idleAfter.
func (rl *RateLimiter) Evict() {
	cutoff := rl.now().Add(-idleAfter)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		b.mu.Lock()
		if b.lastRefill.Before(cutoff) {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}

// RunEviction evicts idle buckets every few minutes until ctx is done.
func (rl *RateLimiter) RunEviction(ctx context.Context) {
	ticker := time.NewTicker(evictEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Evict()
		}
	}
}

// Middleware returns a gin.HandlerFunc enforcing the limit. Clients over the
// limit receive 429 Too Many Requests.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := GetOperator(c)
		if key == "" {
			key = c.ClientIP()
		}
		if !rl.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "too many requests, please slow down",
				"code":    "ERR_RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
