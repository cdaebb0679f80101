package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestLimiter(rps int) (*RateLimiter, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 12, 24, 18, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(rps)
	rl.now = clk.now
	return rl, clk
}

func TestRateLimiter_BurstAndRefill(t *testing.T) {
	rl, clk := newTestLimiter(2)

	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow("ops"), "request %d within burst", i)
	}
	assert.False(t, rl.Allow("ops"))
	assert.True(t, rl.Allow("other"), "keys have separate buckets")

	clk.t = clk.t.Add(500 * time.Millisecond)
	assert.True(t, rl.Allow("ops"), "one token refilled after 0.5s at 2 rps")
	assert.False(t, rl.Allow("ops"))
}

func TestRateLimiter_Evict(t *testing.T) {
	rl, clk := newTestLimiter(1)
	rl.Allow("a")
	clk.t = clk.t.Add(idleAfter / 2)
	rl.Allow("b")

	clk.t = clk.t.Add(idleAfter/2 + time.Second)
	rl.Evict()

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	assert.NotContains(t, rl.buckets, "a")
	assert.Contains(t, rl.buckets, "b")
}
