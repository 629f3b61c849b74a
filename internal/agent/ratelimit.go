package agent

import (
	"sync"

	"golang.org/x/time/rate"
)

// chatLimiter enforces a per-chat token bucket on run starts. Limiters are
// created lazily and kept for the process lifetime; the per-chat footprint
// is a few words, so no eviction is needed.
type chatLimiter struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newChatLimiter(perMinute, burst int) *chatLimiter {
	if perMinute <= 0 {
		perMinute = 6
	}
	if burst <= 0 {
		burst = 1
	}
	return &chatLimiter{
		limiters: make(map[int64]*rate.Limiter),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
}

func (c *chatLimiter) allow(chatID int64) bool {
	c.mu.Lock()
	lim, ok := c.limiters[chatID]
	if !ok {
		lim = rate.NewLimiter(c.limit, c.burst)
		c.limiters[chatID] = lim
	}
	c.mu.Unlock()
	return lim.Allow()
}
