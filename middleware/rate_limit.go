package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// window tracks requests from one client inside the current window
type window struct {
	Count   int
	FirstAt time.Time
}

// RateLimiter caps requests per client within a fixed window
type RateLimiter struct {
	mu           sync.Mutex
	windows      map[string]*window
	maxRequests  int
	windowPeriod time.Duration
	now          func() time.Time
}

// NewRateLimiter creates a new rate limiter
// maxRequests: requests allowed per client within the window
// windowPeriod: length of the counting window
func NewRateLimiter(maxRequests int, windowPeriod time.Duration) *RateLimiter {
	return &RateLimiter{
		windows:      make(map[string]*window),
		maxRequests:  maxRequests,
		windowPeriod: windowPeriod,
		now:          time.Now,
	}
}

// StartCleanup periodically drops expired windows until ctx is done
func (rl *RateLimiter) StartCleanup(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup()
			}
		}
	}()
}

// cleanup removes expired entries
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, w := range rl.windows {
		if now.Sub(w.FirstAt) >= rl.windowPeriod {
			delete(rl.windows, key)
		}
	}
}

// Allow records a request from key. When the window is exhausted it returns false and
// the time until the window resets.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || now.Sub(w.FirstAt) >= rl.windowPeriod {
		rl.windows[key] = &window{Count: 1, FirstAt: now}
		return true, 0
	}
	if w.Count >= rl.maxRequests {
		return false, rl.windowPeriod - now.Sub(w.FirstAt)
	}
	w.Count++
	return true, 0
}

// RateLimitMiddleware rejects clients that exceed rl with 429
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, retryAfter := rl.Allow(c.ClientIP())
		if !allowed {
			secs := int(math.Ceil(retryAfter.Seconds()))
			c.Header("Retry-After", fmt.Sprintf("%d", secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": fmt.Sprintf("Too many requests. Retry in %d seconds", secs),
			})
			return
		}
		c.Next()
	}
}
