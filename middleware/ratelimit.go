package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterIdle is how long a client's bucket is kept without traffic.
const limiterIdle = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key.
type RateLimiter struct {
	visitors map[string]*visitor
	mutex    sync.Mutex
	rps      rate.Limit
	burst    int
	now      func() time.Time
}

// NewRateLimiter creates a rate limiter allowing rps requests per second per
// key with bursts of up to burst requests.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow checks if a request from the given key should be allowed
func (rl *RateLimiter) Allow(key string) bool {
	rl.mutex.Lock()
	now := rl.now()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	rl.mutex.Unlock()

	return v.limiter.AllowN(now, 1)
}

// Cleanup drops the buckets of keys not seen for a while.
func (rl *RateLimiter) Cleanup() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	cutoff := rl.now().Add(-limiterIdle)
	removed := 0
	for key, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, key)
			removed++
		}
	}
	return removed
}

// RateLimitMiddleware creates a rate limiting middleware keyed on the client
// IP. A non-positive rps disables it.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := NewRateLimiter(rps, burst)
	retryAfter := int(time.Second.Seconds()/rps) + 1

	var requests int
	var mu sync.Mutex

	return func(c *gin.Context) {
		mu.Lock()
		requests++
		if requests%1000 == 0 {
			if n := limiter.Cleanup(); n > 0 {
				log.Debugf("Rate limiter dropped %d idle clients", n)
			}
		}
		mu.Unlock()

		clientIP := c.ClientIP()
		if !limiter.Allow(clientIP) {
			log.Warnf("Rate limit exceeded for IP: %s", clientIP)
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retryAfter,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
