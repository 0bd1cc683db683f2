package middleware

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tembera/booking-backend/internal/config"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanoseconds
}

// RateLimiter keeps one token bucket per client IP.
//
// Clients are keyed on gin's ClientIP, which reads X-Forwarded-For and
// X-Real-IP only from the engine's trusted proxies.
type RateLimiter struct {
	visitors sync.Map
	rps      rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

// NewRateLimiter creates a limiter. A non-positive rate disables limiting.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	// A bucket may only be dropped once it has refilled
	if cfg.RequestsPerSecond > 0 {
		refill := time.Duration(float64(burst) / cfg.RequestsPerSecond * float64(time.Second))
		if idle < refill {
			idle = refill
		}
	}
	return &RateLimiter{
		rps:   rate.Limit(cfg.RequestsPerSecond),
		burst: burst,
		idle:  idle,
		now:   time.Now,
	}
}

func (l *RateLimiter) getVisitor(key string) *visitor {
	if v, ok := l.visitors.Load(key); ok {
		return v.(*visitor)
	}
	actual, _ := l.visitors.LoadOrStore(key, &visitor{limiter: rate.NewLimiter(l.rps, l.burst)})
	return actual.(*visitor)
}

// Allow reports whether key may make another request now
func (l *RateLimiter) Allow(key string) bool {
	if l.rps <= 0 {
		return true
	}
	v := l.getVisitor(key)
	now := l.now()
	v.lastSeen.Store(now.UnixNano())
	return v.limiter.AllowN(now, 1)
}

// Sweep drops buckets that have not been used within the idle timeout and
// returns how many were removed.
func (l *RateLimiter) Sweep() int {
	cutoff := l.now().Add(-l.idle).UnixNano()
	removed := 0
	l.visitors.Range(func(key, value interface{}) bool {
		if value.(*visitor).lastSeen.Load() < cutoff {
			l.visitors.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Run sweeps idle buckets until ctx is done
func (l *RateLimiter) Run(ctx context.Context) {
	if l.rps <= 0 {
		return
	}
	ticker := time.NewTicker(l.idle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Middleware rejects callers over their budget with 429
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "Too many requests, please slow down",
				"code":    "RATE_LIMITED",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
