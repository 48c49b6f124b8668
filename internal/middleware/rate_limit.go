package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter throttles requests per authenticated user, falling back to the
// client IP for anonymous callers. A caller idle for a whole window is back
// at full burst, so its limiter is dropped on the next sweep.
type RateLimiter struct {
	limiters  sync.Map // map[string]*limiterEntry
	limit     rate.Limit
	burst     int
	idleAfter time.Duration
	lastSweep atomic.Int64 // unix nanos
	now       func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// NewRateLimiter allows requests per window for each caller
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	if requests <= 0 {
		requests = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &RateLimiter{
		limit:     rate.Every(window / time.Duration(requests)),
		burst:     requests,
		idleAfter: window,
		now:       time.Now,
	}
	l.lastSweep.Store(l.now().UnixNano())
	return l
}

func (l *RateLimiter) getLimiter(key string) *rate.Limiter {
	now := l.now()
	l.maybeSweep(now)

	if v, ok := l.limiters.Load(key); ok {
		entry := v.(*limiterEntry)
		entry.lastSeen.Store(now.UnixNano())
		return entry.limiter
	}

	entry := &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
	entry.lastSeen.Store(now.UnixNano())
	actual, loaded := l.limiters.LoadOrStore(key, entry)
	if loaded {
		entry = actual.(*limiterEntry)
		entry.lastSeen.Store(now.UnixNano())
	}
	return entry.limiter
}

// maybeSweep evicts idle limiters at most once per idle period; one caller
// wins the sweep and the rest carry on
func (l *RateLimiter) maybeSweep(now time.Time) {
	last := l.lastSweep.Load()
	if now.UnixNano()-last < int64(l.idleAfter) {
		return
	}
	if !l.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}

	cutoff := now.Add(-l.idleAfter).UnixNano()
	l.limiters.Range(func(key, value any) bool {
		if value.(*limiterEntry).lastSeen.Load() <= cutoff {
			l.limiters.CompareAndDelete(key, value)
		}
		return true
	})
}

// Middleware rejects callers over their budget with 429
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if userCtx, ok := GetUserContext(c); ok {
			key = "user:" + userCtx.UserID.String()
		}

		reservation := l.getLimiter(key).Reserve()
		if !reservation.OK() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "Too many requests",
				"code":    "RATE_LIMITED",
			})
			return
		}
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "Too many requests, please slow down",
				"code":    "RATE_LIMITED",
			})
			return
		}

		c.Next()
	}
}
