package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/cppla/audiohub/utils"
)

const (
	limiterIdleTTL       = 5 * time.Minute
	limiterSweepInterval = time.Minute
)

type rateLimiter struct {
	limiter *rate.Limiter
	expires time.Time
}

// ipLimiters keeps one token bucket per client IP and forgets idle ones.
type ipLimiters struct {
	mu        sync.Mutex
	limiters  map[string]*rateLimiter
	limit     rate.Limit
	burst     int
	now       func() time.Time
	nextSweep time.Time
}

func newIPLimiters(perMinute int) *ipLimiters {
	perMinute = max(perMinute, 1)
	return &ipLimiters{
		limiters: map[string]*rateLimiter{},
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    max(perMinute/2, 1),
		now:      time.Now,
	}
}

func (l *ipLimiters) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !now.Before(l.nextSweep) {
		l.sweepLocked(now)
	}
	rl, ok := l.limiters[key]
	if !ok {
		rl = &rateLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = rl
	}
	rl.expires = now.Add(limiterIdleTTL)
	return rl.limiter.AllowN(now, 1)
}

// sweepLocked drops idle limiters. It runs at most once per limiterSweepInterval
// so a large client set does not make every request walk the whole map.
func (l *ipLimiters) sweepLocked(now time.Time) {
	for k, rl := range l.limiters {
		if now.After(rl.expires) {
			delete(l.limiters, k)
		}
	}
	l.nextSweep = now.Add(limiterSweepInterval)
}

// RateLimitMiddleware applies a simple IP based rate limiter using a token bucket.
// A non-positive perMinute disables limiting.
func RateLimitMiddleware(perMinute int) gin.HandlerFunc {
	if perMinute <= 0 {
		return func(ctx *gin.Context) { ctx.Next() }
	}
	limiters := newIPLimiters(perMinute)
	return func(ctx *gin.Context) {
		if !limiters.allow(ctx.ClientIP()) {
			utils.Abort(ctx, http.StatusTooManyRequests, 42901, "rate limit exceeded")
			return
		}
		ctx.Next()
	}
}
