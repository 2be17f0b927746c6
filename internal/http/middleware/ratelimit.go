package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc selects the bucket a request is charged to.
type keyFunc func(*gin.Context) string

// KeyByUserOrIP charges signed-in users by account and everybody else by
// client IP. Keys are namespaced ("user:42", "ip:203.0.113.7").
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if id, ok := UserID(c); ok {
			return "user:" + strconv.FormatUint(uint64(id), 10)
		}
		return "ip:" + c.ClientIP()
	}
}

// RateLimitOptions configures NewRateLimiter.
type RateLimitOptions struct {
	RPS   float64 // tokens refilled per second
	Burst int     // bucket size, at least 1

	// WriteCost is how many tokens a mutating request spends. Uploads,
	// comments and reviews are far more expensive than browsing, so they
	// drain the bucket faster. Clamped to [1, Burst].
	WriteCost int

	Key     keyFunc       // defaults to KeyByUserOrIP
	IdleTTL time.Duration // buckets unused this long are dropped; default 10m
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a process-local, per-key token bucket limiter. It is safe
// for concurrent use. Deployments running several replicas get per-replica
// limits.
type RateLimiter struct {
	limit     rate.Limit
	burst     int
	writeCost int
	key       keyFunc
	idleTTL   time.Duration

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter builds a limiter from opt, filling in defaults.
func NewRateLimiter(opt RateLimitOptions) *RateLimiter {
	if opt.Burst < 1 {
		opt.Burst = 1
	}
	if opt.WriteCost < 1 {
		opt.WriteCost = 1
	}
	if opt.WriteCost > opt.Burst {
		opt.WriteCost = opt.Burst
	}
	if opt.Key == nil {
		opt.Key = KeyByUserOrIP()
	}
	if opt.IdleTTL <= 0 {
		opt.IdleTTL = 10 * time.Minute
	}
	return &RateLimiter{
		limit:     rate.Limit(opt.RPS),
		burst:     opt.Burst,
		writeCost: opt.WriteCost,
		key:       opt.Key,
		idleTTL:   opt.IdleTTL,
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// limiterFor returns the bucket for key, creating it on first use. Idle
// buckets are swept at most once per IdleTTL, before the lookup so a stale
// bucket for key itself is replaced with a full one.
func (rl *RateLimiter) limiterFor(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.idleTTL {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.idleTTL {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// Len reports how many buckets are currently tracked.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// cost is the number of tokens the request spends.
func (rl *RateLimiter) cost(method string) int {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return 1
	}
	return rl.writeCost
}

// IsRateBypass reports whether IdempotencyValidator flagged the request as a
// replay, which is answered without spending tokens.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler returns the middleware. Rejected requests get 429 with the standard
// error body and a Retry-After giving the whole seconds until enough tokens
// are back.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		now := rl.now()
		lim := rl.limiterFor(rl.key(c), now)
		n := rl.cost(c.Request.Method)
		if lim.AllowN(now, n) {
			c.Next()
			return
		}

		c.Header("Retry-After", strconv.Itoa(retryAfter(lim, now, n)))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}

// retryAfter estimates how long until n tokens are available, rounded up to
// a whole second and never below one.
func retryAfter(lim *rate.Limiter, now time.Time, n int) int {
	if lim.Limit() <= 0 {
		return 60
	}
	missing := float64(n) - lim.TokensAt(now)
	if missing <= 0 {
		return 1
	}
	secs := int(math.Ceil(missing / float64(lim.Limit())))
	if secs < 1 {
		secs = 1
	}
	return secs
}
