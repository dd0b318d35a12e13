package middleware

import (
	"sync"
	"time"

	appErr "proofjudge/pkg/errors"
	"proofjudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitPolicy configures a token bucket per client.
type RateLimitPolicy struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
	// IdleTTL drops buckets of clients that have not been seen for this long.
	IdleTTL time.Duration `yaml:"idleTTL"`
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one limiter per client key.
type RateLimiter struct {
	mu      sync.Mutex
	policy  RateLimitPolicy
	buckets map[string]*bucket
	now     func() time.Time
}

func NewRateLimiter(policy RateLimitPolicy) *RateLimiter {
	if policy.Burst <= 0 {
		policy.Burst = 1
	}
	if policy.IdleTTL <= 0 {
		policy.IdleTTL = time.Hour
	}
	return &RateLimiter{
		policy:  policy,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow reports whether the client identified by key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	if rl == nil || rl.policy.RPS <= 0 {
		return true
	}
	rl.mu.Lock()
	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		rl.evictLocked(now)
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(rl.policy.RPS), rl.policy.Burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	limiter := b.limiter
	rl.mu.Unlock()
	return limiter.AllowN(now, 1)
}

func (rl *RateLimiter) evictLocked(now time.Time) {
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.policy.IdleTTL {
			delete(rl.buckets, key)
		}
	}
}

// RateLimitMiddleware rejects clients over their budget with 429.
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			response.AbortWithErrorCode(c, appErr.TooManyRequests, "")
			return
		}
		c.Next()
	}
}
