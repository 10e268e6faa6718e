package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AttemptLimiter keeps one token bucket per key. Idle buckets are swept after
// ttl so the map stays bounded.
type AttemptLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
	buckets map[string]*limiterEntry
	sweptAt time.Time
}

type limiterEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

// NewAttemptLimiter allows perMinute events per key with the given burst. A
// non-positive rate disables limiting.
func NewAttemptLimiter(perMinute float64, burst int) *AttemptLimiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(perMinute / 60)
	if perMinute <= 0 {
		limit = rate.Inf
	}
	return &AttemptLimiter{
		limit:   limit,
		burst:   burst,
		ttl:     10 * time.Minute,
		now:     time.Now,
		buckets: make(map[string]*limiterEntry),
	}
}

// Allow consumes one token for key.
func (l *AttemptLimiter) Allow(key string) bool {
	if l == nil || l.limit == rate.Inf || key == "" {
		return true
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.sweptAt) > l.ttl {
		for k, e := range l.buckets {
			if now.Sub(e.seen) > l.ttl {
				delete(l.buckets, k)
			}
		}
		l.sweptAt = now
	}
	e, ok := l.buckets[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = e
	}
	e.seen = now
	return e.limiter.AllowN(now, 1)
}
