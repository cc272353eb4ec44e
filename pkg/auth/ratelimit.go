package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedKeys bounds the number of limiter buckets kept in memory.
const maxTrackedKeys = 10000

// AttemptLimiter throttles authentication attempts per remote host with a
// token bucket. Callers either charge every attempt (Allow) or only the
// failed ones (Blocked, then Fail).
type AttemptLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewAttemptLimiter allows perMinute attempts per key with the given burst.
// A non-positive perMinute returns nil, which allows everything.
func NewAttemptLimiter(perMinute, burst int) *AttemptLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &AttemptLimiter{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow consumes one attempt for key. It returns ErrTooManyRequests when
// the bucket is empty.
func (l *AttemptLimiter) Allow(key string) error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= maxTrackedKeys {
			l.pruneLocked()
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	if !lim.Allow() {
		return ErrTooManyRequests
	}
	return nil
}

// Blocked reports whether key has no attempts left, without consuming one.
func (l *AttemptLimiter) Blocked(key string) bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	lim, ok := l.limiters[key]
	l.mu.Unlock()
	return ok && lim.Tokens() < 1
}

// Fail charges one failed attempt to key.
func (l *AttemptLimiter) Fail(key string) {
	_ = l.Allow(key)
}

// pruneLocked drops buckets that have refilled completely. If none have,
// every bucket is dropped.
func (l *AttemptLimiter) pruneLocked() {
	for key, lim := range l.limiters {
		if lim.Tokens() >= float64(l.burst) {
			delete(l.limiters, key)
		}
	}
	if len(l.limiters) >= maxTrackedKeys {
		clear(l.limiters)
	}
}
