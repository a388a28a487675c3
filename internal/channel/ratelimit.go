package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RateLimiter is a token bucket.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
	now      func() time.Time
}

func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 10
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 30 // 30 requests per minute default
	}
	return &RateLimiter{
		tokens:   float64(maxBurst),
		max:      float64(maxBurst),
		rate:     ratePerMinute / 60.0, // Convert to per-second
		lastTime: time.Now(),
		now:      time.Now,
	}
}

// Allow takes a token if one is available. It never blocks.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	elapsed := now.Sub(rl.lastTime).Seconds()
	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.max {
		rl.tokens = rl.max
	}
	rl.lastTime = now

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}
	return false
}

// RetryAfter estimates how long until the next token is available.
func (rl *RateLimiter) RetryAfter() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.tokens >= 1.0 {
		return 0
	}
	return time.Duration((1.0 - rl.tokens) / rl.rate * float64(time.Second))
}

// full reports whether the bucket has refilled to its burst at t. A full
// bucket behaves exactly like a new one.
func (rl *RateLimiter) full(t time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.tokens+t.Sub(rl.lastTime).Seconds()*rl.rate >= rl.max
}

// UserLimiter keeps one bucket per client key.
type UserLimiter struct {
	mu            sync.Mutex
	buckets       map[string]*RateLimiter
	burst         int
	ratePerMinute float64
	now           func() time.Time
}

func NewUserLimiter(burst int, ratePerMinute float64) *UserLimiter {
	return &UserLimiter{
		buckets:       make(map[string]*RateLimiter),
		burst:         burst,
		ratePerMinute: ratePerMinute,
		now:           time.Now,
	}
}

func (u *UserLimiter) bucket(key string) *RateLimiter {
	u.mu.Lock()
	defer u.mu.Unlock()
	rl, ok := u.buckets[key]
	if !ok {
		rl = NewRateLimiter(u.burst, u.ratePerMinute)
		rl.now = u.now
		rl.lastTime = u.now()
		u.buckets[key] = rl
	}
	return rl
}

// Allow reports whether key may make another request now. When it may not,
// the returned duration says how long to wait.
func (u *UserLimiter) Allow(key string) (bool, time.Duration) {
	rl := u.bucket(key)
	if rl.Allow() {
		return true, 0
	}
	return false, rl.RetryAfter()
}

// Sweep drops buckets that have refilled completely and returns how many
// were removed.
func (u *UserLimiter) Sweep() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	now := u.now()
	removed := 0
	for key, rl := range u.buckets {
		if rl.full(now) {
			delete(u.buckets, key)
			removed++
		}
	}
	return removed
}

// Len is the number of live buckets.
func (u *UserLimiter) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.buckets)
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (u *UserLimiter) RunSweeper(ctx context.Context, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := u.Sweep(); n > 0 {
				logger.Debug("rate limit buckets swept", "removed", n, "live", u.Len())
			}
		}
	}
}
