package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter keeps one token bucket per user for message inserts.
type rateLimiter struct {
	mu       sync.Mutex
	perMin   int
	limiters map[string]*userLimiter
	now      func() time.Time
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter allows perMinute inserts per user with a burst of the same
// size. A non-positive limit disables limiting.
func newRateLimiter(perMinute int) *rateLimiter {
	return &rateLimiter{
		perMin:   perMinute,
		limiters: make(map[string]*userLimiter),
		now:      time.Now,
	}
}

// allow consumes one token for userID.
func (rl *rateLimiter) allow(userID string) bool {
	if rl.perMin <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	ul, ok := rl.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.perMin)), rl.perMin)}
		rl.limiters[userID] = ul
	}
	ul.lastSeen = now
	return ul.limiter.AllowN(now, 1)
}

// prune drops limiters idle for longer than idle and returns how many went.
func (rl *rateLimiter) prune(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-idle)
	n := 0
	for id, ul := range rl.limiters {
		if ul.lastSeen.Before(cutoff) {
			delete(rl.limiters, id)
			n++
		}
	}
	return n
}
