package telegram

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces requests to the Telegram API and holds every caller
// back while a FLOOD_WAIT is in effect.
type RateLimiter struct {
	limiter *rate.Limiter

	mu             sync.Mutex
	floodWaitUntil time.Time
}

// NewRateLimiter creates a rate limiter.
// rps - requests per second, burst - allowed burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// DefaultRateLimiter returns a limiter with conservative settings.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(2.0, 1)
}

// Wait blocks until the next request is allowed.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if d := r.FloodWaitRemaining(); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return r.limiter.Wait(ctx)
}

// SetFloodWait pauses all requests for d. A shorter wait never shortens an
// active one.
func (r *RateLimiter) SetFloodWait(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	until := time.Now().Add(d)
	if until.After(r.floodWaitUntil) {
		r.floodWaitUntil = until
	}
}

// FloodWaitRemaining returns how long the current flood wait still lasts.
func (r *RateLimiter) FloodWaitRemaining() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d := time.Until(r.floodWaitUntil); d > 0 {
		return d
	}
	return 0
}
