package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle spaces entity processing by a fixed delay. The first Wait returns
// immediately.
type Throttle struct {
	limiter *rate.Limiter
	delay   time.Duration
}

func New(delay time.Duration) *Throttle {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Throttle{limiter: rate.NewLimiter(limit, 1), delay: delay}
}

func (t *Throttle) Delay() time.Duration { return t.delay }

// Wait blocks until the next entity may be processed or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// DelayFor returns the spacing for a provider combination: the slowest
// provider's delay.
func DelayFor(providers []string, delays map[string]time.Duration) time.Duration {
	var d time.Duration
	for _, p := range providers {
		d = max(d, delays[p])
	}
	return d
}
