package scheduler

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer blocks between steps so the provider never sees a burst
type Pacer interface {
	Wait(ctx context.Context) error
}

// RatePacer spaces steps at least delay apart
type RatePacer struct {
	limiter *rate.Limiter
}

// NewRatePacer creates a pacer allowing one step per delay. The initial token
// is spent immediately so the first Wait already blocks for delay.
func NewRatePacer(delay time.Duration) *RatePacer {
	if delay <= 0 {
		return &RatePacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	l := rate.NewLimiter(rate.Every(delay), 1)
	l.Allow()
	return &RatePacer{limiter: l}
}

// Wait blocks until the next step may run
func (p *RatePacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
