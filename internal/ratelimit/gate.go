package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Gate is the single process-wide admission gate in front of the vendor
// API. It spaces requests so that no 60-second window ever sees more than
// the configured budget. One Gate is shared by every caller; *rate.Limiter
// is safe under concurrent use.
type Gate struct {
	lim       *rate.Limiter
	perMinute int
}

// NewGate creates a gate admitting at most perMinute requests per minute.
func NewGate(perMinute int) *Gate {
	if perMinute <= 0 {
		perMinute = 120
	}
	// Burst of 1 keeps the admission strictly inside the window budget:
	// tokens refill one per minute/perMinute, so any 60s span admits at
	// most perMinute requests.
	return &Gate{
		lim:       rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		perMinute: perMinute,
	}
}

// Wait blocks until the next request may be admitted or ctx is cancelled.
func (g *Gate) Wait(ctx context.Context) error {
	return g.lim.Wait(ctx)
}

// Allow reports whether a request may proceed immediately.
func (g *Gate) Allow() bool {
	return g.lim.Allow()
}

// Budget returns the configured per-minute budget.
func (g *Gate) Budget() int {
	return g.perMinute
}
