package resilience

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a fixed minimum interval between calls. Callers that
// arrive early wait their turn.
type Limiter struct {
	lim *rate.Limiter
}

// NewLimiter creates a [Limiter] that admits one call per interval. A
// non-positive interval disables limiting.
func NewLimiter(interval time.Duration) *Limiter {
	if interval <= 0 {
		return &Limiter{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Limiter{lim: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next call is admitted or ctx ends.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.lim.Wait(ctx); err != nil {
		return fmt.Errorf("resilience: limiter: %w", err)
	}
	return nil
}
