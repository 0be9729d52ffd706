package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// ErrRetriesExhausted is returned by [Retry.Do] when every attempt failed
// with a retryable error. The last attempt's error is wrapped alongside it.
var ErrRetriesExhausted = errors.New("resilience: retries exhausted")

// RetryConfig holds tuning knobs for a [Retry] policy.
type RetryConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt. Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts. Default: 8s.
	MaxBackoff time.Duration

	// Multiplier scales the delay after each attempt. Default: 2.
	Multiplier float64

	// Jitter is the fraction of each delay that is randomised, in [0, 1].
	// Default: 0 (no jitter).
	Jitter float64

	// AttemptTimeout bounds every individual attempt. Zero means no per-attempt
	// timeout beyond ctx.
	AttemptTimeout time.Duration

	// Retryable reports whether err is worth another attempt. Default: every
	// error except context cancellation.
	Retryable func(error) bool
}

// Retry retries a call with capped exponential backoff.
type Retry struct {
	cfg RetryConfig

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetry creates a [Retry] with the supplied configuration. Zero-value
// config fields are replaced with defaults.
func NewRetry(cfg RetryConfig) *Retry {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 8 * time.Second
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2
	}
	cfg.Jitter = min(max(cfg.Jitter, 0), 1)
	if cfg.Retryable == nil {
		cfg.Retryable = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	return &Retry{cfg: cfg, sleep: sleepCtx}
}

// Do calls fn until it succeeds, returns a non-retryable error, ctx ends, or
// MaxAttempts is reached. Each attempt receives its own context bounded by
// AttemptTimeout.
func (r *Retry) Do(ctx context.Context, fn func(context.Context) error) error {
	backoff := r.cfg.InitialBackoff
	var err error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		err = r.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if !r.cfg.Retryable(err) {
			return err
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}

		delay := r.jittered(backoff)
		slog.Debug("retrying after failure",
			"name", r.cfg.Name,
			"attempt", attempt,
			"backoff", delay,
			"err", err,
		)
		if serr := r.sleep(ctx, delay); serr != nil {
			return err
		}
		backoff = min(time.Duration(float64(backoff)*r.cfg.Multiplier), r.cfg.MaxBackoff)
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, r.cfg.MaxAttempts, err)
}

func (r *Retry) attempt(ctx context.Context, fn func(context.Context) error) error {
	if r.cfg.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()
	return fn(actx)
}

func (r *Retry) jittered(d time.Duration) time.Duration {
	if r.cfg.Jitter == 0 {
		return d
	}
	spread := float64(d) * r.cfg.Jitter
	return time.Duration(float64(d) - spread + rand.Float64()*2*spread)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
