package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend of a [FallbackGroup] failed or
// had an open breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each backend's breaker; Name is
	// replaced by the backend name.
	CircuitBreaker CircuitBreakerConfig

	// Logger receives failover messages. Default: slog.Default().
	Logger *slog.Logger
}

type backend[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup is an ordered list of interchangeable backends, primary
// first, each behind its own circuit breaker. Backends must all be added
// before the group is shared; calls are then safe for concurrent use.
type FallbackGroup[T any] struct {
	backends []backend[T]
	cfg      FallbackConfig
	logger   *slog.Logger
}

// NewFallbackGroup returns a group whose only backend is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg, logger: cfg.Logger}
	if fg.logger == nil {
		fg.logger = slog.Default()
	}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a backend tried after every earlier one.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cb := fg.cfg.CircuitBreaker
	cb.Name = name
	fg.backends = append(fg.backends, backend[T]{name: name, value: value, breaker: NewCircuitBreaker(cb)})
}

// Names returns the backend names in try order.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, len(fg.backends))
	for i, b := range fg.backends {
		out[i] = b.name
	}
	return out
}

// Breakers returns the per-backend circuit breakers in try order.
func (fg *FallbackGroup[T]) Breakers() []*CircuitBreaker {
	out := make([]*CircuitBreaker, len(fg.backends))
	for i, b := range fg.backends {
		out[i] = b.breaker
	}
	return out
}

// Call runs fn against each backend in order until one succeeds and reports
// which backend answered. Backends with an open breaker are skipped. Once
// ctx is done no further backend is tried and ctx's error is returned.
// Otherwise the error wraps [ErrAllFailed] and the last backend error.
func Call[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, string, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.backends {
		b := &fg.backends[i]
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		var res R
		err := b.breaker.Execute(func() error {
			var err error
			res, err = fn(ctx, b.value)
			return err
		})
		if err == nil {
			if i > 0 {
				fg.logger.Debug("fallback backend answered", "backend", b.name, "skipped", i)
			}
			return res, b.name, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			fg.logger.Debug("backend circuit open, skipping", "backend", b.name)
			continue
		}
		if ctx.Err() != nil {
			return zero, "", err
		}
		fg.logger.Warn("backend failed, trying next", "backend", b.name, "err", err)
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
