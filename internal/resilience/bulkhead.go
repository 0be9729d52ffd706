package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrBulkheadFull is returned by [Bulkhead.Execute] when every slot is taken
// and the wait queue is already at capacity.
var ErrBulkheadFull = errors.New("resilience: bulkhead full")

// BulkheadConfig holds tuning knobs for a [Bulkhead].
type BulkheadConfig struct {
	// Name is a human-readable label used in errors.
	Name string

	// MaxConcurrent is the number of calls allowed to run at once. Default: 4.
	MaxConcurrent int

	// MaxWaiting is the number of callers allowed to queue for a slot. Callers
	// beyond that fail fast with [ErrBulkheadFull]. Default: 16.
	MaxWaiting int
}

// Bulkhead bounds the concurrency of a protected call and the number of
// callers allowed to wait for it. It is safe for concurrent use.
type Bulkhead struct {
	name       string
	sem        *semaphore.Weighted
	maxWaiting int64
	waiting    atomic.Int64
	inFlight   atomic.Int64
}

// NewBulkhead creates a [Bulkhead] with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewBulkhead(cfg BulkheadConfig) *Bulkhead {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.MaxWaiting < 0 {
		cfg.MaxWaiting = 0
	} else if cfg.MaxWaiting == 0 {
		cfg.MaxWaiting = 16
	}
	return &Bulkhead{
		name:       cfg.Name,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		maxWaiting: int64(cfg.MaxWaiting),
	}
}

// Execute runs fn once a slot is free. When no slot is free and the wait
// queue is full it returns [ErrBulkheadFull] without calling fn. If ctx ends
// while waiting, ctx.Err() is returned.
func (b *Bulkhead) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.sem.TryAcquire(1) {
		if b.waiting.Add(1) > b.maxWaiting {
			b.waiting.Add(-1)
			return fmt.Errorf("%s: %w", b.label(), ErrBulkheadFull)
		}
		err := b.sem.Acquire(ctx, 1)
		b.waiting.Add(-1)
		if err != nil {
			return err
		}
	}
	defer b.sem.Release(1)

	b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	return fn(ctx)
}

// InFlight returns the number of calls currently running.
func (b *Bulkhead) InFlight() int { return int(b.inFlight.Load()) }

// Waiting returns the number of callers queued for a slot.
func (b *Bulkhead) Waiting() int { return int(b.waiting.Load()) }

func (b *Bulkhead) label() string {
	if b.name == "" {
		return "bulkhead"
	}
	return "bulkhead " + b.name
}
