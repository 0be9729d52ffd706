package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewBulkhead_Defaults(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{})
	if b.maxWaiting != 16 {
		t.Errorf("maxWaiting = %d, want 16", b.maxWaiting)
	}
	if b.InFlight() != 0 || b.Waiting() != 0 {
		t.Errorf("InFlight/Waiting = %d/%d, want 0/0", b.InFlight(), b.Waiting())
	}
}

func TestBulkhead_RejectsWhenQueueFull(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "stt", MaxConcurrent: 1, MaxWaiting: 1})

	release := make(chan struct{})
	running := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(context.Background(), func(context.Context) error {
			close(running)
			<-release
			return nil
		})
	}()
	<-running

	// Second caller occupies the only waiting slot.
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(context.Background(), func(context.Context) error { return nil })
	}()
	deadline := time.Now().Add(time.Second)
	for b.Waiting() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("second caller never started waiting")
		}
		time.Sleep(time.Millisecond)
	}

	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrBulkheadFull) {
		t.Fatalf("err = %v, want ErrBulkheadFull", err)
	}
	if called {
		t.Error("fn called despite full bulkhead")
	}

	close(release)
	wg.Wait()
	if b.InFlight() != 0 || b.Waiting() != 0 {
		t.Errorf("InFlight/Waiting = %d/%d, want 0/0", b.InFlight(), b.Waiting())
	}
}

func TestBulkhead_BoundsConcurrency(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 2, MaxWaiting: 10})

	var (
		mu      sync.Mutex
		current int
		peak    int
		wg      sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Execute(context.Background(), func(context.Context) error {
				mu.Lock()
				current++
				peak = max(peak, current)
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				current--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("Execute: %v", err)
			}
		}()
	}
	wg.Wait()
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestBulkhead_WaitHonoursContext(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxWaiting: 1})

	release := make(chan struct{})
	running := make(chan struct{})
	go func() {
		_ = b.Execute(context.Background(), func(context.Context) error {
			close(running)
			<-release
			return nil
		})
	}()
	<-running
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := b.Execute(ctx, func(context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if b.Waiting() != 0 {
		t.Errorf("Waiting = %d, want 0", b.Waiting())
	}
}
