package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter spaces calls evenly so that at most perMinute of them start in
// any minute. A nil or unlimited RateLimiter never blocks.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration // 0 means unlimited
	next     time.Time     // earliest start of the next call
}

// NewRateLimiter creates a RateLimiter that allows perMinute operations per
// minute. perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	rl := &RateLimiter{}
	if perMinute > 0 {
		rl.interval = time.Minute / time.Duration(perMinute)
	}
	return rl
}

// Wait reserves the next free slot and sleeps until it arrives or ctx is
// done. A cancelled wait still consumes its slot.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil || rl.interval == 0 {
		return ctx.Err()
	}

	rl.mu.Lock()
	now := time.Now()
	slot := rl.next
	if slot.Before(now) {
		slot = now
	}
	rl.next = slot.Add(rl.interval)
	rl.mu.Unlock()

	delay := slot.Sub(now)
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
