// Package pacer enforces minimum spacing between outbound remote API calls.
package pacer

import (
	"context"
	"sync"
	"time"
)

// Pacer gates a call until enough time has passed since the previous one.
type Pacer interface {
	// Wait blocks until the caller may fire, or until ctx is done.
	Wait(ctx context.Context) error
}

// Gate is a shared minimum-interval gate: consecutive calls through the same
// Gate are spaced at least interval apart, regardless of which goroutine or
// which remote operation makes them. It is not a token bucket; there is no
// burst allowance.
type Gate struct {
	interval time.Duration

	mu   sync.Mutex
	next time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a Gate with the given minimum spacing.
func New(interval time.Duration) *Gate {
	return &Gate{
		interval: interval,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// NewWithClock constructs a Gate with an injected clock, for tests.
func NewWithClock(interval time.Duration, now func() time.Time,
	sleep func(ctx context.Context, d time.Duration) error) *Gate {
	return &Gate{interval: interval, now: now, sleep: sleep}
}

// Wait reserves the next firing slot and sleeps until it arrives. The slot is
// reserved under the lock so concurrent callers queue up with full spacing
// between them; the sleep itself happens outside the lock.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	now := g.now()
	if g.next.Before(now) {
		g.next = now
	}
	d := g.next.Sub(now)
	g.next = g.next.Add(g.interval)
	g.mu.Unlock()

	if d <= 0 {
		return ctx.Err()
	}
	return g.sleep(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
