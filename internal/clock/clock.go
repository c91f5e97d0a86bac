// Package clock abstracts wall time from replay virtual time. Every
// scheduler in the pipeline (orchestrator cycle, expiry scan, heartbeats,
// retry backoff) consults the same Clock so historical replay is
// deterministic.
package clock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Clock is the sole time source for the core.
type Clock interface {
	Now() time.Time
	// After returns a channel that fires once the clock passes d from now.
	After(d time.Duration) <-chan time.Time
}

// Sleep blocks until the clock advances by d or ctx is cancelled.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(d):
		return nil
	}
}

// ── Wall clock ──

// Wall delegates to the runtime clock.
type Wall struct{}

func (Wall) Now() time.Time                         { return time.Now() }
func (Wall) After(d time.Duration) <-chan time.Time { return time.After(d) }

// ── Virtual clock ──

// Virtual is a monotonic clock advanced explicitly by the replayer in step
// with replayed tick timestamps. After-waiters fire when Advance passes
// their deadline.
type Virtual struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
}

type waiter struct {
	at time.Time
	ch chan time.Time
}

// NewVirtual creates a virtual clock starting at t.
func NewVirtual(t time.Time) *Virtual {
	return &Virtual{now: t}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) After(d time.Duration) <-chan time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	w := &waiter{at: v.now.Add(d), ch: make(chan time.Time, 1)}
	if d <= 0 {
		w.ch <- v.now
		return w.ch
	}
	v.waiters = append(v.waiters, w)
	sort.Slice(v.waiters, func(i, j int) bool { return v.waiters[i].at.Before(v.waiters[j].at) })
	return w.ch
}

// Advance moves the clock forward to t (never backward) and fires every
// waiter whose deadline has passed.
func (v *Virtual) Advance(t time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if t.After(v.now) {
		v.now = t
	}
	fired := 0
	for _, w := range v.waiters {
		if w.at.After(v.now) {
			break
		}
		w.ch <- v.now
		fired++
	}
	v.waiters = v.waiters[fired:]
}

// AdvanceBy moves the clock forward by d.
func (v *Virtual) AdvanceBy(d time.Duration) {
	v.Advance(v.Now().Add(d))
}
