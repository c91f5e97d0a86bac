package signalmon

import (
	"context"
	"sync"

	"trading-corev1/internal/model"
)

// lane serializes execution per instrument: triggers are processed strictly
// FIFO and at most one execution is in flight at a time. Conflicting
// triggers queued in the same instant are resolved by creation time; the
// later signal is cancelled as superseded.
type lane struct {
	m    *Monitor
	inst string

	mu      sync.Mutex
	queue   []*tracked
	current *tracked // in-flight execution, nil when idle
	running bool
}

func (m *Monitor) laneFor(instrument string) *lane {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lanes[instrument]
	if !ok {
		l = &lane{m: m, inst: instrument}
		m.lanes[instrument] = l
	}
	return l
}

// enqueue adds a triggered signal and starts the drain if idle.
func (l *lane) enqueue(ctx context.Context, t *tracked) {
	l.mu.Lock()
	l.resolveConflicts(ctx, t)
	if t.snapshot().Status != model.StatusTriggered {
		// Lost the conflict and was cancelled during enqueue.
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, t)
	start := !l.running
	if start {
		l.running = true
	}
	l.mu.Unlock()
	if start {
		go l.drain(ctx)
	}
}

// resolveConflicts cancels whichever of an opposing pair was created later.
// An in-flight execution always wins: it is already at the broker and
// cannot be unwound. Caller holds l.mu.
func (l *lane) resolveConflicts(ctx context.Context, incoming *tracked) {
	in := incoming.snapshot()
	if l.current != nil {
		if cs := l.current.snapshot(); opposing(in.Action, cs.Action) {
			l.m.cancel(ctx, incoming, "superseded")
			return
		}
	}
	for _, q := range l.queue {
		qs := q.snapshot()
		if qs.Status != model.StatusTriggered || !opposing(in.Action, qs.Action) {
			continue
		}
		if in.CreatedAt.Before(qs.CreatedAt) {
			l.m.cancel(ctx, q, "superseded")
		} else {
			l.m.cancel(ctx, incoming, "superseded")
			return
		}
	}
}

func opposing(a, b model.Action) bool {
	return (a == model.ActionBuy && b == model.ActionSell) ||
		(a == model.ActionSell && b == model.ActionBuy)
}

// drain processes queued triggers one at a time until the queue empties.
func (l *lane) drain(ctx context.Context) {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			l.mu.Unlock()
			return
		}
		t := l.queue[0]
		l.queue = l.queue[1:]
		l.current = t
		l.mu.Unlock()

		l.m.executeOne(ctx, t)

		l.mu.Lock()
		l.current = nil
		l.mu.Unlock()
	}
}
