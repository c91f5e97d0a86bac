// Package bus provides the in-process pub/sub broker: named colon-segmented
// channels, pattern subscriptions, bounded per-subscriber FIFO queues, and
// per-subscription sequence numbers for gap detection.
//
// Publish never blocks: a subscriber that fails to drain loses messages and
// its drop counter is incremented, never the publisher's throughput.
package bus

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueCap is the per-subscription queue capacity.
const DefaultQueueCap = 1024

// Envelope is one delivered message. Seq is monotonically increasing per
// subscription starting at 1; gaps indicate drops.
type Envelope struct {
	Channel string
	Seq     uint64
	Payload any
	TS      time.Time
}

// Subscription is one subscriber's handle: a bounded FIFO of envelopes.
type Subscription struct {
	id      uint64
	pattern string
	ch      chan Envelope

	// mu serializes seq assignment with the queue send so delivered seq
	// values stay strictly increasing under concurrent publishers.
	mu    sync.Mutex
	seq   uint64
	drops atomic.Uint64

	closed atomic.Bool
}

// C returns the receive channel. It is closed by Unsubscribe.
func (s *Subscription) C() <-chan Envelope { return s.ch }

// Pattern returns the subscription's channel pattern.
func (s *Subscription) Pattern() string { return s.pattern }

// Drops returns how many messages were dropped for this subscriber.
func (s *Subscription) Drops() uint64 { return s.drops.Load() }

// Broker is the in-process pub/sub hub.
type Broker struct {
	mu       sync.RWMutex
	subs     map[uint64]*Subscription
	nextID   uint64
	queueCap int

	published atomic.Uint64
	unrouted  atomic.Uint64 // publishes that reached zero subscribers

	// OnDrop is invoked (outside locks is not guaranteed) when a message is
	// dropped for a slow subscriber. Optional metrics hook.
	OnDrop func(pattern string)
	// OnUnrouted is invoked when a publish reaches zero subscribers.
	OnUnrouted func(channel string)
}

// New creates a broker. queueCap <= 0 selects DefaultQueueCap.
func New(queueCap int) *Broker {
	if queueCap <= 0 {
		queueCap = DefaultQueueCap
	}
	return &Broker{
		subs:     make(map[uint64]*Subscription),
		queueCap: queueCap,
	}
}

// Subscribe registers a pattern subscription. Pattern syntax is
// colon-segmented with "*" matching exactly one segment and "**" matching
// one or more trailing segments.
func (b *Broker) Subscribe(pattern string) (*Subscription, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		id:      b.nextID,
		pattern: pattern,
		ch:      make(chan Envelope, b.queueCap),
	}
	b.subs[sub.id] = sub
	return sub, nil
}

// Unsubscribe removes a subscription and closes its channel. Idempotent;
// after return no further delivery happens.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil || !sub.closed.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	delete(b.subs, sub.id)
	b.mu.Unlock()
	// Safe: sends only happen under the read lock while the sub is in the map.
	close(sub.ch)
}

// Publish delivers payload to every matching subscriber and returns the
// delivered count. Publishing to a channel nobody listens on is not an
// error; it only increments a counter.
func (b *Broker) Publish(channel string, payload any) int {
	now := time.Now()
	delivered := 0
	matched := 0
	b.published.Add(1)

	b.mu.RLock()
	for _, sub := range b.subs {
		if !Match(sub.pattern, channel) {
			continue
		}
		matched++
		// A dropped message still consumes its seq: the resulting gap is how
		// subscribers detect loss.
		sub.mu.Lock()
		sub.seq++
		env := Envelope{Channel: channel, Seq: sub.seq, Payload: payload, TS: now}
		select {
		case sub.ch <- env:
			delivered++
			sub.mu.Unlock()
		default:
			sub.mu.Unlock()
			sub.drops.Add(1)
			if b.OnDrop != nil {
				b.OnDrop(sub.pattern)
			} else {
				log.Printf("[bus] subscriber %q full, dropping %s", sub.pattern, channel)
			}
		}
	}
	b.mu.RUnlock()

	// Unrouted means nobody was listening. A publish that matched but got
	// dropped everywhere is accounted under the per-subscriber drop counters.
	if matched == 0 {
		b.unrouted.Add(1)
		if b.OnUnrouted != nil {
			b.OnUnrouted(channel)
		}
	}
	return delivered
}

// Published returns the total publish count.
func (b *Broker) Published() uint64 { return b.published.Load() }

// Unrouted returns how many publishes reached zero subscribers.
func (b *Broker) Unrouted() uint64 { return b.unrouted.Load() }

// SubscriberCount returns the number of live subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// ValidatePattern checks pattern syntax: non-empty segments, "**" only as
// the final segment.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("bus: empty pattern")
	}
	segs := split(pattern)
	for i, s := range segs {
		if s == "" {
			return fmt.Errorf("bus: empty segment in pattern %q", pattern)
		}
		if s == "**" && i != len(segs)-1 {
			return fmt.Errorf("bus: %q may only appear as the trailing segment", "**")
		}
	}
	return nil
}

// Match reports whether a colon-segmented channel matches a pattern.
// "*" matches a single segment; "**" matches one or more trailing segments.
func Match(pattern, channel string) bool {
	ps := split(pattern)
	cs := split(channel)
	for i, p := range ps {
		if p == "**" {
			// Must consume at least one remaining channel segment.
			return len(cs) > i
		}
		if i >= len(cs) {
			return false
		}
		if p != "*" && p != cs[i] {
			return false
		}
	}
	return len(ps) == len(cs)
}

// split is a zero-dependency strings.Split(s, ":") kept inline for the
// publish hot path.
func split(s string) []string {
	out := make([]string, 0, 6)
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}
