// Package store provides TickStore implementations: an in-memory store for
// tests and replay, and a Redis-backed store (subpackage redis) for live
// deployments. Both use the same key layout.
package store

import (
	"context"
	"sync"

	"trading-corev1/internal/model"
)

// maxRecentBars bounds the closed-bar window kept per (instrument, TF).
const maxRecentBars = 500

// Memory is an in-memory TickStore. All methods are goroutine-safe.
type Memory struct {
	mu         sync.RWMutex
	ticks      map[string]model.Tick             // instrument → latest
	current    map[string]model.Bar              // instrument|tf → in-flight bar
	recent     map[string][]model.Bar            // instrument|tf → closed bars, oldest first
	indicators map[string]model.IndicatorSet     // instrument|tf → latest
	signals    map[string]model.Signal           // id → signal
	positions  map[string]model.Position         // id → position
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		ticks:      make(map[string]model.Tick),
		current:    make(map[string]model.Bar),
		recent:     make(map[string][]model.Bar),
		indicators: make(map[string]model.IndicatorSet),
		signals:    make(map[string]model.Signal),
		positions:  make(map[string]model.Position),
	}
}

func seriesKey(instrument string, tf model.Timeframe) string {
	return instrument + "|" + tf.String()
}

func (m *Memory) PutTick(_ context.Context, t model.Tick) error {
	m.mu.Lock()
	m.ticks[t.Instrument] = t
	m.mu.Unlock()
	return nil
}

func (m *Memory) LatestTick(_ context.Context, instrument string) (*model.Tick, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.ticks[instrument]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &t, nil
}

func (m *Memory) PutBar(_ context.Context, b model.Bar) error {
	key := seriesKey(b.Instrument, b.TF)
	m.mu.Lock()
	defer m.mu.Unlock()
	if !b.Closed {
		m.current[key] = b
		return nil
	}
	delete(m.current, key)
	bars := append(m.recent[key], b)
	if len(bars) > maxRecentBars {
		bars = bars[len(bars)-maxRecentBars:]
	}
	m.recent[key] = bars
	return nil
}

func (m *Memory) CurrentBar(_ context.Context, instrument string, tf model.Timeframe) (*model.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.current[seriesKey(instrument, tf)]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &b, nil
}

func (m *Memory) RecentBars(_ context.Context, instrument string, tf model.Timeframe, n int) ([]model.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bars := m.recent[seriesKey(instrument, tf)]
	if n > 0 && len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	out := make([]model.Bar, len(bars))
	copy(out, bars)
	return out, nil
}

func (m *Memory) PutIndicators(_ context.Context, s model.IndicatorSet) error {
	m.mu.Lock()
	m.indicators[seriesKey(s.Instrument, s.TF)] = s
	m.mu.Unlock()
	return nil
}

func (m *Memory) LatestIndicators(_ context.Context, instrument string, tf model.Timeframe) (*model.IndicatorSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.indicators[seriesKey(instrument, tf)]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &s, nil
}

func (m *Memory) PutSignal(_ context.Context, s model.Signal) error {
	m.mu.Lock()
	m.signals[s.ID] = s
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetSignal(_ context.Context, id string) (*model.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.signals[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &s, nil
}

func (m *Memory) SignalsByStatus(_ context.Context, statuses ...model.SignalStatus) ([]model.Signal, error) {
	want := make(map[model.SignalStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Signal
	for _, s := range m.signals {
		if want[s.Status] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) PutPosition(_ context.Context, p model.Position) error {
	m.mu.Lock()
	m.positions[p.ID] = p
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetPosition(_ context.Context, id string) (*model.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &p, nil
}

func (m *Memory) OpenPositions(_ context.Context, instrument string) ([]model.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Position
	for _, p := range m.positions {
		if p.Status != model.PositionOpen {
			continue
		}
		if instrument == "" || p.Instrument == instrument {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
