// Package candles converts ticks into OHLC bars for every configured
// timeframe. Bucket state is maintained per (instrument, TF) and updated in
// O(1) per tick per TF; a bar is finalized and published the moment a tick
// arrives in a later bucket. Missing buckets are represented by absence —
// no synthetic empty bars are fabricated for gap periods.
package candles

import (
	"context"
	"log"
	"time"

	"trading-corev1/internal/bus"
	"trading-corev1/internal/model"
)

// barState holds the in-flight bar for one (instrument, TF) pair.
type barState struct {
	bucket int64 // bucket start, Unix seconds
	bar    model.Bar
}

// Builder aggregates ticks into OHLC bars. Designed to run in a single
// goroutine per pipeline (single consumer of the tick channel);
// cross-instrument parallelism happens above it.
type Builder struct {
	tfs    []model.Timeframe
	broker *bus.Broker
	store  model.TickStore

	states map[string]*barState // instrument|tf → in-flight bar
	lastTS map[string]time.Time // instrument → last accepted tick ts

	// Metrics hooks (optional, set externally)
	OnOutOfOrder func()
	OnBarClosed  func(b model.Bar)
}

// New creates a Builder for the given timeframes.
func New(tfs []model.Timeframe, broker *bus.Broker, store model.TickStore) *Builder {
	return &Builder{
		tfs:    tfs,
		broker: broker,
		store:  store,
		states: make(map[string]*barState, 64),
		lastTS: make(map[string]time.Time, 16),
	}
}

// Run consumes ticks until ctx is cancelled or tickCh is closed. In-flight
// bars are closed and emitted on the way out.
func (b *Builder) Run(ctx context.Context, tickCh <-chan model.Tick) {
	for {
		select {
		case <-ctx.Done():
			b.flushAll(ctx)
			return
		case tick, ok := <-tickCh:
			if !ok {
				b.flushAll(ctx)
				return
			}
			b.OnTick(ctx, tick)
		}
	}
}

// OnTick incorporates one tick: latest-tick snapshot, tick publish, and the
// per-TF bucket update.
func (b *Builder) OnTick(ctx context.Context, tick model.Tick) {
	// Out-of-order ticks are dropped and counted, never merged.
	if last, ok := b.lastTS[tick.Instrument]; ok && tick.TS.Before(last) {
		if b.OnOutOfOrder != nil {
			b.OnOutOfOrder()
		}
		return
	}
	b.lastTS[tick.Instrument] = tick.TS

	if err := b.store.PutTick(ctx, tick); err != nil {
		log.Printf("[candles] tick snapshot write failed for %s: %v", tick.Instrument, err)
	}
	b.broker.Publish("market:tick:"+tick.Instrument, tick)

	for _, tf := range b.tfs {
		b.updateTF(ctx, tick, tf)
	}
}

func (b *Builder) updateTF(ctx context.Context, tick model.Tick, tf model.Timeframe) {
	bucket := tf.Bucket(tick.TS)
	key := tick.Instrument + "|" + tf.String()

	st, exists := b.states[key]
	if exists && bucket > st.bucket {
		// Bucket rolled over: close at last seen values and emit. For gap
		// periods the stale bar closes here and the new bar opens at the
		// new bucket; intermediate buckets stay absent.
		b.closeBar(ctx, st)
		exists = false
	}

	if !exists {
		st = &barState{
			bucket: bucket,
			bar: model.Bar{
				Instrument: tick.Instrument,
				TF:         tf,
				StartAt:    time.Unix(bucket, 0).UTC(),
				Open:       tick.Price,
				High:       tick.Price,
				Low:        tick.Price,
				Close:      tick.Price,
				Volume:     tick.Qty,
				Ticks:      1,
			},
		}
		b.states[key] = st
		b.writeCurrent(ctx, st)
		return
	}

	bar := &st.bar
	if tick.Price > bar.High {
		bar.High = tick.Price
	}
	if tick.Price < bar.Low {
		bar.Low = tick.Price
	}
	bar.Close = tick.Price
	bar.Volume += tick.Qty
	bar.Ticks++
	b.writeCurrent(ctx, st)
}

// writeCurrent keeps the in-flight bar visible to snapshot queries.
func (b *Builder) writeCurrent(ctx context.Context, st *barState) {
	if err := b.store.PutBar(ctx, st.bar); err != nil {
		log.Printf("[candles] current bar write failed for %s: %v", st.bar.Key(), err)
	}
}

func (b *Builder) closeBar(ctx context.Context, st *barState) {
	st.bar.Closed = true
	if err := b.store.PutBar(ctx, st.bar); err != nil {
		log.Printf("[candles] closed bar write failed for %s: %v", st.bar.Key(), err)
	}
	b.broker.Publish(st.bar.Channel(), st.bar)
	if b.OnBarClosed != nil {
		b.OnBarClosed(st.bar)
	}
	delete(b.states, st.bar.Key())
}

// flushAll closes every in-flight bar (shutdown path).
func (b *Builder) flushAll(ctx context.Context) {
	for _, st := range b.states {
		b.closeBar(ctx, st)
	}
}

// Timeframes returns the configured timeframes.
func (b *Builder) Timeframes() []model.Timeframe { return b.tfs }
