// Package redis implements the TickStore port on Redis. Values are JSON
// snapshots at the fixed key layout; closed bars additionally land on a
// capped recent-bars list per (instrument, TF), and non-terminal signals
// are indexed in sets for restart recovery.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trading-corev1/internal/model"
)

const (
	latestTTL  = 30 * time.Minute
	recentCap  = 500
	signalTTL  = 7 * 24 * time.Hour
)

// Config configures the Redis store.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Store is a Redis-backed TickStore.
type Store struct {
	client *goredis.Client
}

// New connects to Redis and pings it.
func New(cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Store{client: client}, nil
}

// Client exposes the underlying client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

func (s *Store) PutTick(ctx context.Context, t model.Tick) error {
	return s.client.Set(ctx, model.KeyTickLatest(t.Instrument), t.JSON(), latestTTL).Err()
}

func (s *Store) LatestTick(ctx context.Context, instrument string) (*model.Tick, error) {
	var t model.Tick
	if err := s.getJSON(ctx, model.KeyTickLatest(instrument), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) PutBar(ctx context.Context, b model.Bar) error {
	if !b.Closed {
		return s.client.Set(ctx, model.KeyBarCurrent(b.Instrument, b.TF), b.JSON(), latestTTL).Err()
	}
	pipe := s.client.Pipeline()
	pipe.Del(ctx, model.KeyBarCurrent(b.Instrument, b.TF))
	pipe.Set(ctx, model.KeyBarBucket(b.Instrument, b.TF, b.StartAt.Unix()), b.JSON(), signalTTL)
	recentKey := recentBarsKey(b.Instrument, b.TF)
	pipe.LPush(ctx, recentKey, b.JSON())
	pipe.LTrim(ctx, recentKey, 0, recentCap-1)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) CurrentBar(ctx context.Context, instrument string, tf model.Timeframe) (*model.Bar, error) {
	var b model.Bar
	if err := s.getJSON(ctx, model.KeyBarCurrent(instrument, tf), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) RecentBars(ctx context.Context, instrument string, tf model.Timeframe, n int) ([]model.Bar, error) {
	if n <= 0 || n > recentCap {
		n = recentCap
	}
	raw, err := s.client.LRange(ctx, recentBarsKey(instrument, tf), 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	// List is newest-first; return oldest-first.
	out := make([]model.Bar, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var b model.Bar
		if err := json.Unmarshal([]byte(raw[i]), &b); err != nil {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *Store) PutIndicators(ctx context.Context, set model.IndicatorSet) error {
	return s.client.Set(ctx, model.KeyIndicatorsLatest(set.Instrument, set.TF), set.JSON(), latestTTL).Err()
}

func (s *Store) LatestIndicators(ctx context.Context, instrument string, tf model.Timeframe) (*model.IndicatorSet, error) {
	var set model.IndicatorSet
	if err := s.getJSON(ctx, model.KeyIndicatorsLatest(instrument, tf), &set); err != nil {
		return nil, err
	}
	return &set, nil
}

// activeSignalsKey indexes every non-terminal signal for restart recovery.
const activeSignalsKey = "signals:active"

func (s *Store) PutSignal(ctx context.Context, sig model.Signal) error {
	pipe := s.client.Pipeline()
	pipe.Set(ctx, model.KeySignal(sig.ID), sig.JSON(), signalTTL)
	switch sig.Status {
	case model.StatusPending:
		pipe.SAdd(ctx, model.KeySignalsPending(sig.Instrument), sig.ID)
		pipe.SAdd(ctx, activeSignalsKey, sig.ID)
	case model.StatusTriggered, model.StatusExecuted:
		pipe.SRem(ctx, model.KeySignalsPending(sig.Instrument), sig.ID)
		pipe.SAdd(ctx, activeSignalsKey, sig.ID)
	default: // terminal
		pipe.SRem(ctx, model.KeySignalsPending(sig.Instrument), sig.ID)
		pipe.SRem(ctx, activeSignalsKey, sig.ID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) GetSignal(ctx context.Context, id string) (*model.Signal, error) {
	var sig model.Signal
	if err := s.getJSON(ctx, model.KeySignal(id), &sig); err != nil {
		return nil, err
	}
	return &sig, nil
}

func (s *Store) SignalsByStatus(ctx context.Context, statuses ...model.SignalStatus) ([]model.Signal, error) {
	want := make(map[model.SignalStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	ids, err := s.client.SMembers(ctx, activeSignalsKey).Result()
	if err != nil {
		return nil, err
	}
	var out []model.Signal
	for _, id := range ids {
		sig, err := s.GetSignal(ctx, id)
		if err != nil {
			continue // expired key; index entry is stale
		}
		if want[sig.Status] {
			out = append(out, *sig)
		}
	}
	return out, nil
}

const positionsKey = "positions:all"

func (s *Store) PutPosition(ctx context.Context, p model.Position) error {
	pipe := s.client.Pipeline()
	pipe.Set(ctx, "position:"+p.ID, p.JSON(), signalTTL)
	if p.Status == model.PositionOpen {
		pipe.SAdd(ctx, positionsKey, p.ID)
	} else {
		pipe.SRem(ctx, positionsKey, p.ID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	var p model.Position
	if err := s.getJSON(ctx, "position:"+id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) OpenPositions(ctx context.Context, instrument string) ([]model.Position, error) {
	ids, err := s.client.SMembers(ctx, positionsKey).Result()
	if err != nil {
		return nil, err
	}
	var out []model.Position
	for _, id := range ids {
		p, err := s.GetPosition(ctx, id)
		if err != nil || p.Status != model.PositionOpen {
			continue
		}
		if instrument == "" || p.Instrument == instrument {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) getJSON(ctx context.Context, key string, dst any) error {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return model.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func recentBarsKey(instrument string, tf model.Timeframe) string {
	return "ohlc:" + instrument + ":" + tf.String() + ":recent"
}
