// Package replay feeds historical ticks back through the pipeline at a
// configurable speed. Paired with a virtual clock it makes a full engine
// run deterministic.
package replay

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trading-corev1/internal/clock"
	"trading-corev1/internal/model"
)

// maxGapSleep caps the simulated gap between ticks so overnight holes do
// not stall a slow-speed replay.
const maxGapSleep = 5 * time.Second

// Source replays a recorded tick series. It implements model.TickSource.
type Source struct {
	ticks []model.Tick
	speed float64        // 1.0 real time, 0 as fast as possible
	vclk  *clock.Virtual // advanced to each tick's timestamp when set
	log   *slog.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithSpeed sets the playback rate. 1.0 is real time, 10.0 is ten times
// faster, 0 replays with no inter-tick delay.
func WithSpeed(speed float64) Option {
	return func(s *Source) { s.speed = speed }
}

// WithVirtualClock makes the source drive v forward to each emitted tick's
// timestamp, firing any schedulers waiting on it.
func WithVirtualClock(v *clock.Virtual) Option {
	return func(s *Source) { s.vclk = v }
}

// FromTicks builds a source over an in-memory series.
func FromTicks(ticks []model.Tick, log *slog.Logger, opts ...Option) *Source {
	s := &Source{
		ticks: append([]model.Tick(nil), ticks...),
		log:   log.With("component", "replay"),
	}
	for _, o := range opts {
		o(s)
	}
	sort.SliceStable(s.ticks, func(i, j int) bool { return s.ticks[i].TS.Before(s.ticks[j].TS) })
	return s
}

// Open loads ticks for the given instruments (all when empty) recorded
// after from (zero time means everything) from a tick archive.
func Open(path string, instruments []string, from time.Time, log *slog.Logger, opts ...Option) (*Source, error) {
	db, err := sql.Open("sqlite3", path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("replay: open %s: %w", path, err)
	}
	defer db.Close()

	ticks, err := readTicks(db, instruments, from)
	if err != nil {
		return nil, err
	}
	return FromTicks(ticks, log, opts...), nil
}

// Len returns the number of ticks queued for replay.
func (s *Source) Len() int { return len(s.ticks) }

// Stream emits the series on out, honoring the speed multiplier, until the
// series ends or ctx is cancelled. The out channel stays open; the caller
// owns it.
func (s *Source) Stream(ctx context.Context, out chan<- model.Tick) error {
	if len(s.ticks) == 0 {
		s.log.Warn("nothing to replay")
		return nil
	}
	s.log.Info("replay starting", "ticks", len(s.ticks), "speed", s.speed)

	var prev time.Time
	for i, tk := range s.ticks {
		if s.speed > 0 && !prev.IsZero() {
			if gap := tk.TS.Sub(prev); gap > 0 {
				scaled := time.Duration(float64(gap) / s.speed)
				if scaled > maxGapSleep {
					scaled = maxGapSleep
				}
				select {
				case <-ctx.Done():
					s.log.Info("replay cancelled", "emitted", i)
					return ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prev = tk.TS

		if s.vclk != nil {
			s.vclk.Advance(tk.TS)
		}
		select {
		case <-ctx.Done():
			s.log.Info("replay cancelled", "emitted", i)
			return ctx.Err()
		case out <- tk:
		}
	}
	s.log.Info("replay complete", "emitted", len(s.ticks))
	return nil
}

func readTicks(db *sql.DB, instruments []string, from time.Time) ([]model.Tick, error) {
	q := `SELECT instrument, ts, price, qty FROM ticks WHERE ts >= ?`
	args := []any{from.UnixNano()}
	if len(instruments) > 0 {
		q += ` AND instrument IN (?` + repeat(",?", len(instruments)-1) + `)`
		for _, in := range instruments {
			args = append(args, in)
		}
	}
	q += ` ORDER BY ts`

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("replay: query ticks: %w", err)
	}
	defer rows.Close()

	var ticks []model.Tick
	for rows.Next() {
		var tk model.Tick
		var ns int64
		if err := rows.Scan(&tk.Instrument, &ns, &tk.Price, &tk.Qty); err != nil {
			return nil, fmt.Errorf("replay: scan tick: %w", err)
		}
		tk.TS = time.Unix(0, ns)
		ticks = append(ticks, tk)
	}
	return ticks, rows.Err()
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
