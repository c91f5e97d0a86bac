package replay

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"trading-corev1/internal/model"
)

const tickSchema = `
CREATE TABLE IF NOT EXISTS ticks (
	instrument TEXT    NOT NULL,
	ts         INTEGER NOT NULL,
	price      INTEGER NOT NULL,
	qty        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ticks_ts ON ticks(ts);
CREATE INDEX IF NOT EXISTS idx_ticks_instrument_ts ON ticks(instrument, ts);
`

// Recorder archives live ticks into the SQLite file a Source later replays
// from. Writes are batched per Flush.
type Recorder struct {
	mu      sync.Mutex
	db      *sql.DB
	pending []model.Tick
	batch   int
}

// OpenRecorder creates or appends to a tick archive at path. batch sets how
// many ticks accumulate before an automatic flush (default 256).
func OpenRecorder(path string, batch int) (*Recorder, error) {
	if batch <= 0 {
		batch = 256
	}
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("replay: open recorder %s: %w", path, err)
	}
	if _, err := db.Exec(tickSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("replay: init tick schema: %w", err)
	}
	return &Recorder{db: db, batch: batch}, nil
}

// Record queues a tick, flushing when the batch fills.
func (r *Recorder) Record(tk model.Tick) error {
	r.mu.Lock()
	r.pending = append(r.pending, tk)
	full := len(r.pending) >= r.batch
	r.mu.Unlock()
	if full {
		return r.Flush()
	}
	return nil
}

// Flush commits all queued ticks in one transaction.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("replay: begin flush: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO ticks(instrument, ts, price, qty) VALUES(?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("replay: prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, tk := range batch {
		if _, err := stmt.Exec(tk.Instrument, tk.TS.UnixNano(), tk.Price, tk.Qty); err != nil {
			tx.Rollback()
			return fmt.Errorf("replay: insert tick: %w", err)
		}
	}
	return tx.Commit()
}

// Close flushes and releases the archive.
func (r *Recorder) Close() error {
	if err := r.Flush(); err != nil {
		r.db.Close()
		return err
	}
	return r.db.Close()
}
