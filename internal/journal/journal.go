// Package journal persists decisions and fills to SQLite for audit and
// post-hoc analysis. Nothing in the live pipeline reads it back; losing
// the journal never affects trading.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trading-corev1/internal/model"
)

// Journal is a SQLite-backed audit log. Safe for concurrent use.
type Journal struct {
	mu  sync.Mutex
	db  *sql.DB
	log *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	instrument      TEXT NOT NULL,
	action          TEXT NOT NULL,
	confidence      REAL NOT NULL,
	position_action TEXT NOT NULL,
	rationale       TEXT,
	verdicts        TEXT,
	cycle_at        DATETIME NOT NULL,
	created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_decisions_instrument ON decisions(instrument);
CREATE INDEX IF NOT EXISTS idx_decisions_cycle_at ON decisions(cycle_at);

CREATE TABLE IF NOT EXISTS fills (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	instrument  TEXT NOT NULL,
	signal_id   TEXT,
	position_id TEXT,
	order_id    TEXT,
	status      TEXT NOT NULL,
	side        TEXT,
	qty         INTEGER,
	avg_price   INTEGER,
	reason      TEXT,
	filled_at   DATETIME NOT NULL,
	created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_fills_instrument ON fills(instrument);
CREATE INDEX IF NOT EXISTS idx_fills_signal ON fills(signal_id);
`

// Open opens (or creates) the journal database at path.
func Open(path string, log *slog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	log = log.With("component", "journal")
	log.Info("journal opened", "path", path)
	return &Journal{db: db, log: log}, nil
}

// RecordDecision persists one cycle decision with its contributing
// verdicts as JSON.
func (j *Journal) RecordDecision(_ context.Context, d model.TradingDecision) error {
	verdicts, _ := json.Marshal(d.Contributing)
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.Exec(
		`INSERT INTO decisions (instrument, action, confidence, position_action, rationale, verdicts, cycle_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.Instrument, string(d.Action), d.Confidence, string(d.PositionAction),
		d.Rationale, string(verdicts), d.CycleAt.UTC().Format(time.RFC3339Nano))
	return err
}

// RecordFill persists one execution report.
func (j *Journal) RecordFill(_ context.Context, rep model.ExecutionReport) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.Exec(
		`INSERT INTO fills (instrument, signal_id, position_id, order_id, status, side, qty, avg_price, reason, filled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.Instrument, rep.SignalID, rep.PositionID, rep.OrderID, rep.Status,
		string(rep.Side), rep.Quantity, rep.AvgPrice, rep.Reason,
		rep.TS.UTC().Format(time.RFC3339Nano))
	return err
}

// DecisionRecord is one row of the decisions table.
type DecisionRecord struct {
	ID             int64   `json:"id"`
	Instrument     string  `json:"instrument"`
	Action         string  `json:"action"`
	Confidence     float64 `json:"confidence"`
	PositionAction string  `json:"position_action"`
	Rationale      string  `json:"rationale"`
	CycleAt        string  `json:"cycle_at"`
}

// RecentDecisions returns the last n decisions, newest first.
func (j *Journal) RecentDecisions(_ context.Context, n int) ([]DecisionRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.Query(
		`SELECT id, instrument, action, confidence, position_action, rationale, cycle_at
		 FROM decisions ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DecisionRecord
	for rows.Next() {
		var r DecisionRecord
		if err := rows.Scan(&r.ID, &r.Instrument, &r.Action, &r.Confidence,
			&r.PositionAction, &r.Rationale, &r.CycleAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FillRecord is one row of the fills table.
type FillRecord struct {
	ID         int64  `json:"id"`
	Instrument string `json:"instrument"`
	SignalID   string `json:"signal_id"`
	PositionID string `json:"position_id"`
	OrderID    string `json:"order_id"`
	Status     string `json:"status"`
	Side       string `json:"side"`
	Qty        int64  `json:"qty"`
	AvgPrice   int64  `json:"avg_price"`
	Reason     string `json:"reason"`
	FilledAt   string `json:"filled_at"`
}

// RecentFills returns the last n fills, newest first.
func (j *Journal) RecentFills(_ context.Context, n int) ([]FillRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.Query(
		`SELECT id, instrument, signal_id, position_id, order_id, status, side, qty, avg_price, reason, filled_at
		 FROM fills ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FillRecord
	for rows.Next() {
		var r FillRecord
		if err := rows.Scan(&r.ID, &r.Instrument, &r.SignalID, &r.PositionID, &r.OrderID,
			&r.Status, &r.Side, &r.Qty, &r.AvgPrice, &r.Reason, &r.FilledAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error { return j.db.Close() }
