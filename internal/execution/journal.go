package execution

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trading-signalbot/internal/model"
)

// Journal persists order attempts to SQLite for analysis and audit.
// It implements Recorder.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		instrument   TEXT NOT NULL,
		kind         TEXT NOT NULL,
		status       TEXT NOT NULL,
		signal       TEXT,
		side         TEXT,
		position_id  TEXT,
		qty          REAL DEFAULT 0,
		price        REAL DEFAULT 0,
		stop_loss    REAL DEFAULT 0,
		take_profit  REAL DEFAULT 0,
		attempts     INTEGER DEFAULT 0,
		error        TEXT,
		at           DATETIME NOT NULL,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_instrument ON trades(instrument);
	CREATE INDEX IF NOT EXISTS idx_trades_position ON trades(position_id);
	CREATE INDEX IF NOT EXISTS idx_trades_at ON trades(at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// Record persists a trade event to the journal.
func (j *Journal) Record(ctx context.Context, ev TradeEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO trades (instrument, kind, status, signal, side, position_id, qty, price, stop_loss, take_profit, attempts, error, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Instrument,
		ev.Kind,
		ev.Status,
		ev.Signal,
		string(ev.Side),
		ev.PositionID,
		ev.Qty,
		ev.Price,
		ev.StopLoss,
		ev.TakeProfit,
		ev.Attempts,
		ev.Error,
		ev.At.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetTrades returns the last N events, newest first.
func (j *Journal) GetTrades(ctx context.Context, limit int) ([]TradeEvent, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT instrument, kind, status, signal, side, position_id, qty, price, stop_loss, take_profit, attempts, error, at
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []TradeEvent
	for rows.Next() {
		var (
			ev   TradeEvent
			side string
			at   string
		)
		if err := rows.Scan(&ev.Instrument, &ev.Kind, &ev.Status, &ev.Signal, &side, &ev.PositionID,
			&ev.Qty, &ev.Price, &ev.StopLoss, &ev.TakeProfit, &ev.Attempts, &ev.Error, &at); err != nil {
			continue
		}
		ev.Side = model.Side(side)
		ev.At, _ = time.Parse(time.RFC3339Nano, at)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
