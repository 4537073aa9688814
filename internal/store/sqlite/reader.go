package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"trading-signalbot/internal/model"
)

// Reader provides read-only access to SQLite for warm-up backfill.
// It implements model.CandleReader.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading. The schema is created if
// missing so a first run reads an empty history instead of failing.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadRecent returns up to n most recent candles for the instrument, ordered
// by timestamp ascending for correct replay order.
func (r *Reader) ReadRecent(ctx context.Context, instrument string, n int) ([]model.Observation, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close FROM (
			SELECT ts, open, high, low, close
			FROM candles
			WHERE instrument = ?
			ORDER BY ts DESC
			LIMIT ?
		) ORDER BY ts ASC
	`, instrument, n)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	candles := make([]model.Observation, 0, n)
	for rows.Next() {
		var (
			tsMilli                int64
			open, high, low, close float64
		)
		if err := rows.Scan(&tsMilli, &open, &high, &low, &close); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		candles = append(candles, model.NewCandle(time.UnixMilli(tsMilli), open, high, low, close))
	}
	return candles, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
