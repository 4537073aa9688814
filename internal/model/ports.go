package model

import "context"

// ── Storage Port Interfaces ──
// These decouple the trading pipeline from concrete storage (SQLite, Redis).

// CandleWriter persists completed candles.
type CandleWriter interface {
	// Run reads candles from candleCh and writes them in batches.
	// Blocks until ctx is cancelled or candleCh is closed.
	Run(ctx context.Context, candleCh <-chan Observation)

	// Close releases underlying resources.
	Close() error
}

// CandleReader loads candle history for indicator warm-up.
type CandleReader interface {
	// ReadRecent returns up to n most recent completed candles for the
	// instrument, ordered by timestamp ascending.
	ReadRecent(ctx context.Context, instrument string, n int) ([]Observation, error)

	// Close releases underlying resources.
	Close() error
}

// Publisher distributes indicator snapshots and trade decisions to
// downstream subscribers. Payloads are pre-encoded JSON so the port does
// not depend on indicator or portfolio types.
type Publisher interface {
	PublishSnapshot(ctx context.Context, instrument string, data []byte) error
	PublishDecision(ctx context.Context, instrument string, data []byte) error
	Close() error
}
