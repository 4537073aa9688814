// Package redis publishes indicator snapshots and trade decisions to Redis
// for dashboards and downstream consumers.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"
	"unsafe"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// ~3h of 1-minute snapshots + buffer
	snapshotStreamMaxLen = 200
	defaultLatestTTL     = 30 * time.Minute
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer writes snapshots and decisions to Redis. It implements model.Publisher.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// SnapshotStreamKey is the capped stream every indicator snapshot is appended to.
func SnapshotStreamKey(instrument string) string { return "ind:snapshot:" + instrument }

// SnapshotLatestKey holds the most recent snapshot.
func SnapshotLatestKey(instrument string) string { return "ind:snapshot:latest:" + instrument }

// SignalChannel is the pubsub channel decisions are published on.
func SignalChannel(instrument string) string { return "signal:" + instrument }

// PublishSnapshot appends the snapshot to its stream and updates the latest
// key in one pipeline.
func (w *Writer) PublishSnapshot(ctx context.Context, instrument string, data []byte) error {
	// Zero-copy []byte→string (safe: data is not mutated by callers after publish)
	jsonData := *(*string)(unsafe.Pointer(&data))

	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: SnapshotStreamKey(instrument),
		MaxLen: snapshotStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Set(ctx, SnapshotLatestKey(instrument), jsonData, defaultLatestTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis snapshot pipeline for %s: %w", instrument, err)
	}
	return nil
}

// PublishDecision publishes a trade decision for real-time subscribers.
func (w *Writer) PublishDecision(ctx context.Context, instrument string, data []byte) error {
	if err := w.client.Publish(ctx, SignalChannel(instrument), string(data)).Err(); err != nil {
		return fmt.Errorf("redis publish decision for %s: %w", instrument, err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
