package feed

import (
	"context"
	"log/slog"
	"time"

	"trading-signalbot/internal/logger"
	"trading-signalbot/internal/model"
)

// CandleBuilder aggregates ticks into completed candles of a fixed interval.
// Ticks are forwarded unchanged; a candle is emitted once its bucket has
// ended, either because a later tick arrived or the wall clock passed it.
// Completed candles arriving from the feed are forwarded as is.
//
// Runs in a single goroutine; no locks needed.
type CandleBuilder struct {
	interval      time.Duration
	flushInterval time.Duration
	log           *slog.Logger
	now           func() time.Time

	open   bool
	bucket time.Time
	candle model.Observation
	// closed is the bucket of the last emitted candle.
	closed time.Time

	// OnDroppedTick is called for ticks older than the open bucket or
	// belonging to a bucket already emitted.
	OnDroppedTick func()
}

// NewCandleBuilder creates a builder for the given candle interval.
func NewCandleBuilder(interval time.Duration, log *slog.Logger) *CandleBuilder {
	return &CandleBuilder{
		interval:      interval,
		flushInterval: 100 * time.Millisecond, // check frequency for bucket rollover
		log:           logger.Component(log, "candles"),
		now:           time.Now,
	}
}

// Run consumes observations from in and writes ticks and finished candles
// to out. Blocks until ctx is cancelled or in is closed. Closes out on return.
// The open candle is discarded on shutdown since it never completed.
func (b *CandleBuilder) Run(ctx context.Context, in <-chan model.Observation, out chan<- model.Observation) {
	defer close(out)

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case obs, ok := <-in:
			if !ok {
				return
			}
			for _, o := range b.process(obs) {
				select {
				case out <- o:
				case <-ctx.Done():
					return
				}
			}

		case <-ticker.C:
			// Periodic flush: emit the candle once its bucket is in the past
			if c, ok := b.flush(b.now()); ok {
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// process folds one observation into the builder and returns what should be
// forwarded, in order.
func (b *CandleBuilder) process(obs model.Observation) []model.Observation {
	if obs.CandleClose {
		return []model.Observation{obs}
	}

	bucket := obs.TS.Truncate(b.interval)
	var emitted []model.Observation

	if (b.open && bucket.Before(b.bucket)) || (!b.closed.IsZero() && !bucket.After(b.closed)) {
		// Late tick: its bucket is older or already emitted. It still moves the price.
		if b.OnDroppedTick != nil {
			b.OnDroppedTick()
		}
		return []model.Observation{obs}
	}

	if b.open && bucket.After(b.bucket) {
		// New bucket: finalize the old candle first
		emitted = append(emitted, b.candle)
		b.open = false
		b.closed = b.bucket
	}

	if !b.open {
		b.open = true
		b.bucket = bucket
		b.candle = model.NewCandle(bucket, obs.Close, obs.Close, obs.Close, obs.Close)
	} else {
		c := &b.candle
		if obs.Close > c.High {
			c.High = obs.Close
		}
		if obs.Close < c.Low {
			c.Low = obs.Close
		}
		c.Close = obs.Close
	}

	return append(emitted, obs)
}

// flush returns the open candle if its bucket ended before now.
func (b *CandleBuilder) flush(now time.Time) (model.Observation, bool) {
	if !b.open || now.Before(b.bucket.Add(b.interval)) {
		return model.Observation{}, false
	}
	b.open = false
	b.closed = b.bucket
	b.log.Debug("candle closed by timer", "ts", b.bucket)
	return b.candle, true
}
