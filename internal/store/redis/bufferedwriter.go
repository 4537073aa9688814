package redis

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"trading-signalbot/internal/model"
)

type writeKind int

const (
	kindSnapshot writeKind = iota
	kindDecision
)

// pendingWrite is a publish that was buffered while the circuit was open.
type pendingWrite struct {
	kind       writeKind
	instrument string
	data       []byte
}

// BufferedPublisher wraps a Publisher with a circuit breaker. While the
// circuit is open, writes are kept in a bounded local buffer (oldest
// dropped first) and replayed once the circuit closes again.
type BufferedPublisher struct {
	pub model.Publisher
	cb  *CircuitBreaker
	ctx context.Context

	mu       sync.Mutex
	buffer   []pendingWrite
	maxBuf   int
	flushing atomic.Bool

	OnBuffer func()          // called when a write is buffered
	OnDrop   func()          // called when the buffer overflows
	OnFlush  func(count int) // called after replaying buffered writes
}

// NewBufferedPublisher creates a BufferedPublisher around pub. ctx bounds
// the background flushes triggered by circuit recovery.
func NewBufferedPublisher(ctx context.Context, pub model.Publisher, cb *CircuitBreaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bp := &BufferedPublisher{
		pub:    pub,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]pendingWrite, 0, 64),
		maxBuf: maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bp.flush()
		}
	}
	return bp
}

// PublishSnapshot writes a snapshot through the circuit breaker.
func (bp *BufferedPublisher) PublishSnapshot(ctx context.Context, instrument string, data []byte) error {
	return bp.write(pendingWrite{kind: kindSnapshot, instrument: instrument, data: data}, func() error {
		return bp.pub.PublishSnapshot(ctx, instrument, data)
	})
}

// PublishDecision writes a decision through the circuit breaker.
func (bp *BufferedPublisher) PublishDecision(ctx context.Context, instrument string, data []byte) error {
	return bp.write(pendingWrite{kind: kindDecision, instrument: instrument, data: data}, func() error {
		return bp.pub.PublishDecision(ctx, instrument, data)
	})
}

// write buffers on an open circuit and on failures, so a write is never
// lost short of buffer overflow.
func (bp *BufferedPublisher) write(pw pendingWrite, fn func() error) error {
	err := bp.cb.Execute(fn)
	if err == nil {
		if bp.PendingCount() > 0 {
			go bp.flush()
		}
		return nil
	}
	bp.bufferWrite(pw)
	if errors.Is(err, ErrCircuitOpen) {
		return nil
	}
	return err
}

func (bp *BufferedPublisher) bufferWrite(pw pendingWrite) {
	bp.mu.Lock()
	dropped := false
	if len(bp.buffer) >= bp.maxBuf {
		bp.buffer = bp.buffer[1:]
		dropped = true
	}
	bp.buffer = append(bp.buffer, pw)
	bp.mu.Unlock()

	if dropped && bp.OnDrop != nil {
		bp.OnDrop()
	}
	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush replays all buffered writes through the underlying publisher.
// Writes that fail again are put back at the front of the buffer.
func (bp *BufferedPublisher) flush() {
	if !bp.flushing.CompareAndSwap(false, true) {
		return
	}
	defer bp.flushing.Store(false)

	bp.mu.Lock()
	if len(bp.buffer) == 0 {
		bp.mu.Unlock()
		return
	}
	toFlush := bp.buffer
	bp.buffer = make([]pendingWrite, 0, 64)
	bp.mu.Unlock()

	flushed := 0
	for i, pw := range toFlush {
		var err error
		switch pw.kind {
		case kindSnapshot:
			err = bp.pub.PublishSnapshot(bp.ctx, pw.instrument, pw.data)
		case kindDecision:
			err = bp.pub.PublishDecision(bp.ctx, pw.instrument, pw.data)
		}
		if err != nil {
			log.Printf("[buffered-publisher] flush stopped after %d writes: %v", flushed, err)
			bp.requeue(toFlush[i:])
			break
		}
		flushed++
	}

	log.Printf("[buffered-publisher] flushed %d buffered writes", flushed)
	if bp.OnFlush != nil {
		bp.OnFlush(flushed)
	}
}

func (bp *BufferedPublisher) requeue(rest []pendingWrite) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	merged := append(append(make([]pendingWrite, 0, len(rest)+len(bp.buffer)), rest...), bp.buffer...)
	if over := len(merged) - bp.maxBuf; over > 0 {
		merged = merged[over:]
	}
	bp.buffer = merged
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}

// Close closes the underlying publisher. Buffered writes are discarded.
func (bp *BufferedPublisher) Close() error {
	if n := bp.PendingCount(); n > 0 {
		log.Printf("[buffered-publisher] discarding %d buffered writes on close", n)
	}
	return bp.pub.Close()
}
