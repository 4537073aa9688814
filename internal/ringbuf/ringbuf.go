// Package ringbuf provides the bounded price history the indicator engine
// reads from. It keeps the last N completed candles in timestamp order and
// evicts the oldest on overflow.
//
// One goroutine appends; any number of goroutines may take snapshots. A
// snapshot is a copy, so a recompute always works on a consistent window no
// matter how many appends happen while it runs.
package ringbuf

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"trading-signalbot/internal/model"
)

// ErrOutOfOrder is returned when an observation does not have a strictly
// greater timestamp than the newest one held.
var ErrOutOfOrder = errors.New("ringbuf: timestamp not strictly increasing")

// Ring is a fixed-capacity FIFO of observations.
type Ring struct {
	mu    sync.RWMutex
	buf   []model.Observation
	head  int // index of the oldest element
	count int

	// version increments on every successful append.
	version atomic.Uint64
	// evicted counts observations dropped from the front on overflow.
	evicted atomic.Uint64
}

// New creates a ring holding at most capacity observations.
// Minimum capacity is 1.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]model.Observation, capacity)}
}

// Append adds obs as the newest element, evicting the oldest when full.
// Returns ErrOutOfOrder (and leaves the ring unchanged) when obs.TS is not
// after the newest held timestamp.
func (r *Ring) Append(obs model.Observation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count > 0 {
		last := r.buf[(r.head+r.count-1)%len(r.buf)]
		if !obs.TS.After(last.TS) {
			return fmt.Errorf("%w: %s <= %s", ErrOutOfOrder, obs.TS.Format("15:04:05.000"), last.TS.Format("15:04:05.000"))
		}
	}

	if r.count == len(r.buf) {
		// Overwrite the oldest slot and advance head.
		r.buf[r.head] = obs
		r.head = (r.head + 1) % len(r.buf)
		r.evicted.Add(1)
	} else {
		r.buf[(r.head+r.count)%len(r.buf)] = obs
		r.count++
	}
	r.version.Add(1)
	return nil
}

// Snapshot returns a copy of the held observations, oldest first, and the
// version it was taken at.
func (r *Ring) Snapshot() ([]model.Observation, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Observation, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out, r.version.Load()
}

// Last returns the newest observation, if any.
func (r *Ring) Last() (model.Observation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.count == 0 {
		return model.Observation{}, false
	}
	return r.buf[(r.head+r.count-1)%len(r.buf)], true
}

// Len returns the current number of held observations.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Version returns the number of successful appends so far.
func (r *Ring) Version() uint64 {
	return r.version.Load()
}

// Evicted returns the total number of observations dropped on overflow.
func (r *Ring) Evicted() uint64 {
	return r.evicted.Load()
}
