package feed

import (
	"context"
	"log"
	"sync"

	"trading-signalbot/internal/model"
)

// FanOut broadcasts observations from a single input channel to N output
// channels. Subscribers marked lossless block the fan-out when full; the
// others drop, so a slow optional consumer (e.g. the history writer) can
// never stall the trading path.
type FanOut struct {
	mu       sync.RWMutex
	outputs  []chan model.Observation
	lossless []bool
	bufSize  int

	// OnDrop is called when an observation is dropped for a subscriber.
	// subscriberIdx is the 0-based index of the slow consumer.
	OnDrop func(subscriberIdx int)
}

// NewFanOut creates a FanOut with the given buffer size for output channels.
func NewFanOut(outputBufferSize int) *FanOut {
	return &FanOut{
		bufSize: outputBufferSize,
	}
}

// Subscribe creates and returns a new lossy output channel.
func (f *FanOut) Subscribe() <-chan model.Observation {
	return f.subscribe(false)
}

// SubscribeLossless creates an output channel that is never dropped from.
func (f *FanOut) SubscribeLossless() <-chan model.Observation {
	return f.subscribe(true)
}

func (f *FanOut) subscribe(lossless bool) <-chan model.Observation {
	ch := make(chan model.Observation, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, ch)
	f.lossless = append(f.lossless, lossless)
	f.mu.Unlock()
	return ch
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed. Closes all outputs on return.
func (f *FanOut) Run(ctx context.Context, input <-chan model.Observation) {
	defer func() {
		f.mu.RLock()
		for _, ch := range f.outputs {
			close(ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case obs, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for i, ch := range f.outputs {
				if f.lossless[i] {
					select {
					case ch <- obs:
					case <-ctx.Done():
						f.mu.RUnlock()
						return
					}
					continue
				}
				select {
				case ch <- obs:
				default:
					if f.OnDrop != nil {
						f.OnDrop(i)
					} else {
						log.Printf("[feed] output channel %d full, dropping observation ts=%s", i, obs.TS)
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat is the (length, capacity) of one subscriber channel.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats returns saturation for each subscriber channel.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
