package indicator

import (
	"math"

	"trading-signalbot/internal/model"
)

// Bollinger calculates Bollinger Bands: mid = SMA(period),
// band = multiplier × population standard deviation of the same closes.
type Bollinger struct {
	sma        *SMA
	multiplier float64
	band       float64
}

// NewBollinger creates Bollinger Bands with the given period and multiplier.
func NewBollinger(period int, multiplier float64) *Bollinger {
	return &Bollinger{sma: NewSMA(period), multiplier: multiplier}
}

func (b *Bollinger) Name() string { return "BB" }

func (b *Bollinger) Update(candle model.Observation) {
	b.sma.Update(candle)
	if !b.sma.Ready() {
		return
	}
	// Two-pass variance over the window; periods are small and this avoids
	// the cancellation error of a running sum of squares.
	mean := b.sma.Value()
	var ss float64
	b.sma.window(func(v float64) {
		d := v - mean
		ss += d * d
	})
	b.band = b.multiplier * math.Sqrt(ss/float64(b.sma.period))
}

// Value returns the middle band.
func (b *Bollinger) Value() float64 { return b.sma.Value() }
func (b *Bollinger) Ready() bool    { return b.sma.Ready() }

// Upper returns mid + band.
func (b *Bollinger) Upper() float64 { return b.sma.Value() + b.band }

// Lower returns mid - band.
func (b *Bollinger) Lower() float64 { return b.sma.Value() - b.band }

// Reset clears the band state for reuse.
func (b *Bollinger) Reset() {
	b.sma.Reset()
	b.band = 0
}
