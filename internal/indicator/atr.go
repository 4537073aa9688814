package indicator

import (
	"math"

	"trading-signalbot/internal/model"
)

// ATR calculates Average True Range with Wilder smoothing.
// The first candle's true range is high-low; the value is defined once
// period true ranges have been seen.
type ATR struct {
	smma      *SMMA
	prevClose float64
	seen      bool
}

// NewATR creates a new ATR indicator with the given period.
func NewATR(period int) *ATR {
	return &ATR{smma: NewSMMA(period)}
}

func (a *ATR) Name() string { return "ATR" }

func (a *ATR) Update(candle model.Observation) {
	tr := candle.High - candle.Low
	if a.seen {
		tr = trueRange(candle.High, candle.Low, a.prevClose)
	}
	a.prevClose = candle.Close
	a.seen = true
	a.smma.Add(tr)
}

func (a *ATR) Value() float64 { return a.smma.Value() }
func (a *ATR) Ready() bool    { return a.smma.Ready() }

// Reset clears the ATR state for reuse.
func (a *ATR) Reset() {
	a.smma.Reset()
	a.prevClose = 0
	a.seen = false
}

func trueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}
