package indicator

import "trading-signalbot/internal/model"

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
//
// The value is defined from the period-th close onwards. The first value is
// seeded with the simple average of the period-1 deltas available at that
// point; each later delta is folded in with avg = (prev*(period-1) + x)/period.
// A flat market (no gains and no losses) reads 50; no losses reads 100.
type RSI struct {
	period    int
	count     int
	prevClose float64
	sumGain   float64
	sumLoss   float64
	avgGain   *SMMA
	avgLoss   *SMMA
	current   float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{
		period:  period,
		avgGain: NewSMMA(period),
		avgLoss: NewSMMA(period),
	}
}

func (r *RSI) Name() string { return "RSI" }

func (r *RSI) Update(candle model.Observation) {
	price := candle.Close
	r.count++

	if r.count == 1 {
		r.prevClose = price
		if r.period == 1 {
			r.seed()
		}
		return
	}

	gain, loss := splitDelta(price - r.prevClose)
	r.prevClose = price

	if r.count < r.period {
		r.sumGain += gain
		r.sumLoss += loss
		return
	}
	if r.count == r.period {
		r.sumGain += gain
		r.sumLoss += loss
		r.seed()
		return
	}

	r.avgGain.Add(gain)
	r.avgLoss.Add(loss)
	r.current = rsiFrom(r.avgGain.Value(), r.avgLoss.Value())
}

func (r *RSI) seed() {
	deltas := float64(r.count - 1)
	var ag, al float64
	if deltas > 0 {
		ag, al = r.sumGain/deltas, r.sumLoss/deltas
	}
	r.avgGain.Seed(ag)
	r.avgLoss.Seed(al)
	r.current = rsiFrom(ag, al)
}

func (r *RSI) Value() float64 { return r.current }
func (r *RSI) Ready() bool    { return r.count >= r.period }

// Reset clears the RSI state for reuse.
func (r *RSI) Reset() {
	r.count = 0
	r.prevClose = 0
	r.sumGain = 0
	r.sumLoss = 0
	r.avgGain.Reset()
	r.avgLoss.Reset()
	r.current = 0
}

func splitDelta(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	switch {
	case avgLoss == 0 && avgGain == 0:
		return 50
	case avgLoss == 0:
		return 100
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
