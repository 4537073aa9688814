package indicator

import (
	"math"

	"trading-signalbot/internal/model"
)

// The functions below compute each indicator from scratch over a full candle
// history. They are the definitions the incremental types must match, and
// are used to verify them.

// MAOf returns the mean of the last p closes.
func MAOf(candles []model.Observation, p int) Reading {
	if p <= 0 || len(candles) < p {
		return Reading{}
	}
	var sum float64
	for _, c := range candles[len(candles)-p:] {
		sum += c.Close
	}
	return Reading{Value: sum / float64(p), Ready: true}
}

// EMAOf seeds with the mean of the first p closes and runs the recursion
// over the rest.
func EMAOf(candles []model.Observation, p int) Reading {
	if p <= 0 || len(candles) < p {
		return Reading{}
	}
	ema := MAOf(candles[:p], p).Value
	k := 2.0 / float64(p+1)
	for _, c := range candles[p:] {
		ema = c.Close*k + ema*(1-k)
	}
	return Reading{Value: ema, Ready: true}
}

// BollingerOf returns the upper, middle and lower bands over the last p closes.
func BollingerOf(candles []model.Observation, p int, m float64) (upper, mid, lower Reading) {
	ma := MAOf(candles, p)
	if !ma.Ready {
		return Reading{}, Reading{}, Reading{}
	}
	var ss float64
	for _, c := range candles[len(candles)-p:] {
		d := c.Close - ma.Value
		ss += d * d
	}
	band := m * math.Sqrt(ss/float64(p))
	return Reading{Value: ma.Value + band, Ready: true}, ma, Reading{Value: ma.Value - band, Ready: true}
}

// RSIOf seeds the average gain and loss with the mean of the first p-1
// deltas, then applies Wilder smoothing to every later delta.
func RSIOf(candles []model.Observation, p int) Reading {
	if p <= 0 || len(candles) < p {
		return Reading{}
	}
	var ag, al float64
	if p > 1 {
		for i := 1; i < p; i++ {
			g, l := splitDelta(candles[i].Close - candles[i-1].Close)
			ag += g
			al += l
		}
		ag /= float64(p - 1)
		al /= float64(p - 1)
	}
	pf := float64(p)
	for i := p; i < len(candles); i++ {
		g, l := splitDelta(candles[i].Close - candles[i-1].Close)
		ag = (ag*(pf-1) + g) / pf
		al = (al*(pf-1) + l) / pf
	}
	return Reading{Value: rsiFrom(ag, al), Ready: true}
}

// ATROf seeds with the mean of the first p true ranges (the first being
// high-low) and applies Wilder smoothing after.
func ATROf(candles []model.Observation, p int) Reading {
	if p <= 0 || len(candles) < p {
		return Reading{}
	}
	tr := make([]float64, len(candles))
	tr[0] = candles[0].High - candles[0].Low
	for i := 1; i < len(candles); i++ {
		tr[i] = trueRange(candles[i].High, candles[i].Low, candles[i-1].Close)
	}
	var atr float64
	for _, v := range tr[:p] {
		atr += v
	}
	atr /= float64(p)
	pf := float64(p)
	for _, v := range tr[p:] {
		atr = (atr*(pf-1) + v) / pf
	}
	return Reading{Value: atr, Ready: true}
}

// Compute builds a snapshot from scratch over candles, which must be one
// continuous run of completed candles.
func Compute(candles []model.Observation, p Params) Snapshot {
	s := Snapshot{
		Candles: len(candles),
		MA:      MAOf(candles, p.MAPeriod),
		EMA:     EMAOf(candles, p.EMAPeriod),
		RSI:     RSIOf(candles, p.RSIPeriod),
		ATR:     ATROf(candles, p.ATRPeriod),
	}
	s.BBUpper, s.BBMid, s.BBLower = BollingerOf(candles, p.BBPeriod, p.BBMultiplier)
	if n := len(candles); n > 0 {
		s.TS = candles[n-1].TS
	}
	return s
}
