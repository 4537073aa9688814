package indicator

import (
	"errors"
	"fmt"
	"time"

	"trading-signalbot/internal/model"
)

// ErrFeedDiscontinuity is returned by Update when consecutive candles are
// further apart than the expected interval allows. The engine has already
// reset and started re-warming from the candle after the gap.
var ErrFeedDiscontinuity = errors.New("indicator: feed discontinuity")

// Params holds the indicator periods and gap detection settings.
type Params struct {
	MAPeriod     int
	EMAPeriod    int
	BBPeriod     int
	BBMultiplier float64
	RSIPeriod    int
	ATRPeriod    int

	// CandleInterval is the expected spacing of completed candles.
	// Zero disables gap detection.
	CandleInterval time.Duration
	// GapTolerance scales CandleInterval into the largest accepted spacing.
	GapTolerance float64
}

// MaxPeriod returns the longest configured period.
func (p Params) MaxPeriod() int {
	m := p.MAPeriod
	for _, v := range []int{p.EMAPeriod, p.BBPeriod, p.RSIPeriod, p.ATRPeriod} {
		if v > m {
			m = v
		}
	}
	return m
}

func (p Params) maxSpacing() time.Duration {
	tol := p.GapTolerance
	if tol < 1 {
		tol = 1
	}
	return time.Duration(float64(p.CandleInterval) * tol)
}

// Engine computes MA, EMA, Bollinger Bands, RSI and ATR over one
// instrument's candle buffer. Indicator state is rebuilt from the window on
// every Update, so the result depends only on the buffer contents.
// Designed for single-goroutine usage: only the recompute task calls Update.
type Engine struct {
	params Params

	ma  *SMA
	ema *EMA
	bb  *Bollinger
	rsi *RSI
	atr *ATR

	indicators []Indicator
	lastTS     time.Time
	consumed   int

	// reportedGap is the first candle after the newest gap already
	// returned as ErrFeedDiscontinuity.
	reportedGap time.Time
}

// NewEngine creates an indicator engine for the given parameters.
func NewEngine(p Params) *Engine {
	e := &Engine{
		params: p,
		ma:     NewSMA(p.MAPeriod),
		ema:    NewEMA(p.EMAPeriod),
		bb:     NewBollinger(p.BBPeriod, p.BBMultiplier),
		rsi:    NewRSI(p.RSIPeriod),
		atr:    NewATR(p.ATRPeriod),
	}
	e.indicators = []Indicator{e.ma, e.ema, e.bb, e.rsi, e.atr}
	return e
}

// Update recomputes every indicator from the completed candles in window
// (a buffer snapshot, oldest first; ticks are ignored) and returns the
// snapshot. EMA, RSI and ATR are seeded from the oldest candles in the
// window, so two engines given the same window agree.
//
// Only candles after the newest gap in the window are used, so indicators
// re-warm after a discontinuity. The first Update that sees a given gap
// also returns ErrFeedDiscontinuity; later calls with the gap still in the
// window return the same values without the error.
func (e *Engine) Update(window []model.Observation) (Snapshot, error) {
	e.Reset()
	candles := completed(window)

	from := 0
	for i := 1; i < len(candles); i++ {
		if e.gap(candles[i-1].TS, candles[i].TS) > 0 {
			from = i
		}
	}

	var gapErr error
	if from > 0 {
		prev, next := candles[from-1].TS, candles[from].TS
		if next.After(e.reportedGap) {
			e.reportedGap = next
			gapErr = fmt.Errorf("%w: %s without candles before %s",
				ErrFeedDiscontinuity, next.Sub(prev), next.Format(time.RFC3339))
		}
	}

	for _, c := range candles[from:] {
		e.push(c)
	}
	return e.snapshot(), gapErr
}

// Reset drops all indicator state. Reported gaps are kept.
func (e *Engine) Reset() {
	for _, ind := range e.indicators {
		ind.Reset()
	}
	e.lastTS = time.Time{}
	e.consumed = 0
}

// Params returns the engine parameters.
func (e *Engine) Params() Params { return e.params }

func (e *Engine) push(c model.Observation) {
	for _, ind := range e.indicators {
		ind.Update(c)
	}
	e.lastTS = c.TS
	e.consumed++
}

// gap returns the spacing between two consecutive candles when it exceeds
// the tolerance, or 0.
func (e *Engine) gap(prev, next time.Time) time.Duration {
	if e.params.CandleInterval <= 0 {
		return 0
	}
	if d := next.Sub(prev); d > e.params.maxSpacing() {
		return d
	}
	return 0
}

func (e *Engine) snapshot() Snapshot {
	return Snapshot{
		TS:      e.lastTS,
		Candles: e.consumed,
		MA:      read(e.ma),
		EMA:     read(e.ema),
		BBUpper: Reading{Value: e.bb.Upper(), Ready: e.bb.Ready()},
		BBMid:   read(e.bb),
		BBLower: Reading{Value: e.bb.Lower(), Ready: e.bb.Ready()},
		RSI:     read(e.rsi),
		ATR:     read(e.atr),
	}
}

func completed(window []model.Observation) []model.Observation {
	out := make([]model.Observation, 0, len(window))
	for _, o := range window {
		if o.CandleClose {
			out = append(out, o)
		}
	}
	return out
}
