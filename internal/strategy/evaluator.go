package strategy

import "trading-signalbot/internal/indicator"

// Default vote thresholds.
const (
	DefaultOversold    = 30.0
	DefaultOverbought  = 70.0
	DefaultStrongVotes = 2
)

// Votes is the per-rule breakdown behind a signal. Each vote is -1, 0 or +1.
type Votes struct {
	Trend         int `json:"trend"`
	MeanReversion int `json:"mean_reversion"`
	Momentum      int `json:"momentum"`
}

// Sum returns the combined vote in [-3, 3].
func (v Votes) Sum() int { return v.Trend + v.MeanReversion + v.Momentum }

// Evaluator combines trend, mean-reversion and momentum votes into a Signal.
// It holds no state; Evaluate is a pure function of its arguments.
type Evaluator struct {
	Oversold    float64 // RSI below this votes +1
	Overbought  float64 // RSI above this votes -1
	StrongVotes int     // |sum| at or above this is a strong signal
}

// NewEvaluator returns an Evaluator with the default thresholds.
func NewEvaluator() Evaluator {
	return Evaluator{
		Oversold:    DefaultOversold,
		Overbought:  DefaultOverbought,
		StrongVotes: DefaultStrongVotes,
	}
}

// Evaluate maps a snapshot and the current price to a Signal. A snapshot that
// is still warming up yields Hold.
func (e Evaluator) Evaluate(snap indicator.Snapshot, price float64) Signal {
	sig, _ := e.Explain(snap, price)
	return sig
}

// Explain is Evaluate with the vote breakdown.
func (e Evaluator) Explain(snap indicator.Snapshot, price float64) (Signal, Votes) {
	if !snap.MA.Ready || !snap.EMA.Ready || !snap.BBUpper.Ready || !snap.BBLower.Ready || !snap.RSI.Ready {
		return Hold, Votes{}
	}

	var v Votes
	ema, ma := snap.EMA.Value, snap.MA.Value
	switch {
	case price > ema && ema > ma:
		v.Trend = 1
	case price < ema && ema < ma:
		v.Trend = -1
	}

	switch {
	case price <= snap.BBLower.Value:
		v.MeanReversion = 1
	case price >= snap.BBUpper.Value:
		v.MeanReversion = -1
	}

	switch rsi := snap.RSI.Value; {
	case rsi < e.Oversold:
		v.Momentum = 1
	case rsi > e.Overbought:
		v.Momentum = -1
	}

	return e.level(v.Sum()), v
}

func (e Evaluator) level(sum int) Signal {
	strong := e.StrongVotes
	if strong <= 1 {
		strong = DefaultStrongVotes
	}
	switch {
	case sum >= strong:
		return StrongBuy
	case sum > 0:
		return Buy
	case sum <= -strong:
		return StrongSell
	case sum < 0:
		return Sell
	}
	return Hold
}
