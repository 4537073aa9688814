package strategy

import (
	"math"
	"testing"
	"time"

	"trading-signalbot/internal/indicator"
	"trading-signalbot/internal/model"
)

func ready(v float64) indicator.Reading { return indicator.Reading{Value: v, Ready: true} }

// snap builds a warm snapshot with the given EMA, MA, band edges and RSI.
func snap(ema, ma, lower, upper, rsi float64) indicator.Snapshot {
	return indicator.Snapshot{
		MA:      ready(ma),
		EMA:     ready(ema),
		BBUpper: ready(upper),
		BBMid:   ready(ma),
		BBLower: ready(lower),
		RSI:     ready(rsi),
		ATR:     ready(1),
	}
}

func TestEvaluate_VoteTable(t *testing.T) {
	e := NewEvaluator()

	tests := []struct {
		name  string
		snap  indicator.Snapshot
		price float64
		want  Signal
		votes Votes
	}{
		{"neutral", snap(100, 100, 90, 110, 50), 100, Hold, Votes{}},
		{"uptrend only", snap(101, 100, 90, 110, 50), 102, Buy, Votes{Trend: 1}},
		{"downtrend only", snap(99, 100, 90, 110, 50), 98, Sell, Votes{Trend: -1}},
		{"oversold at lower band", snap(100, 100, 95, 105, 25), 95, StrongBuy, Votes{MeanReversion: 1, Momentum: 1}},
		{"overbought at upper band", snap(100, 100, 95, 105, 75), 105, StrongSell, Votes{MeanReversion: -1, Momentum: -1}},
		{"all three bullish", snap(96, 95, 97, 110, 20), 97, StrongBuy, Votes{Trend: 1, MeanReversion: 1, Momentum: 1}},
		{"trend up, overbought", snap(101, 100, 90, 110, 80), 102, Hold, Votes{Trend: 1, Momentum: -1}},
		{"rsi exactly 30 is not oversold", snap(100, 100, 90, 110, 30), 100, Hold, Votes{}},
		{"rsi exactly 70 is not overbought", snap(100, 100, 90, 110, 70), 100, Hold, Votes{}},
		{"price between ema and ma", snap(101, 100, 90, 110, 50), 100.5, Hold, Votes{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, votes := e.Explain(tc.snap, tc.price)
			if got != tc.want {
				t.Errorf("signal: got %s, want %s", got, tc.want)
			}
			if votes != tc.votes {
				t.Errorf("votes: got %+v, want %+v", votes, tc.votes)
			}
			if votes.Sum() != tc.votes.Sum() {
				t.Errorf("sum: got %d, want %d", votes.Sum(), tc.votes.Sum())
			}
		})
	}
}

func TestEvaluate_WarmingUpHolds(t *testing.T) {
	e := NewEvaluator()
	s := snap(96, 95, 97, 110, 20)
	s.RSI = indicator.Reading{}
	if got := e.Evaluate(s, 97); got != Hold {
		t.Fatalf("expected Hold while RSI warms up, got %s", got)
	}
	if got := e.Evaluate(indicator.Snapshot{}, 97); got != Hold {
		t.Fatalf("expected Hold for empty snapshot, got %s", got)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	e := NewEvaluator()
	s := snap(101, 100, 95, 105, 28)
	first := e.Evaluate(s, 104)
	for i := 0; i < 100; i++ {
		if got := e.Evaluate(s, 104); got != first {
			t.Fatalf("iteration %d: got %s, want %s", i, got, first)
		}
	}
}

func TestEvaluate_CustomThresholds(t *testing.T) {
	e := Evaluator{Oversold: 40, Overbought: 60, StrongVotes: 3}
	s := snap(96, 95, 97, 110, 35)
	if got := e.Evaluate(s, 97); got != StrongBuy {
		t.Fatalf("three bullish votes with StrongVotes=3: got %s", got)
	}
	s = snap(100, 100, 95, 105, 35)
	if got := e.Evaluate(s, 95); got != Buy {
		t.Fatalf("two bullish votes with StrongVotes=3: got %s", got)
	}
}

func TestSignal_Text(t *testing.T) {
	for _, s := range []Signal{StrongSell, Sell, Hold, Buy, StrongBuy} {
		b, _ := s.MarshalText()
		var back Signal
		if err := back.UnmarshalText(b); err != nil || back != s {
			t.Errorf("%s: round trip gave %s (err=%v)", s, back, err)
		}
	}
	var s Signal
	if err := s.UnmarshalText([]byte("moon")); err == nil {
		t.Error("expected error for unknown signal")
	}
}

func TestSignal_Ordering(t *testing.T) {
	if !(StrongSell < Sell && Sell < Hold && Hold < Buy && Buy < StrongBuy) {
		t.Fatal("signals are not totally ordered")
	}
	if Signal(0) != Hold {
		t.Fatal("zero value must be Hold")
	}
	if side, ok := StrongBuy.Side(); !ok || side != "LONG" {
		t.Errorf("StrongBuy side: %s %v", side, ok)
	}
	if side, ok := Sell.Side(); !ok || side != "SHORT" {
		t.Errorf("Sell side: %s %v", side, ok)
	}
	if _, ok := Hold.Side(); ok {
		t.Error("Hold must have no side")
	}
}

// risingCandles builds one-minute candles with a 1.0 high/low spread.
func risingCandles(closes []float64) []model.Observation {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	out := make([]model.Observation, len(closes))
	for i, c := range closes {
		out[i] = model.NewCandle(t0.Add(time.Duration(i)*time.Minute), c, c+1, c-1, c)
	}
	return out
}

func tenPeriods() indicator.Params {
	return indicator.Params{
		MAPeriod: 10, EMAPeriod: 10, BBPeriod: 10, BBMultiplier: 2, RSIPeriod: 10, ATRPeriod: 10,
		CandleInterval: time.Minute, GapTolerance: 1.5,
	}
}

func TestScenario_EvenRiseVotes(t *testing.T) {
	// 20 closes 100..119. With an even step the SMA-seeded EMA lags by
	// exactly (p-1)/2, the same as the MA, so the trend vote has no edge
	// either way; momentum and the band votes are fully determined.
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	candles := risingCandles(closes)
	e := NewEvaluator()

	for n := 1; n <= len(candles); n++ {
		snap, err := indicator.NewEngine(tenPeriods()).Update(candles[:n])
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		price := candles[n-1].Close
		sig, v := e.Explain(snap, price)
		if n < 10 {
			if sig != Hold || v != (Votes{}) {
				t.Fatalf("n=%d: warming up, got %s %+v", n, sig, v)
			}
			continue
		}
		if snap.RSI.Value != 100 {
			t.Fatalf("n=%d: RSI %.6f, want 100 with no losses", n, snap.RSI.Value)
		}
		if v.Momentum != -1 || v.MeanReversion != 0 {
			t.Fatalf("n=%d: votes %+v, want momentum -1 and no band vote", n, v)
		}
		if math.Abs(snap.EMA.Value-snap.MA.Value) > 1e-9 {
			t.Fatalf("n=%d: EMA %.9f and MA %.9f should coincide", n, snap.EMA.Value, snap.MA.Value)
		}
		if v.Trend == -1 {
			t.Fatalf("n=%d: price above both averages voted downtrend", n)
		}
		if again, _ := e.Explain(snap, price); again != sig {
			t.Fatalf("n=%d: not reproducible: %s then %s", n, sig, again)
		}
	}
}

func TestScenario_AcceleratingRiseSignals(t *testing.T) {
	// 20 closes rising from 100 to 119 along a convex curve, so EMA pulls
	// ahead of MA once it is past its seed.
	closes := make([]float64, 20)
	for i := range closes {
		x := float64(i) / 19
		closes[i] = 100 + 19*x*x
	}
	candles := risingCandles(closes)
	e := NewEvaluator()

	var got []Signal
	for n := 1; n <= len(candles); n++ {
		snap, err := indicator.NewEngine(tenPeriods()).Update(candles[:n])
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		sig, v := e.Explain(snap, candles[n-1].Close)
		got = append(got, sig)

		switch {
		case n < 10:
			if v != (Votes{}) {
				t.Errorf("n=%d: votes during warm-up: %+v", n, v)
			}
		case n == 10:
			// EMA is seeded with MA: no trend yet, RSI 100 is overbought.
			if v != (Votes{Momentum: -1}) {
				t.Errorf("n=10: got %+v", v)
			}
		default:
			if v != (Votes{Trend: 1, Momentum: -1}) {
				t.Errorf("n=%d: got %+v, want trend +1 and momentum -1", n, v)
			}
		}
	}

	want := make([]Signal, 20)
	for i := range want {
		switch {
		case i < 9:
			want[i] = Hold
		case i == 9:
			want[i] = Sell
		default:
			want[i] = Hold
		}
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("signal sequence differs at observation %d:\n got %v\nwant %v", i+1, got, want)
		}
	}
}
