package model

import (
	"encoding/json"
	"time"
)

// Observation is a single price observation for the traded instrument.
// Ticks carry only a last price (Open=High=Low=Close) with CandleClose=false;
// completed candles carry full OHLC with CandleClose=true.
// Observations are values and are never mutated after creation.
type Observation struct {
	TS          time.Time `json:"ts"` // candle bucket start (candles) or exchange time (ticks), UTC
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	CandleClose bool      `json:"is_candle_close"`
}

// NewTick builds a tick observation carrying only a last price.
func NewTick(ts time.Time, price float64) Observation {
	return Observation{TS: ts.UTC(), Open: price, High: price, Low: price, Close: price}
}

// NewCandle builds a completed-candle observation.
func NewCandle(ts time.Time, open, high, low, close float64) Observation {
	return Observation{TS: ts.UTC(), Open: open, High: high, Low: low, Close: close, CandleClose: true}
}

// IsTick reports whether o is a provisional last-price observation.
func (o Observation) IsTick() bool { return !o.CandleClose }

// JSON returns the JSON-encoded observation (ignoring errors for hot-path usage).
func (o Observation) JSON() []byte {
	b, _ := json.Marshal(o)
	return b
}

// Quote is the provisional current price, updated by every observation.
type Quote struct {
	Price float64   `json:"price"`
	TS    time.Time `json:"ts"`
}
