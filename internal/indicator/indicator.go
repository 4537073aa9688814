// Package indicator provides technical indicator calculations over completed
// candles.
//
// Every indicator is an incremental recursion fed one candle at a time and is
// observably equivalent to recomputing from the full candle history (see
// series.go for the from-scratch definitions). Ticks never reach these types.
package indicator

import (
	"encoding/json"

	"trading-signalbot/internal/model"
)

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA", "RSI").
	Name() string

	// Update feeds the next completed candle.
	Update(candle model.Observation)

	// Value returns the current value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true once a full period has been accumulated.
	Ready() bool

	// Reset clears all accumulated state.
	Reset()
}

// Reading is an indicator value that may still be warming up.
// It marshals to null until Ready.
type Reading struct {
	Value float64
	Ready bool
}

func read(ind Indicator) Reading {
	return Reading{Value: ind.Value(), Ready: ind.Ready()}
}

// MarshalJSON writes the value, or null while warming up.
func (r Reading) MarshalJSON() ([]byte, error) {
	if !r.Ready {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}

// UnmarshalJSON accepts a number or null.
func (r *Reading) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = Reading{}
		return nil
	}
	if err := json.Unmarshal(b, &r.Value); err != nil {
		return err
	}
	r.Ready = true
	return nil
}
