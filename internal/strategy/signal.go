// Package strategy turns an indicator snapshot and the current price into a
// discrete trading signal.
package strategy

import (
	"fmt"
	"strings"

	"trading-signalbot/internal/model"
)

// Signal is a five-level directional decision, ordered from most bearish to
// most bullish. Hold is the neutral zero value.
type Signal int

const (
	StrongSell Signal = iota - 2
	Sell
	Hold
	Buy
	StrongBuy
)

var signalNames = map[Signal]string{
	StrongSell: "STRONG_SELL",
	Sell:       "SELL",
	Hold:       "HOLD",
	Buy:        "BUY",
	StrongBuy:  "STRONG_BUY",
}

func (s Signal) String() string {
	if n, ok := signalNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Signal(%d)", int(s))
}

// MarshalText encodes the signal by name.
func (s Signal) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a signal name.
func (s *Signal) UnmarshalText(b []byte) error {
	name := strings.ToUpper(string(b))
	for sig, n := range signalNames {
		if n == name {
			*s = sig
			return nil
		}
	}
	return fmt.Errorf("strategy: unknown signal %q", string(b))
}

// IsLong reports whether s asks for a long position.
func (s Signal) IsLong() bool { return s > Hold }

// IsShort reports whether s asks for a short position.
func (s Signal) IsShort() bool { return s < Hold }

// IsStrong reports whether s is StrongBuy or StrongSell.
func (s Signal) IsStrong() bool { return s == StrongBuy || s == StrongSell }

// Side maps a directional signal to a position side.
// Returns false for Hold.
func (s Signal) Side() (model.Side, bool) {
	switch {
	case s.IsLong():
		return model.Long, true
	case s.IsShort():
		return model.Short, true
	}
	return "", false
}
