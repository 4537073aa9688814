package model

import "time"

// Side is the direction of a position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// PositionState is the open-position view for the single traded instrument.
// Side and ID are meaningful only when IsOpen is true; LastTradeAt is zero
// until the first trade is opened.
type PositionState struct {
	IsOpen      bool      `json:"is_open"`
	Side        Side      `json:"side,omitempty"`
	ID          string    `json:"position_id,omitempty"`
	LastTradeAt time.Time `json:"last_trade_at"`
}
