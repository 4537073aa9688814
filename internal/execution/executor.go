// Package execution turns sized decisions into orders. The Coordinator owns
// the per-instrument position state and cooldown; order placement and
// account balance are external collaborators behind the interfaces below.
package execution

import (
	"context"
	"errors"
	"time"

	"trading-signalbot/internal/model"
)

var (
	// ErrExecutionFailed is returned when an order call fails after all retries.
	ErrExecutionFailed = errors.New("execution: order placement failed")
	// ErrCooldown is returned when an open is suppressed because the trade
	// gap since the previous open has not elapsed.
	ErrCooldown = errors.New("execution: trade gap not elapsed")
	// ErrInFlight is returned when another order is still in progress.
	ErrInFlight = errors.New("execution: order already in flight")
	// ErrUnknownPosition is returned by brokers for an ID they do not hold.
	ErrUnknownPosition = errors.New("execution: unknown position")
)

// BalanceSource reports the available account balance.
type BalanceSource interface {
	CurrentBalance(ctx context.Context) (float64, error)
}

// OrderPlacer opens and closes positions on the exchange.
type OrderPlacer interface {
	OpenPosition(ctx context.Context, side model.Side, qty, stopLoss, takeProfit float64) (string, error)
	ClosePosition(ctx context.Context, positionID string) error
}

// PositionChecker is optionally implemented by an OrderPlacer that can
// report whether a position is still open, e.g. after a stop-loss fill.
type PositionChecker interface {
	IsPositionOpen(ctx context.Context, positionID string) (bool, error)
}

// Event kinds written to a Recorder.
const (
	EventOpen      = "open"
	EventClose     = "close"
	EventReconcile = "reconcile"
)

// Event statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// TradeEvent is one order attempt outcome.
type TradeEvent struct {
	Instrument string     `json:"instrument"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	Signal     string     `json:"signal,omitempty"`
	Side       model.Side `json:"side,omitempty"`
	PositionID string     `json:"position_id,omitempty"`
	Qty        float64    `json:"qty,omitempty"`
	Price      float64    `json:"price,omitempty"`
	StopLoss   float64    `json:"stop_loss,omitempty"`
	TakeProfit float64    `json:"take_profit,omitempty"`
	Attempts   int        `json:"attempts"`
	Error      string     `json:"error,omitempty"`
	At         time.Time  `json:"at"`
}

// Recorder persists trade events.
type Recorder interface {
	Record(ctx context.Context, ev TradeEvent) error
}
