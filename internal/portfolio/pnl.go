package portfolio

import (
	"sync"
	"time"

	"trading-signalbot/internal/model"
)

// Trade is a closed round trip.
type Trade struct {
	PositionID string     `json:"position_id"`
	Side       model.Side `json:"side"`
	Qty        float64    `json:"qty"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	PnL        float64    `json:"pnl"`
	Reason     string     `json:"reason"`
	ClosedAt   time.Time  `json:"closed_at"`
}

// PnLTracker tracks realized P&L over closed trades.
type PnLTracker struct {
	mu          sync.RWMutex
	trades      []Trade
	realizedPnL float64
	wins        int
	losses      int
}

// NewPnLTracker creates a new P&L tracker.
func NewPnLTracker() *PnLTracker {
	return &PnLTracker{
		trades: make([]Trade, 0, 128),
	}
}

// RecordClose records a closed position at exitPrice and returns the
// realized P&L of the trade.
func (p *PnLTracker) RecordClose(pos Position, exitPrice float64, reason string, at time.Time) float64 {
	realized := pnl(pos.Side, pos.Qty, pos.EntryPrice, exitPrice)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.trades = append(p.trades, Trade{
		PositionID: pos.ID,
		Side:       pos.Side,
		Qty:        pos.Qty,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		PnL:        realized,
		Reason:     reason,
		ClosedAt:   at,
	})
	p.realizedPnL += realized
	if realized > 0 {
		p.wins++
	} else if realized < 0 {
		p.losses++
	}
	return realized
}

// GetRealizedPnL returns total realized P&L.
func (p *PnLTracker) GetRealizedPnL() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realizedPnL
}

// GetTrades returns a snapshot of all trades.
func (p *PnLTracker) GetTrades() []Trade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Trade, len(p.trades))
	copy(cp, p.trades)
	return cp
}

// PnLSummary is a point-in-time P&L summary.
type PnLSummary struct {
	RealizedPnL float64 `json:"realized_pnl"`
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
}

// GetSummary returns the current P&L summary.
func (p *PnLTracker) GetSummary() PnLSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PnLSummary{
		RealizedPnL: p.realizedPnL,
		TotalTrades: len(p.trades),
		Wins:        p.wins,
		Losses:      p.losses,
	}
}

func pnl(side model.Side, qty, entry, exit float64) float64 {
	if side == model.Short {
		return (entry - exit) * qty
	}
	return (exit - entry) * qty
}
