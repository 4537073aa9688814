// Package portfolio sizes trades against account risk and tracks the
// positions and realized P&L of the in-process paper account.
package portfolio

import (
	"sync"
	"time"

	"trading-signalbot/internal/model"
)

// Exit reasons reported by Portfolio.Mark.
const (
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
	ExitManual     = "manual"
)

// Position represents a single open position.
type Position struct {
	ID         string     `json:"id"`
	Side       model.Side `json:"side"`
	Qty        float64    `json:"qty"`
	EntryPrice float64    `json:"entry_price"`
	StopLoss   float64    `json:"stop_loss"`
	TakeProfit float64    `json:"take_profit"`
	LastPrice  float64    `json:"last_price"`
	OpenedAt   time.Time  `json:"opened_at"`
}

// UnrealizedPnL returns the open P&L at LastPrice.
func (p *Position) UnrealizedPnL() float64 {
	return pnl(p.Side, p.Qty, p.EntryPrice, p.LastPrice)
}

// triggered reports whether price crosses the stop-loss or take-profit.
// Zero levels are ignored.
func (p *Position) triggered(price float64) (string, bool) {
	switch p.Side {
	case model.Long:
		if p.StopLoss > 0 && price <= p.StopLoss {
			return ExitStopLoss, true
		}
		if p.TakeProfit > 0 && price >= p.TakeProfit {
			return ExitTakeProfit, true
		}
	case model.Short:
		if p.StopLoss > 0 && price >= p.StopLoss {
			return ExitStopLoss, true
		}
		if p.TakeProfit > 0 && price <= p.TakeProfit {
			return ExitTakeProfit, true
		}
	}
	return "", false
}

// Exit is a position that crossed one of its protective levels.
type Exit struct {
	Position Position
	Reason   string
}

// Portfolio tracks all open positions.
type Portfolio struct {
	mu        sync.RWMutex
	positions map[string]*Position // key = position ID
}

// New creates a new empty Portfolio.
func New() *Portfolio {
	return &Portfolio{
		positions: make(map[string]*Position),
	}
}

// Add records a newly opened position.
func (pf *Portfolio) Add(p Position) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if p.LastPrice == 0 {
		p.LastPrice = p.EntryPrice
	}
	pf.positions[p.ID] = &p
}

// Remove deletes a position and returns it.
func (pf *Portfolio) Remove(id string) (Position, bool) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	p, ok := pf.positions[id]
	if !ok {
		return Position{}, false
	}
	delete(pf.positions, id)
	return *p, true
}

// Get returns a copy of the position with the given ID.
func (pf *Portfolio) Get(id string) (Position, bool) {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	p, ok := pf.positions[id]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Mark updates every position's last price and removes and returns those
// whose stop-loss or take-profit was crossed.
func (pf *Portfolio) Mark(price float64) []Exit {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	var exits []Exit
	for id, p := range pf.positions {
		p.LastPrice = price
		if reason, ok := p.triggered(price); ok {
			exits = append(exits, Exit{Position: *p, Reason: reason})
			delete(pf.positions, id)
		}
	}
	return exits
}

// GetPositions returns a snapshot of all positions.
func (pf *Portfolio) GetPositions() []Position {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	result := make([]Position, 0, len(pf.positions))
	for _, p := range pf.positions {
		result = append(result, *p)
	}
	return result
}

// TotalUnrealizedPnL returns the total unrealized P&L across all positions.
func (pf *Portfolio) TotalUnrealizedPnL() float64 {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	var total float64
	for _, p := range pf.positions {
		total += p.UnrealizedPnL()
	}
	return total
}
