package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"trading-signalbot/internal/logger"
	"trading-signalbot/internal/model"
	"trading-signalbot/internal/portfolio"
)

// Fill represents a simulated order fill.
type Fill struct {
	PositionID string     `json:"position_id"`
	Kind       string     `json:"kind"` // open or close
	Side       model.Side `json:"side"`
	Qty        float64    `json:"qty"`
	Price      float64    `json:"price"`
	Slippage   float64    `json:"slippage"`
	FilledAt   time.Time  `json:"filled_at"`
}

// PaperBroker simulates the exchange in process. It implements
// BalanceSource, OrderPlacer and PositionChecker.
//
// Orders fill at the last marked price adjusted by slippage. Mark closes
// positions whose stop-loss or take-profit was crossed and credits the
// realized P&L to the balance.
type PaperBroker struct {
	mu          sync.Mutex
	balance     float64
	lastPrice   float64
	slippageBps float64 // basis points of slippage (e.g., 5 = 0.05%)
	fills       []Fill

	book *portfolio.Portfolio
	pnl  *portfolio.PnLTracker
	log  *slog.Logger
	now  func() time.Time
}

// NewPaperBroker creates a paper account with the given starting balance.
func NewPaperBroker(balance, slippageBps float64, log *slog.Logger) *PaperBroker {
	return &PaperBroker{
		balance:     balance,
		slippageBps: slippageBps,
		fills:       make([]Fill, 0, 256),
		book:        portfolio.New(),
		pnl:         portfolio.NewPnLTracker(),
		log:         logger.Component(log, "paper"),
		now:         time.Now,
	}
}

// CurrentBalance returns cash balance including realized P&L.
func (p *PaperBroker) CurrentBalance(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

// Mark updates the last price and settles any position whose protective
// level was crossed. Returns the closing trades.
func (p *PaperBroker) Mark(price float64) []portfolio.Trade {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastPrice = price
	var closed []portfolio.Trade
	for _, ex := range p.book.Mark(price) {
		// Protective orders fill at their level, not at the crossing price.
		level := ex.Position.StopLoss
		if ex.Reason == portfolio.ExitTakeProfit {
			level = ex.Position.TakeProfit
		}
		closed = append(closed, p.settle(ex.Position, level, ex.Reason))
	}
	return closed
}

// OpenPosition fills a market order at the last price plus slippage.
func (p *PaperBroker) OpenPosition(ctx context.Context, side model.Side, qty, stopLoss, takeProfit float64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if qty <= 0 {
		return "", fmt.Errorf("paper: invalid quantity %.8f", qty)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastPrice <= 0 {
		return "", errors.New("paper: no market price yet")
	}
	price, slip := p.fillPrice(side, p.lastPrice)
	id := uuid.NewString()
	now := p.now()

	p.book.Add(portfolio.Position{
		ID:         id,
		Side:       side,
		Qty:        qty,
		EntryPrice: price,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		OpenedAt:   now,
	})
	p.fills = append(p.fills, Fill{PositionID: id, Kind: EventOpen, Side: side, Qty: qty, Price: price, Slippage: slip, FilledAt: now})

	p.log.Info("paper open", "position_id", id, "side", side, "qty", qty, "price", price, "slippage", slip)
	return id, nil
}

// ClosePosition closes the position at the last price minus slippage.
func (p *PaperBroker) ClosePosition(ctx context.Context, positionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.book.Remove(positionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPosition, positionID)
	}
	price, _ := p.fillPrice(pos.Side.Opposite(), p.lastPrice)
	p.settle(pos, price, portfolio.ExitManual)
	return nil
}

// IsPositionOpen reports whether positionID is still held.
func (p *PaperBroker) IsPositionOpen(ctx context.Context, positionID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, ok := p.book.Get(positionID)
	return ok, nil
}

// GetFills returns a snapshot of all fills.
func (p *PaperBroker) GetFills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

// Summary returns the realized P&L summary.
func (p *PaperBroker) Summary() portfolio.PnLSummary {
	return p.pnl.GetSummary()
}

// settle books a close. Caller holds p.mu.
func (p *PaperBroker) settle(pos portfolio.Position, price float64, reason string) portfolio.Trade {
	now := p.now()
	realized := p.pnl.RecordClose(pos, price, reason, now)
	p.balance += realized
	p.fills = append(p.fills, Fill{PositionID: pos.ID, Kind: EventClose, Side: pos.Side.Opposite(), Qty: pos.Qty, Price: price, FilledAt: now})

	p.log.Info("paper close", "position_id", pos.ID, "reason", reason, "price", price, "pnl", realized, "balance", p.balance)
	return portfolio.Trade{
		PositionID: pos.ID, Side: pos.Side, Qty: pos.Qty, EntryPrice: pos.EntryPrice,
		ExitPrice: price, PnL: realized, Reason: reason, ClosedAt: now,
	}
}

// fillPrice applies slippage against the trader: buys fill higher, sells lower.
func (p *PaperBroker) fillPrice(side model.Side, price float64) (float64, float64) {
	slip := price * p.slippageBps / 10000
	if side == model.Long {
		return price + slip, slip
	}
	return price - slip, slip
}
