package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trading-signalbot/internal/logger"
	"trading-signalbot/internal/model"
	"trading-signalbot/internal/portfolio"
	"trading-signalbot/internal/strategy"
)

// Config controls cooldown and retry behaviour.
type Config struct {
	Instrument   string
	TradeGap     time.Duration // minimum time between two opens
	MaxRetries   int           // retries after the first attempt
	RetryBackoff time.Duration // first backoff, doubled per retry
	OrderTimeout time.Duration // per-attempt deadline

	// Now overrides the wall clock used for the trade gap and journal
	// timestamps. Replays set it to candle time.
	Now func() time.Time
}

// Action is what the coordinator did for one signal.
type Action string

const (
	ActionNone    Action = "none"
	ActionOpen    Action = "open"
	ActionClose   Action = "close"
	ActionReverse Action = "reverse"
)

// Result describes the outcome of Handle.
type Result struct {
	Action     Action
	Opened     string // ID of the opened position, if any
	Closed     string // ID of the closed position, if any
	Side       model.Side
	Suppressed bool // an open was skipped for cooldown
	Attempts   int
}

// Coordinator is the per-instrument execution state machine with states
// Idle and PositionOpen.
//
// The state lock covers only the check-and-update around each order; it is
// never held during a call to the OrderPlacer. A pending flag keeps a second
// Handle from acting on state that an in-flight order is about to change.
type Coordinator struct {
	cfg     Config
	placer  OrderPlacer
	checker PositionChecker
	journal Recorder
	log     *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	state   model.PositionState
	pending bool
}

// NewCoordinator creates a Coordinator. journal may be nil. If placer also
// implements PositionChecker, positions closed on the exchange side are
// reconciled before each signal.
func NewCoordinator(cfg Config, placer OrderPlacer, journal Recorder, log *slog.Logger) *Coordinator {
	c := &Coordinator{
		cfg:     cfg,
		placer:  placer,
		journal: journal,
		log:     logger.Component(log, "execution"),
		now:     time.Now,
	}
	if cfg.Now != nil {
		c.now = cfg.Now
	}
	if pc, ok := placer.(PositionChecker); ok {
		c.checker = pc
	}
	return c
}

// State returns a copy of the current position state.
func (c *Coordinator) State() model.PositionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

type plan struct {
	closeID string
	open    bool
	side    model.Side
}

// Handle applies sig to the state machine. d is the sized decision for sig
// and may be nil when sizing produced nothing; in that case a reversal only
// closes.
//
//	Idle + directional signal + decision + gap elapsed → open
//	PositionOpen + opposite signal → close, then open as above
//	PositionOpen + Hold or same direction → nothing
//
// Failures after retries return ErrExecutionFailed with the state left at
// its last confirmed value. A suppressed open from Idle returns ErrCooldown.
func (c *Coordinator) Handle(ctx context.Context, sig strategy.Signal, d *portfolio.RiskDecision) (Result, error) {
	c.reconcile(ctx)

	side, directional := sig.Side()

	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		return Result{Action: ActionNone}, ErrInFlight
	}
	if !directional || (c.state.IsOpen && c.state.Side == side) {
		c.mu.Unlock()
		return Result{Action: ActionNone, Side: c.state.Side}, nil
	}

	var p plan
	p.side = side
	if c.state.IsOpen {
		p.closeID = c.state.ID
	}
	cooling := c.cooling()
	p.open = d != nil && !cooling
	if p.closeID == "" && !p.open {
		c.mu.Unlock()
		if d != nil && cooling {
			return Result{Action: ActionNone, Side: side, Suppressed: true}, ErrCooldown
		}
		return Result{Action: ActionNone}, nil
	}
	c.pending = true
	c.mu.Unlock()

	res := Result{Action: ActionNone, Side: side, Suppressed: d != nil && cooling}

	if p.closeID != "" {
		n, err := c.retry(ctx, func(actx context.Context) error {
			return c.placer.ClosePosition(actx, p.closeID)
		})
		res.Attempts += n
		c.record(ctx, TradeEvent{Kind: EventClose, Signal: sig.String(), PositionID: p.closeID, Attempts: n}, err)
		if err != nil {
			c.finish(nil)
			return res, fmt.Errorf("%w: close %s after %d attempts: %w", ErrExecutionFailed, p.closeID, n, err)
		}
		c.finish(func(s *model.PositionState) {
			s.IsOpen, s.Side, s.ID = false, "", ""
		})
		res.Action, res.Closed = ActionClose, p.closeID
		c.log.Info("position closed", "position_id", p.closeID, "signal", sig.String(), "attempts", n)

		if p.open {
			// Cooldown is rechecked now that the close is done.
			c.mu.Lock()
			if c.pending || c.cooling() {
				p.open = false
				res.Suppressed = true
			} else {
				c.pending = true
			}
			c.mu.Unlock()
		}
	}

	if !p.open {
		return res, nil
	}

	var id string
	n, err := c.retry(ctx, func(actx context.Context) error {
		var err error
		id, err = c.placer.OpenPosition(actx, d.Side, d.Quantity, d.StopLoss, d.TakeProfit)
		return err
	})
	res.Attempts += n
	c.record(ctx, TradeEvent{
		Kind: EventOpen, Signal: sig.String(), Side: d.Side, PositionID: id, Qty: d.Quantity,
		Price: d.EntryPriceHint, StopLoss: d.StopLoss, TakeProfit: d.TakeProfit, Attempts: n,
	}, err)
	if err != nil {
		c.finish(nil)
		return res, fmt.Errorf("%w: open %s qty=%.8f after %d attempts: %w", ErrExecutionFailed, d.Side, d.Quantity, n, err)
	}

	at := c.now()
	c.finish(func(s *model.PositionState) {
		*s = model.PositionState{IsOpen: true, Side: d.Side, ID: id, LastTradeAt: at}
	})
	if res.Action == ActionClose {
		res.Action = ActionReverse
	} else {
		res.Action = ActionOpen
	}
	res.Opened = id
	c.log.Info("position opened",
		"position_id", id, "side", d.Side, "qty", d.Quantity,
		"stop_loss", d.StopLoss, "take_profit", d.TakeProfit, "attempts", n)
	return res, nil
}

// cooling reports whether the trade gap since the last open is still
// running. Caller holds c.mu.
func (c *Coordinator) cooling() bool {
	if c.state.LastTradeAt.IsZero() || c.cfg.TradeGap <= 0 {
		return false
	}
	return c.now().Sub(c.state.LastTradeAt) < c.cfg.TradeGap
}

// finish clears the pending flag and applies update under the lock.
func (c *Coordinator) finish(update func(*model.PositionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if update != nil {
		update(&c.state)
	}
	c.pending = false
}

// reconcile moves PositionOpen to Idle when the exchange reports the
// position closed. Errors leave the state as is.
func (c *Coordinator) reconcile(ctx context.Context) {
	if c.checker == nil {
		return
	}
	c.mu.Lock()
	id := c.state.ID
	skip := !c.state.IsOpen || c.pending
	c.mu.Unlock()
	if skip {
		return
	}

	actx, cancel := context.WithTimeout(ctx, c.orderTimeout())
	open, err := c.checker.IsPositionOpen(actx, id)
	cancel()
	if err != nil {
		c.log.Warn("position check failed", "position_id", id, "error", err)
		return
	}
	if open {
		return
	}

	c.mu.Lock()
	changed := c.state.IsOpen && c.state.ID == id && !c.pending
	if changed {
		c.state.IsOpen, c.state.Side, c.state.ID = false, "", ""
	}
	c.mu.Unlock()
	if changed {
		c.log.Info("position closed by exchange", "position_id", id)
		c.record(ctx, TradeEvent{Kind: EventReconcile, PositionID: id}, nil)
	}
}

// retry runs fn up to MaxRetries+1 times with doubling backoff. Each attempt
// gets its own deadline detached from ctx, so an attempt already on the wire
// at shutdown completes or times out instead of being abandoned. No new
// attempt starts once ctx is done.
func (c *Coordinator) retry(ctx context.Context, fn func(context.Context) error) (int, error) {
	backoff := c.cfg.RetryBackoff
	var err error
	for attempt := 1; ; attempt++ {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.orderTimeout())
		err = fn(actx)
		cancel()
		if err == nil {
			return attempt, nil
		}
		if attempt > c.cfg.MaxRetries || ctx.Err() != nil {
			return attempt, err
		}
		c.log.Warn("order attempt failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return attempt, err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (c *Coordinator) orderTimeout() time.Duration {
	if c.cfg.OrderTimeout <= 0 {
		return 10 * time.Second
	}
	return c.cfg.OrderTimeout
}

func (c *Coordinator) record(ctx context.Context, ev TradeEvent, err error) {
	if c.journal == nil {
		return
	}
	ev.Instrument = c.cfg.Instrument
	ev.At = c.now()
	ev.Status = StatusOK
	if err != nil {
		ev.Status = StatusFailed
		ev.Error = err.Error()
	}
	if jerr := c.journal.Record(context.WithoutCancel(ctx), ev); jerr != nil {
		c.log.Warn("journal write failed", "kind", ev.Kind, "error", jerr)
	}
}
