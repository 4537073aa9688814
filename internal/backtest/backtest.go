// Package backtest replays stored candles through the indicator engine,
// the evaluator, the sizer and the execution coordinator against a paper
// broker, one decision per closed candle.
package backtest

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"trading-signalbot/config"
	"trading-signalbot/internal/execution"
	"trading-signalbot/internal/indicator"
	"trading-signalbot/internal/logger"
	"trading-signalbot/internal/model"
	"trading-signalbot/internal/portfolio"
	"trading-signalbot/internal/ringbuf"
	"trading-signalbot/internal/strategy"
)

// Result summarises one replay.
type Result struct {
	Candles    int
	Skipped    int // ticks and out-of-order candles
	Signals    map[strategy.Signal]int
	Opens      int
	Closes     int
	Rejections map[string]int
	Failures   int
	Exits      int // stop-loss and take-profit settlements
	Balance    float64
	PnL        portfolio.PnLSummary
}

// Runner owns a paper account for the duration of a replay.
type Runner struct {
	cfg    config.Config
	broker *execution.PaperBroker
	log    *slog.Logger
}

// New creates a Runner with a fresh paper account funded from
// cfg.Execution.PaperBalance.
func New(cfg config.Config, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		cfg:    cfg,
		broker: execution.NewPaperBroker(cfg.Execution.PaperBalance, cfg.Execution.SlippageBps, log),
		log:    logger.Component(log, "backtest"),
	}
}

// Broker exposes the paper account, mainly for its fills.
func (r *Runner) Broker() *execution.PaperBroker { return r.broker }

// Run replays candles in timestamp order. The coordinator's clock follows
// the close time of the candle being evaluated, so the trade gap is
// measured in market time.
func (r *Runner) Run(ctx context.Context, candles []model.Observation) (Result, error) {
	res := Result{
		Signals:    make(map[strategy.Signal]int),
		Rejections: make(map[string]int),
	}

	sorted := make([]model.Observation, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TS.Before(sorted[j].TS) })

	ring := ringbuf.New(r.cfg.BufferCapacity())
	engine := indicator.NewEngine(r.cfg.IndicatorParams())
	eval := r.cfg.Evaluator()
	sizer := portfolio.NewSizer(r.cfg.Sizing())
	interval := r.cfg.Feed.CandleInterval.Duration

	var clock time.Time
	ecfg := r.cfg.Coordinator()
	ecfg.Now = func() time.Time { return clock }
	coord := execution.NewCoordinator(ecfg, r.broker, nil, r.log)

	for _, c := range sorted {
		if err := ctx.Err(); err != nil {
			r.log.Info("replay cancelled", "candles", res.Candles)
			return r.finish(ctx, res), err
		}
		if !c.CandleClose {
			res.Skipped++
			continue
		}
		if err := ring.Append(c); err != nil {
			if errors.Is(err, ringbuf.ErrOutOfOrder) {
				res.Skipped++
				continue
			}
			return r.finish(ctx, res), err
		}
		res.Candles++
		clock = c.TS.Add(interval)

		res.Exits += len(r.broker.Mark(c.Close))

		window, _ := ring.Snapshot()
		snap, err := engine.Update(window)
		if errors.Is(err, indicator.ErrFeedDiscontinuity) {
			r.log.Warn("gap in stored candles, indicators re-warming", "at", c.TS, "error", err)
		}

		sig := eval.Evaluate(snap, c.Close)
		res.Signals[sig]++

		var decision *portfolio.RiskDecision
		if _, directional := sig.Side(); directional {
			decision = r.size(ctx, sizer, sig, snap, c.Close, &res)
		}

		out, err := coord.Handle(ctx, sig, decision)
		switch {
		case errors.Is(err, execution.ErrExecutionFailed):
			res.Failures++
			r.log.Warn("order failed", "at", c.TS, "signal", sig.String(), "error", err)
		case err != nil && !errors.Is(err, execution.ErrCooldown):
			r.log.Debug("signal not acted on", "at", c.TS, "signal", sig.String(), "error", err)
		}
		if out.Opened != "" {
			res.Opens++
		}
		if out.Closed != "" {
			res.Closes++
		}
	}

	res = r.finish(ctx, res)
	r.log.Info("replay complete",
		"candles", res.Candles, "opens", res.Opens, "closes", res.Closes,
		"exits", res.Exits, "balance", res.Balance, "realized_pnl", res.PnL.RealizedPnL)
	return res, nil
}

func (r *Runner) size(ctx context.Context, sizer *portfolio.Sizer, sig strategy.Signal, snap indicator.Snapshot, price float64, res *Result) *portfolio.RiskDecision {
	balance, err := r.broker.CurrentBalance(ctx)
	if err != nil {
		return nil
	}
	d, err := sizer.Size(sig, balance, snap.ATR, price)
	if err != nil {
		if errors.Is(err, portfolio.ErrSizingRejected) {
			res.Rejections[portfolio.RejectReason(err)]++
		}
		return nil
	}
	return &d
}

func (r *Runner) finish(ctx context.Context, res Result) Result {
	res.Balance, _ = r.broker.CurrentBalance(context.WithoutCancel(ctx))
	res.PnL = r.broker.Summary()
	return res
}
