package tradeengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"trading-signalbot/internal/execution"
	"trading-signalbot/internal/indicator"
	"trading-signalbot/internal/logger"
	"trading-signalbot/internal/model"
	"trading-signalbot/internal/notification"
	"trading-signalbot/internal/portfolio"
	"trading-signalbot/internal/strategy"
)

// Intent is the output of one analysis cycle, consumed once by execution.
type Intent struct {
	CycleID  string
	At       time.Time
	Price    float64
	Snapshot indicator.Snapshot
	Signal   strategy.Signal
	Votes    strategy.Votes
	Decision *portfolio.RiskDecision // nil when sizing produced nothing
}

// snapshotMessage is the published form of a recompute.
type snapshotMessage struct {
	Instrument string             `json:"instrument"`
	CycleID    string             `json:"cycle_id"`
	Price      *float64           `json:"price"`
	Warm       bool               `json:"warm"`
	Snapshot   indicator.Snapshot `json:"snapshot"`
}

// decisionMessage is the published form of an actionable signal.
type decisionMessage struct {
	Instrument string                  `json:"instrument"`
	CycleID    string                  `json:"cycle_id"`
	Signal     strategy.Signal         `json:"signal"`
	Votes      strategy.Votes          `json:"votes"`
	Price      float64                 `json:"price"`
	Decision   *portfolio.RiskDecision `json:"decision,omitempty"`
	Action     execution.Action        `json:"action"`
	Opened     string                  `json:"opened,omitempty"`
	Closed     string                  `json:"closed,omitempty"`
	Suppressed bool                    `json:"suppressed,omitempty"`
	Error      string                  `json:"error,omitempty"`
	At         time.Time               `json:"at"`
}

// analyze runs one recompute cycle: snapshot the buffer, update the engine,
// publish the new indicator snapshot, evaluate and size. It reports false
// when there is nothing to hand to execution yet (no price seen).
//
// The signal is always evaluated against the snapshot produced in this
// same call.
func (s *Service) analyze(ctx context.Context) (Intent, bool) {
	cycleID := logger.NewCycleID()
	ctx = logger.WithCycleID(ctx, cycleID)
	log := s.log.With(logger.LogWithCycle(ctx)...)

	window, version := s.ring.Snapshot()
	start := time.Now()
	snap, err := s.engine.Update(window)
	s.prom.RecomputeDur.Observe(time.Since(start).Seconds())
	s.prom.RecomputesTotal.Inc()

	s.snapshot.Store(&snap)
	s.prom.IndicatorsWarm.Set(boolGauge(snap.Warm()))
	s.deps.Health.SetIndicatorsWarm(snap.Warm())

	if errors.Is(err, indicator.ErrFeedDiscontinuity) {
		s.prom.Discontinuities.Inc()
		log.Warn("feed discontinuity, indicators re-warming", "error", err)
		s.alert(ctx, notification.AlertWarning, notification.EventFeedDiscontinuity, err.Error(), map[string]string{
			"candles_after_gap": fmt.Sprint(snap.Candles),
		})
	} else if err != nil {
		log.Error("recompute failed", "error", err)
	}

	q, haveQuote := s.Quote()
	s.publishSnapshot(ctx, log, cycleID, snap, q, haveQuote)

	if !haveQuote {
		log.Debug("no price observed yet, skipping signal", "buffer_version", version)
		return Intent{}, false
	}

	intent := Intent{CycleID: cycleID, At: s.now(), Price: q.Price, Snapshot: snap}
	intent.Signal, intent.Votes = s.evaluator.Explain(snap, q.Price)
	s.prom.SignalsTotal.WithLabelValues(intent.Signal.String()).Inc()

	log.Debug("cycle evaluated",
		"buffer_version", version, "candles", snap.Candles, "price", q.Price,
		"signal", intent.Signal.String(), "trend", intent.Votes.Trend,
		"mean_reversion", intent.Votes.MeanReversion, "momentum", intent.Votes.Momentum)

	if _, directional := intent.Signal.Side(); directional {
		intent.Decision = s.size(ctx, log, intent.Signal, snap, q.Price)
	}
	return intent, true
}

// size queries the balance and sizes the signal. Returns nil when no trade
// should be attempted.
func (s *Service) size(ctx context.Context, log *slog.Logger, sig strategy.Signal, snap indicator.Snapshot, price float64) *portfolio.RiskDecision {
	bctx, cancel := context.WithTimeout(ctx, s.balanceTimeout)
	balance, err := s.deps.Balance.CurrentBalance(bctx)
	cancel()
	if err != nil {
		log.Warn("balance query failed, not sizing", "error", err)
		return nil
	}
	s.prom.Balance.Set(balance)

	d, err := s.sizer.Size(sig, balance, snap.ATR, price)
	switch {
	case err == nil:
		log.Info("signal sized", "signal", sig.String(), "side", d.Side, "qty", d.Quantity,
			"stop_loss", d.StopLoss, "take_profit", d.TakeProfit, "margin", d.Margin)
		return &d
	case errors.Is(err, portfolio.ErrInsufficientData):
		log.Debug("no volatility estimate yet, not sizing", "signal", sig.String())
	case errors.Is(err, portfolio.ErrSizingRejected):
		s.prom.SizingRejections.WithLabelValues(portfolio.RejectReason(err)).Inc()
		log.Info("sizing rejected", "signal", sig.String(), "error", err)
	default:
		log.Warn("sizing failed", "error", err)
	}
	return nil
}

// execute hands an intent to the coordinator and reports the outcome.
func (s *Service) execute(ctx context.Context, in Intent) {
	ctx = logger.WithCycleID(ctx, in.CycleID)
	log := s.log.With(logger.LogWithCycle(ctx)...)

	res, err := s.coord.Handle(ctx, in.Signal, in.Decision)
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, execution.ErrCooldown):
		outcome = "cooldown"
		s.prom.CooldownSkips.Inc()
		log.Info("open suppressed by trade gap", "signal", in.Signal.String())
	case errors.Is(err, execution.ErrInFlight):
		outcome = "in_flight"
		log.Debug("execution already in flight")
	case errors.Is(err, execution.ErrExecutionFailed):
		outcome = "failed"
		s.prom.ExecutionFailures.Inc()
		log.Error("execution failed", "signal", in.Signal.String(), "error", err)
		details := map[string]string{"signal": in.Signal.String(), "attempts": fmt.Sprint(res.Attempts)}
		if in.Decision != nil {
			details["side"] = string(in.Decision.Side)
			details["qty"] = strconv.FormatFloat(in.Decision.Quantity, 'f', -1, 64)
		}
		if st := s.coord.State(); st.IsOpen {
			details["open_position"] = st.ID
		}
		s.alert(ctx, notification.AlertCritical, notification.EventExecutionFailed, err.Error(), details)
	default:
		outcome = "error"
		log.Error("execution error", "error", err)
	}
	if res.Action != execution.ActionNone || outcome == "failed" || outcome == "error" {
		s.prom.OrdersTotal.WithLabelValues(string(res.Action), outcome).Inc()
	}
	if res.Suppressed && err == nil {
		s.prom.CooldownSkips.Inc()
	}

	st := s.coord.State()
	s.deps.Health.SetPosition(st.IsOpen, string(st.Side))
	s.prom.PositionOpen.Set(positionGauge(st))

	if in.Signal == strategy.Hold {
		return
	}
	msg := decisionMessage{
		Instrument: s.cfg.Service.Instrument,
		CycleID:    in.CycleID,
		Signal:     in.Signal,
		Votes:      in.Votes,
		Price:      in.Price,
		Decision:   in.Decision,
		Action:     res.Action,
		Opened:     res.Opened,
		Closed:     res.Closed,
		Suppressed: res.Suppressed,
		At:         in.At,
	}
	if err != nil {
		msg.Error = err.Error()
	}
	s.publish(ctx, log, "decision", msg, s.publishDecision)
}

func (s *Service) publishSnapshot(ctx context.Context, log *slog.Logger, cycleID string, snap indicator.Snapshot, q model.Quote, haveQuote bool) {
	msg := snapshotMessage{
		Instrument: s.cfg.Service.Instrument,
		CycleID:    cycleID,
		Warm:       snap.Warm(),
		Snapshot:   snap,
	}
	if haveQuote {
		msg.Price = &q.Price
	}
	s.publish(ctx, log, "snapshot", msg, s.publishSnap)
}

func (s *Service) publishSnap(ctx context.Context, data []byte) error {
	return s.deps.Publisher.PublishSnapshot(ctx, s.cfg.Service.Instrument, data)
}

func (s *Service) publishDecision(ctx context.Context, data []byte) error {
	return s.deps.Publisher.PublishDecision(ctx, s.cfg.Service.Instrument, data)
}

func (s *Service) publish(ctx context.Context, log *slog.Logger, what string, msg any, send func(context.Context, []byte) error) {
	if s.deps.Publisher == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error("encode failed", "what", what, "error", err)
		return
	}
	if err := send(ctx, data); err != nil {
		s.prom.PublishErrors.Inc()
		log.Warn("publish failed", "what", what, "error", err)
	}
}

// alert never blocks the cycle on a slow notifier for long.
func (s *Service) alert(ctx context.Context, level notification.AlertLevel, title, message string, details map[string]string) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	a := notification.Alert{
		Level:      level,
		Title:      title,
		Message:    message,
		Instrument: s.cfg.Service.Instrument,
		CycleID:    logger.CycleID(ctx),
		Details:    details,
		At:         s.now().UTC(),
	}
	if err := s.deps.Notifier.Send(actx, a); err != nil {
		s.log.Warn("alert delivery failed", "title", title, "error", err)
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func positionGauge(st model.PositionState) float64 {
	switch {
	case !st.IsOpen:
		return 0
	case st.Side == model.Long:
		return 1
	default:
		return -1
	}
}
