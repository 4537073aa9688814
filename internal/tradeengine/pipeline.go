package tradeengine

import (
	"context"
	"errors"
	"time"

	"trading-signalbot/internal/model"
	"trading-signalbot/internal/ringbuf"
)

// ingest is the only writer of the buffer and the provisional price.
// Every observation updates the price; completed candles are appended.
func (s *Service) ingest(ctx context.Context, in <-chan model.Observation) {
	for {
		select {
		case <-ctx.Done():
			return
		case obs, ok := <-in:
			if !ok {
				return
			}
			s.observe(obs)
		}
	}
}

func (s *Service) observe(obs model.Observation) {
	kind := "tick"
	if obs.CandleClose {
		kind = "candle"
	}
	s.prom.ObservationsTotal.WithLabelValues(kind).Inc()

	s.quote.Store(&model.Quote{Price: obs.Close, TS: obs.TS})
	s.prom.ProvisionalPrice.Set(obs.Close)
	s.deps.Health.SetLastObservation(s.now())

	if s.deps.Marker != nil {
		exits := s.deps.Marker.Mark(obs.Close)
		for _, tr := range exits {
			s.log.Info("position exited", "position_id", tr.PositionID, "reason", tr.Reason,
				"exit_price", tr.ExitPrice, "pnl", tr.PnL)
		}
		if r, ok := s.deps.Marker.(pnlReporter); ok && len(exits) > 0 {
			s.prom.RealizedPnL.Set(r.Summary().RealizedPnL)
		}
	}

	if !obs.CandleClose {
		return
	}
	if err := s.ring.Append(obs); err != nil {
		if errors.Is(err, ringbuf.ErrOutOfOrder) {
			s.prom.OutOfOrder.Inc()
			s.log.Debug("candle rejected", "ts", obs.TS, "error", err)
			return
		}
		s.log.Warn("buffer append failed", "error", err)
		return
	}
	s.syncBufferMetrics()
}

// recomputeLoop fires the first cycle on the next multiple of the recompute
// interval (plus grace), then every interval.
func (s *Service) recomputeLoop(ctx context.Context) {
	interval := s.cfg.Strategy.RecomputeInterval.Duration
	delay := initialDelay(s.now(), interval, s.alignGrace)
	s.log.Info("recompute scheduled", "first_in", delay, "interval", interval)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.runCycle(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// initialDelay returns the time until the next multiple of interval after
// now, plus grace.
func initialDelay(now time.Time, interval, grace time.Duration) time.Duration {
	if interval <= 0 {
		return grace
	}
	next := now.Truncate(interval).Add(interval)
	return next.Sub(now) + grace
}

// runCycle analyzes and hands the resulting intent to the execution task.
// If execution is still busy with an earlier intent, that intent is
// replaced so execution always acts on the newest cycle.
func (s *Service) runCycle(ctx context.Context) {
	intent, ok := s.analyze(ctx)
	if !ok {
		return
	}
	for {
		select {
		case s.intents <- intent:
			return
		default:
		}
		select {
		case stale := <-s.intents:
			s.log.Warn("execution busy, superseding intent", "stale_cycle", stale.CycleID, "cycle_id", intent.CycleID)
		default:
		}
	}
}

// executionLoop is the single consumer of intents. An intent being executed
// when ctx is cancelled runs to completion; the coordinator bounds each
// order attempt with its own timeout.
func (s *Service) executionLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			select {
			case intent := <-s.intents:
				s.log.Info("dropping unexecuted intent on shutdown", "cycle_id", intent.CycleID, "signal", intent.Signal)
			default:
			}
			return
		case intent := <-s.intents:
			s.execute(ctx, intent)
		}
	}
}
