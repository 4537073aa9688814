// Package tradeengine runs the signal bot's task graph: feed ingestion,
// indicator recompute, signal and sizing, and execution.
package tradeengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"trading-signalbot/config"
	"trading-signalbot/internal/execution"
	"trading-signalbot/internal/feed"
	"trading-signalbot/internal/indicator"
	"trading-signalbot/internal/logger"
	"trading-signalbot/internal/metrics"
	"trading-signalbot/internal/model"
	"trading-signalbot/internal/notification"
	"trading-signalbot/internal/portfolio"
	"trading-signalbot/internal/ringbuf"
	"trading-signalbot/internal/strategy"
)

// Source streams raw observations until ctx is cancelled. *feed.Client
// implements it.
type Source interface {
	Run(ctx context.Context, out chan<- model.Observation) error
}

// connectionReporter is implemented by sources that know their link state.
type connectionReporter interface {
	Connected() bool
}

// PriceMarker is told every observed price. The paper broker uses it to
// settle stop-loss and take-profit exits.
type PriceMarker interface {
	Mark(price float64) []portfolio.Trade
}

type pnlReporter interface {
	Summary() portfolio.PnLSummary
}

// Deps are the collaborators the service runs against. Source, Balance and
// Placer are required; the rest are optional.
type Deps struct {
	Source    Source
	Balance   execution.BalanceSource
	Placer    execution.OrderPlacer
	Journal   execution.Recorder
	History   model.CandleReader
	Store     model.CandleWriter
	Publisher model.Publisher
	Notifier  notification.Notifier
	Marker    PriceMarker
	Metrics   *metrics.Metrics
	Health    *metrics.HealthStatus
	Log       *slog.Logger
}

// Service owns the buffer, the indicator engine and the execution
// coordinator for one instrument.
type Service struct {
	cfg  config.Config
	deps Deps
	log  *slog.Logger
	prom *metrics.Metrics

	ring      *ringbuf.Ring
	engine    *indicator.Engine
	evaluator strategy.Evaluator
	sizer     *portfolio.Sizer
	coord     *execution.Coordinator

	quote    atomic.Pointer[model.Quote]
	snapshot atomic.Pointer[indicator.Snapshot]
	evicted  atomic.Uint64

	intents chan Intent
	now     func() time.Time

	// alignGrace is added to the first aligned recompute so the candle
	// closing on the boundary has time to arrive.
	alignGrace      time.Duration
	balanceTimeout  time.Duration
	monitorInterval time.Duration
	channelBuffer   int
}

// New wires a Service from validated configuration.
func New(cfg config.Config, deps Deps) (*Service, error) {
	if deps.Source == nil || deps.Balance == nil || deps.Placer == nil {
		return nil, errors.New("tradeengine: source, balance and placer are required")
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetricsWith(prometheus.NewRegistry())
	}
	if deps.Health == nil {
		deps.Health = metrics.NewHealthStatus()
	}
	if deps.Notifier == nil {
		deps.Notifier = notification.NewLogNotifier(deps.Log)
	}

	s := &Service{
		cfg:             cfg,
		deps:            deps,
		log:             logger.Component(deps.Log, "tradeengine"),
		prom:            deps.Metrics,
		ring:            ringbuf.New(cfg.BufferCapacity()),
		engine:          indicator.NewEngine(cfg.IndicatorParams()),
		evaluator:       cfg.Evaluator(),
		sizer:           portfolio.NewSizer(cfg.Sizing()),
		coord:           execution.NewCoordinator(cfg.Coordinator(), deps.Placer, deps.Journal, deps.Log),
		intents:         make(chan Intent, 1),
		now:             time.Now,
		alignGrace:      time.Second,
		balanceTimeout:  5 * time.Second,
		monitorInterval: time.Second,
		channelBuffer:   1024,
	}
	return s, nil
}

// Snapshot returns the latest published indicator snapshot, if any.
func (s *Service) Snapshot() (indicator.Snapshot, bool) {
	p := s.snapshot.Load()
	if p == nil {
		return indicator.Snapshot{}, false
	}
	return *p, true
}

// Quote returns the provisional current price, if any has been seen.
func (s *Service) Quote() (model.Quote, bool) {
	p := s.quote.Load()
	if p == nil {
		return model.Quote{}, false
	}
	return *p, true
}

// Position returns the coordinator's position state.
func (s *Service) Position() model.PositionState { return s.coord.State() }

// Run warms up from history, then runs every task until ctx is cancelled
// or a task fails. Shutdown drains in order: the source stops, the candle
// builder and fan-out close their outputs, ingestion and storage finish,
// and an execution already in progress completes before Run returns.
func (s *Service) Run(ctx context.Context) error {
	instrument := s.cfg.Service.Instrument
	s.log.Info("starting", "instrument", instrument,
		"buffer", s.ring.Cap(), "recompute_interval", s.cfg.Strategy.RecomputeInterval.Duration,
		"build_candles", s.cfg.Feed.BuildCandles)

	s.warmUp(ctx)

	g, gctx := errgroup.WithContext(ctx)

	rawCh := make(chan model.Observation, s.channelBuffer)
	g.Go(func() error {
		defer close(rawCh)
		err := s.deps.Source.Run(gctx, rawCh)
		if gctx.Err() != nil {
			return nil // clean shutdown
		}
		if err == nil {
			err = errors.New("source stopped")
		}
		return fmt.Errorf("feed: %w", err)
	})

	var stream <-chan model.Observation = rawCh
	if s.cfg.Feed.BuildCandles {
		builder := feed.NewCandleBuilder(s.cfg.Feed.CandleInterval.Duration, s.deps.Log)
		builder.OnDroppedTick = s.prom.DroppedTicks.Inc
		built := make(chan model.Observation, s.channelBuffer)
		g.Go(func() error {
			builder.Run(gctx, rawCh, built)
			return nil
		})
		stream = built
	}

	fan := feed.NewFanOut(s.channelBuffer)
	trading := fan.SubscribeLossless()
	subscribers := []string{"trading"}
	var storeCh <-chan model.Observation
	if s.deps.Store != nil {
		storeCh = fan.Subscribe()
		subscribers = append(subscribers, "store")
	}
	fan.OnDrop = func(idx int) {
		s.prom.FeedDrops.WithLabelValues(subscribers[idx]).Inc()
	}
	g.Go(func() error {
		fan.Run(gctx, stream)
		return nil
	})

	g.Go(func() error {
		s.ingest(gctx, trading)
		return nil
	})
	if storeCh != nil {
		g.Go(func() error {
			s.deps.Store.Run(gctx, storeCh)
			return nil
		})
	}
	g.Go(func() error {
		s.recomputeLoop(gctx)
		return nil
	})
	g.Go(func() error {
		s.executionLoop(gctx)
		return nil
	})
	g.Go(func() error {
		s.monitor(gctx)
		return nil
	})

	err := g.Wait()
	if err != nil {
		s.log.Error("stopped with error", "error", err)
		return err
	}
	s.log.Info("stopped cleanly", "position", s.coord.State())
	return nil
}

// warmUp seeds the buffer with the most recent stored candles, up to its
// capacity, and publishes the snapshot computed from it.
func (s *Service) warmUp(ctx context.Context) {
	n := s.cfg.Storage.WarmupCandles
	if s.deps.History == nil || n <= 0 {
		return
	}
	if n > s.ring.Cap() {
		n = s.ring.Cap()
	}
	candles, err := s.deps.History.ReadRecent(ctx, s.cfg.Service.Instrument, n)
	if err != nil {
		s.log.Warn("warm-up read failed, starting cold", "error", err)
		return
	}
	if len(candles) == 0 {
		s.log.Info("no stored candles, starting cold")
		return
	}

	for _, c := range candles {
		if err := s.ring.Append(c); err != nil {
			s.prom.OutOfOrder.Inc()
		}
	}
	window, _ := s.ring.Snapshot()
	snap, err := s.engine.Update(window)
	if err != nil {
		s.log.Warn("gap in stored history, indicators warm from after it", "error", err)
	}
	s.snapshot.Store(&snap)
	s.syncBufferMetrics()
	s.deps.Health.SetIndicatorsWarm(snap.Warm())
	s.log.Info("warmed up from history", "candles", len(candles), "warm", snap.Warm(),
		"last_candle", candles[len(candles)-1].TS)
}

// monitor mirrors source connectivity and channel fill into health and metrics.
func (s *Service) monitor(ctx context.Context) {
	cr, ok := s.deps.Source.(connectionReporter)
	if !ok {
		s.deps.Health.SetFeedConnected(true)
	}
	ticker := time.NewTicker(s.monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.deps.Health.SetFeedConnected(false)
			return
		case <-ticker.C:
			if ok {
				s.deps.Health.SetFeedConnected(cr.Connected())
			}
		}
	}
}

func (s *Service) syncBufferMetrics() {
	s.prom.BufferLen.Set(float64(s.ring.Len()))
	total := s.ring.Evicted()
	if prev := s.evicted.Swap(total); total > prev {
		s.prom.BufferEvictions.Add(float64(total - prev))
	}
}
