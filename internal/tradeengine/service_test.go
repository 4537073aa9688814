package tradeengine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-signalbot/config"
	"trading-signalbot/internal/execution"
	"trading-signalbot/internal/indicator"
	"trading-signalbot/internal/metrics"
	"trading-signalbot/internal/model"
	"trading-signalbot/internal/notification"
	"trading-signalbot/internal/strategy"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.Strategy.MAPeriod = 3
	cfg.Strategy.EMAPeriod = 3
	cfg.Strategy.BBPeriod = 3
	cfg.Strategy.RSIPeriod = 3
	cfg.Strategy.ATRPeriod = 3
	cfg.Strategy.BufferSlack = 8
	cfg.Strategy.RecomputeInterval = config.Duration{Duration: 20 * time.Millisecond}
	cfg.Feed.BuildCandles = false
	cfg.Execution.MaxRetries = 0
	cfg.Execution.RetryBackoff = config.Duration{Duration: time.Millisecond}
	cfg.Execution.OrderTimeout = config.Duration{Duration: time.Second}
	return cfg
}

// flatCandles returns n one-minute candles closing at 100 with a range of 2.
func flatCandles(n int) []model.Observation {
	out := make([]model.Observation, n)
	for i := range out {
		out[i] = model.NewCandle(t0.Add(time.Duration(i)*time.Minute), 100, 101, 99, 100)
	}
	return out
}

// ── fakes ──

type fakeSource struct {
	obs []model.Observation
}

func (f *fakeSource) Run(ctx context.Context, out chan<- model.Observation) error {
	for _, o := range f.obs {
		select {
		case out <- o:
		case <-ctx.Done():
			return nil
		}
	}
	<-ctx.Done()
	return nil
}

type fakeBalance struct {
	balance float64
	err     error
}

func (f fakeBalance) CurrentBalance(context.Context) (float64, error) { return f.balance, f.err }

type fakePlacer struct {
	mu    sync.Mutex
	opens []model.Side
	qty   []float64
	fail  bool
}

func (f *fakePlacer) OpenPosition(_ context.Context, side model.Side, qty, _, _ float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("exchange unavailable")
	}
	f.opens = append(f.opens, side)
	f.qty = append(f.qty, qty)
	return "pos-1", nil
}

func (f *fakePlacer) ClosePosition(context.Context, string) error { return nil }

type memPublisher struct {
	mu        sync.Mutex
	snapshots [][]byte
	decisions [][]byte
}

func (m *memPublisher) PublishSnapshot(_ context.Context, _ string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, data)
	return nil
}

func (m *memPublisher) PublishDecision(_ context.Context, _ string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, data)
	return nil
}

func (m *memPublisher) Close() error { return nil }

func (m *memPublisher) decisionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.decisions)
}

type memNotifier struct {
	mu     sync.Mutex
	alerts []notification.Alert
}

func (m *memNotifier) Send(_ context.Context, a notification.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return nil
}

type memHistory struct {
	candles []model.Observation
	err     error
}

func (m memHistory) ReadRecent(_ context.Context, _ string, n int) ([]model.Observation, error) {
	if m.err != nil {
		return nil, m.err
	}
	if len(m.candles) > n {
		return m.candles[len(m.candles)-n:], nil
	}
	return m.candles, nil
}

func (m memHistory) Close() error { return nil }

type memStore struct {
	mu      sync.Mutex
	candles []model.Observation
}

func (m *memStore) Run(ctx context.Context, ch <-chan model.Observation) {
	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-ch:
			if !ok {
				return
			}
			if o.CandleClose {
				m.mu.Lock()
				m.candles = append(m.candles, o)
				m.mu.Unlock()
			}
		}
	}
}

func (m *memStore) Close() error { return nil }

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.candles)
}

type harness struct {
	svc      *Service
	placer   *fakePlacer
	pub      *memPublisher
	notifier *memNotifier
	reg      *prometheus.Registry
}

func newHarness(t *testing.T, cfg config.Config, mutate func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		placer:   &fakePlacer{},
		pub:      &memPublisher{},
		notifier: &memNotifier{},
		reg:      prometheus.NewRegistry(),
	}
	deps := Deps{
		Source:    &fakeSource{},
		Balance:   fakeBalance{balance: 1000},
		Placer:    h.placer,
		Publisher: h.pub,
		Notifier:  h.notifier,
		Metrics:   metrics.NewMetricsWith(h.reg),
		Log:       quietLog(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	svc, err := New(cfg, deps)
	require.NoError(t, err)
	svc.alignGrace = 0
	svc.monitorInterval = 10 * time.Millisecond
	h.svc = svc
	return h
}

func (h *harness) counter(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := h.reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metric
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

// ── tests ──

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(testConfig(), Deps{})
	assert.Error(t, err)
}

func TestAnalyze_NoPriceYet(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	for _, c := range flatCandles(2) {
		require.NoError(t, h.svc.ring.Append(c))
	}

	_, ok := h.svc.analyze(context.Background())
	assert.False(t, ok)

	snap, have := h.svc.Snapshot()
	require.True(t, have, "snapshot is published even without a price")
	assert.False(t, snap.MA.Ready)
	require.Len(t, h.pub.snapshots, 1)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(h.pub.snapshots[0], &msg))
	assert.Nil(t, msg["price"])
	assert.Equal(t, false, msg["warm"])
}

func TestAnalyze_BelowLowerBandIsSizedBuy(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	for _, c := range flatCandles(10) {
		h.svc.observe(c)
	}
	h.svc.observe(model.NewTick(t0.Add(9*time.Minute+30*time.Second), 99))

	intent, ok := h.svc.analyze(context.Background())
	require.True(t, ok)
	require.True(t, intent.Snapshot.Warm())

	assert.Equal(t, strategy.Buy, intent.Signal)
	assert.Equal(t, strategy.Votes{MeanReversion: 1}, intent.Votes)
	require.NotNil(t, intent.Decision)
	// balance 1000 × 0.01 risk / (ATR 2 × 1.5) = 3.333 at lot step 0.001
	assert.InDelta(t, 3.333, intent.Decision.Quantity, 1e-9)
	assert.InDelta(t, 96, intent.Decision.StopLoss, 1e-9)
	assert.InDelta(t, 105, intent.Decision.TakeProfit, 1e-9)
	assert.Equal(t, 1.0, h.counter(t, "signalbot_signals_total", map[string]string{"level": "BUY"}))

	h.svc.execute(context.Background(), intent)
	require.Len(t, h.placer.opens, 1)
	assert.Equal(t, model.Long, h.placer.opens[0])
	assert.True(t, h.svc.Position().IsOpen)

	require.Len(t, h.pub.decisions, 1)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(h.pub.decisions[0], &msg))
	assert.Equal(t, "BUY", msg["signal"])
	assert.Equal(t, string(execution.ActionOpen), msg["action"])
	assert.Equal(t, intent.CycleID, msg["cycle_id"])
}

func TestAnalyze_BalanceFailureSkipsSizing(t *testing.T) {
	h := newHarness(t, testConfig(), func(d *Deps) {
		d.Balance = fakeBalance{err: errors.New("timeout")}
	})
	for _, c := range flatCandles(10) {
		h.svc.observe(c)
	}
	h.svc.observe(model.NewTick(t0.Add(10*time.Minute), 99))

	intent, ok := h.svc.analyze(context.Background())
	require.True(t, ok)
	assert.Equal(t, strategy.Buy, intent.Signal)
	assert.Nil(t, intent.Decision)

	h.svc.execute(context.Background(), intent)
	assert.Empty(t, h.placer.opens)
	assert.False(t, h.svc.Position().IsOpen)
}

func TestAnalyze_SizingRejectionIsCounted(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy.MinQuantity = 1000 // margin 1000 × 99 / 20 far above balance
	h := newHarness(t, cfg, nil)
	for _, c := range flatCandles(10) {
		h.svc.observe(c)
	}
	h.svc.observe(model.NewTick(t0.Add(10*time.Minute), 99))

	intent, ok := h.svc.analyze(context.Background())
	require.True(t, ok)
	assert.Nil(t, intent.Decision)
	assert.Equal(t, 1.0, h.counter(t, "signalbot_sizing_rejections_total", map[string]string{"reason": "margin"}))
}

func TestAnalyze_DiscontinuityAlertsAndRewarms(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	for _, c := range flatCandles(5) {
		h.svc.observe(c)
	}
	h.svc.observe(model.NewTick(t0.Add(5*time.Minute), 100))
	intent, ok := h.svc.analyze(context.Background())
	require.True(t, ok)
	require.True(t, intent.Snapshot.Warm())

	// Ten minutes without candles.
	h.svc.observe(model.NewCandle(t0.Add(15*time.Minute), 100, 101, 99, 100))
	intent, ok = h.svc.analyze(context.Background())
	require.True(t, ok)
	assert.False(t, intent.Snapshot.Warm())
	assert.Equal(t, strategy.Hold, intent.Signal)

	require.Len(t, h.notifier.alerts, 1)
	assert.Equal(t, "FeedDiscontinuity", h.notifier.alerts[0].Title)
	assert.Equal(t, notification.AlertWarning, h.notifier.alerts[0].Level)
	assert.Equal(t, intent.CycleID, h.notifier.alerts[0].CycleID)
	assert.Equal(t, "BTCUSD", h.notifier.alerts[0].Instrument)
	assert.Equal(t, "1", h.notifier.alerts[0].Details["candles_after_gap"])
	assert.Equal(t, 1.0, h.counter(t, "signalbot_feed_discontinuities_total", nil))

	// The gap stays in the buffer but is reported once.
	_, ok = h.svc.analyze(context.Background())
	require.True(t, ok)
	assert.Len(t, h.notifier.alerts, 1)
	assert.Equal(t, 1.0, h.counter(t, "signalbot_feed_discontinuities_total", nil))
}

func TestExecute_FailureAlertsAndKeepsState(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.placer.fail = true
	for _, c := range flatCandles(10) {
		h.svc.observe(c)
	}
	h.svc.observe(model.NewTick(t0.Add(10*time.Minute), 99))

	intent, ok := h.svc.analyze(context.Background())
	require.True(t, ok)
	require.NotNil(t, intent.Decision)

	h.svc.execute(context.Background(), intent)
	assert.False(t, h.svc.Position().IsOpen)
	require.Len(t, h.notifier.alerts, 1)
	assert.Equal(t, "ExecutionFailed", h.notifier.alerts[0].Title)
	assert.Equal(t, notification.AlertCritical, h.notifier.alerts[0].Level)
	assert.Equal(t, intent.CycleID, h.notifier.alerts[0].CycleID)
	assert.Equal(t, "BUY", h.notifier.alerts[0].Details["signal"])
	assert.Equal(t, "LONG", h.notifier.alerts[0].Details["side"])
	assert.Equal(t, 1.0, h.counter(t, "signalbot_execution_failures_total", nil))

	var msg map[string]any
	require.Len(t, h.pub.decisions, 1)
	require.NoError(t, json.Unmarshal(h.pub.decisions[0], &msg))
	assert.NotEmpty(t, msg["error"])
}

func TestExecute_SecondBuyWithinTradeGapIsIgnored(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	for _, c := range flatCandles(10) {
		h.svc.observe(c)
	}
	h.svc.observe(model.NewTick(t0.Add(10*time.Minute), 99))

	for i := 0; i < 2; i++ {
		intent, ok := h.svc.analyze(context.Background())
		require.True(t, ok)
		h.svc.execute(context.Background(), intent)
	}
	assert.Len(t, h.placer.opens, 1)
}

func TestWarmUp_FromHistory(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.WarmupCandles = 30
	h := newHarness(t, cfg, func(d *Deps) {
		d.History = memHistory{candles: flatCandles(40)}
	})

	h.svc.warmUp(context.Background())

	snap, ok := h.svc.Snapshot()
	require.True(t, ok)
	assert.True(t, snap.Warm())
	assert.Equal(t, h.svc.ring.Cap(), snap.Candles)
	assert.Equal(t, h.svc.ring.Cap(), h.svc.ring.Len())

	last, ok := h.svc.ring.Last()
	require.True(t, ok)
	assert.True(t, last.TS.Equal(t0.Add(39*time.Minute)))

	// A restart sees the same buffer a long-running process would.
	window, _ := h.svc.ring.Snapshot()
	fresh, err := indicator.NewEngine(cfg.IndicatorParams()).Update(window)
	require.NoError(t, err)
	assert.Equal(t, fresh, snap)
}

func TestWarmUp_ReadErrorStartsCold(t *testing.T) {
	h := newHarness(t, testConfig(), func(d *Deps) {
		d.History = memHistory{err: errors.New("disk")}
	})
	h.svc.warmUp(context.Background())
	_, ok := h.svc.Snapshot()
	assert.False(t, ok)
	assert.Zero(t, h.svc.ring.Len())
}

func TestObserve_RejectsOutOfOrderCandle(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	c := flatCandles(2)
	h.svc.observe(c[1])
	h.svc.observe(c[0])

	assert.Equal(t, 1, h.svc.ring.Len())
	assert.Equal(t, 1.0, h.counter(t, "signalbot_out_of_order_total", nil))
	q, ok := h.svc.Quote()
	require.True(t, ok)
	assert.Equal(t, 100.0, q.Price)
}

func TestInitialDelay(t *testing.T) {
	tests := []struct {
		name     string
		now      time.Time
		interval time.Duration
		grace    time.Duration
		want     time.Duration
	}{
		{"mid minute", t0.Add(20 * time.Second), time.Minute, time.Second, 41 * time.Second},
		{"on boundary", t0, time.Minute, time.Second, 61 * time.Second},
		{"five minutes", t0.Add(2 * time.Minute), 5 * time.Minute, 0, 3 * time.Minute},
		{"zero interval", t0, 0, time.Second, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, initialDelay(tt.now, tt.interval, tt.grace))
		})
	}
}

func TestRun_EndToEndWithPaperBroker(t *testing.T) {
	obs := append(flatCandles(10), model.NewTick(t0.Add(10*time.Minute), 99))
	paper := execution.NewPaperBroker(1000, 0, quietLog())
	store := &memStore{}
	health := metrics.NewHealthStatus()

	h := newHarness(t, testConfig(), func(d *Deps) {
		d.Source = &fakeSource{obs: obs}
		d.Balance = paper
		d.Placer = paper
		d.Marker = paper
		d.Store = store
		d.Health = health
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.svc.Run(ctx) }()

	require.Eventually(t, func() bool { return h.svc.Position().IsOpen }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return store.count() == 10 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, model.Long, h.svc.Position().Side)
	require.Len(t, paper.GetFills(), 1)
	assert.GreaterOrEqual(t, h.pub.decisionCount(), 1)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_BuildsCandlesFromTicks(t *testing.T) {
	cfg := testConfig()
	cfg.Feed.BuildCandles = true
	var ticks []model.Observation
	for i := 0; i < 12; i++ {
		ts := t0.Add(time.Duration(i) * time.Minute)
		ticks = append(ticks,
			model.NewTick(ts.Add(5*time.Second), 100),
			model.NewTick(ts.Add(35*time.Second), 101),
		)
	}
	h := newHarness(t, cfg, func(d *Deps) {
		d.Source = &fakeSource{obs: ticks}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.svc.Run(ctx) }()

	require.Eventually(t, func() bool { return h.svc.ring.Len() >= 11 }, 5*time.Second, 10*time.Millisecond)
	last, ok := h.svc.ring.Last()
	require.True(t, ok)
	assert.Equal(t, 101.0, last.Close)
	assert.Equal(t, 100.0, last.Open)

	cancel()
	require.NoError(t, <-done)
}

type failingSource struct{}

func (failingSource) Run(context.Context, chan<- model.Observation) error {
	return errors.New("handshake rejected")
}

func TestRun_SourceFailureStopsService(t *testing.T) {
	h := newHarness(t, testConfig(), func(d *Deps) { d.Source = failingSource{} })
	err := h.svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handshake rejected")
}
