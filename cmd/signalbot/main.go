// Command signalbot runs the trading signal bot for one instrument against
// a live price feed and a paper broker.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trading-signalbot/config"
	"trading-signalbot/internal/execution"
	"trading-signalbot/internal/feed"
	"trading-signalbot/internal/logger"
	"trading-signalbot/internal/metrics"
	"trading-signalbot/internal/model"
	"trading-signalbot/internal/notification"
	redisstore "trading-signalbot/internal/store/redis"
	sqlitestore "trading-signalbot/internal/store/sqlite"
	"trading-signalbot/internal/tradeengine"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	configPath := flag.String("config", "", "path to TOML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[signalbot] %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[signalbot] invalid configuration:\n%v", err)
	}

	slogger := logger.Init("signalbot", logger.ParseLevel(cfg.Service.LogLevel))
	slogger.Info("configuration loaded",
		"instrument", cfg.Service.Instrument, "feed", cfg.Feed.URL,
		"recompute_interval", cfg.Strategy.RecomputeInterval.Duration, "trade_gap", cfg.Strategy.TradeGap.Duration)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.StaleAfter = 3 * cfg.Feed.HeartbeatInterval.Duration
	if ci := 2 * cfg.Feed.CandleInterval.Duration; !cfg.Feed.BuildCandles && ci > health.StaleAfter {
		health.StaleAfter = ci
	}
	metricsSrv := metrics.NewServer(cfg.Service.MetricsAddr, health)
	metricsSrv.Start()
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		metricsSrv.Stop(shutCtx)
	}()

	deps := tradeengine.Deps{Metrics: prom, Health: health, Log: slogger}

	// ---- SQLite: candle history + trade journal ----
	if path := cfg.Storage.SQLitePath; path != "" {
		os.MkdirAll(filepath.Dir(path), 0o755)

		sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: path, Instrument: cfg.Service.Instrument})
		if err != nil {
			log.Fatalf("[signalbot] sqlite init failed: %v", err)
		}
		defer sqlWriter.Close()
		sqlWriter.OnCommit = func(n int) { prom.SQLiteCommitted.Add(float64(n)) }
		deps.Store = sqlWriter

		sqlReader, err := sqlitestore.NewReader(path)
		if err != nil {
			log.Printf("[signalbot] WARNING: sqlite reader init failed: %v (starting without warm-up)", err)
		} else {
			defer sqlReader.Close()
			deps.History = sqlReader
		}

		journal, err := execution.NewJournal(path)
		if err != nil {
			log.Printf("[signalbot] WARNING: trade journal init failed: %v (continuing without journal)", err)
		} else {
			defer journal.Close()
			deps.Journal = journal
		}

		var rdb *goredis.Client
		publisher, client := openRedis(ctx, cfg, prom, health)
		if publisher != nil {
			defer publisher.Close()
			deps.Publisher = publisher
			rdb = client
		}
		health.StartLivenessChecker(ctx, rdb, sqlWriter.DB(), 10*time.Second)
	} else if publisher, client := openRedis(ctx, cfg, prom, health); publisher != nil {
		defer publisher.Close()
		deps.Publisher = publisher
		health.StartLivenessChecker(ctx, client, nil, 10*time.Second)
	}

	// ---- Paper broker ----
	paper := execution.NewPaperBroker(cfg.Execution.PaperBalance, cfg.Execution.SlippageBps, slogger)
	deps.Balance = paper
	deps.Placer = paper
	deps.Marker = paper

	// ---- Feed ----
	client, err := feed.New(cfg.FeedClient(), slogger)
	if err != nil {
		log.Fatalf("[signalbot] feed init failed: %v", err)
	}
	client.OnReconnect = prom.FeedReconnects.Inc
	client.OnDrop = func() { prom.FeedDrops.WithLabelValues("client").Inc() }
	deps.Source = client

	// ---- Notifiers ----
	notifiers := notification.Multi{notification.NewLogNotifier(slogger)}
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.Notify.WebhookURL, slogger))
	}
	if cfg.Notify.TelegramToken != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, slogger))
	}
	deps.Notifier = notifiers

	svc, err := tradeengine.New(cfg, deps)
	if err != nil {
		log.Fatalf("[signalbot] init failed: %v", err)
	}

	log.Println("[signalbot] ✅ all systems running. Press Ctrl+C to stop.")
	runErr := svc.Run(ctx)

	sum := paper.Summary()
	slogger.Info("paper account summary",
		"realized_pnl", sum.RealizedPnL, "trades", sum.TotalTrades, "wins", sum.Wins, "losses", sum.Losses)

	if runErr != nil {
		log.Printf("[signalbot] fatal: %v", runErr)
		os.Exit(1)
	}
	log.Println("[signalbot] shutdown complete.")
}

// openRedis connects the snapshot/decision publisher behind a circuit
// breaker. Redis is optional: failure to connect only disables publishing.
func openRedis(ctx context.Context, cfg config.Config, prom *metrics.Metrics, health *metrics.HealthStatus) (model.Publisher, *goredis.Client) {
	if cfg.Storage.RedisAddr == "" {
		return nil, nil
	}
	w, err := redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.Storage.RedisAddr,
		Password: cfg.Storage.RedisPassword,
		DB:       cfg.Storage.RedisDB,
	})
	if err != nil {
		log.Printf("[signalbot] WARNING: redis init failed: %v (continuing without redis)", err)
		return nil, nil
	}
	health.SetRedisEnabled(true)
	health.CheckRedis(ctx, w.Client())

	cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = func(from, to redisstore.State) {
		prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			prom.RedisCircuitBreakerTrips.Inc()
		}
		log.Printf("[signalbot] redis circuit breaker %s → %s", from, to)
	}
	bp := redisstore.NewBufferedPublisher(ctx, w, cb, 10000)
	bp.OnBuffer = prom.RedisBufferedWrites.Inc
	bp.OnDrop = prom.RedisDroppedWrites.Inc
	return bp, w.Client()
}
