// cmd/backtest replays candle history from SQLite through the signal and
// execution path against a paper account, without a live feed.
//
// Usage:
//
//	go run ./cmd/backtest --config=signalbot.toml --candles=5000
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"trading-signalbot/config"
	"trading-signalbot/internal/backtest"
	"trading-signalbot/internal/logger"
	sqlitestore "trading-signalbot/internal/store/sqlite"
	"trading-signalbot/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	configPath := flag.String("config", "", "path to TOML config file (optional)")
	dbPath := flag.String("db", "", "SQLite database (default: storage.sqlite_path)")
	limit := flag.Int("candles", 5000, "number of most recent candles to replay")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	if *dbPath != "" {
		cfg.Storage.SQLitePath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[backtest] invalid configuration:\n%v", err)
	}
	if cfg.Storage.SQLitePath == "" {
		log.Fatal("[backtest] no SQLite database configured")
	}

	slogger := logger.Init("backtest", logger.ParseLevel(cfg.Service.LogLevel))

	reader, err := sqlitestore.NewReader(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("[backtest] sqlite open failed: %v", err)
	}
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	candles, err := reader.ReadRecent(ctx, cfg.Service.Instrument, *limit)
	if err != nil {
		log.Fatalf("[backtest] load candles: %v", err)
	}
	if len(candles) == 0 {
		log.Printf("[backtest] no candles stored for %s", cfg.Service.Instrument)
		os.Exit(0)
	}
	log.Printf("[backtest] loaded %d candles for %s (%s → %s)",
		len(candles), cfg.Service.Instrument,
		candles[0].TS.Format("2006-01-02 15:04"), candles[len(candles)-1].TS.Format("2006-01-02 15:04"))

	res, err := backtest.New(cfg, slogger).Run(ctx, candles)
	if err != nil {
		log.Printf("[backtest] replay stopped: %v", err)
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Candles replayed:  %-16d ║\n", res.Candles)
	for _, s := range []strategy.Signal{strategy.StrongBuy, strategy.Buy, strategy.Hold, strategy.Sell, strategy.StrongSell} {
		fmt.Printf("║  %-18s %-16d ║\n", s.String()+":", res.Signals[s])
	}
	fmt.Printf("║  Opens / closes:    %-16s ║\n", fmt.Sprintf("%d / %d", res.Opens, res.Closes))
	fmt.Printf("║  SL/TP exits:       %-16d ║\n", res.Exits)
	fmt.Printf("║  Wins / losses:     %-16s ║\n", fmt.Sprintf("%d / %d", res.PnL.Wins, res.PnL.Losses))
	fmt.Printf("║  Realized P&L:      %-16.4f ║\n", res.PnL.RealizedPnL)
	fmt.Printf("║  Final balance:     %-16.4f ║\n", res.Balance)
	fmt.Println("╚══════════════════════════════════════╝")
}
