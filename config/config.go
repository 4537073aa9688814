// Package config holds the signal bot's immutable, validated configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"trading-signalbot/internal/execution"
	"trading-signalbot/internal/feed"
	"trading-signalbot/internal/indicator"
	"trading-signalbot/internal/portfolio"
	"trading-signalbot/internal/strategy"
)

// Config is the root configuration. Load returns it unvalidated; callers
// must run Validate before starting any task and pass it by value afterwards.
type Config struct {
	Service   ServiceConfig   `toml:"service"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Feed      FeedConfig      `toml:"feed"`
	Execution ExecutionConfig `toml:"execution"`
	Storage   StorageConfig   `toml:"storage"`
	Notify    NotifyConfig    `toml:"notify"`
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Instrument  string `toml:"instrument"`
	LogLevel    string `toml:"log_level"`
	MetricsAddr string `toml:"metrics_addr"`
}

// StrategyConfig holds indicator, signal and sizing tunables.
type StrategyConfig struct {
	MAPeriod           int      `toml:"ma_period"`
	EMAPeriod          int      `toml:"ema_period"`
	BBPeriod           int      `toml:"bb_period"`
	BBStdDevMultiplier float64  `toml:"bb_std_dev_multiplier"`
	RSIPeriod          int      `toml:"rsi_period"`
	ATRPeriod          int      `toml:"atr_period"`
	ATRStopMultiplier  float64  `toml:"atr_stop_multiplier"`
	RiskRewardRatio    float64  `toml:"risk_reward_ratio"`
	RiskPerTrade       float64  `toml:"risk_per_trade"`
	Leverage           float64  `toml:"leverage"`
	TradeGap           Duration `toml:"trade_gap"`
	RecomputeInterval  Duration `toml:"recompute_interval"`
	StrengthMultiplier float64  `toml:"strength_multiplier"`

	MinQuantity  float64 `toml:"min_quantity"`
	MaxQuantity  float64 `toml:"max_quantity"`
	QuantityStep float64 `toml:"quantity_step"`

	Oversold    float64 `toml:"oversold"`
	Overbought  float64 `toml:"overbought"`
	StrongVotes int     `toml:"strong_votes"`
	BufferSlack int     `toml:"buffer_slack"`
}

// FeedConfig holds the price feed connection settings.
type FeedConfig struct {
	URL               string   `toml:"url"`
	SubscribeMethod   string   `toml:"subscribe_method"`
	Channel           string   `toml:"channel"`
	CandleInterval    Duration `toml:"candle_interval"`
	BuildCandles      bool     `toml:"build_candles"`
	ReconnectDelay    Duration `toml:"reconnect_delay"`
	MaxReconnectDelay Duration `toml:"max_reconnect_delay"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
	GapTolerance      float64  `toml:"gap_tolerance"`
}

// ExecutionConfig holds order placement settings.
type ExecutionConfig struct {
	MaxRetries   int      `toml:"max_retries"`
	RetryBackoff Duration `toml:"retry_backoff"`
	OrderTimeout Duration `toml:"order_timeout"`
	PaperBalance float64  `toml:"paper_balance"`
	SlippageBps  float64  `toml:"slippage_bps"`
}

// StorageConfig holds persistence settings. An empty path or address disables that store.
type StorageConfig struct {
	SQLitePath    string `toml:"sqlite_path"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	WarmupCandles int    `toml:"warmup_candles"`
}

// NotifyConfig holds operator alert destinations. Empty values disable a channel.
type NotifyConfig struct {
	WebhookURL     string `toml:"webhook_url"`
	TelegramToken  string `toml:"telegram_token"`
	TelegramChatID string `toml:"telegram_chat_id"`
}

// Duration wraps time.Duration so TOML strings like "5s" decode into it.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible defaults.
func Defaults() Config {
	return Config{
		Service: ServiceConfig{
			Instrument:  "BTCUSD",
			LogLevel:    "info",
			MetricsAddr: ":9090",
		},
		Strategy: StrategyConfig{
			MAPeriod:           14,
			EMAPeriod:          12,
			BBPeriod:           12,
			BBStdDevMultiplier: 2,
			RSIPeriod:          9,
			ATRPeriod:          7,
			ATRStopMultiplier:  1.5,
			RiskRewardRatio:    2,
			RiskPerTrade:       0.01,
			Leverage:           20,
			TradeGap:           Duration{5 * time.Second},
			RecomputeInterval:  Duration{time.Minute},
			StrengthMultiplier: 1.5,
			MinQuantity:        0.001,
			MaxQuantity:        0,
			QuantityStep:       0.001,
			Oversold:           strategy.DefaultOversold,
			Overbought:         strategy.DefaultOverbought,
			StrongVotes:        strategy.DefaultStrongVotes,
			BufferSlack:        16,
		},
		Feed: FeedConfig{
			URL:               "wss://api.example.com/v1/ws",
			SubscribeMethod:   "v1/public/subscribe",
			Channel:           "futures:btc_usd:last-price",
			CandleInterval:    Duration{time.Minute},
			BuildCandles:      true,
			ReconnectDelay:    Duration{2 * time.Second},
			MaxReconnectDelay: Duration{30 * time.Second},
			HeartbeatInterval: Duration{5 * time.Second},
			GapTolerance:      1.5,
		},
		Execution: ExecutionConfig{
			MaxRetries:   3,
			RetryBackoff: Duration{500 * time.Millisecond},
			OrderTimeout: Duration{10 * time.Second},
			PaperBalance: 1000,
			SlippageBps:  5,
		},
		Storage: StorageConfig{
			SQLitePath:    "data/signalbot.db",
			WarmupCandles: 200,
		},
	}
}

// Validate checks the configuration and returns every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.Service.Instrument) == "" {
		add("service.instrument is required")
	}

	s := c.Strategy
	for name, p := range map[string]int{
		"ma_period":  s.MAPeriod,
		"ema_period": s.EMAPeriod,
		"bb_period":  s.BBPeriod,
		"rsi_period": s.RSIPeriod,
		"atr_period": s.ATRPeriod,
	} {
		if p <= 0 {
			add("strategy.%s must be a positive integer, got %d", name, p)
		}
	}
	for name, v := range map[string]float64{
		"bb_std_dev_multiplier": s.BBStdDevMultiplier,
		"atr_stop_multiplier":   s.ATRStopMultiplier,
		"risk_reward_ratio":     s.RiskRewardRatio,
		"risk_per_trade":        s.RiskPerTrade,
		"leverage":              s.Leverage,
	} {
		if !(v > 0) {
			add("strategy.%s must be positive, got %v", name, v)
		}
	}
	if !(s.StrengthMultiplier > 1) {
		add("strategy.strength_multiplier must be greater than 1, got %v", s.StrengthMultiplier)
	}
	if s.TradeGap.Duration <= 0 {
		add("strategy.trade_gap must be positive")
	}
	if s.RecomputeInterval.Duration <= 0 {
		add("strategy.recompute_interval must be positive")
	}
	if s.MinQuantity < 0 || s.MaxQuantity < 0 || s.QuantityStep < 0 {
		add("strategy quantity limits must not be negative")
	}
	if s.MaxQuantity > 0 && s.MinQuantity > s.MaxQuantity {
		add("strategy.min_quantity (%v) exceeds max_quantity (%v)", s.MinQuantity, s.MaxQuantity)
	}
	if !(s.Oversold >= 0 && s.Oversold < s.Overbought && s.Overbought <= 100) {
		add("strategy.oversold/overbought must satisfy 0 <= oversold < overbought <= 100")
	}
	if s.StrongVotes < 1 || s.StrongVotes > 3 {
		add("strategy.strong_votes must be between 1 and 3, got %d", s.StrongVotes)
	}
	if s.BufferSlack < 0 {
		add("strategy.buffer_slack must not be negative")
	}

	f := c.Feed
	if u, err := url.Parse(f.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		add("feed.url must be a ws:// or wss:// URL, got %q", f.URL)
	}
	if f.CandleInterval.Duration <= 0 {
		add("feed.candle_interval must be positive")
	}
	if f.ReconnectDelay.Duration <= 0 || f.MaxReconnectDelay.Duration <= 0 || f.HeartbeatInterval.Duration <= 0 {
		add("feed reconnect and heartbeat durations must be positive")
	}
	if f.MaxReconnectDelay.Duration < f.ReconnectDelay.Duration {
		add("feed.max_reconnect_delay must not be below reconnect_delay")
	}
	if !(f.GapTolerance >= 1) {
		add("feed.gap_tolerance must be at least 1, got %v", f.GapTolerance)
	}

	e := c.Execution
	if e.MaxRetries < 0 {
		add("execution.max_retries must not be negative")
	}
	if e.RetryBackoff.Duration <= 0 || e.OrderTimeout.Duration <= 0 {
		add("execution.retry_backoff and order_timeout must be positive")
	}
	if !(e.PaperBalance > 0) {
		add("execution.paper_balance must be positive")
	}
	if e.SlippageBps < 0 {
		add("execution.slippage_bps must not be negative")
	}

	if c.Storage.WarmupCandles < 0 {
		add("storage.warmup_candles must not be negative")
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify.telegram_token and telegram_chat_id must be set together")
	}

	return errors.Join(errs...)
}

// IndicatorParams returns the indicator engine parameters.
func (c Config) IndicatorParams() indicator.Params {
	return indicator.Params{
		MAPeriod:       c.Strategy.MAPeriod,
		EMAPeriod:      c.Strategy.EMAPeriod,
		BBPeriod:       c.Strategy.BBPeriod,
		BBMultiplier:   c.Strategy.BBStdDevMultiplier,
		RSIPeriod:      c.Strategy.RSIPeriod,
		ATRPeriod:      c.Strategy.ATRPeriod,
		CandleInterval: c.Feed.CandleInterval.Duration,
		GapTolerance:   c.Feed.GapTolerance,
	}
}

// BufferCapacity is the largest indicator period plus slack.
func (c Config) BufferCapacity() int {
	return c.IndicatorParams().MaxPeriod() + c.Strategy.BufferSlack
}

// Evaluator returns the signal evaluator with the configured thresholds.
func (c Config) Evaluator() strategy.Evaluator {
	return strategy.Evaluator{
		Oversold:    c.Strategy.Oversold,
		Overbought:  c.Strategy.Overbought,
		StrongVotes: c.Strategy.StrongVotes,
	}
}

// Sizing returns the risk sizing configuration.
func (c Config) Sizing() portfolio.SizingConfig {
	return portfolio.SizingConfig{
		ATRStopMultiplier:  c.Strategy.ATRStopMultiplier,
		RiskRewardRatio:    c.Strategy.RiskRewardRatio,
		RiskPerTrade:       c.Strategy.RiskPerTrade,
		Leverage:           c.Strategy.Leverage,
		StrengthMultiplier: c.Strategy.StrengthMultiplier,
		MinQuantity:        c.Strategy.MinQuantity,
		MaxQuantity:        c.Strategy.MaxQuantity,
		QuantityStep:       c.Strategy.QuantityStep,
	}
}

// Coordinator returns the execution coordinator configuration.
func (c Config) Coordinator() execution.Config {
	return execution.Config{
		Instrument:   c.Service.Instrument,
		TradeGap:     c.Strategy.TradeGap.Duration,
		MaxRetries:   c.Execution.MaxRetries,
		RetryBackoff: c.Execution.RetryBackoff.Duration,
		OrderTimeout: c.Execution.OrderTimeout.Duration,
	}
}

// FeedClient returns the WebSocket feed client configuration.
func (c Config) FeedClient() feed.Config {
	return feed.Config{
		URL:               c.Feed.URL,
		SubscribeMethod:   c.Feed.SubscribeMethod,
		Channel:           c.Feed.Channel,
		ReconnectDelay:    c.Feed.ReconnectDelay.Duration,
		MaxReconnectDelay: c.Feed.MaxReconnectDelay.Duration,
		HeartbeatInterval: c.Feed.HeartbeatInterval.Duration,
	}
}
