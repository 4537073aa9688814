package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// envPrefix namespaces every environment override.
const envPrefix = "SIGNALBOT_"

// Load builds the configuration from the built-in defaults, the TOML file at
// path (skipped when path is empty), a .env file if present, and finally
// SIGNALBOT_* environment variables. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides overwrites fields whose SIGNALBOT_* variable is set.
// Secrets (Redis password, Telegram token) are expected to come from here.
func applyEnvOverrides(cfg *Config) {
	// ── Service ──
	setStr(&cfg.Service.Instrument, "SERVICE_INSTRUMENT")
	setStr(&cfg.Service.LogLevel, "SERVICE_LOG_LEVEL")
	setStr(&cfg.Service.MetricsAddr, "SERVICE_METRICS_ADDR")

	// ── Strategy ──
	s := &cfg.Strategy
	setInt(&s.MAPeriod, "STRATEGY_MA_PERIOD")
	setInt(&s.EMAPeriod, "STRATEGY_EMA_PERIOD")
	setInt(&s.BBPeriod, "STRATEGY_BB_PERIOD")
	setFloat64(&s.BBStdDevMultiplier, "STRATEGY_BB_STD_DEV_MULTIPLIER")
	setInt(&s.RSIPeriod, "STRATEGY_RSI_PERIOD")
	setInt(&s.ATRPeriod, "STRATEGY_ATR_PERIOD")
	setFloat64(&s.ATRStopMultiplier, "STRATEGY_ATR_STOP_MULTIPLIER")
	setFloat64(&s.RiskRewardRatio, "STRATEGY_RISK_REWARD_RATIO")
	setFloat64(&s.RiskPerTrade, "STRATEGY_RISK_PER_TRADE")
	setFloat64(&s.Leverage, "STRATEGY_LEVERAGE")
	setDuration(&s.TradeGap, "STRATEGY_TRADE_GAP")
	setDuration(&s.RecomputeInterval, "STRATEGY_RECOMPUTE_INTERVAL")
	setFloat64(&s.StrengthMultiplier, "STRATEGY_STRENGTH_MULTIPLIER")
	setFloat64(&s.MinQuantity, "STRATEGY_MIN_QUANTITY")
	setFloat64(&s.MaxQuantity, "STRATEGY_MAX_QUANTITY")
	setFloat64(&s.QuantityStep, "STRATEGY_QUANTITY_STEP")
	setFloat64(&s.Oversold, "STRATEGY_OVERSOLD")
	setFloat64(&s.Overbought, "STRATEGY_OVERBOUGHT")
	setInt(&s.StrongVotes, "STRATEGY_STRONG_VOTES")
	setInt(&s.BufferSlack, "STRATEGY_BUFFER_SLACK")

	// ── Feed ──
	f := &cfg.Feed
	setStr(&f.URL, "FEED_URL")
	setStr(&f.SubscribeMethod, "FEED_SUBSCRIBE_METHOD")
	setStr(&f.Channel, "FEED_CHANNEL")
	setDuration(&f.CandleInterval, "FEED_CANDLE_INTERVAL")
	setBool(&f.BuildCandles, "FEED_BUILD_CANDLES")
	setDuration(&f.ReconnectDelay, "FEED_RECONNECT_DELAY")
	setDuration(&f.MaxReconnectDelay, "FEED_MAX_RECONNECT_DELAY")
	setDuration(&f.HeartbeatInterval, "FEED_HEARTBEAT_INTERVAL")
	setFloat64(&f.GapTolerance, "FEED_GAP_TOLERANCE")

	// ── Execution ──
	e := &cfg.Execution
	setInt(&e.MaxRetries, "EXECUTION_MAX_RETRIES")
	setDuration(&e.RetryBackoff, "EXECUTION_RETRY_BACKOFF")
	setDuration(&e.OrderTimeout, "EXECUTION_ORDER_TIMEOUT")
	setFloat64(&e.PaperBalance, "EXECUTION_PAPER_BALANCE")
	setFloat64(&e.SlippageBps, "EXECUTION_SLIPPAGE_BPS")

	// ── Storage ──
	setStr(&cfg.Storage.SQLitePath, "STORAGE_SQLITE_PATH")
	setStr(&cfg.Storage.RedisAddr, "STORAGE_REDIS_ADDR")
	setStr(&cfg.Storage.RedisPassword, "STORAGE_REDIS_PASSWORD")
	setInt(&cfg.Storage.RedisDB, "STORAGE_REDIS_DB")
	setInt(&cfg.Storage.WarmupCandles, "STORAGE_WARMUP_CANDLES")

	// ── Notify ──
	setStr(&cfg.Notify.WebhookURL, "NOTIFY_WEBHOOK_URL")
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
}

// getEnv returns the prefixed variable, or "" when unset.
func getEnv(key string) string {
	return os.Getenv(envPrefix + key)
}

func setStr(dst *string, key string) {
	if v := getEnv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := getEnv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := getEnv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := getEnv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := getEnv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
