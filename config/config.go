package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// defaultWatchlist is the set of symbols scanned when WATCHLIST is unset.
var defaultWatchlist = []string{
	"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA", "META", "NVDA",
	"NFLX", "AMD", "INTC", "CRM", "ORCL", "ADBE", "PYPL",
}

// Config holds all configuration for the bot
type Config struct {
	// Portfolio
	InitialBalance decimal.Decimal

	// Risk policy
	MaxRiskPerTrade  decimal.Decimal
	MaxPortfolioRisk decimal.Decimal
	MaxPositions     int
	StopLossPct      decimal.Decimal
	TakeProfitPct    decimal.Decimal
	MinConfidence    decimal.Decimal

	// Orchestration
	Watchlist         []string
	ScanInterval      time.Duration
	AutoTrade         bool
	TradingHoursStart int
	TradingHoursEnd   int
	WorkerPoolSize    int
	ScanConcurrency   int

	// Collaborators
	PredictorURL string
	StreamURL    string // optional live price WebSocket

	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Database
	DatabasePath string
	DatabaseURL  string

	// Scheduling
	DailySummaryCron string

	// Mode
	Debug bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		// Portfolio
		InitialBalance: getEnvDecimal("INITIAL_BALANCE", decimal.NewFromInt(100000)),

		// Risk policy
		MaxRiskPerTrade:  getEnvDecimal("MAX_RISK_PER_TRADE", decimal.NewFromFloat(0.02)),
		MaxPortfolioRisk: getEnvDecimal("MAX_PORTFOLIO_RISK", decimal.NewFromFloat(0.20)),
		MaxPositions:     getEnvInt("MAX_POSITIONS", 10),
		StopLossPct:      getEnvDecimal("STOP_LOSS_PCT", decimal.NewFromFloat(0.08)),
		TakeProfitPct:    getEnvDecimal("TAKE_PROFIT_PCT", decimal.NewFromFloat(0.15)),
		MinConfidence:    getEnvDecimal("MIN_CONFIDENCE", decimal.NewFromFloat(0.60)),

		// Orchestration
		Watchlist:         getEnvList("WATCHLIST", defaultWatchlist),
		ScanInterval:      time.Duration(getEnvInt("SCAN_INTERVAL_SECONDS", 300)) * time.Second,
		AutoTrade:         getEnvBool("AUTO_TRADE", false),
		TradingHoursStart: getEnvInt("TRADING_HOURS_START", 9),
		TradingHoursEnd:   getEnvInt("TRADING_HOURS_END", 16),
		WorkerPoolSize:    getEnvInt("WORKER_POOL_SIZE", 4),
		ScanConcurrency:   getEnvInt("SCAN_CONCURRENCY", 10),

		// Collaborators
		PredictorURL: getEnv("PREDICTOR_URL", "http://localhost:8000"),
		StreamURL:    os.Getenv("STREAM_URL"),

		// Telegram
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		// Database
		DatabasePath: getEnv("DATABASE_PATH", "data/paperbot.db"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),

		// Scheduling
		DailySummaryCron: getEnv("DAILY_SUMMARY_CRON", "0 17 * * 1-5"),

		Debug: getEnvBool("DEBUG", false),
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if cfg.InitialBalance.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("INITIAL_BALANCE must be positive")
	}
	if cfg.TradingHoursStart >= cfg.TradingHoursEnd {
		return nil, fmt.Errorf("TRADING_HOURS_START must be before TRADING_HOURS_END")
	}
	if len(cfg.Watchlist) == 0 {
		return nil, fmt.Errorf("WATCHLIST must not be empty")
	}

	return cfg, nil
}

// DatabaseTarget is the connection string for storage: DATABASE_URL when set,
// otherwise the SQLite path.
func (c *Config) DatabaseTarget() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.DatabasePath
}

// TelegramEnabled reports whether notifier credentials are configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
