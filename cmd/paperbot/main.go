// Paperbot - AI-assisted paper trading bot
//
// Scans a stock watchlist on a fixed interval, asks an external prediction
// service for forecasts, sizes positions against a risk policy, and simulates
// the resulting trades against a paper ledger. No real orders are ever placed.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantfold/paperbot/bot"
	"github.com/quantfold/paperbot/config"
	"github.com/quantfold/paperbot/core"
	"github.com/quantfold/paperbot/feeds"
	"github.com/quantfold/paperbot/predictor"
	"github.com/quantfold/paperbot/risk"
	"github.com/quantfold/paperbot/storage"
)

const version = "1.0.0"

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Int("watchlist", len(cfg.Watchlist)).
		Bool("auto_trade", cfg.AutoTrade).
		Msg("📈 Paperbot starting...")

	// ====== PERSISTENCE ======
	db, err := storage.New(cfg.DatabaseTarget())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	// ====== MARKET DATA ======
	var stream *feeds.Stream
	if cfg.StreamURL != "" {
		stream = feeds.NewStream(cfg.StreamURL)
		stream.Start()
	}
	market := feeds.NewService(stream)

	// ====== FORECASTS ======
	forecasts := predictor.New(cfg.PredictorURL)
	log.Info().Str("url", cfg.PredictorURL).Msg("🔮 Prediction service client ready")

	// ====== RISK MANAGER ======
	riskMgr := risk.NewManager(cfg.InitialBalance, risk.Policy{
		MaxRiskPerTrade:  cfg.MaxRiskPerTrade,
		MaxPortfolioRisk: cfg.MaxPortfolioRisk,
		MaxPositions:     cfg.MaxPositions,
		StopLossPct:      cfg.StopLossPct,
		TakeProfitPct:    cfg.TakeProfitPct,
		MinConfidence:    cfg.MinConfidence,
	})

	// ====== TRADING ENGINE ======
	engine := core.NewEngine(core.Config{
		Watchlist:         cfg.Watchlist,
		ScanInterval:      cfg.ScanInterval,
		AutoTrade:         cfg.AutoTrade,
		TradingHoursStart: cfg.TradingHoursStart,
		TradingHoursEnd:   cfg.TradingHoursEnd,
		ScanConcurrency:   cfg.ScanConcurrency,
		WorkerPoolSize:    cfg.WorkerPoolSize,
	}, riskMgr, market, forecasts, db)

	engine.Start()

	// ====== TELEGRAM BOT ======
	var telegramBot *bot.TelegramBot
	if cfg.TelegramEnabled() {
		telegramBot, err = bot.NewTelegramBot(cfg.TelegramToken, cfg.TelegramChatID, engine, db)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Telegram bot")
		}
		telegramBot.Start()
	} else {
		log.Warn().Msg("⚠️ Telegram not configured - running without notifications")
	}

	// ====== DAILY SUMMARY ======
	scheduler := cron.New()
	if telegramBot != nil {
		if _, err := scheduler.AddFunc(cfg.DailySummaryCron, telegramBot.SendDailySummary); err != nil {
			log.Error().Err(err).Str("spec", cfg.DailySummaryCron).Msg("Failed to schedule daily summary")
		} else {
			scheduler.Start()
			log.Info().Str("spec", cfg.DailySummaryCron).Msg("🗓️ Daily summary scheduled")
		}
	}

	// ====== STARTUP COMPLETE ======
	log.Info().Msg("✅ All systems online")
	log.Info().Msg("💡 Use /help in Telegram for commands")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("🛑 Received shutdown signal")

	// Graceful shutdown
	sched := scheduler.Stop()
	<-sched.Done()
	if telegramBot != nil {
		telegramBot.Stop()
	}
	engine.Close()
	if stream != nil {
		stream.Stop()
	}

	log.Info().Msg("👋 Goodbye!")
}
