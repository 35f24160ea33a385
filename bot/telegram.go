package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantfold/paperbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT - Trading notifications & control
// ═══════════════════════════════════════════════════════════════════════════════
//
// Features:
//   🔔 Real-time alerts drained from the engine's event queue
//   💰 Trade notifications (entries, exits, rejections)
//   📈 Daily portfolio summaries
//   🎛️ Control commands (/status, /portfolio, /trades, /buy, /pause, /resume)
//
// ═══════════════════════════════════════════════════════════════════════════════

// Orchestrator is the engine surface the bot drives.
type Orchestrator interface {
	Start()
	Stop()
	Running() bool
	Status() types.StatusSnapshot
	Events() <-chan types.Alert
	ManualTrade(ctx context.Context, symbol string) types.EntryResult
}

// TradeHistory supplies recent persisted trades for /trades.
type TradeHistory interface {
	RecentTradeRecords(limit int) ([]types.TradeRecord, error)
}

// TelegramBot manages the Telegram interface.
type TelegramBot struct {
	mu      sync.Mutex
	api     *tgbotapi.BotAPI
	chatID  int64
	running bool
	stopCh  chan struct{}

	engine  Orchestrator
	history TradeHistory // optional
}

// NewTelegramBot creates a bot for the given token and chat.
func NewTelegramBot(token string, chatID int64, engine Orchestrator, history TradeHistory) (*TelegramBot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	bot := &TelegramBot{
		api:     api,
		chatID:  chatID,
		stopCh:  make(chan struct{}),
		engine:  engine,
		history: history,
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")

	return bot, nil
}

// Start begins draining engine events and listening for commands.
func (b *TelegramBot) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.eventLoop()
	go b.commandLoop()
	log.Info().Msg("📱 Telegram bot started")
}

// Stop stops the bot.
func (b *TelegramBot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}

	b.running = false
	close(b.stopCh)
	log.Info().Msg("Telegram bot stopped")
}

// ═══════════════════════════════════════════════════════════════════════════════
// NOTIFICATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// eventLoop forwards engine alerts to the chat.
func (b *TelegramBot) eventLoop() {
	events := b.engine.Events()

	for {
		select {
		case <-b.stopCh:
			return
		case alert, ok := <-events:
			if !ok {
				return
			}
			b.notifyAlert(alert)
		}
	}
}

func (b *TelegramBot) notifyAlert(alert types.Alert) {
	var emoji, title string
	switch alert.Type {
	case types.AlertTradeExecuted:
		emoji, title = "✅", "TRADE EXECUTED"
	case types.AlertTradeRejected:
		emoji, title = "🚫", "TRADE REJECTED"
	case types.AlertPositionClosed:
		emoji, title = "📊", "POSITION CLOSED"
	case types.AlertOpportunity:
		emoji, title = "💡", "OPPORTUNITY"
	case types.AlertEngineStart:
		emoji, title = "🚀", "ENGINE STARTED"
	case types.AlertEngineStop:
		emoji, title = "🛑", "ENGINE STOPPED"
	case types.AlertError:
		emoji, title = "⚠️", "ERROR"
	default:
		emoji, title = "📌", alert.Type
	}

	msg := fmt.Sprintf("%s *%s*\n\n%s", emoji, title, alert.Message)
	if alert.Symbol != "" {
		msg += fmt.Sprintf("\n\n📊 %s", alert.Symbol)
	}

	b.sendMarkdown(msg)
}

// SendDailySummary pushes the end-of-day portfolio digest.
func (b *TelegramBot) SendDailySummary() {
	status := b.engine.Status()
	s := status.Summary

	emoji := "📈"
	if s.TotalReturn.IsNegative() {
		emoji = "📉"
	}

	msg := fmt.Sprintf(`%s *DAILY SUMMARY*
━━━━━━━━━━━━━━━━━━━━

💰 Portfolio: *$%s*
💵 Cash: *$%s*
📦 Invested: *$%s*
💼 Open Positions: *%d/%d*

━━━━━━━━━━━━━━━━━━━━
📈 Return: *%s$%s* (%s%%)
📊 Win Rate: *%s%%* (%d closed)`,
		emoji,
		s.TotalValue.StringFixed(2),
		s.CashBalance.StringFixed(2),
		s.InvestedAmount.StringFixed(2),
		s.OpenPositions, s.MaxPositions,
		pnlSign(s.TotalReturn), s.TotalReturn.StringFixed(2),
		s.TotalReturnPct.StringFixed(2),
		s.WinRate.StringFixed(1), s.ClosedTrades,
	)

	b.sendMarkdown(msg)
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) commandLoop() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.stopCh:
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}

			// Only respond to authorized chat
			if update.Message.Chat.ID != b.chatID {
				continue
			}

			b.handleCommand(update.Message)
		}
	}
}

func (b *TelegramBot) handleCommand(msg *tgbotapi.Message) {
	cmd := strings.ToLower(msg.Command())

	switch cmd {
	case "start", "help":
		b.cmdHelp()
	case "status":
		b.cmdStatus()
	case "portfolio":
		b.cmdPortfolio()
	case "positions":
		b.cmdPositions()
	case "trades":
		b.cmdTrades()
	case "buy":
		b.cmdBuy(msg.CommandArguments())
	case "pause":
		b.cmdPause()
	case "resume":
		b.cmdResume()
	case "summary":
		b.SendDailySummary()
	case "ping":
		b.send("🏓 Pong!")
	default:
		b.send("❓ Unknown command. Use /help")
	}
}

func (b *TelegramBot) cmdHelp() {
	msg := `🤖 *PAPERBOT COMMANDS*
━━━━━━━━━━━━━━━━━━━━

📊 /status — Engine status
💰 /portfolio — Portfolio summary
💼 /positions — Open positions
📜 /trades — Last 10 trades
🛒 /buy SYMBOL — Manual trade
📈 /summary — Daily digest
⏸️ /pause — Pause trading
▶️ /resume — Resume trading
🏓 /ping — Test connection`

	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdStatus() {
	status := b.engine.Status()

	state := "🔴 STOPPED"
	if status.Running {
		state = "🟢 RUNNING"
	}
	market := "CLOSED"
	if status.MarketOpen {
		market = "OPEN"
	}
	auto := "OFF"
	if status.AutoTrade {
		auto = "ON"
	}

	msg := fmt.Sprintf(`📊 *ENGINE STATUS*
━━━━━━━━━━━━━━━━━━━━

%s
🏛️ Market: *%s*
🤖 Auto-trade: *%s*
📡 Signals: *%d*
✅ Filled: *%d* | ❌ Failed: *%d*
💵 Cumulative P&L: *%s$%s*`,
		state, market, auto,
		status.Stats.TotalSignals,
		status.Stats.SuccessfulTrades, status.Stats.FailedTrades,
		pnlSign(status.Stats.CumulativeProfit), status.Stats.CumulativeProfit.StringFixed(2),
	)

	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdPortfolio() {
	s := b.engine.Status().Summary

	msg := fmt.Sprintf(`💰 *PORTFOLIO*
━━━━━━━━━━━━━━━━━━━━

💰 Total: *$%s*
💵 Cash: *$%s*
📦 Invested: *$%s*

━━━━━━━━━━━━━━━━━━━━
📈 Unrealized: *%s$%s*
💵 Realized: *%s$%s*
📊 Return: *%s%%*
🏆 Win Rate: *%s%%*`,
		s.TotalValue.StringFixed(2),
		s.CashBalance.StringFixed(2),
		s.InvestedAmount.StringFixed(2),
		pnlSign(s.UnrealizedPnL), s.UnrealizedPnL.StringFixed(2),
		pnlSign(s.RealizedPnL), s.RealizedPnL.StringFixed(2),
		s.TotalReturnPct.StringFixed(2),
		s.WinRate.StringFixed(1),
	)

	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdPositions() {
	positions := b.engine.Status().Positions

	if len(positions) == 0 {
		b.send("📭 No open positions")
		return
	}

	msg := "💼 *OPEN POSITIONS*\n━━━━━━━━━━━━━━━━━━━━\n\n"

	for i, pos := range positions {
		sideEmoji := "🟢"
		if pos.Direction == types.SignalSell {
			sideEmoji = "🔴"
		}

		msg += fmt.Sprintf(`%s *%s* — %s ×%d
💵 Entry: $%s | Now: $%s
🎯 TP: $%s | 🛑 SL: $%s
📈 P&L: %s$%s

`,
			sideEmoji, pos.Symbol, pos.Direction, pos.Shares,
			pos.EntryPrice.StringFixed(2), pos.CurrentPrice.StringFixed(2),
			pos.TakeProfit.StringFixed(2), pos.StopLoss.StringFixed(2),
			pnlSign(pos.UnrealizedPnL), pos.UnrealizedPnL.StringFixed(2),
		)

		if i >= 4 && len(positions) > 5 {
			msg += fmt.Sprintf("_... and %d more_", len(positions)-5)
			break
		}
	}

	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdTrades() {
	if b.history == nil {
		b.send("❌ Trade history not available")
		return
	}

	trades, err := b.history.RecentTradeRecords(10)
	if err != nil {
		b.send("❌ Failed to fetch trades")
		return
	}

	if len(trades) == 0 {
		b.send("📭 No trade history yet")
		return
	}

	msg := "📜 *LAST 10 TRADES*\n━━━━━━━━━━━━━━━━━━━━\n\n"

	for _, t := range trades {
		actionEmoji := "✅"
		if t.Type == types.TradeExit {
			actionEmoji = "📊"
		}

		pnlStr := ""
		if t.Type == types.TradeExit {
			pnlStr = fmt.Sprintf(" | P&L: %s$%s", pnlSign(t.RealizedPnL), t.RealizedPnL.StringFixed(2))
		}

		msg += fmt.Sprintf("%s %s %s %s ×%d @ $%s%s\n   _%s_\n\n",
			actionEmoji, t.Type, t.Symbol, t.Direction, t.Shares,
			t.Price.StringFixed(2), pnlStr,
			t.Timestamp.Format("Jan 2 15:04"),
		)
	}

	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdBuy(args string) {
	symbol := strings.ToUpper(strings.TrimSpace(args))
	if symbol == "" {
		b.send("Usage: /buy SYMBOL")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	res := b.engine.ManualTrade(ctx, symbol)
	if !res.Success {
		b.send(fmt.Sprintf("🚫 %s: %s", symbol, res.Reason))
		return
	}

	pos := res.Position
	b.sendMarkdown(fmt.Sprintf("✅ *MANUAL TRADE*\n\n📊 %s %s ×%d @ $%s",
		pos.Symbol, pos.Direction, pos.Shares, pos.EntryPrice.StringFixed(2)))
}

func (b *TelegramBot) cmdPause() {
	b.engine.Stop()
	b.send("⏸️ Trading paused")
	log.Info().Msg("Trading paused via Telegram")
}

func (b *TelegramBot) cmdResume() {
	b.engine.Start()
	b.send("▶️ Trading resumed")
	log.Info().Msg("Trading resumed via Telegram")
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func pnlSign(v decimal.Decimal) string {
	if v.IsNegative() {
		return ""
	}
	return "+"
}

func (b *TelegramBot) send(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}

func (b *TelegramBot) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}
