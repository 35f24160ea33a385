package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantfold/paperbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RISK MANAGER - Gatekeeper for all paper trades
// ═══════════════════════════════════════════════════════════════════════════════
//
// Responsibilities:
// 1. Validate forecasts before entry (ordered, short-circuiting checks)
// 2. Size positions (see sizing.go)
// 3. Drive the position lifecycle: entry, mark-to-market, exit
// 4. Keep the ledger invariants: cash >= 0, open positions <= max,
//    one open position per symbol
//
// All writes come from the single orchestrator goroutine; the mutex exists so
// status and summary reads are safe from other goroutines.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Policy holds the mutable risk limits.
type Policy struct {
	MaxRiskPerTrade  decimal.Decimal
	MaxPortfolioRisk decimal.Decimal
	MaxPositions     int
	StopLossPct      decimal.Decimal
	TakeProfitPct    decimal.Decimal
	MinConfidence    decimal.Decimal
}

// DefaultPolicy mirrors the documented configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRiskPerTrade:  decimal.NewFromFloat(0.02),
		MaxPortfolioRisk: decimal.NewFromFloat(0.20),
		MaxPositions:     10,
		StopLossPct:      decimal.NewFromFloat(0.08),
		TakeProfitPct:    decimal.NewFromFloat(0.15),
		MinConfidence:    decimal.NewFromFloat(0.60),
	}
}

var minExpectedReturn = decimal.NewFromFloat(3.0) // percent, BUY entries only

type Manager struct {
	mu     sync.RWMutex
	policy Policy
	ledger *Ledger
	now    func() time.Time
}

// NewManager creates a risk manager owning a fresh ledger.
func NewManager(initialBalance decimal.Decimal, policy Policy) *Manager {
	log.Info().
		Str("initial_balance", "$"+initialBalance.StringFixed(2)).
		Str("max_risk_per_trade", policy.MaxRiskPerTrade.Mul(decimal.NewFromInt(100)).String()+"%").
		Int("max_positions", policy.MaxPositions).
		Msg("🛡️ Risk manager initialized")

	return &Manager{
		policy: policy,
		ledger: NewLedger(initialBalance),
		now:    time.Now,
	}
}

// ShouldEnter runs the ordered entry checks. The reason names the first
// failing check; rejections are results, not errors.
func (m *Manager) ShouldEnter(f *types.Forecast) (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shouldEnter(f)
}

func (m *Manager) shouldEnter(f *types.Forecast) (bool, string) {
	symbol := normalizeSymbol(f.Symbol)

	if m.ledger.IsBlacklisted(symbol) {
		return false, fmt.Sprintf("%s is blacklisted", symbol)
	}

	if f.Confidence.LessThan(m.policy.MinConfidence) {
		return false, fmt.Sprintf("confidence too low: %s < %s",
			f.Confidence.StringFixed(2), m.policy.MinConfidence.StringFixed(2))
	}

	if f.Signal == types.SignalHold {
		return false, "signal is HOLD"
	}

	if _, held := m.ledger.Position(symbol); !held && m.ledger.OpenCount() >= m.policy.MaxPositions {
		return false, fmt.Sprintf("too many positions: %d/%d",
			m.ledger.OpenCount(), m.policy.MaxPositions)
	}

	if f.Signal == types.SignalBuy && f.PercentChange.LessThan(minExpectedReturn) {
		return false, fmt.Sprintf("expected return too low: %s%% < %s%%",
			f.PercentChange.StringFixed(2), minExpectedReturn.StringFixed(1))
	}

	// 10% of the balance stays in reserve; what remains must cover a minimum trade.
	reserve := m.ledger.Cash().Mul(decimal.NewFromFloat(0.1))
	if m.ledger.Cash().Sub(reserve).LessThan(minTradeAmount) {
		return false, "insufficient funds"
	}

	return true, fmt.Sprintf("trade approved: %s %s with %s confidence",
		f.Signal, symbol, f.Confidence.StringFixed(2))
}

// Enter re-validates the forecast, sizes the position and, on success,
// mutates the ledger: creates the position, debits cash, appends the ENTRY
// record. On failure the ledger is untouched.
func (m *Manager) Enter(f *types.Forecast) types.EntryResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	symbol := normalizeSymbol(f.Symbol)

	ok, reason := m.shouldEnter(f)
	if !ok {
		return types.EntryResult{Symbol: symbol, Reason: reason}
	}

	sizing := m.calculateSize(f)
	if !sizing.Valid {
		return types.EntryResult{Symbol: symbol, Reason: "invalid position size: " + sizing.Reason}
	}

	now := m.now()
	stopLoss, takeProfit := m.exitLevels(f.CurrentPrice, f.Signal)

	pos := &types.Position{
		Symbol:       symbol,
		Direction:    f.Signal,
		Shares:       sizing.Shares,
		EntryPrice:   f.CurrentPrice,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		EntryTime:    now,
		CurrentPrice: f.CurrentPrice,
		Status:       types.StatusOpen,
		Confidence:   f.Confidence,
	}

	record := types.TradeRecord{
		Type:      types.TradeEntry,
		Symbol:    symbol,
		Direction: f.Signal,
		Shares:    sizing.Shares,
		Price:     f.CurrentPrice,
		Amount:    sizing.InvestmentAmount,
		Timestamp: now,
		Reason: fmt.Sprintf("forecast: %s%% expected with %s confidence",
			f.PercentChange.StringFixed(2), f.Confidence.StringFixed(2)),
	}

	m.ledger.open(pos, sizing.InvestmentAmount, record)

	log.Info().
		Str("symbol", symbol).
		Str("side", f.Signal).
		Int64("shares", sizing.Shares).
		Str("entry", "$"+f.CurrentPrice.StringFixed(2)).
		Str("amount", "$"+sizing.InvestmentAmount.StringFixed(2)).
		Msg("✅ Position opened")

	return types.EntryResult{Success: true, Symbol: symbol, Position: pos, Record: &record}
}

// MarkPrice updates one open position with the latest price and recomputes
// its unrealized PnL. Unknown symbols are ignored.
func (m *Manager) MarkPrice(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.ledger.Position(symbol)
	if !ok {
		return
	}
	pos.CurrentPrice = price
	pos.UnrealizedPnL = unrealizedPnL(pos, price)
}

// Exit closes the open position for symbol at exitPrice, credits the
// proceeds and appends the EXIT record. Fails when no position is open.
func (m *Manager) Exit(symbol string, exitPrice decimal.Decimal, reason string) types.ExitResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	symbol = normalizeSymbol(symbol)
	pos, ok := m.ledger.Position(symbol)
	if !ok {
		return types.ExitResult{Symbol: symbol, Reason: fmt.Sprintf("no open position for %s", symbol)}
	}

	realized := unrealizedPnL(pos, exitPrice)
	proceeds := exitPrice.Mul(decimal.NewFromInt(pos.Shares))
	now := m.now()

	record := types.TradeRecord{
		Type:        types.TradeExit,
		Symbol:      symbol,
		Direction:   pos.Direction,
		Shares:      pos.Shares,
		Price:       exitPrice,
		Amount:      proceeds,
		RealizedPnL: realized,
		Timestamp:   now,
		Reason:      reason,
		DaysHeld:    pos.DaysHeld(now),
	}

	pos.Status = types.StatusClosed
	m.ledger.close(symbol, proceeds, record)

	log.Info().
		Str("symbol", symbol).
		Str("exit", "$"+exitPrice.StringFixed(2)).
		Str("pnl", "$"+realized.StringFixed(2)).
		Str("reason", reason).
		Msg("🔄 Position closed")

	return types.ExitResult{
		Success:     true,
		Symbol:      symbol,
		Reason:      reason,
		RealizedPnL: realized,
		Proceeds:    proceeds,
		Record:      &record,
	}
}

// unrealizedPnL is direction-aware: SELL positions profit when price falls.
func unrealizedPnL(pos *types.Position, price decimal.Decimal) decimal.Decimal {
	shares := decimal.NewFromInt(pos.Shares)
	if pos.Direction == types.SignalSell {
		return pos.EntryPrice.Sub(price).Mul(shares)
	}
	return price.Sub(pos.EntryPrice).Mul(shares)
}

// Positions returns copies of all open positions.
func (m *Manager) Positions() []types.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger.Positions()
}

// Cash returns the current cash balance.
func (m *Manager) Cash() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger.Cash()
}

// PortfolioValue is cash plus mark-to-market over all open positions.
func (m *Manager) PortfolioValue() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger.Value()
}

// History returns the append-only trade history.
func (m *Manager) History() []types.TradeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger.History()
}

// Summary aggregates the ledger into a portfolio snapshot. Win rate is
// computed from closed trade records only.
func (m *Manager) Summary() types.PortfolioSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totalValue := m.ledger.Value()

	var invested, unrealized decimal.Decimal
	for _, pos := range m.ledger.positions {
		invested = invested.Add(pos.EntryPrice.Mul(decimal.NewFromInt(pos.Shares)))
		unrealized = unrealized.Add(pos.UnrealizedPnL)
	}

	var realized decimal.Decimal
	closed, wins := 0, 0
	for _, rec := range m.ledger.history {
		if rec.Type != types.TradeExit {
			continue
		}
		closed++
		realized = realized.Add(rec.RealizedPnL)
		if rec.RealizedPnL.GreaterThan(decimal.Zero) {
			wins++
		}
	}

	winRate := decimal.Zero
	if closed > 0 {
		winRate = decimal.NewFromInt(int64(wins)).
			Div(decimal.NewFromInt(int64(closed))).
			Mul(decimal.NewFromInt(100))
	}

	totalReturn := totalValue.Sub(m.ledger.initialBalance)
	totalReturnPct := decimal.Zero
	if m.ledger.initialBalance.GreaterThan(decimal.Zero) {
		totalReturnPct = totalReturn.Div(m.ledger.initialBalance).Mul(decimal.NewFromInt(100))
	}

	return types.PortfolioSummary{
		TotalValue:     totalValue,
		CashBalance:    m.ledger.Cash(),
		InvestedAmount: invested,
		UnrealizedPnL:  unrealized,
		RealizedPnL:    realized,
		TotalReturn:    totalReturn,
		TotalReturnPct: totalReturnPct,
		WinRate:        winRate,
		OpenPositions:  m.ledger.OpenCount(),
		MaxPositions:   m.policy.MaxPositions,
		ClosedTrades:   closed,
	}
}

// Blacklist adds a symbol to the blacklist.
func (m *Manager) Blacklist(symbol, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	symbol = normalizeSymbol(symbol)
	m.ledger.blacklist[symbol] = struct{}{}
	log.Info().Str("symbol", symbol).Str("reason", reason).Msg("🚫 Symbol blacklisted")
}

// Unblacklist removes a symbol from the blacklist.
func (m *Manager) Unblacklist(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ledger.blacklist, normalizeSymbol(symbol))
}

// Policy returns a copy of the current limits.
func (m *Manager) Policy() Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy
}

// UpdatePolicy mutates one whitelisted policy field by name. Unknown names
// are rejected, not silently ignored.
func (m *Manager) UpdatePolicy(name string, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := decimal.NewFromFloat(value)
	switch name {
	case "max_risk_per_trade":
		m.policy.MaxRiskPerTrade = d
	case "max_portfolio_risk":
		m.policy.MaxPortfolioRisk = d
	case "max_positions":
		if value < 1 {
			return fmt.Errorf("max_positions must be at least 1, got %v", value)
		}
		m.policy.MaxPositions = int(value)
	case "stop_loss_pct":
		m.policy.StopLossPct = d
	case "take_profit_pct":
		m.policy.TakeProfitPct = d
	case "min_confidence":
		m.policy.MinConfidence = d
	default:
		return fmt.Errorf("unknown policy setting %q", name)
	}

	log.Info().Str("setting", name).Float64("value", value).Msg("🔧 Policy updated")
	return nil
}
