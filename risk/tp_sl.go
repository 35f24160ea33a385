package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quantfold/paperbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TP/SL - Exit levels and exit-trigger evaluation
// ═══════════════════════════════════════════════════════════════════════════════

// maxHoldDays is the time-based exit: positions held longer are closed on the
// next update regardless of price.
const maxHoldDays = 30

var one = decimal.NewFromInt(1)

// exitLevels computes direction-aware stop-loss and take-profit prices.
// BUY: stop below entry, target above. SELL inverts both.
func (m *Manager) exitLevels(entry decimal.Decimal, signal string) (stopLoss, takeProfit decimal.Decimal) {
	if signal == types.SignalSell {
		return entry.Mul(one.Add(m.policy.StopLossPct)), entry.Mul(one.Sub(m.policy.TakeProfitPct))
	}
	return entry.Mul(one.Sub(m.policy.StopLossPct)), entry.Mul(one.Add(m.policy.TakeProfitPct))
}

// ShouldExit evaluates the exit triggers for one position against the
// current price. Checks are ordered: stop-loss, take-profit, max hold time.
func (m *Manager) ShouldExit(pos *types.Position, currentPrice decimal.Decimal) (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if pos.Direction == types.SignalSell {
		if currentPrice.GreaterThanOrEqual(pos.StopLoss) {
			return true, fmt.Sprintf("stop loss triggered: $%s >= $%s",
				currentPrice.StringFixed(2), pos.StopLoss.StringFixed(2))
		}
		if currentPrice.LessThanOrEqual(pos.TakeProfit) {
			return true, fmt.Sprintf("take profit triggered: $%s <= $%s",
				currentPrice.StringFixed(2), pos.TakeProfit.StringFixed(2))
		}
	} else {
		if currentPrice.LessThanOrEqual(pos.StopLoss) {
			return true, fmt.Sprintf("stop loss triggered: $%s <= $%s",
				currentPrice.StringFixed(2), pos.StopLoss.StringFixed(2))
		}
		if currentPrice.GreaterThanOrEqual(pos.TakeProfit) {
			return true, fmt.Sprintf("take profit triggered: $%s >= $%s",
				currentPrice.StringFixed(2), pos.TakeProfit.StringFixed(2))
		}
	}

	if days := pos.DaysHeld(m.now()); days > maxHoldDays {
		return true, fmt.Sprintf("time-based exit: held for %d days", days)
	}

	return false, "position within acceptable parameters"
}
