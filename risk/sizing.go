package risk

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantfold/paperbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION SIZING - Risk-budget pipeline with confidence / volatility clamps
// ═══════════════════════════════════════════════════════════════════════════════
//
// Pipeline (order matters, outputs must be deterministic):
//   1. baseRisk   = cash * maxRiskPerTrade
//   2. adjusted   = baseRisk * clamp(confidence, 0.5, 1.5)
//   3. adjusted  *= clamp(1/(1+volatility), 0.5, 1.2)   (only when supplied)
//   4. shares     = floor(adjusted / entryPrice)
//   5. scale down by maxPortfolioRisk / (adjusted / portfolioValue) when breached
//   6. cap investment at 90% of cash (10% reserve)
//   7. valid when shares > 0 and investment > $100
//
// ═══════════════════════════════════════════════════════════════════════════════

var (
	confidenceFloor  = decimal.NewFromFloat(0.5)
	confidenceCeil   = decimal.NewFromFloat(1.5)
	volatilityFloor  = decimal.NewFromFloat(0.5)
	volatilityCeil   = decimal.NewFromFloat(1.2)
	cashReserveRatio = decimal.NewFromFloat(0.9) // keep 10% cash
	minTradeAmount   = decimal.NewFromInt(100)
)

// CalculateSize runs the sizing pipeline for a forecast against the current
// ledger state. Degenerate inputs never panic: they produce an invalid result
// with a reason.
func (m *Manager) CalculateSize(f *types.Forecast) types.SizingResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calculateSize(f)
}

func (m *Manager) calculateSize(f *types.Forecast) types.SizingResult {
	result := types.SizingResult{
		Symbol:         normalizeSymbol(f.Symbol),
		EntryPrice:     f.CurrentPrice,
		ConfidenceUsed: f.Confidence,
	}

	if f.CurrentPrice.LessThanOrEqual(decimal.Zero) {
		result.Reason = "entry price must be positive"
		log.Warn().Str("symbol", result.Symbol).Str("price", f.CurrentPrice.String()).
			Msg("Sizing rejected: degenerate entry price")
		return result
	}

	baseRisk := m.ledger.Cash().Mul(m.policy.MaxRiskPerTrade)
	adjustedRisk := baseRisk.Mul(clamp(f.Confidence, confidenceFloor, confidenceCeil))

	// Higher volatility shrinks the position.
	if f.Volatility.Valid {
		denom := decimal.NewFromInt(1).Add(f.Volatility.Decimal)
		if denom.LessThanOrEqual(decimal.Zero) {
			result.Reason = "volatility out of range"
			return result
		}
		volMult := clamp(decimal.NewFromInt(1).Div(denom), volatilityFloor, volatilityCeil)
		adjustedRisk = adjustedRisk.Mul(volMult)
	}

	shares := adjustedRisk.Div(f.CurrentPrice).IntPart()

	// Portfolio-level risk cap: scale down proportionally when the adjusted
	// risk exceeds the allowed share of total portfolio value.
	portfolioValue := m.ledger.Value()
	if portfolioValue.GreaterThan(decimal.Zero) {
		currentRisk := adjustedRisk.Div(portfolioValue)
		if currentRisk.GreaterThan(m.policy.MaxPortfolioRisk) {
			scale := m.policy.MaxPortfolioRisk.Div(currentRisk)
			shares = decimal.NewFromInt(shares).Mul(scale).IntPart()
		}
	}

	investment := decimal.NewFromInt(shares).Mul(f.CurrentPrice)

	// Cash reserve: never deploy more than 90% of the balance.
	available := m.ledger.Cash().Mul(cashReserveRatio)
	if investment.GreaterThan(available) {
		shares = available.Div(f.CurrentPrice).IntPart()
		investment = decimal.NewFromInt(shares).Mul(f.CurrentPrice)
	}

	result.Shares = shares
	result.InvestmentAmount = investment
	result.RiskAmount = adjustedRisk
	result.Valid = shares > 0 && investment.GreaterThan(minTradeAmount)
	if !result.Valid && result.Reason == "" {
		result.Reason = "position below minimum trade size"
	}
	return result
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
