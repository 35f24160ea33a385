package risk

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/paperbot/types"
)

func TestShouldEnter_OrderedChecks(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(m *Manager)
		forecast   *types.Forecast
		wantOK     bool
		wantReason string
	}{
		{
			name:       "blacklist rejects regardless of confidence",
			setup:      func(m *Manager) { m.Blacklist("aapl", "test") },
			forecast:   buyForecast("AAPL", 150, 10, 0.99),
			wantReason: "blacklisted",
		},
		{
			name:       "low confidence",
			forecast:   buyForecast("AAPL", 150, 10, 0.4),
			wantReason: "confidence too low",
		},
		{
			name: "hold signal",
			forecast: &types.Forecast{
				Symbol: "AAPL", CurrentPrice: decimal.NewFromInt(150),
				Confidence: decimal.NewFromFloat(0.9), Signal: types.SignalHold,
			},
			wantReason: "signal is HOLD",
		},
		{
			name:       "expected return below 3% for BUY",
			forecast:   buyForecast("AAPL", 150, 1.5, 0.9),
			wantReason: "expected return too low",
		},
		{
			name:     "all checks pass",
			forecast: buyForecast("AAPL", 150, 6.67, 0.75),
			wantOK:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(10000)
			if tt.setup != nil {
				tt.setup(m)
			}
			ok, reason := m.ShouldEnter(tt.forecast)
			assert.Equal(t, tt.wantOK, ok, "reason: %s", reason)
			if tt.wantReason != "" {
				assert.Contains(t, reason, tt.wantReason)
			}
		})
	}
}

func TestShouldEnter_PositionLimit(t *testing.T) {
	m := newTestManager(1_000_000)
	for i := 0; i < m.Policy().MaxPositions; i++ {
		sym := fmt.Sprintf("SYM%d", i)
		res := m.Enter(buyForecast(sym, 50, 6, 0.9))
		require.True(t, res.Success, "entering %s: %s", sym, res.Reason)
	}
	require.Equal(t, m.Policy().MaxPositions, len(m.Positions()))

	// 11th distinct symbol is rejected with a position-count reason.
	ok, reason := m.ShouldEnter(buyForecast("EXTRA", 50, 6, 0.9))
	assert.False(t, ok)
	assert.Contains(t, reason, "too many positions")

	// A symbol already held is exempt from the count check.
	ok, _ = m.ShouldEnter(buyForecast("SYM0", 50, 6, 0.9))
	assert.True(t, ok)
}

func TestEnter_DebitsCashExactly(t *testing.T) {
	m := newTestManager(10000)

	res := m.Enter(buyForecast("AAPL", 150, 6.67, 0.75))

	require.True(t, res.Success, res.Reason)
	require.NotNil(t, res.Position)
	assert.Equal(t, int64(1), res.Position.Shares)
	assert.True(t, m.Cash().Equal(decimal.NewFromInt(9850)), "cash = %s", m.Cash())
	assert.Equal(t, types.StatusOpen, res.Position.Status)

	// One open position per symbol: re-entering the same symbol while held
	// must not create a second instance.
	assert.Len(t, m.Positions(), 1)
}

func TestEnter_FailureLeavesLedgerUntouched(t *testing.T) {
	m := newTestManager(10000)
	before := m.Cash()

	res := m.Enter(buyForecast("AAPL", 150, 1.0, 0.75)) // return below 3%

	assert.False(t, res.Success)
	assert.True(t, m.Cash().Equal(before))
	assert.Empty(t, m.Positions())
	assert.Empty(t, m.History())
}

func TestExit_CreditsProceedsAndRecordsPnL(t *testing.T) {
	m := newTestManager(10000)
	require.True(t, m.Enter(buyForecast("AAPL", 150, 6.67, 0.75)).Success)
	cashAfterEntry := m.Cash()

	res := m.Exit("AAPL", decimal.NewFromInt(165), "take profit")

	require.True(t, res.Success)
	assert.True(t, res.RealizedPnL.Equal(decimal.NewFromInt(15)), "pnl = %s", res.RealizedPnL)
	assert.True(t, res.Proceeds.Equal(decimal.NewFromInt(165)))
	assert.True(t, m.Cash().Equal(cashAfterEntry.Add(decimal.NewFromInt(165))))
	assert.Empty(t, m.Positions())

	require.NotNil(t, res.Record)
	assert.Equal(t, types.TradeExit, res.Record.Type)
}

func TestExit_ShortPositionPnLInverted(t *testing.T) {
	m := newTestManager(10000)
	f := buyForecast("TSLA", 80, -6, 0.9)
	f.Signal = types.SignalSell
	require.True(t, m.Enter(f).Success, "short entry")

	res := m.Exit("TSLA", decimal.NewFromInt(70), "take profit")

	require.True(t, res.Success)
	// Short from $80 to $70: profit of $10 per share.
	perShare := res.RealizedPnL.Div(decimal.NewFromInt(res.Record.Shares))
	assert.True(t, perShare.Equal(decimal.NewFromInt(10)), "pnl/share = %s", perShare)
}

func TestExit_NotFound(t *testing.T) {
	m := newTestManager(10000)
	res := m.Exit("GHOST", decimal.NewFromInt(10), "stop loss")
	assert.False(t, res.Success)
	assert.Contains(t, res.Reason, "no open position")
}

func TestMarkPrice_UpdatesUnrealizedPnL(t *testing.T) {
	m := newTestManager(10000)
	require.True(t, m.Enter(buyForecast("AAPL", 150, 6.67, 0.75)).Success)

	m.MarkPrice("AAPL", decimal.NewFromInt(160))

	pos := m.Positions()[0]
	assert.True(t, pos.CurrentPrice.Equal(decimal.NewFromInt(160)))
	assert.True(t, pos.UnrealizedPnL.Equal(decimal.NewFromInt(10)))
}

func TestSummary_WinRate(t *testing.T) {
	m := newTestManager(100000)

	assert.True(t, m.Summary().WinRate.IsZero(), "win rate with no closed trades")

	// Three round trips: two winners, one loser -> 66.67%.
	closes := []struct {
		symbol string
		exit   int64
	}{
		{"AAA", 60}, {"BBB", 55}, {"CCC", 40},
	}
	for _, c := range closes {
		require.True(t, m.Enter(buyForecast(c.symbol, 50, 6, 0.9)).Success)
		require.True(t, m.Exit(c.symbol, decimal.NewFromInt(c.exit), "test").Success)
	}

	sum := m.Summary()
	assert.Equal(t, 3, sum.ClosedTrades)
	assert.Equal(t, "66.67", sum.WinRate.StringFixed(2))
}

func TestPortfolioValue_Recomputed(t *testing.T) {
	m := newTestManager(10000)
	require.True(t, m.Enter(buyForecast("AAPL", 150, 6.67, 0.75)).Success)

	m.MarkPrice("AAPL", decimal.NewFromInt(200))

	// cash 9850 + 1 share @ 200
	assert.True(t, m.PortfolioValue().Equal(decimal.NewFromInt(10050)),
		"value = %s", m.PortfolioValue())
}

func TestBlacklist_NormalizesSymbol(t *testing.T) {
	m := newTestManager(10000)
	m.Blacklist(" nflx ", "volatile")

	ok, reason := m.ShouldEnter(buyForecast("NFLX", 400, 6, 0.9))
	assert.False(t, ok)
	assert.Contains(t, reason, "blacklisted")

	m.Unblacklist("nflx")
	ok, _ = m.ShouldEnter(buyForecast("NFLX", 400, 6, 0.9))
	assert.True(t, ok)
}

func TestUpdatePolicy_Whitelist(t *testing.T) {
	m := newTestManager(10000)

	require.NoError(t, m.UpdatePolicy("min_confidence", 0.8))
	assert.True(t, m.Policy().MinConfidence.Equal(decimal.NewFromFloat(0.8)))

	ok, _ := m.ShouldEnter(buyForecast("AAPL", 150, 6, 0.75))
	assert.False(t, ok, "0.75 confidence must fail the raised threshold")

	err := m.UpdatePolicy("leverage", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown policy setting")
}

func TestPositionLifecycle_NoReopen(t *testing.T) {
	m := newTestManager(10000)
	m.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }

	first := m.Enter(buyForecast("AAPL", 150, 6.67, 0.75))
	require.True(t, first.Success)
	require.True(t, m.Exit("AAPL", decimal.NewFromInt(160), "test").Success)

	second := m.Enter(buyForecast("AAPL", 150, 6.67, 0.75))
	require.True(t, second.Success)
	assert.NotSame(t, first.Position, second.Position, "a later entry creates a new instance")
}
