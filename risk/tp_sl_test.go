package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/paperbot/types"
)

func openTestPosition(t *testing.T, m *Manager, signal string) *types.Position {
	t.Helper()
	f := buyForecast("AAPL", 100, 6, 1.0)
	f.Signal = signal
	if signal == types.SignalSell {
		f.PercentChange = decimal.NewFromFloat(-6)
	}
	res := m.Enter(f)
	require.True(t, res.Success, res.Reason)
	return res.Position
}

func TestExitLevels(t *testing.T) {
	m := newTestManager(10000)

	long := openTestPosition(t, m, types.SignalBuy)
	// 8% stop, 15% target around $100.
	assert.Equal(t, "92.00", long.StopLoss.StringFixed(2))
	assert.Equal(t, "115.00", long.TakeProfit.StringFixed(2))

	short := func() *types.Position {
		m2 := newTestManager(10000)
		return openTestPosition(t, m2, types.SignalSell)
	}()
	assert.Equal(t, "108.00", short.StopLoss.StringFixed(2))
	assert.Equal(t, "85.00", short.TakeProfit.StringFixed(2))
}

func TestShouldExit_Triggers(t *testing.T) {
	tests := []struct {
		name       string
		direction  string
		price      float64
		wantExit   bool
		wantReason string
	}{
		{"long stop loss at threshold", types.SignalBuy, 92, true, "stop loss"},
		{"long stop loss breach", types.SignalBuy, 80, true, "stop loss"},
		{"long take profit at threshold", types.SignalBuy, 115, true, "take profit"},
		{"long holds in range", types.SignalBuy, 100, false, "acceptable"},
		{"short stop loss on rally", types.SignalSell, 108, true, "stop loss"},
		{"short take profit on drop", types.SignalSell, 85, true, "take profit"},
		{"short holds in range", types.SignalSell, 100, false, "acceptable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(10000)
			pos := openTestPosition(t, m, tt.direction)

			exit, reason := m.ShouldExit(pos, decimal.NewFromFloat(tt.price))

			assert.Equal(t, tt.wantExit, exit, reason)
			assert.Contains(t, reason, tt.wantReason)
		})
	}
}

func TestShouldExit_TimeBased(t *testing.T) {
	m := newTestManager(10000)
	pos := openTestPosition(t, m, types.SignalBuy)

	// 31 days later at an unremarkable price: time exit fires.
	m.now = func() time.Time { return pos.EntryTime.Add(31 * 24 * time.Hour) }
	exit, reason := m.ShouldExit(pos, decimal.NewFromInt(100))
	assert.True(t, exit)
	assert.Contains(t, reason, "time-based exit")

	// Exactly 30 days is still within the window.
	m.now = func() time.Time { return pos.EntryTime.Add(30 * 24 * time.Hour) }
	exit, _ = m.ShouldExit(pos, decimal.NewFromInt(100))
	assert.False(t, exit)
}
