package risk

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/quantfold/paperbot/types"
)

// Ledger owns the portfolio state: cash balance, open positions keyed by
// symbol, the symbol blacklist and the append-only trade history. All
// mutation goes through the Manager; the ledger itself is not safe for
// concurrent use.
type Ledger struct {
	initialBalance decimal.Decimal
	cash           decimal.Decimal
	positions      map[string]*types.Position
	blacklist      map[string]struct{}
	history        []types.TradeRecord
}

// NewLedger creates an empty ledger funded with the initial balance.
func NewLedger(initialBalance decimal.Decimal) *Ledger {
	return &Ledger{
		initialBalance: initialBalance,
		cash:           initialBalance,
		positions:      make(map[string]*types.Position),
		blacklist:      make(map[string]struct{}),
	}
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() decimal.Decimal {
	return l.cash
}

// Position returns the open position for symbol, if any.
func (l *Ledger) Position(symbol string) (*types.Position, bool) {
	pos, ok := l.positions[normalizeSymbol(symbol)]
	return pos, ok
}

// OpenCount returns the number of open positions.
func (l *Ledger) OpenCount() int {
	return len(l.positions)
}

// Positions returns copies of all open positions.
func (l *Ledger) Positions() []types.Position {
	out := make([]types.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, *pos)
	}
	return out
}

// IsBlacklisted reports whether symbol is on the blacklist.
func (l *Ledger) IsBlacklisted(symbol string) bool {
	_, ok := l.blacklist[normalizeSymbol(symbol)]
	return ok
}

// History returns the append-only trade history.
func (l *Ledger) History() []types.TradeRecord {
	out := make([]types.TradeRecord, len(l.history))
	copy(out, l.history)
	return out
}

// Value is cash plus the mark-to-market value of every open position,
// recomputed on each call.
func (l *Ledger) Value() decimal.Decimal {
	value := l.cash
	for _, pos := range l.positions {
		value = value.Add(pos.MarketValue())
	}
	return value
}

// open adds a position and debits cash by the investment amount.
func (l *Ledger) open(pos *types.Position, investment decimal.Decimal, record types.TradeRecord) {
	l.positions[pos.Symbol] = pos
	l.cash = l.cash.Sub(investment)
	l.history = append(l.history, record)
}

// close removes a position and credits cash with the proceeds.
func (l *Ledger) close(symbol string, proceeds decimal.Decimal, record types.TradeRecord) {
	delete(l.positions, symbol)
	l.cash = l.cash.Add(proceeds)
	l.history = append(l.history, record)
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
