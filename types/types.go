package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Trading signals.
const (
	SignalBuy  = "BUY"
	SignalSell = "SELL"
	SignalHold = "HOLD"
)

// Position status values.
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// Trade record types.
const (
	TradeEntry = "ENTRY"
	TradeExit  = "EXIT"
)

// Forecast is the prediction emitted by the external model service.
type Forecast struct {
	Symbol         string              `json:"symbol"`
	CurrentPrice   decimal.Decimal     `json:"current_price"`
	PredictedPrice decimal.Decimal     `json:"predicted_price"`
	PercentChange  decimal.Decimal     `json:"percent_change"`
	Confidence     decimal.Decimal     `json:"confidence"` // 0..1
	Signal         string              `json:"signal"`     // BUY, SELL, HOLD
	ModelAccuracy  decimal.Decimal     `json:"accuracy_score"`
	Volatility     decimal.NullDecimal `json:"volatility"` // optional
	TrainedAt      time.Time           `json:"trained_at"`
}

// Position is an open paper-trading holding in one symbol.
type Position struct {
	Symbol        string
	Direction     string // BUY or SELL
	Shares        int64
	EntryPrice    decimal.Decimal
	StopLoss      decimal.Decimal
	TakeProfit    decimal.Decimal
	EntryTime     time.Time
	CurrentPrice  decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Status        string
	Confidence    decimal.Decimal
}

// DaysHeld returns whole days since entry, relative to now.
func (p *Position) DaysHeld(now time.Time) int {
	return int(now.Sub(p.EntryTime).Hours() / 24)
}

// MarketValue is shares marked at the current price.
func (p *Position) MarketValue() decimal.Decimal {
	return p.CurrentPrice.Mul(decimal.NewFromInt(p.Shares))
}

// TradeRecord is one entry in the append-only trade history.
type TradeRecord struct {
	Type        string // ENTRY or EXIT
	Symbol      string
	Direction   string
	Shares      int64
	Price       decimal.Decimal
	Amount      decimal.Decimal
	RealizedPnL decimal.Decimal // EXIT only
	Timestamp   time.Time
	Reason      string
	DaysHeld    int // EXIT only
}

// PriceSnapshot is one quote from the market-data collaborator.
type PriceSnapshot struct {
	Symbol        string
	Price         decimal.Decimal
	Open          decimal.Decimal
	Change        decimal.Decimal
	PercentChange decimal.Decimal
	Volume        int64
	High          decimal.Decimal
	Low           decimal.Decimal
	Timestamp     time.Time
}

// SizingResult is the outcome of the position-sizing pipeline.
type SizingResult struct {
	Symbol           string
	Shares           int64
	InvestmentAmount decimal.Decimal
	EntryPrice       decimal.Decimal
	RiskAmount       decimal.Decimal
	ConfidenceUsed   decimal.Decimal
	Valid            bool
	Reason           string // set when invalid
}

// EntryResult reports an attempted position entry.
type EntryResult struct {
	Success  bool
	Symbol   string
	Reason   string
	Position *Position
	Record   *TradeRecord
}

// ExitResult reports an attempted position exit.
type ExitResult struct {
	Success     bool
	Symbol      string
	Reason      string
	RealizedPnL decimal.Decimal
	Proceeds    decimal.Decimal
	Record      *TradeRecord
}

// Opportunity is a forecast that passed entry eligibility with a valid sizing.
type Opportunity struct {
	Forecast Forecast
	Sizing   SizingResult
	Reason   string
	ScanTime time.Time
}

// Score ranks opportunities by confidence x |percent change|.
func (o *Opportunity) Score() decimal.Decimal {
	return o.Forecast.Confidence.Mul(o.Forecast.PercentChange.Abs())
}

// Alert types emitted by the engine.
const (
	AlertOpportunity    = "OPPORTUNITY"
	AlertTradeExecuted  = "TRADE_EXECUTED"
	AlertTradeRejected  = "TRADE_REJECTED"
	AlertPositionClosed = "POSITION_CLOSED"
	AlertError          = "ERROR"
	AlertEngineStart    = "ENGINE_START"
	AlertEngineStop     = "ENGINE_STOP"
)

// Alert is one entry in the engine's bounded event log.
type Alert struct {
	Type      string
	Message   string
	Symbol    string
	Timestamp time.Time
}

// PortfolioSummary is the deterministic aggregation over the ledger.
type PortfolioSummary struct {
	TotalValue     decimal.Decimal
	CashBalance    decimal.Decimal
	InvestedAmount decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	RealizedPnL    decimal.Decimal
	TotalReturn    decimal.Decimal
	TotalReturnPct decimal.Decimal
	WinRate        decimal.Decimal // percent, 0 with no closed trades
	OpenPositions  int
	MaxPositions   int
	ClosedTrades   int
}

// EngineStats are the orchestrator's running counters.
type EngineStats struct {
	TotalSignals     int
	SuccessfulTrades int
	FailedTrades     int
	CumulativeProfit decimal.Decimal
	StartTime        time.Time
	LastScanTime     time.Time
}

// SuccessRate is successful/(successful+failed) as a percentage, 0 when empty.
func (s *EngineStats) SuccessRate() decimal.Decimal {
	total := s.SuccessfulTrades + s.FailedTrades
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(s.SuccessfulTrades)).
		Div(decimal.NewFromInt(int64(total))).
		Mul(decimal.NewFromInt(100))
}

// StatusSnapshot is the full engine status for presentation layers.
type StatusSnapshot struct {
	Running    bool
	AutoTrade  bool
	MarketOpen bool
	Summary    PortfolioSummary
	Positions  []Position
	Stats      EngineStats
	Alerts     []Alert
}
