package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfold/paperbot/risk"
	"github.com/quantfold/paperbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE - Central orchestrator
// ═══════════════════════════════════════════════════════════════════════════════
//
// Cycle: update open positions → scan watchlist → rank → (auto) execute.
//
// The loop goroutine is the only writer of ledger state. Slow collaborator
// calls fan out on bounded goroutines; their results are applied back on the
// loop goroutine. Persistence is fire-and-forget through the worker pool.
//
// ═══════════════════════════════════════════════════════════════════════════════

// MarketData supplies price snapshots. Failures are per-symbol and non-fatal.
type MarketData interface {
	Quote(ctx context.Context, symbol string) (types.PriceSnapshot, error)
}

// ForecastProvider supplies predictions and model (re)training on demand.
type ForecastProvider interface {
	Forecast(ctx context.Context, symbol string) (*types.Forecast, error)
	Retrain(ctx context.Context, symbol string) error
	LastTrained(symbol string) (time.Time, bool)
}

// TradeStore persists trade records, predictions and signals. Every call is
// fire-and-forget from the engine's point of view.
type TradeStore interface {
	SaveTrade(rec types.TradeRecord) error
	SavePrediction(f types.Forecast) error
	SaveSignal(f types.Forecast, reason string) error
}

// Config tunes the orchestrator.
type Config struct {
	Watchlist         []string
	ScanInterval      time.Duration
	AutoTrade         bool
	TradingHoursStart int // local hour, inclusive
	TradingHoursEnd   int // local hour, exclusive
	ScanConcurrency   int
	WorkerPoolSize    int
	ModelMaxAge       time.Duration // retrain when older
	MaxAutoTrades     int           // executed per cycle
	InterTradeDelay   time.Duration
}

func (c *Config) applyDefaults() {
	if c.ScanInterval <= 0 {
		c.ScanInterval = 5 * time.Minute
	}
	if c.ScanConcurrency <= 0 {
		c.ScanConcurrency = 10
	}
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = 4
	}
	if c.ModelMaxAge <= 0 {
		c.ModelMaxAge = 7 * 24 * time.Hour
	}
	if c.MaxAutoTrades <= 0 {
		c.MaxAutoTrades = 3
	}
	if c.InterTradeDelay <= 0 {
		c.InterTradeDelay = 2 * time.Second
	}
}

type Engine struct {
	mu  sync.RWMutex
	cfg Config

	riskMgr   *risk.Manager
	market    MarketData
	forecasts ForecastProvider
	store     TradeStore // optional

	alerts *AlertLog
	events chan types.Alert
	pool   *workerPool

	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	stats types.EngineStats
	now   func() time.Time
}

// NewEngine creates the orchestrator. store may be nil to run without
// persistence.
func NewEngine(cfg Config, riskMgr *risk.Manager, market MarketData, forecasts ForecastProvider, store TradeStore) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:       cfg,
		riskMgr:   riskMgr,
		market:    market,
		forecasts: forecasts,
		store:     store,
		alerts:    NewAlertLog(),
		events:    make(chan types.Alert, alertCapacity),
		pool:      newWorkerPool(cfg.WorkerPoolSize, 64),
		now:       time.Now,
	}
}

// Events is the outbound alert queue, drained by an independent consumer
// (the Telegram notifier). Alerts are dropped, never blocked on, when the
// consumer falls behind.
func (e *Engine) Events() <-chan types.Alert {
	return e.events
}

// Risk exposes the risk manager for control surfaces (blacklist, policy).
func (e *Engine) Risk() *risk.Manager {
	return e.riskMgr
}

// Start launches the scan loop. Calling Start on a running engine warns and
// does nothing.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		log.Warn().Msg("⚠️ Engine is already running")
		return
	}
	e.running = true
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	// Counters accumulate across pause/resume; only the first Start stamps
	// the start time.
	if e.stats.StartTime.IsZero() {
		e.stats.StartTime = e.now()
	}
	e.mu.Unlock()

	e.addAlert(types.AlertEngineStart, "trading engine started", "")
	log.Info().
		Int("watchlist", len(e.cfg.Watchlist)).
		Dur("interval", e.cfg.ScanInterval).
		Bool("auto_trade", e.cfg.AutoTrade).
		Msg("⚡ Engine started")

	go e.run(ctx)
}

// Stop requests a cooperative shutdown: in-flight collaborator calls finish,
// their results are discarded, and the loop exits before the next cycle.
// Stopping a stopped engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	<-done
	e.addAlert(types.AlertEngineStop, "trading engine stopped", "")
	log.Info().Msg("Engine stopped")
}

// Close stops the engine if needed and drains the worker pool. The engine
// cannot be restarted afterwards.
func (e *Engine) Close() {
	e.Stop()
	e.pool.Stop()
}

// Running reports the loop state.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		e.runCycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runCycle executes one update → scan → execute pass. A panic escaping any
// phase is converted into an alert; the next cycle still runs.
func (e *Engine) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("trading cycle failed: %v", r)
			log.Error().Str("panic", fmt.Sprint(r)).Msg("Cycle aborted")
			e.addAlert(types.AlertError, msg, "")
		}
	}()

	now := e.now()
	if !e.marketOpen(now) {
		log.Debug().Msg("Market closed, skipping cycle")
		return
	}

	e.updatePositions(ctx)
	if ctx.Err() != nil {
		return
	}

	opportunities := e.scanWatchlist(ctx)
	if ctx.Err() != nil {
		return
	}

	e.execute(ctx, opportunities)
}

// marketOpen is a weekday + fixed-hour-window check. It does not account for
// market holidays.
func (e *Engine) marketOpen(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return t.Hour() >= e.cfg.TradingHoursStart && t.Hour() < e.cfg.TradingHoursEnd
}

// Stats returns a copy of the running counters.
func (e *Engine) Stats() types.EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// Alerts returns the most recent n alerts.
func (e *Engine) Alerts(n int) []types.Alert {
	return e.alerts.Recent(n)
}

// Status assembles the full snapshot consumed by presentation layers.
func (e *Engine) Status() types.StatusSnapshot {
	e.mu.RLock()
	running := e.running
	autoTrade := e.cfg.AutoTrade
	stats := e.stats
	e.mu.RUnlock()

	return types.StatusSnapshot{
		Running:    running,
		AutoTrade:  autoTrade,
		MarketOpen: e.marketOpen(e.now()),
		Summary:    e.riskMgr.Summary(),
		Positions:  e.riskMgr.Positions(),
		Stats:      stats,
		Alerts:     e.alerts.Recent(10),
	}
}

// addAlert records an alert, logs it, and offers it to the outbound queue
// without ever blocking the caller.
func (e *Engine) addAlert(alertType, message, symbol string) {
	a := types.Alert{
		Type:      alertType,
		Message:   message,
		Symbol:    symbol,
		Timestamp: e.now(),
	}
	e.alerts.Append(a)

	log.Info().Str("type", alertType).Str("symbol", symbol).Msg("🔔 " + message)

	select {
	case e.events <- a:
	default:
		log.Warn().Str("type", alertType).Msg("Alert queue full, event dropped")
	}
}

// persist submits a storage call to the worker pool. A nil store or a full
// pool is silently tolerated; storage errors are logged by the store itself.
func (e *Engine) persist(task func(TradeStore) error) {
	if e.store == nil {
		return
	}
	store := e.store
	e.pool.Submit(func() {
		if err := task(store); err != nil {
			log.Warn().Err(err).Msg("Persistence call failed")
		}
	})
}
