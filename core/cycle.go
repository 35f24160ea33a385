package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/quantfold/paperbot/types"
)

// priceResult isolates one symbol's quote fetch: a failure skips the symbol
// without aborting the batch.
type priceResult struct {
	position types.Position
	snapshot types.PriceSnapshot
	err      error
}

// safeQuote shields the cycle from a misbehaving market data source: a panic
// inside the provider becomes a per-symbol error instead of killing the loop.
func (e *Engine) safeQuote(ctx context.Context, symbol string) (snap types.PriceSnapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("market data panic: %v", r)
		}
	}()
	return e.market.Quote(ctx, symbol)
}

// updatePositions marks every open position to market and closes the ones
// whose exit triggers fire. Quote fetches fan out on bounded goroutines; all
// ledger writes happen here, on the loop goroutine.
func (e *Engine) updatePositions(ctx context.Context) {
	positions := e.riskMgr.Positions()
	if len(positions) == 0 {
		return
	}

	results := make([]priceResult, len(positions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ScanConcurrency)
	for i, pos := range positions {
		i, pos := i, pos
		g.Go(func() error {
			snap, err := e.safeQuote(gctx, pos.Symbol)
			results[i] = priceResult{position: pos, snapshot: snap, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return // stopping: discard in-flight results
	}

	for _, res := range results {
		if res.err != nil {
			log.Warn().Err(res.err).Str("symbol", res.position.Symbol).Msg("Price update failed")
			e.addAlert(types.AlertError,
				fmt.Sprintf("price update failed for %s: %v", res.position.Symbol, res.err),
				res.position.Symbol)
			continue
		}

		price := res.snapshot.Price
		e.riskMgr.MarkPrice(res.position.Symbol, price)

		pos := res.position
		pos.CurrentPrice = price
		shouldExit, reason := e.riskMgr.ShouldExit(&pos, price)
		if !shouldExit {
			continue
		}

		exit := e.riskMgr.Exit(pos.Symbol, price, reason)
		if !exit.Success {
			continue
		}

		e.recordClosedTrade(exit)
		e.addAlert(types.AlertPositionClosed,
			fmt.Sprintf("closed %s: $%s P&L (%s)", exit.Symbol, exit.RealizedPnL.StringFixed(2), reason),
			exit.Symbol)
		if exit.Record != nil {
			rec := *exit.Record
			e.persist(func(s TradeStore) error { return s.SaveTrade(rec) })
		}
	}
}

func (e *Engine) recordClosedTrade(exit types.ExitResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if exit.RealizedPnL.GreaterThan(decimal.Zero) {
		e.stats.SuccessfulTrades++
	} else {
		e.stats.FailedTrades++
	}
	e.stats.CumulativeProfit = e.stats.CumulativeProfit.Add(exit.RealizedPnL)
}

// scanResult is the explicit per-symbol outcome of the scan fan-out: either
// a forecast or a skip with its reason.
type scanResult struct {
	symbol     string
	forecast   *types.Forecast
	skipReason string
}

// scanWatchlist gathers forecasts with bounded parallelism, then applies
// entry policy and sizing on the loop goroutine. Returns valid opportunities
// ranked by confidence x |percent change|, best first.
func (e *Engine) scanWatchlist(ctx context.Context) []types.Opportunity {
	if len(e.cfg.Watchlist) == 0 {
		return nil
	}

	log.Debug().Int("symbols", len(e.cfg.Watchlist)).Msg("🔍 Scanning watchlist")

	results := make([]scanResult, len(e.cfg.Watchlist))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ScanConcurrency)
	for i, symbol := range e.cfg.Watchlist {
		i, symbol := i, symbol
		g.Go(func() error {
			results[i] = e.fetchForecast(gctx, symbol)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return nil
	}

	now := e.now()
	opportunities := make([]types.Opportunity, 0, len(results))
	for _, res := range results {
		if res.skipReason != "" {
			log.Debug().Str("symbol", res.symbol).Str("reason", res.skipReason).Msg("Symbol skipped")
			e.addAlert(types.AlertError,
				fmt.Sprintf("scan skipped %s: %s", res.symbol, res.skipReason), res.symbol)
			continue
		}

		ok, reason := e.riskMgr.ShouldEnter(res.forecast)
		if !ok {
			log.Debug().Str("symbol", res.symbol).Str("reason", reason).Msg("Entry rejected")
			continue
		}

		sizing := e.riskMgr.CalculateSize(res.forecast)
		if !sizing.Valid {
			if sizing.Reason != "" {
				e.addAlert(types.AlertError,
					fmt.Sprintf("sizing invalid for %s: %s", res.symbol, sizing.Reason), res.symbol)
			}
			continue
		}

		opportunities = append(opportunities, types.Opportunity{
			Forecast: *res.forecast,
			Sizing:   sizing,
			Reason:   reason,
			ScanTime: now,
		})
		e.addAlert(types.AlertOpportunity,
			fmt.Sprintf("%s: %s signal with %s confidence",
				res.symbol, res.forecast.Signal, res.forecast.Confidence.StringFixed(2)),
			res.symbol)
	}

	sort.SliceStable(opportunities, func(i, j int) bool {
		return opportunities[i].Score().GreaterThan(opportunities[j].Score())
	})

	e.mu.Lock()
	e.stats.LastScanTime = now
	e.mu.Unlock()

	log.Info().Int("opportunities", len(opportunities)).Msg("✅ Scan complete")
	return opportunities
}

// fetchForecast ensures the symbol's model is fresh (retraining when older
// than the configured age) before requesting a forecast.
func (e *Engine) fetchForecast(ctx context.Context, symbol string) (res scanResult) {
	defer func() {
		if r := recover(); r != nil {
			res = scanResult{symbol: symbol, skipReason: fmt.Sprintf("forecast provider panic: %v", r)}
		}
	}()

	trained, ok := e.forecasts.LastTrained(symbol)
	if !ok || e.now().Sub(trained) > e.cfg.ModelMaxAge {
		log.Debug().Str("symbol", symbol).Msg("🎓 Requesting model retrain")
		if err := e.forecasts.Retrain(ctx, symbol); err != nil {
			return scanResult{symbol: symbol, skipReason: fmt.Sprintf("retrain failed: %v", err)}
		}
	}

	f, err := e.forecasts.Forecast(ctx, symbol)
	if err != nil {
		return scanResult{symbol: symbol, skipReason: fmt.Sprintf("forecast unavailable: %v", err)}
	}
	return scanResult{symbol: symbol, forecast: f}
}

// execute enters the top-ranked opportunities sequentially when auto-trade
// is on; otherwise it only reports the ranked list.
func (e *Engine) execute(ctx context.Context, opportunities []types.Opportunity) {
	if len(opportunities) == 0 {
		return
	}

	if !e.cfg.AutoTrade {
		log.Info().Int("count", len(opportunities)).Msg("💡 Opportunities found (auto-trade off)")
		return
	}

	limit := e.cfg.MaxAutoTrades
	if limit > len(opportunities) {
		limit = len(opportunities)
	}

	for i := 0; i < limit; i++ {
		if ctx.Err() != nil {
			return
		}
		e.executeTrade(ctx, opportunities[i])

		if i < limit-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.cfg.InterTradeDelay):
			}
		}
	}
}

// executeTrade refreshes the price and enters one opportunity. Both the
// auto-trade and the manual path go through here, so every entry gets a
// fresh price and has its prediction and signal persisted.
func (e *Engine) executeTrade(ctx context.Context, opp types.Opportunity) types.EntryResult {
	symbol := opp.Forecast.Symbol

	snap, err := e.safeQuote(ctx, symbol)
	if err != nil {
		e.addAlert(types.AlertError,
			fmt.Sprintf("execution aborted for %s: no current price: %v", symbol, err), symbol)
		return types.EntryResult{Symbol: symbol, Reason: fmt.Sprintf("no current price: %v", err)}
	}

	f := opp.Forecast
	f.CurrentPrice = snap.Price

	result := e.riskMgr.Enter(&f)
	if !result.Success {
		e.addAlert(types.AlertTradeRejected,
			fmt.Sprintf("trade rejected for %s: %s", symbol, result.Reason), symbol)
		return result
	}

	e.mu.Lock()
	e.stats.TotalSignals++
	e.mu.Unlock()

	e.addAlert(types.AlertTradeExecuted,
		fmt.Sprintf("%s %s @ $%s (%d shares)",
			f.Signal, symbol, f.CurrentPrice.StringFixed(2), result.Position.Shares),
		symbol)

	if result.Record != nil {
		rec := *result.Record
		e.persist(func(s TradeStore) error { return s.SaveTrade(rec) })
	}
	forecast := f
	e.persist(func(s TradeStore) error { return s.SavePrediction(forecast) })
	reason := opp.Reason
	e.persist(func(s TradeStore) error { return s.SaveSignal(forecast, reason) })

	return result
}

// ManualTrade forecasts and immediately executes one symbol, independent of
// market hours and the scan loop.
func (e *Engine) ManualTrade(ctx context.Context, symbol string) types.EntryResult {
	res := e.fetchForecast(ctx, symbol)
	if res.skipReason != "" {
		return types.EntryResult{Symbol: symbol, Reason: res.skipReason}
	}

	opp := types.Opportunity{
		Forecast: *res.forecast,
		Reason:   "manual trade",
		ScanTime: e.now(),
	}
	return e.executeTrade(ctx, opp)
}
