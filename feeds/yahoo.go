package feeds

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/piquette/finance-go/quote"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/quantfold/paperbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// YAHOO QUOTE SERVICE - Delayed stock quotes with a short-lived cache
// ═══════════════════════════════════════════════════════════════════════════════
//
// Used for:
//   - Marking open positions to market each cycle
//   - Pricing watchlist candidates before entry
//
// A live WebSocket stream, when attached, is consulted before the HTTP API.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	quoteCacheTTL    = 60 * time.Second
	quoteConcurrency = 10
)

type cacheEntry struct {
	snapshot types.PriceSnapshot
	storedAt time.Time
}

// CacheStats reports quote cache effectiveness.
type CacheStats struct {
	Entries int
	Hits    uint64
	Misses  uint64
	TTL     time.Duration
}

// Service fetches stock quotes, caching each symbol briefly to avoid
// hammering the upstream API during a scan.
type Service struct {
	mu     sync.Mutex
	cache  map[string]cacheEntry
	hits   uint64
	misses uint64

	stream *Stream

	fetch func(symbol string) (types.PriceSnapshot, error)
	now   func() time.Time
}

// NewService creates a quote service. stream may be nil; when set, fresh
// streamed prices short-circuit the HTTP fetch.
func NewService(stream *Stream) *Service {
	return &Service{
		cache:  make(map[string]cacheEntry),
		stream: stream,
		fetch:  fetchYahoo,
		now:    time.Now,
	}
}

// Quote returns the current snapshot for a symbol.
func (s *Service) Quote(ctx context.Context, symbol string) (types.PriceSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return types.PriceSnapshot{}, err
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return types.PriceSnapshot{}, fmt.Errorf("empty symbol")
	}

	if s.stream != nil {
		if snap, ok := s.stream.Snapshot(symbol); ok {
			return snap, nil
		}
	}

	s.mu.Lock()
	if entry, ok := s.cache[symbol]; ok && s.now().Sub(entry.storedAt) < quoteCacheTTL {
		s.hits++
		s.mu.Unlock()
		return entry.snapshot, nil
	}
	s.misses++
	s.mu.Unlock()

	snap, err := s.fetch(symbol)
	if err != nil {
		return types.PriceSnapshot{}, fmt.Errorf("quote %s: %w", symbol, err)
	}

	s.mu.Lock()
	s.cache[symbol] = cacheEntry{snapshot: snap, storedAt: s.now()}
	s.mu.Unlock()

	return snap, nil
}

// Quotes fetches many symbols in parallel. Symbols that fail are skipped;
// the returned map holds only the successes.
func (s *Service) Quotes(ctx context.Context, symbols []string) map[string]types.PriceSnapshot {
	results := make([]types.PriceSnapshot, len(symbols))
	ok := make([]bool, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(quoteConcurrency)
	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			snap, err := s.Quote(gctx, symbol)
			if err != nil {
				log.Warn().Err(err).Str("symbol", symbol).Msg("Quote fetch failed")
				return nil
			}
			results[i] = snap
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]types.PriceSnapshot, len(symbols))
	for i := range symbols {
		if ok[i] {
			out[results[i].Symbol] = results[i]
		}
	}
	return out
}

// Stats returns current cache statistics.
func (s *Service) Stats() CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CacheStats{
		Entries: len(s.cache),
		Hits:    s.hits,
		Misses:  s.misses,
		TTL:     quoteCacheTTL,
	}
}

// ClearCache drops every cached quote.
func (s *Service) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]cacheEntry)
	log.Debug().Msg("🧹 Quote cache cleared")
}

// fetchYahoo pulls one quote from the Yahoo Finance API.
func fetchYahoo(symbol string) (types.PriceSnapshot, error) {
	q, err := quote.Get(symbol)
	if err != nil {
		return types.PriceSnapshot{}, err
	}
	if q == nil {
		return types.PriceSnapshot{}, fmt.Errorf("no data for %s", symbol)
	}

	return types.PriceSnapshot{
		Symbol:        symbol,
		Price:         decimal.NewFromFloat(q.RegularMarketPrice),
		Open:          decimal.NewFromFloat(q.RegularMarketOpen),
		Change:        decimal.NewFromFloat(q.RegularMarketChange),
		PercentChange: decimal.NewFromFloat(q.RegularMarketChangePercent),
		Volume:        int64(q.RegularMarketVolume),
		High:          decimal.NewFromFloat(q.RegularMarketDayHigh),
		Low:           decimal.NewFromFloat(q.RegularMarketDayLow),
		Timestamp:     time.Now(),
	}, nil
}
