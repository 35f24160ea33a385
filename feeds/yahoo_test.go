package feeds

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/paperbot/types"
)

func stubSnapshot(symbol string, price float64) types.PriceSnapshot {
	return types.PriceSnapshot{
		Symbol:    symbol,
		Price:     decimal.NewFromFloat(price),
		Timestamp: time.Now(),
	}
}

func TestService_QuoteCachesWithinTTL(t *testing.T) {
	var calls int64
	s := NewService(nil)
	s.fetch = func(symbol string) (types.PriceSnapshot, error) {
		atomic.AddInt64(&calls, 1)
		return stubSnapshot(symbol, 150), nil
	}

	ctx := context.Background()

	first, err := s.Quote(ctx, "aapl ")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", first.Symbol)

	second, err := s.Quote(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, first.Price.Equal(second.Price))

	assert.EqualValues(t, 1, atomic.LoadInt64(&calls), "second lookup must hit the cache")

	stats := s.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
}

func TestService_QuoteRefetchesAfterTTL(t *testing.T) {
	var calls int64
	now := time.Now()
	s := NewService(nil)
	s.fetch = func(symbol string) (types.PriceSnapshot, error) {
		atomic.AddInt64(&calls, 1)
		return stubSnapshot(symbol, 150), nil
	}
	s.now = func() time.Time { return now }

	ctx := context.Background()
	_, err := s.Quote(ctx, "AAPL")
	require.NoError(t, err)

	now = now.Add(quoteCacheTTL + time.Second)
	_, err = s.Quote(ctx, "AAPL")
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt64(&calls))
}

func TestService_QuoteRejectsEmptySymbol(t *testing.T) {
	s := NewService(nil)
	_, err := s.Quote(context.Background(), "   ")
	assert.Error(t, err)
}

func TestService_QuotesSkipsFailures(t *testing.T) {
	s := NewService(nil)
	s.fetch = func(symbol string) (types.PriceSnapshot, error) {
		if symbol == "BAD" {
			return types.PriceSnapshot{}, fmt.Errorf("upstream unavailable")
		}
		return stubSnapshot(symbol, 100), nil
	}

	got := s.Quotes(context.Background(), []string{"AAPL", "BAD", "MSFT"})

	assert.Len(t, got, 2)
	assert.Contains(t, got, "AAPL")
	assert.Contains(t, got, "MSFT")
	assert.NotContains(t, got, "BAD")
}

func TestService_ClearCache(t *testing.T) {
	s := NewService(nil)
	s.fetch = func(symbol string) (types.PriceSnapshot, error) {
		return stubSnapshot(symbol, 100), nil
	}

	_, err := s.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Equal(t, 1, s.Stats().Entries)

	s.ClearCache()
	assert.Equal(t, 0, s.Stats().Entries)
}

func TestService_PrefersFreshStreamedPrice(t *testing.T) {
	st := NewStream("wss://example.invalid/ws")
	st.applyTick(tickerMessage{Symbol: "AAPL", Last: "151.25", Open: "150.00"})

	var calls int64
	s := NewService(st)
	s.fetch = func(symbol string) (types.PriceSnapshot, error) {
		atomic.AddInt64(&calls, 1)
		return stubSnapshot(symbol, 150), nil
	}

	snap, err := s.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.True(t, snap.Price.Equal(decimal.RequireFromString("151.25")))
	assert.EqualValues(t, 0, atomic.LoadInt64(&calls), "streamed price must skip the HTTP fetch")
}

func TestStream_SnapshotExpires(t *testing.T) {
	now := time.Now()
	st := NewStream("wss://example.invalid/ws")
	st.now = func() time.Time { return now }

	st.applyTick(tickerMessage{Symbol: "MSFT", Last: "402.10", Open: "400.00"})

	snap, ok := st.Snapshot("MSFT")
	require.True(t, ok)
	assert.True(t, snap.Change.Equal(decimal.RequireFromString("2.10")))

	now = now.Add(streamStaleAfter + time.Second)
	_, ok = st.Snapshot("MSFT")
	assert.False(t, ok)
}

func TestStream_ProcessMessageBatchAndSingle(t *testing.T) {
	st := NewStream("wss://example.invalid/ws")

	st.processMessage([]byte(`[{"s":"AAPL","c":"150.5","o":"149.0","h":"151.0","l":"148.5","v":"1200"}]`))
	st.processMessage([]byte(`{"s":"TSLA","c":"240.0","o":"250.0","h":"252.0","l":"238.0","v":"900"}`))

	aapl, ok := st.Snapshot("AAPL")
	require.True(t, ok)
	assert.EqualValues(t, 1200, aapl.Volume)

	tsla, ok := st.Snapshot("TSLA")
	require.True(t, ok)
	assert.True(t, tsla.PercentChange.LessThan(decimal.Zero))
}

func TestStream_PingLoopEndsWithConnection(t *testing.T) {
	st := NewStream("wss://example.invalid/ws")

	connDone := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		st.pingLoop(connDone)
		close(exited)
	}()

	close(connDone)
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("ping loop must exit when its connection ends")
	}
}

func TestStream_IgnoresMalformedTicks(t *testing.T) {
	st := NewStream("wss://example.invalid/ws")

	st.processMessage([]byte(`{"s":"","c":"10"}`))
	st.processMessage([]byte(`{"s":"AAPL","c":"not-a-number"}`))
	st.processMessage([]byte(`{"s":"AAPL","c":"-5"}`))
	st.processMessage([]byte(`garbage`))

	_, ok := st.Snapshot("AAPL")
	assert.False(t, ok)
}
