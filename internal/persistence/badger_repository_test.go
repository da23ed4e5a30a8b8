package persistence

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"binance-ai-trader-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := NewBadgerStore("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func openTrade(id string, user int64, symbol string) *models.TradeLog {
	return &models.TradeLog{
		ID:         id,
		UserID:     user,
		Symbol:     symbol,
		EntryTime:  time.Now(),
		EntryPrice: decimal.NewFromInt(10000),
		Quantity:   decimal.NewFromInt(1),
	}
}

func exitAt(price, pnl int64, at time.Time) models.TradeExit {
	return models.TradeExit{
		Time:          at,
		Price:         decimal.NewFromInt(price),
		PnL:           decimal.NewFromInt(pnl),
		ClientOrderID: "x1",
		Reason:        models.ExitTakeProfit,
		ClosedBy:      "primary",
	}
}

func TestOpenTradeIsUniquePerUserAndSymbol(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.OpenTrade(openTrade("a", 1, "BTCUSDT")))
	err := s.OpenTrade(openTrade("b", 1, "BTCUSDT"))
	assert.ErrorIs(t, err, ErrPositionOpen)

	// other user, other symbol are independent
	require.NoError(t, s.OpenTrade(openTrade("c", 2, "BTCUSDT")))
	require.NoError(t, s.OpenTrade(openTrade("d", 1, "ETHUSDT")))

	open, err := s.OpenTrades()
	require.NoError(t, err)
	assert.Len(t, open, 3)

	has, err := s.HasOpenTrade(1, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestCloseTradeIsTerminal(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.OpenTrade(openTrade("a", 1, "BTCUSDT")))

	now := time.Now()
	closed, err := s.CloseTrade("a", exitAt(10050, 50, now))
	require.NoError(t, err)
	assert.True(t, closed.Closed)
	assert.True(t, decimal.NewFromInt(50).Equal(*closed.PnL))
	assert.Equal(t, "x1", closed.ExitClientOrderID)

	_, err = s.CloseTrade("a", exitAt(1, -9999, now))
	assert.ErrorIs(t, err, ErrTradeClosed)

	stored, err := s.Trade("a")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(50).Equal(*stored.PnL), "second close must not overwrite")

	has, err := s.HasOpenTrade(1, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, has)

	// a fresh trade can open after the close
	require.NoError(t, s.OpenTrade(openTrade("b", 1, "BTCUSDT")))

	_, err = s.CloseTrade("missing", exitAt(1, 1, now))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentClosesApplyOnce(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.OpenTrade(openTrade("a", 1, "BTCUSDT")))

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.CloseTrade("a", exitAt(10050, int64(i), time.Now()))
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrTradeClosed)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}

func TestRecentClosedProfitable(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	for i, pnl := range []int64{10, -5, 20} {
		id := fmt.Sprintf("t%d", i)
		require.NoError(t, s.OpenTrade(openTrade(id, 1, fmt.Sprintf("S%dUSDT", i))))
		_, err := s.CloseTrade(id, exitAt(1, pnl, now.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	require.NoError(t, s.OpenTrade(openTrade("old", 1, "OLDUSDT")))
	_, err := s.CloseTrade("old", exitAt(1, 100, now.Add(-2*time.Hour)))
	require.NoError(t, err)
	require.NoError(t, s.OpenTrade(openTrade("other", 2, "S0USDT")))
	_, err = s.CloseTrade("other", exitAt(1, 100, now))
	require.NoError(t, err)

	recent, err := s.RecentClosedProfitable(1, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "t0", recent[0].ID)
	assert.Equal(t, "t2", recent[1].ID)

	all, err := s.ClosedTrades(1)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestPairs(t *testing.T) {
	s := newTestStore(t)
	pair := models.ProfitablePair{UserID: 1, Symbol: "BTCUSDT", TakeProfitPct: decimal.NewFromFloat(0.5), StopLossPct: decimal.NewFromFloat(0.3), Active: true}
	require.NoError(t, s.UpsertPair(pair))
	require.NoError(t, s.UpsertPair(models.ProfitablePair{UserID: 12, Symbol: "ETHUSDT", Active: true}))

	// upsert replaces instead of duplicating
	pair.TakeProfitPct = decimal.NewFromFloat(0.7)
	require.NoError(t, s.UpsertPair(pair))

	active, err := s.ActivePairs(1)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, decimal.NewFromFloat(0.7).Equal(active[0].TakeProfitPct))

	require.NoError(t, s.SetPairActive(1, "BTCUSDT", false))
	active, err = s.ActivePairs(1)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := s.AllActivePairs()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	assert.ErrorIs(t, s.SetPairActive(1, "NOPE", true), ErrNotFound)
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)

	_, err := s.UserSettings(5)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveUserSettings(models.UserSettings{UserID: 5, Enabled: true, Strategy: models.StrategyRsiEma}))
	require.NoError(t, s.SaveUserSettings(models.UserSettings{UserID: 2}))
	us, err := s.UserSettings(5)
	require.NoError(t, err)
	assert.True(t, us.Enabled)

	list, err := s.ListUserSettings()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(2), list[0].UserID)

	_, err = s.StrategySettings(5, models.StrategyFibonacciGrid)
	assert.ErrorIs(t, err, ErrNotFound)

	fib := models.DefaultFibonacciGridSettings()
	fib.GridLevels = 9
	require.NoError(t, s.SaveStrategySettings(5, fib))
	got, err := s.StrategySettings(5, models.StrategyFibonacciGrid)
	require.NoError(t, err)
	assert.Equal(t, 9, got.(*models.FibonacciGridSettings).GridLevels)
}

func TestCandlesNewestLimitAscending(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var candles []models.Candle
	for i := 0; i < 10; i++ {
		candles = append(candles, models.Candle{
			Symbol:    "BTCUSDT",
			Timeframe: "1m",
			OpenTime:  base.Add(time.Duration(i) * time.Minute),
			Close:     decimal.NewFromInt(int64(100 + i)),
		})
	}
	require.NoError(t, s.SaveCandles(candles))
	require.NoError(t, s.SaveCandles([]models.Candle{{Symbol: "BTCUSDT", Timeframe: "5m", OpenTime: base}}))

	got, err := s.LoadCandles("BTCUSDT", "1m", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, decimal.NewFromInt(107).Equal(got[0].Close))
	assert.True(t, decimal.NewFromInt(109).Equal(got[2].Close))

	all, err := s.LoadCandles("BTCUSDT", "1m", 0)
	require.NoError(t, err)
	assert.Len(t, all, 10)
}
