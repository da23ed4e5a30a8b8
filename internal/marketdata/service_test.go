package marketdata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"binance-ai-trader-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockCandleRepository records saves and signals each one on saveDoneChan.
type mockCandleRepository struct {
	sync.Mutex
	saved        []models.Candle
	saveCalled   bool
	stored       []models.Candle
	saveDoneChan chan bool
}

func newMockCandleRepository() *mockCandleRepository {
	return &mockCandleRepository{saveDoneChan: make(chan bool, 8)}
}

func (m *mockCandleRepository) SaveCandles(candles []models.Candle) error {
	m.Lock()
	defer m.Unlock()
	m.saveCalled = true
	m.saved = append(m.saved, candles...)
	m.saveDoneChan <- true
	return nil
}

func (m *mockCandleRepository) LoadCandles(symbol, timeframe string, limit int) ([]models.Candle, error) {
	m.Lock()
	defer m.Unlock()
	return m.stored, nil
}

func (m *mockCandleRepository) wasSaveCalled() bool {
	m.Lock()
	defer m.Unlock()
	return m.saveCalled
}

// mockSource blocks nothing; it counts calls and fails when err is set.
type mockSource struct {
	sync.Mutex
	candles []models.Candle
	err     error
	calls   int
}

func (m *mockSource) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	m.Lock()
	defer m.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.candles, nil
}

func (m *mockSource) callCount() int {
	m.Lock()
	defer m.Unlock()
	return m.calls
}

func series(n int) []models.Candle {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{Symbol: "BTCUSDT", Timeframe: "1m", OpenTime: base.Add(time.Duration(i) * time.Minute), Close: decimal.NewFromInt(int64(100 + i))}
	}
	return out
}

func TestAsyncPersistence(t *testing.T) {
	repo := newMockCandleRepository()
	src := &mockSource{candles: series(5)}
	svc := NewService(src, repo, 0, zap.NewNop())
	svc.Start()
	defer svc.Stop()

	got, err := svc.LoadHistory(context.Background(), "BTCUSDT", "1m", 5)
	require.NoError(t, err)
	assert.Len(t, got, 5)

	select {
	case <-repo.saveDoneChan:
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for async SaveCandles call")
	}
	assert.True(t, repo.wasSaveCalled())
}

func TestFallbackToStoredCandles(t *testing.T) {
	repo := newMockCandleRepository()
	repo.stored = series(3)
	src := &mockSource{err: errors.New("exchange down")}
	svc := NewService(src, repo, 0, zap.NewNop())

	got, err := svc.LoadHistory(context.Background(), "BTCUSDT", "1m", 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	// nothing stored: the fetch error surfaces
	empty := NewService(src, newMockCandleRepository(), 0, zap.NewNop())
	_, err = empty.LoadHistory(context.Background(), "BTCUSDT", "1m", 3)
	assert.Error(t, err)

	noRepo := NewService(src, nil, 0, zap.NewNop())
	_, err = noRepo.LoadHistory(context.Background(), "BTCUSDT", "1m", 3)
	assert.Error(t, err)
}

func TestCacheServesWithinTTL(t *testing.T) {
	src := &mockSource{candles: series(10)}
	svc := NewService(src, nil, time.Minute, zap.NewNop())
	ctx := context.Background()

	_, err := svc.LoadHistory(ctx, "BTCUSDT", "1m", 10)
	require.NoError(t, err)
	got, err := svc.LoadHistory(ctx, "BTCUSDT", "1m", 4)
	require.NoError(t, err)
	assert.Equal(t, 1, src.callCount())
	require.Len(t, got, 4)
	assert.True(t, decimal.NewFromInt(109).Equal(got[3].Close))

	// a larger window than cached goes back to the exchange
	_, err = svc.LoadHistory(ctx, "BTCUSDT", "1m", 20)
	require.NoError(t, err)
	assert.Equal(t, 2, src.callCount())

	// other timeframe is a separate entry
	_, err = svc.LoadHistory(ctx, "BTCUSDT", "5m", 4)
	require.NoError(t, err)
	assert.Equal(t, 3, src.callCount())
}

func TestStopFlushesQueue(t *testing.T) {
	repo := newMockCandleRepository()
	svc := NewService(&mockSource{candles: series(2)}, repo, 0, zap.NewNop())

	// not started: the batch waits in the queue until Stop drains it
	_, err := svc.LoadHistory(context.Background(), "BTCUSDT", "1m", 2)
	require.NoError(t, err)
	svc.Start()
	svc.Stop()
	assert.True(t, repo.wasSaveCalled())
}
