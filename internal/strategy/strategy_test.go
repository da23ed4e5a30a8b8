package strategy

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"binance-ai-trader-go/internal/models"
	"binance-ai-trader-go/internal/persistence"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSettings is an in-memory SettingsStore.
type memSettings struct {
	sync.Mutex
	data  map[int64]map[models.StrategyType]models.StrategySettings
	saves int
}

func newMemSettings() *memSettings {
	return &memSettings{data: make(map[int64]map[models.StrategyType]models.StrategySettings)}
}

func (m *memSettings) StrategySettings(userID int64, t models.StrategyType) (models.StrategySettings, error) {
	m.Lock()
	defer m.Unlock()
	s, ok := m.data[userID][t]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return s, nil
}

func (m *memSettings) SaveStrategySettings(userID int64, s models.StrategySettings) error {
	m.Lock()
	defer m.Unlock()
	if m.data[userID] == nil {
		m.data[userID] = make(map[models.StrategyType]models.StrategySettings)
	}
	m.data[userID][s.StrategyType()] = s
	m.saves++
	return nil
}

func bar(i int, close, volume float64) models.Candle {
	c := decimal.NewFromFloat(close)
	return models.Candle{
		Symbol:   "BTCUSDT",
		OpenTime: time.Unix(int64(i*60), 0),
		Open:     c,
		High:     c,
		Low:      c,
		Close:    c,
		Volume:   decimal.NewFromFloat(volume),
	}
}

func trend(n int, start, step float64) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = bar(i, start+step*float64(i), 10)
	}
	return out
}

func TestRegistry(t *testing.T) {
	store := newMemSettings()
	r := NewRegistry(NewRsiEma(store), NewScalping(store), NewFibonacciGrid(store))

	s, err := r.Get(models.StrategyScalping)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyScalping, s.Type())

	_, err = r.Get(models.StrategyMLModel)
	assert.ErrorIs(t, err, ErrUnsupportedStrategy)

	assert.Equal(t, []models.StrategyType{models.StrategyFibonacciGrid, models.StrategyRsiEma, models.StrategyScalping}, r.Types())
}

func TestSettingsCreatesDefaultsOnce(t *testing.T) {
	store := newMemSettings()
	s := NewFibonacciGrid(store)

	got, err := s.Settings(7)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultFibonacciGridSettings(), got)
	assert.Equal(t, 1, store.saves)

	_, err = s.Settings(7)
	require.NoError(t, err)
	assert.Equal(t, 1, store.saves, "stored settings are reused")
}

func TestEvaluateRejectsForeignSettings(t *testing.T) {
	s := NewRsiEma(newMemSettings())
	sig, err := s.Evaluate(context.Background(), trend(50, 100, 1), models.DefaultScalpingSettings())
	assert.Error(t, err)
	assert.Equal(t, models.SignalHold, sig)
}

func TestRsiEma(t *testing.T) {
	s := NewRsiEma(newMemSettings())
	ctx := context.Background()

	t.Run("insufficient data holds", func(t *testing.T) {
		sig, err := s.Evaluate(ctx, trend(10, 100, 1), models.DefaultRsiEmaSettings())
		require.NoError(t, err)
		assert.Equal(t, models.SignalHold, sig)
	})

	t.Run("uptrend with permissive buy threshold buys", func(t *testing.T) {
		cfg := models.DefaultRsiEmaSettings()
		cfg.RsiBuyThreshold = 101
		sig, err := s.Evaluate(ctx, trend(60, 100, 1), cfg)
		require.NoError(t, err)
		assert.Equal(t, models.SignalBuy, sig)
	})

	t.Run("downtrend with permissive sell threshold sells", func(t *testing.T) {
		cfg := models.DefaultRsiEmaSettings()
		cfg.RsiSellThreshold = -1
		sig, err := s.Evaluate(ctx, trend(60, 200, -1), cfg)
		require.NoError(t, err)
		assert.Equal(t, models.SignalSell, sig)
	})

	t.Run("overbought uptrend holds", func(t *testing.T) {
		sig, err := s.Evaluate(ctx, trend(60, 100, 1), models.DefaultRsiEmaSettings())
		require.NoError(t, err)
		assert.Equal(t, models.SignalHold, sig)
	})
}

func scalpingSeries(lastMoves []float64, lastVolume float64) []models.Candle {
	out := make([]models.Candle, 0, 20+len(lastMoves))
	for i := 0; i < 20; i++ {
		out = append(out, bar(i, 100, 10))
	}
	for i, p := range lastMoves {
		v := 10.0
		if i == len(lastMoves)-1 {
			v = lastVolume
		}
		out = append(out, bar(20+i, p, v))
	}
	return out
}

func TestScalping(t *testing.T) {
	s := NewScalping(newMemSettings())
	ctx := context.Background()
	cfg := models.DefaultScalpingSettings()

	sig, err := s.Evaluate(ctx, scalpingSeries([]float64{101, 102, 103, 104, 105, 106}, 100), cfg)
	require.NoError(t, err)
	assert.Equal(t, models.SignalBuy, sig)

	sig, err = s.Evaluate(ctx, scalpingSeries([]float64{99, 98, 97, 96, 95, 94}, 100), cfg)
	require.NoError(t, err)
	assert.Equal(t, models.SignalSell, sig)

	sig, err = s.Evaluate(ctx, scalpingSeries([]float64{101, 102, 103, 104, 105, 106}, 10), cfg)
	require.NoError(t, err)
	assert.Equal(t, models.SignalHold, sig, "momentum without a volume surge holds")

	sig, err = s.Evaluate(ctx, trend(8, 100, 1), cfg)
	require.NoError(t, err)
	assert.Equal(t, models.SignalHold, sig, "too few candles")
}

func TestFibonacciGrid(t *testing.T) {
	s := NewFibonacciGrid(newMemSettings())
	ctx := context.Background()
	cfg := models.DefaultFibonacciGridSettings()
	cfg.DistancePct = 0.5
	cfg.GridLevels = 3

	eval := func(last float64) models.Signal {
		sig, err := s.Evaluate(ctx, []models.Candle{bar(0, 100, 1), bar(1, 100.1, 1), bar(2, last, 1)}, cfg)
		require.NoError(t, err)
		return sig
	}
	assert.Equal(t, models.SignalBuy, eval(101.5))
	assert.Equal(t, models.SignalBuy, eval(100.5))
	assert.Equal(t, models.SignalHold, eval(100.2))
	assert.Equal(t, models.SignalSell, eval(99.5))
}

func TestGridLevels(t *testing.T) {
	up, down := GridLevels(decimal.NewFromInt(100), decimal.RequireFromString("0.5"), 3)
	require.Len(t, up, 3)
	assert.True(t, decimal.RequireFromString("101.5").Equal(up[2]))
	assert.True(t, decimal.RequireFromString("98.5").Equal(down[2]))

	// rounding to 8 places, half up
	up, _ = GridLevels(decimal.RequireFromString("0.123456789"), decimal.NewFromInt(0), 1)
	assert.Equal(t, "0.12345679", up[0].String())
}

type fixedPredictor struct {
	p        float64
	features []float64
}

func (f *fixedPredictor) Predict(_ context.Context, _ string, features []float64) float64 {
	f.features = features
	return f.p
}

func waveCandles(n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = bar(i, 100+5*math.Sin(float64(i)/3)+float64(i%7)*0.3, 10+float64(i%5))
		out[i].High = out[i].Close.Add(decimal.NewFromInt(1))
		out[i].Low = out[i].Close.Sub(decimal.NewFromInt(1))
	}
	return out
}

func TestMLModel(t *testing.T) {
	ctx := context.Background()
	cfg := models.DefaultMLModelSettings()
	cfg.Threshold = 0.6

	tests := []struct {
		p    float64
		want models.Signal
	}{
		{0.7, models.SignalBuy},
		{0.6, models.SignalBuy},
		{0.5, models.SignalHold},
		{0.45, models.SignalHold},
		{0.3, models.SignalSell},
	}
	for _, tt := range tests {
		pred := &fixedPredictor{p: tt.p}
		s := NewMLModel(newMemSettings(), pred, nil, nil)
		sig, err := s.Evaluate(ctx, waveCandles(40), cfg)
		require.NoError(t, err)
		assert.Equal(t, tt.want, sig, "p=%v", tt.p)
		assert.Len(t, pred.features, 4)
	}

	pred := &fixedPredictor{p: 0.9}
	s := NewMLModel(newMemSettings(), pred, nil, nil)
	sig, err := s.Evaluate(ctx, waveCandles(20), cfg)
	require.NoError(t, err)
	assert.Equal(t, models.SignalHold, sig)
	assert.Nil(t, pred.features, "no prediction without features")
}

type recordingTrainer struct {
	req TrainRequest
}

func (r *recordingTrainer) Train(_ context.Context, req TrainRequest) error {
	r.req = req
	return nil
}

type staticCandles []models.Candle

func (s staticCandles) LoadHistory(context.Context, string, string, int) ([]models.Candle, error) {
	return s, nil
}

func TestMLModelTrain(t *testing.T) {
	store := newMemSettings()
	cfg := models.DefaultMLModelSettings()
	cfg.Symbol = "ETHUSDT"
	require.NoError(t, store.SaveStrategySettings(3, cfg))

	trainer := &recordingTrainer{}
	s := NewMLModel(store, &fixedPredictor{p: 0.5}, trainer, staticCandles(waveCandles(60)))
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	var _ Trainable = s
	require.NoError(t, s.Train(context.Background(), 3))
	assert.Len(t, trainer.req.Features, 60-26)
	assert.Equal(t, cfg.ModelPath, trainer.req.ModelPath)

	saved, err := store.StrategySettings(3, models.StrategyMLModel)
	require.NoError(t, err)
	require.NotNil(t, saved.(*models.MLModelSettings).LastTrainedAt)
	assert.Equal(t, fixed, *saved.(*models.MLModelSettings).LastTrainedAt)

	assert.Error(t, NewMLModel(store, &fixedPredictor{}, nil, nil).Train(context.Background(), 3))
}
