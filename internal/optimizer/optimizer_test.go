package optimizer

import (
	"context"
	"errors"
	"testing"

	"binance-ai-trader-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCandles map[string][]models.Candle

func (f fakeCandles) LoadHistory(_ context.Context, symbol, _ string, _ int) ([]models.Candle, error) {
	c, ok := f[symbol]
	if !ok {
		return nil, errors.New("no data")
	}
	return c, nil
}

type memPairs struct{ pairs []models.ProfitablePair }

func (m *memPairs) UpsertPair(p models.ProfitablePair) error {
	m.pairs = append(m.pairs, p)
	return nil
}

// zigzag alternates +up% and -down% moves.
func zigzag(n int, up, down float64) []models.Candle {
	out := make([]models.Candle, n)
	price := 100.0
	for i := range out {
		out[i] = models.Candle{Close: decimal.NewFromFloat(price)}
		if i%2 == 0 {
			price *= 1 + up/100
		} else {
			price *= 1 - down/100
		}
	}
	return out
}

func TestSimulate(t *testing.T) {
	closes := []float64{100, 101, 100}
	// +1% hits TP 0.5, -0.99% hits SL 0.5
	assert.InDelta(t, 100*1.005*0.995, Simulate(closes, 0.5, 0.5), 1e-9)
	// a 1.5% band sees neither
	assert.InDelta(t, 100.0, Simulate(closes, 1.5, 1.5), 1e-9)
	assert.Equal(t, 100.0, Simulate(nil, 0.5, 0.5))
}

func TestSearchPrefersWideTakeProfitOnRisingSteps(t *testing.T) {
	closes := make([]float64, 0, 120)
	p := 100.0
	for i := 0; i < 120; i++ {
		closes = append(closes, p)
		p *= 1.02
	}
	best := Search(closes)
	assert.True(t, decimal.New(15, -1).Equal(best.TakeProfitPct), best.TakeProfitPct.String())
	// SL never triggers, so the first SL wins the tie
	assert.True(t, decimal.New(3, -1).Equal(best.StopLossPct), best.StopLossPct.String())
	assert.True(t, best.Profitable())
}

func TestSearchFlatSeriesIsNotProfitable(t *testing.T) {
	closes := make([]float64, 150)
	for i := range closes {
		closes[i] = 42
	}
	best := Search(closes)
	assert.False(t, best.Profitable())
	assert.True(t, decimal.New(3, -1).Equal(best.TakeProfitPct))
}

func TestOptimizeUpsertsPairs(t *testing.T) {
	candles := fakeCandles{
		"UPUSDT":    zigzag(200, 1.2, 0.2),
		"FLATUSDT":  zigzag(200, 0, 0),
		"SHORTUSDT": zigzag(99, 1, 0.1),
	}
	pairs := &memPairs{}
	o := New(candles, pairs, models.OptimizerConfig{}, zap.NewNop())

	results := o.Optimize(context.Background(), 7, []string{"UPUSDT", "FLATUSDT", "SHORTUSDT", "MISSINGUSDT"}, "15m")
	require.Len(t, results, 2)
	require.Len(t, pairs.pairs, 2)

	up := pairs.pairs[0]
	assert.Equal(t, int64(7), up.UserID)
	assert.Equal(t, "UPUSDT", up.Symbol)
	assert.True(t, up.Active)
	assert.False(t, up.UpdatedAt.IsZero())

	flat := pairs.pairs[1]
	assert.Equal(t, "FLATUSDT", flat.Symbol)
	assert.False(t, flat.Active)
}
