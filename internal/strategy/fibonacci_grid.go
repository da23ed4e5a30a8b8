package strategy

import (
	"context"

	"binance-ai-trader-go/internal/models"

	"github.com/shopspring/decimal"
)

// FibonacciGrid places N percentage levels above and below the first close of the window.
// Crossing any upper level is a BUY, crossing any lower level a SELL.
type FibonacciGrid struct {
	settingsLoader
}

func NewFibonacciGrid(store SettingsStore) *FibonacciGrid {
	return &FibonacciGrid{settingsLoader{store: store, typ: models.StrategyFibonacciGrid}}
}

func (s *FibonacciGrid) Type() models.StrategyType { return models.StrategyFibonacciGrid }

func (s *FibonacciGrid) Evaluate(_ context.Context, candles []models.Candle, settings models.StrategySettings) (models.Signal, error) {
	cfg, ok := settings.(*models.FibonacciGridSettings)
	if !ok {
		return models.SignalHold, settingsMismatch(models.StrategyFibonacciGrid, settings)
	}
	if len(candles) == 0 || cfg.GridLevels <= 0 {
		return models.SignalHold, nil
	}
	base := candles[0].Close
	current := candles[len(candles)-1].Close
	up, down := GridLevels(base, decimal.NewFromFloat(cfg.DistancePct), cfg.GridLevels)

	for _, level := range up {
		if current.GreaterThanOrEqual(level) {
			return models.SignalBuy, nil
		}
	}
	for _, level := range down {
		if current.LessThanOrEqual(level) {
			return models.SignalSell, nil
		}
	}
	return models.SignalHold, nil
}

// GridLevels returns base*(1±distancePct*i/100) for i in 1..levels, rounded half-up to 8 places.
func GridLevels(base, distancePct decimal.Decimal, levels int) (up, down []decimal.Decimal) {
	one := decimal.NewFromInt(1)
	hundred := decimal.NewFromInt(100)
	for i := 1; i <= levels; i++ {
		step := distancePct.Mul(decimal.NewFromInt(int64(i))).Div(hundred)
		up = append(up, base.Mul(one.Add(step)).Round(models.PriceScale))
		down = append(down, base.Mul(one.Sub(step)).Round(models.PriceScale))
	}
	return up, down
}
