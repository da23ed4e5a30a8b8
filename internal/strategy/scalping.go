package strategy

import (
	"context"
	"math"

	"binance-ai-trader-go/internal/indicators"
	"binance-ai-trader-go/internal/models"
)

// Scalping trades short bursts: the EMA must move more than threshold*sqrt(window) percent over
// one window while the current bar's volume surges above the window average.
type Scalping struct {
	settingsLoader
}

func NewScalping(store SettingsStore) *Scalping {
	return &Scalping{settingsLoader{store: store, typ: models.StrategyScalping}}
}

func (s *Scalping) Type() models.StrategyType { return models.StrategyScalping }

func (s *Scalping) Evaluate(_ context.Context, candles []models.Candle, settings models.StrategySettings) (models.Signal, error) {
	cfg, ok := settings.(*models.ScalpingSettings)
	if !ok {
		return models.SignalHold, settingsMismatch(models.StrategyScalping, settings)
	}
	w := cfg.WindowSize
	if w <= 0 || len(candles) < 2*w+1 {
		return models.SignalHold, nil
	}

	ema := indicators.EMASeries(indicators.Closes(candles), w)
	last := len(ema) - 1
	prev := ema[last-w]
	if prev == 0 {
		return models.SignalHold, nil
	}
	deltaPct := (ema[last] - prev) / prev * 100
	threshold := cfg.PriceChangeThreshold * math.Sqrt(float64(w))

	if !volumeSurge(candles, w, cfg.VolumeMultiplier, cfg.MinVolume) {
		return models.SignalHold, nil
	}
	switch {
	case deltaPct >= threshold:
		return models.SignalBuy, nil
	case deltaPct <= -threshold:
		return models.SignalSell, nil
	}
	return models.SignalHold, nil
}

// volumeSurge compares the last bar's volume with the average of the w bars before it.
func volumeSurge(candles []models.Candle, w int, multiplier, minVolume float64) bool {
	last := len(candles) - 1
	current := candles[last].Volume.InexactFloat64()
	if current < minVolume {
		return false
	}
	var sum float64
	for i := last - w; i < last; i++ {
		sum += candles[i].Volume.InexactFloat64()
	}
	avg := sum / float64(w)
	return current >= avg*multiplier
}
