package strategy

import (
	"context"

	"binance-ai-trader-go/internal/indicators"
	"binance-ai-trader-go/internal/models"
)

// RsiEma buys an oversold market in an uptrend and sells an overbought one in a downtrend.
type RsiEma struct {
	settingsLoader
}

func NewRsiEma(store SettingsStore) *RsiEma {
	return &RsiEma{settingsLoader{store: store, typ: models.StrategyRsiEma}}
}

func (s *RsiEma) Type() models.StrategyType { return models.StrategyRsiEma }

func (s *RsiEma) Evaluate(_ context.Context, candles []models.Candle, settings models.StrategySettings) (models.Signal, error) {
	cfg, ok := settings.(*models.RsiEmaSettings)
	if !ok {
		return models.SignalHold, settingsMismatch(models.StrategyRsiEma, settings)
	}
	need := cfg.EmaLong
	if cfg.RsiPeriod+1 > need {
		need = cfg.RsiPeriod + 1
	}
	if need <= 1 || len(candles) < need {
		return models.SignalHold, nil
	}

	rsi := indicators.RSI(candles, cfg.RsiPeriod)
	emaShort := indicators.EMA(candles, cfg.EmaShort)
	emaLong := indicators.EMA(candles, cfg.EmaLong)

	switch {
	case rsi < cfg.RsiBuyThreshold && emaShort > emaLong:
		return models.SignalBuy, nil
	case rsi > cfg.RsiSellThreshold && emaShort < emaLong:
		return models.SignalSell, nil
	}
	return models.SignalHold, nil
}
