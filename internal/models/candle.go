package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV sample. Candles are ordered by OpenTime within a (Symbol, Timeframe) series
// and are never modified after creation.
type Candle struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	OpenTime  time.Time       `json:"open_time"`
	CloseTime time.Time       `json:"close_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Signal is the output of a strategy evaluation.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// StrategyType identifies a strategy variant.
type StrategyType string

const (
	StrategyRsiEma        StrategyType = "RSI_EMA"
	StrategyScalping      StrategyType = "SCALPING"
	StrategyFibonacciGrid StrategyType = "FIBONACCI_GRID"
	StrategyMLModel       StrategyType = "ML_MODEL"
)

// StrategyTypes lists every known strategy type.
func StrategyTypes() []StrategyType {
	return []StrategyType{StrategyRsiEma, StrategyScalping, StrategyFibonacciGrid, StrategyMLModel}
}

// Valid reports whether t names a known strategy.
func (t StrategyType) Valid() bool {
	for _, known := range StrategyTypes() {
		if t == known {
			return true
		}
	}
	return false
}
