// Package indicators implements the technical indicators the strategies are built on.
//
// All functions are pure and take an ordered candle window. They assume the window holds at least
// `period` candles; checking for enough data is the caller's job.
package indicators

import (
	"math"

	"binance-ai-trader-go/internal/models"
)

// Closes extracts the close prices as float64.
func Closes(history []models.Candle) []float64 {
	out := make([]float64, len(history))
	for i, c := range history {
		out[i] = c.Close.InexactFloat64()
	}
	return out
}

// RSI is the average-gain / average-loss ratio over the last `period` close-to-close changes.
// It is 100 when there was no loss in the window.
func RSI(history []models.Candle, period int) float64 {
	return rsiOf(Closes(history), period)
}

func rsiOf(closes []float64, period int) float64 {
	start := len(closes) - period - 1
	if start < 0 {
		start = 0
	}
	var gain, loss float64
	changes := 0
	for i := start + 1; i < len(closes); i++ {
		ch := closes[i] - closes[i-1]
		if ch > 0 {
			gain += ch
		} else {
			loss -= ch
		}
		changes++
	}
	if changes == 0 {
		return 50
	}
	avgGain := gain / float64(changes)
	avgLoss := loss / float64(changes)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// SMA is the mean close of the first `period` candles of the window.
func SMA(history []models.Candle, period int) float64 {
	n := window(len(history), period)
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += history[i].Close.InexactFloat64()
	}
	return sum / float64(n)
}

// VWMA is the volume-weighted mean close of the first `period` candles. Zero volume yields 0.
func VWMA(history []models.Candle, period int) float64 {
	n := window(len(history), period)
	var num, den float64
	for i := 0; i < n; i++ {
		v := history[i].Volume.InexactFloat64()
		num += history[i].Close.InexactFloat64() * v
		den += v
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// BBLower is SMA - k*stddev over the first `period` candles.
func BBLower(history []models.Candle, period int, k float64) float64 {
	mean, sd := meanStd(history, period)
	return mean - k*sd
}

// BBUpper is SMA + k*stddev over the first `period` candles.
func BBUpper(history []models.Candle, period int, k float64) float64 {
	mean, sd := meanStd(history, period)
	return mean + k*sd
}

func meanStd(history []models.Candle, period int) (float64, float64) {
	n := window(len(history), period)
	if n == 0 {
		return 0, 0
	}
	mean := SMA(history, n)
	var variance float64
	for i := 0; i < n; i++ {
		diff := history[i].Close.InexactFloat64() - mean
		variance += diff * diff
	}
	return mean, math.Sqrt(variance / float64(n))
}

// ATR averages the true range of the last `period` candles. The first candle of the window has no
// previous close and contributes its high-low range.
func ATR(history []models.Candle, period int) float64 {
	n := window(len(history), period)
	if n == 0 {
		return 0
	}
	start := len(history) - n
	var sum float64
	for i := start; i < len(history); i++ {
		high := history[i].High.InexactFloat64()
		low := history[i].Low.InexactFloat64()
		tr := high - low
		if i > 0 {
			prev := history[i-1].Close.InexactFloat64()
			tr = math.Max(tr, math.Max(math.Abs(high-prev), math.Abs(low-prev)))
		}
		sum += tr
	}
	return sum / float64(n)
}

// EMA returns the exponential moving average of the closes at the last candle, seeded with the SMA
// of the first `period` closes.
func EMA(history []models.Candle, period int) float64 {
	series := EMASeries(Closes(history), period)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// EMASeries returns one EMA value per input value. Values before the seed index hold the running SMA.
func EMASeries(values []float64, period int) []float64 {
	if len(values) == 0 || period <= 0 {
		return nil
	}
	out := make([]float64, len(values))
	alpha := 2.0 / float64(period+1)
	var sum float64
	for i, v := range values {
		if i < period {
			sum += v
			out[i] = sum / float64(i+1)
			continue
		}
		out[i] = alpha*v + (1-alpha)*out[i-1]
	}
	return out
}

func window(length, period int) int {
	if period > length {
		return length
	}
	if period < 0 {
		return 0
	}
	return period
}
