package indicators

import (
	"math"

	"binance-ai-trader-go/internal/models"
)

// FeatureWarmup is the index of the first bar that gets a feature row.
const FeatureWarmup = 26

// FeatureNames describes the columns of a BuildFeatures row.
var FeatureNames = []string{"rsi14", "bb_pct_b", "volume_ratio", "ema_diff"}

// BuildFeatures returns one row per bar starting at FeatureWarmup:
// [rsi14, bollinger %B(20,2), volume / vwma20, (ema12-ema26)/ema26].
// Fewer than FeatureWarmup+1 candles yields no rows. A bar whose features are not finite gets an
// all-zero row.
func BuildFeatures(history []models.Candle) [][]float64 {
	if len(history) <= FeatureWarmup {
		return [][]float64{}
	}
	closes := Closes(history)
	ema12 := EMASeries(closes, 12)
	ema26 := EMASeries(closes, 26)

	rows := make([][]float64, 0, len(history)-FeatureWarmup)
	for i := FeatureWarmup; i < len(history); i++ {
		rows = append(rows, featureRow(history, closes, ema12, ema26, i))
	}
	return rows
}

func featureRow(history []models.Candle, closes, ema12, ema26 []float64, i int) []float64 {
	bb := history[i-19 : i+1]
	lower := BBLower(bb, 20, 2)
	upper := BBUpper(bb, 20, 2)

	row := []float64{
		rsiOf(closes[i-14:i+1], 14),
		(closes[i] - lower) / (upper - lower),
		history[i].Volume.InexactFloat64() / VWMA(bb, 20),
		(ema12[i] - ema26[i]) / ema26[i],
	}
	for _, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return make([]float64, len(FeatureNames))
		}
	}
	return row
}
