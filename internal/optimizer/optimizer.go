// Package optimizer grid-searches take-profit and stop-loss percentages per symbol and records
// the winners as ProfitablePairs.
package optimizer

import (
	"context"
	"time"

	"binance-ai-trader-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultCandleLimit = 500
	DefaultMinCandles  = 100

	// Percentages are searched in tenths: 0.3% .. 1.5%.
	minStep = 3
	maxStep = 15

	startBalance = 100.0
)

type CandleLoader interface {
	LoadHistory(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)
}

type PairStore interface {
	UpsertPair(pair models.ProfitablePair) error
}

// Result is the best TP/SL found for one symbol.
type Result struct {
	Symbol        string
	TakeProfitPct decimal.Decimal
	StopLossPct   decimal.Decimal
	Balance       float64
}

// Profitable reports whether the simulation ended above its starting balance.
func (r Result) Profitable() bool { return r.Balance > startBalance }

type Optimizer struct {
	candles CandleLoader
	pairs   PairStore
	cfg     models.OptimizerConfig
	logger  *zap.Logger
	now     func() time.Time
}

func New(candles CandleLoader, pairs PairStore, cfg models.OptimizerConfig, logger *zap.Logger) *Optimizer {
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = DefaultCandleLimit
	}
	if cfg.MinCandles <= 0 {
		cfg.MinCandles = DefaultMinCandles
	}
	return &Optimizer{candles: candles, pairs: pairs, cfg: cfg, logger: logger, now: time.Now}
}

// Optimize searches each symbol and upserts its pair, active only when the best simulation is
// profitable. Symbols that fail to load or have too little history are skipped.
func (o *Optimizer) Optimize(ctx context.Context, userID int64, symbols []string, timeframe string) []Result {
	var results []Result
	for _, symbol := range symbols {
		if ctx.Err() != nil {
			break
		}
		candles, err := o.candles.LoadHistory(ctx, symbol, timeframe, o.cfg.CandleLimit)
		if err != nil {
			o.logger.Warn("Optimizer could not load candles", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if len(candles) < o.cfg.MinCandles {
			o.logger.Warn("Not enough candles to optimize", zap.String("symbol", symbol), zap.Int("candles", len(candles)))
			continue
		}

		best := Search(closesOf(candles))
		best.Symbol = symbol
		pair := models.ProfitablePair{
			UserID:        userID,
			Symbol:        symbol,
			TakeProfitPct: best.TakeProfitPct,
			StopLossPct:   best.StopLossPct,
			Active:        best.Profitable(),
			UpdatedAt:     o.now(),
		}
		if err := o.pairs.UpsertPair(pair); err != nil {
			o.logger.Error("Failed to save optimized pair", zap.Int64("user", userID), zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		o.logger.Info("Optimized pair",
			zap.Int64("user", userID),
			zap.String("symbol", symbol),
			zap.String("tp", best.TakeProfitPct.String()),
			zap.String("sl", best.StopLossPct.String()),
			zap.Float64("balance", best.Balance),
			zap.Bool("active", pair.Active))
		results = append(results, best)
	}
	return results
}

// Search returns the TP/SL pair with the highest simulated balance. Ties keep the first pair
// in (TP, SL) ascending order.
func Search(closes []float64) Result {
	best := Result{
		TakeProfitPct: decimal.New(5, -1),
		StopLossPct:   decimal.New(5, -1),
		Balance:       -1,
	}
	for tp := minStep; tp <= maxStep; tp++ {
		for sl := minStep; sl <= maxStep; sl++ {
			balance := Simulate(closes, float64(tp)/10, float64(sl)/10)
			if balance > best.Balance {
				best.Balance = balance
				best.TakeProfitPct = decimal.New(int64(tp), -1)
				best.StopLossPct = decimal.New(int64(sl), -1)
			}
		}
	}
	return best
}

// Simulate compounds a balance of 100 over close-to-close moves: a move reaching +tp% earns tp%,
// one reaching -sl% loses sl%, anything else is flat.
func Simulate(closes []float64, tpPct, slPct float64) float64 {
	balance := startBalance
	for i := 1; i < len(closes); i++ {
		entry := closes[i-1]
		next := closes[i]
		switch {
		case next >= entry*(1+tpPct/100):
			balance *= 1 + tpPct/100
		case next <= entry*(1-slPct/100):
			balance *= 1 - slPct/100
		}
	}
	return balance
}

func closesOf(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close.InexactFloat64()
	}
	return out
}
