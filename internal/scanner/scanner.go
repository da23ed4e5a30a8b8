// Package scanner ranks tradeable symbols by recent volatility.
package scanner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"binance-ai-trader-go/internal/models"

	"go.uber.org/zap"
)

const (
	DefaultCandleLimit = 500
	DefaultMinCandles  = 50
	defaultConcurrency = 8
)

// Source is the part of the exchange the scanner reads.
type Source interface {
	GetAllSymbols(ctx context.Context) ([]string, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
}

// Score is one symbol's volatility, the mean of (high-low)/close over the window.
type Score struct {
	Symbol     string
	Volatility float64
	Candles    int
}

type Scanner struct {
	source Source
	cfg    models.ScannerConfig
	logger *zap.Logger
}

func New(source Source, cfg models.ScannerConfig, logger *zap.Logger) *Scanner {
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = DefaultCandleLimit
	}
	if cfg.MinCandles <= 0 {
		cfg.MinCandles = DefaultMinCandles
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Scanner{source: source, cfg: cfg, logger: logger}
}

// ScanTopSymbols returns at most n symbols ordered by descending volatility.
func (s *Scanner) ScanTopSymbols(ctx context.Context, n int, timeframe string) ([]string, error) {
	scores, err := s.Scan(ctx, n, timeframe)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, len(scores))
	for i, sc := range scores {
		symbols[i] = sc.Symbol
	}
	return symbols, nil
}

// Scan scores every symbol and returns the top n. Symbols whose candles cannot be fetched or
// are too few are left out; only the symbol listing itself can fail the scan.
func (s *Scanner) Scan(ctx context.Context, n int, timeframe string) ([]Score, error) {
	if n <= 0 {
		return nil, nil
	}
	all, err := s.source.GetAllSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	symbols := all[:0:0]
	for _, sym := range all {
		if s.cfg.QuoteAsset == "" || strings.HasSuffix(sym, s.cfg.QuoteAsset) {
			symbols = append(symbols, sym)
		}
	}

	results := make([]*Score, len(symbols))
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.cfg.Concurrency)

	for i, sym := range symbols {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if ctx.Err() != nil {
				return
			}

			candles, err := s.source.GetKlines(ctx, symbol, timeframe, s.cfg.CandleLimit)
			if err != nil {
				s.logger.Warn("Scanner skipped symbol", zap.String("symbol", symbol), zap.Error(err))
				return
			}
			if len(candles) < s.cfg.MinCandles {
				s.logger.Debug("Not enough candles to score", zap.String("symbol", symbol), zap.Int("candles", len(candles)))
				return
			}
			results[i] = &Score{Symbol: symbol, Volatility: Volatility(candles), Candles: len(candles)}
		}(i, sym)
	}
	wg.Wait()

	scores := make([]Score, 0, len(results))
	for _, r := range results {
		if r != nil {
			scores = append(scores, *r)
		}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Volatility > scores[j].Volatility })
	scored := len(scores)
	if len(scores) > n {
		scores = scores[:n]
	}
	s.logger.Info("Scan finished", zap.Int("symbols", len(symbols)), zap.Int("scored", scored), zap.Int("top", len(scores)))
	return scores, nil
}

// Volatility is the mean of (high-low)/close. Bars with a non-positive close are ignored.
func Volatility(candles []models.Candle) float64 {
	var sum float64
	var count int
	for _, c := range candles {
		if !c.Close.IsPositive() {
			continue
		}
		sum += c.High.Sub(c.Low).Div(c.Close).InexactFloat64()
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
