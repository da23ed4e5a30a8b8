package backtest

import (
	"context"
	"fmt"

	"binance-ai-trader-go/internal/downloader"
	"binance-ai-trader-go/internal/models"
)

// CSVSource serves one symbol's candles from a downloaded CSV file. The whole file is returned
// regardless of the requested limit.
type CSVSource struct {
	symbol  string
	path    string
	candles []models.Candle
}

func NewCSVSource(path, symbol, interval string) (*CSVSource, error) {
	candles, err := downloader.LoadCSV(path, symbol, interval)
	if err != nil {
		return nil, err
	}
	return &CSVSource{symbol: symbol, path: path, candles: candles}, nil
}

func (s *CSVSource) Symbol() string { return s.symbol }

func (s *CSVSource) LoadHistory(_ context.Context, symbol, _ string, _ int) ([]models.Candle, error) {
	if symbol != s.symbol {
		return nil, fmt.Errorf("%s has no data for %s", s.path, symbol)
	}
	return s.candles, nil
}
