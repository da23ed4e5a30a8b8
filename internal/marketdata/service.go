// Package marketdata serves candle history to strategies and keeps a persisted copy of it.
package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"binance-ai-trader-go/internal/models"
	"binance-ai-trader-go/internal/persistence"

	"go.uber.org/zap"
)

// KlineSource fetches candles from the exchange.
type KlineSource interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
}

type cacheKey struct {
	symbol    string
	timeframe string
}

type cacheEntry struct {
	candles   []models.Candle
	limit     int
	fetchedAt time.Time
}

// Service loads candle history from the exchange. Fetched candles are written to the store by a
// background loop so callers never wait on disk, and the store answers when the exchange cannot.
type Service struct {
	source   KlineSource
	repo     persistence.CandleRepository
	cacheTTL time.Duration
	logger   *zap.Logger

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry

	persistenceChan chan []models.Candle
	stopChan        chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
}

// NewService creates the service. repo may be nil to disable persistence; a zero cacheTTL
// disables the in-memory cache.
func NewService(source KlineSource, repo persistence.CandleRepository, cacheTTL time.Duration, logger *zap.Logger) *Service {
	return &Service{
		source:          source,
		repo:            repo,
		cacheTTL:        cacheTTL,
		logger:          logger,
		cache:           make(map[cacheKey]cacheEntry),
		persistenceChan: make(chan []models.Candle, 128),
		stopChan:        make(chan struct{}),
	}
}

// Start begins the persistence loop.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.persistenceLoop()
	s.logger.Info("Market data service started.")
}

// Stop flushes queued candles and stops the persistence loop.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	s.logger.Info("Market data service stopped.")
}

// LoadHistory returns up to limit of the newest candles, oldest first.
func (s *Service) LoadHistory(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	key := cacheKey{symbol: symbol, timeframe: timeframe}
	if candles, ok := s.cached(key, limit); ok {
		return candles, nil
	}

	candles, err := s.source.GetKlines(ctx, symbol, timeframe, limit)
	if err != nil {
		stored, ok := s.fromStore(symbol, timeframe, limit)
		if !ok {
			return nil, fmt.Errorf("load history %s %s: %w", symbol, timeframe, err)
		}
		s.logger.Warn("Exchange candles unavailable, serving stored history",
			zap.String("symbol", symbol), zap.String("timeframe", timeframe), zap.Int("candles", len(stored)), zap.Error(err))
		return stored, nil
	}

	if s.cacheTTL > 0 {
		s.mu.Lock()
		s.cache[key] = cacheEntry{candles: candles, limit: limit, fetchedAt: time.Now()}
		s.mu.Unlock()
	}
	s.enqueue(candles)
	return copyCandles(candles), nil
}

func (s *Service) cached(key cacheKey, limit int) ([]models.Candle, bool) {
	if s.cacheTTL <= 0 {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache[key]
	if !ok || time.Since(e.fetchedAt) > s.cacheTTL || (limit > e.limit && e.limit > 0) {
		return nil, false
	}
	candles := e.candles
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return copyCandles(candles), true
}

func (s *Service) fromStore(symbol, timeframe string, limit int) ([]models.Candle, bool) {
	if s.repo == nil {
		return nil, false
	}
	stored, err := s.repo.LoadCandles(symbol, timeframe, limit)
	if err != nil {
		s.logger.Error("Failed to read stored candles", zap.String("symbol", symbol), zap.Error(err))
		return nil, false
	}
	return stored, len(stored) > 0
}

// enqueue hands a copy to the persistence loop without blocking the caller.
func (s *Service) enqueue(candles []models.Candle) {
	if s.repo == nil || len(candles) == 0 {
		return
	}
	select {
	case s.persistenceChan <- copyCandles(candles):
	default:
		s.logger.Warn("Candle persistence queue full, dropping batch", zap.String("symbol", candles[0].Symbol))
	}
}

func (s *Service) persistenceLoop() {
	defer s.wg.Done()
	for {
		select {
		case batch := <-s.persistenceChan:
			s.save(batch)
		case <-s.stopChan:
			for {
				select {
				case batch := <-s.persistenceChan:
					s.save(batch)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) save(batch []models.Candle) {
	if err := s.repo.SaveCandles(batch); err != nil {
		s.logger.Error("Failed to save candles", zap.String("symbol", batch[0].Symbol), zap.Error(err))
	}
}

func copyCandles(in []models.Candle) []models.Candle {
	out := make([]models.Candle, len(in))
	copy(out, in)
	return out
}
