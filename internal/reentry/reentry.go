// Package reentry re-enters symbols whose last trade closed in profit while the strategy still
// says BUY.
package reentry

import (
	"context"
	"fmt"
	"time"

	"binance-ai-trader-go/internal/metrics"
	"binance-ai-trader-go/internal/models"

	"go.uber.org/zap"
)

const DefaultLookback = 24 * time.Hour

type Store interface {
	ListUserSettings() ([]models.UserSettings, error)
	RecentClosedProfitable(userID int64, since time.Time) ([]models.TradeLog, error)
}

// Entrant is the entry path; it reloads candles, evaluates, sizes and records a fresh trade.
type Entrant interface {
	Enter(ctx context.Context, userID int64, symbol string) (*models.TradeLog, error)
}

type Service struct {
	store    Store
	entrant  Entrant
	lookback time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func New(store Store, entrant Entrant, cfg models.ReentryConfig, logger *zap.Logger) *Service {
	lookback := time.Duration(cfg.LookbackMinutes) * time.Minute
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Service{store: store, entrant: entrant, lookback: lookback, logger: logger, now: time.Now}
}

// Run checks every enabled user once. A user's failure is logged and the next user is processed.
func (s *Service) Run(ctx context.Context) ([]models.TradeLog, error) {
	users, err := s.store.ListUserSettings()
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	var opened []models.TradeLog
	for _, us := range users {
		if ctx.Err() != nil {
			return opened, ctx.Err()
		}
		if !us.Enabled {
			s.logger.Debug("Trading disabled, skipping re-entry", zap.Int64("user", us.UserID))
			continue
		}
		trades, err := s.processUser(ctx, us.UserID)
		if err != nil {
			metrics.CycleFailures.WithLabelValues("reentry").Inc()
			s.logger.Error("Re-entry failed for user", zap.Int64("user", us.UserID), zap.Error(err))
		}
		opened = append(opened, trades...)
	}
	return opened, nil
}

func (s *Service) processUser(ctx context.Context, userID int64) (opened []models.TradeLog, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	closed, err := s.store.RecentClosedProfitable(userID, s.now().Add(-s.lookback))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(closed))
	for _, t := range closed {
		if seen[t.Symbol] {
			continue
		}
		seen[t.Symbol] = true

		trade, err := s.entrant.Enter(ctx, userID, t.Symbol)
		if err != nil {
			s.logger.Warn("Re-entry skipped", zap.Int64("user", userID), zap.String("symbol", t.Symbol), zap.Error(err))
			continue
		}
		if trade != nil {
			s.logger.Info("Re-entered after profitable close",
				zap.Int64("user", userID),
				zap.String("symbol", t.Symbol),
				zap.String("previous", t.ID),
				zap.String("trade", trade.ID))
			opened = append(opened, *trade)
		}
	}
	return opened, nil
}
