// Package backtest replays a user's strategy over historical candles.
package backtest

import (
	"context"
	"errors"
	"fmt"

	"binance-ai-trader-go/internal/models"
	"binance-ai-trader-go/internal/persistence"
	"binance-ai-trader-go/internal/strategy"
	"binance-ai-trader-go/internal/timeframe"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

type Store interface {
	UserSettings(userID int64) (*models.UserSettings, error)
	ActivePairs(userID int64) ([]models.ProfitablePair, error)
	Pair(userID int64, symbol string) (*models.ProfitablePair, error)
}

type CandleSource interface {
	LoadHistory(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)
}

type Simulator struct {
	store    Store
	registry *strategy.Registry
	candles  CandleSource
	warmup   int
	defaults models.TradeDefaults
	logger   *zap.Logger
}

func New(store Store, registry *strategy.Registry, candles CandleSource, cfg models.BacktestConfig, defaults models.TradeDefaults, logger *zap.Logger) *Simulator {
	warmup := cfg.WarmupBars
	if warmup < 1 {
		warmup = 1
	}
	return &Simulator{
		store:    store,
		registry: registry,
		candles:  candles,
		warmup:   warmup,
		defaults: defaults,
		logger:   logger,
	}
}

// Run backtests the user's strategy over its configured symbols, or its active pairs when none
// are configured. Missing settings, an unknown strategy or an unsupported timeframe fail the run.
func (s *Simulator) Run(ctx context.Context, userID int64) (*Result, error) {
	return s.RunSymbols(ctx, userID, nil)
}

// RunSymbols is Run over an explicit symbol list. A nil list falls back to the user's symbols.
func (s *Simulator) RunSymbols(ctx context.Context, userID int64, symbols []string) (*Result, error) {
	us, err := s.store.UserSettings(userID)
	if err != nil {
		return nil, fmt.Errorf("settings for user %d: %w", userID, err)
	}
	strat, err := s.registry.Get(us.Strategy)
	if err != nil {
		return nil, err
	}
	settings, err := strat.Settings(userID)
	if err != nil {
		return nil, err
	}
	common := settings.Common()

	tfText, limit := models.CandleWindow(*us, common)
	tf, err := timeframe.Parse(tfText)
	if err != nil {
		return nil, err
	}
	commission := us.CommissionPct
	if commission <= 0 {
		commission = s.defaults.CommissionPct
	}

	if len(symbols) == 0 {
		symbols, err = s.symbols(us)
		if err != nil {
			return nil, err
		}
	}

	result := &Result{
		UserID:        userID,
		Strategy:      strat.Type(),
		Timeframe:     tf.String(),
		CommissionPct: decimal.NewFromFloat(commission),
	}
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		candles, err := s.candles.LoadHistory(ctx, symbol, tf.String(), limit)
		if err != nil {
			s.logger.Warn("Backtest could not load candles", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if len(candles) < 2 {
			s.logger.Warn("Not enough candles to backtest", zap.String("symbol", symbol), zap.Int("candles", len(candles)))
			continue
		}
		tp, sl := s.exitPercentages(userID, symbol, common)
		trades, err := s.Replay(ctx, strat, settings, symbol, candles, tp, sl, result.CommissionPct)
		if err != nil {
			s.logger.Warn("Backtest replay failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		for _, t := range trades {
			result.add(t)
		}
	}

	s.logger.Info("Backtest finished",
		zap.Int64("user", userID),
		zap.Int("symbols", len(symbols)),
		zap.Int("trades", result.TotalTrades()),
		zap.String("pnl", result.TotalPnL().String()),
		zap.Float64("winRate", result.WinRate()))
	return result, nil
}

func (s *Simulator) symbols(us *models.UserSettings) ([]string, error) {
	if len(us.Symbols) > 0 {
		return us.Symbols, nil
	}
	pairs, err := s.store.ActivePairs(us.UserID)
	if err != nil {
		return nil, fmt.Errorf("active pairs: %w", err)
	}
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.Symbol)
	}
	return out, nil
}

func (s *Simulator) exitPercentages(userID int64, symbol string, common models.StrategyCommon) (decimal.Decimal, decimal.Decimal) {
	tp := decimal.NewFromFloat(s.defaults.TakeProfitPct)
	sl := decimal.NewFromFloat(s.defaults.StopLossPct)
	if common.TakeProfitPct > 0 {
		tp = decimal.NewFromFloat(common.TakeProfitPct)
	}
	if common.StopLossPct > 0 {
		sl = decimal.NewFromFloat(common.StopLossPct)
	}
	pair, err := s.store.Pair(userID, symbol)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			s.logger.Warn("Failed to read pair, using default TP/SL", zap.String("symbol", symbol), zap.Error(err))
		}
		return tp, sl
	}
	if pair.TakeProfitPct.IsPositive() {
		tp = pair.TakeProfitPct
	}
	if pair.StopLossPct.IsPositive() {
		sl = pair.StopLossPct
	}
	return tp, sl
}

// Replay walks candles bar by bar with a single position. While flat the strategy sees the
// expanding prefix ending at the current bar and a BUY enters at that bar's close. While in a
// position each later bar exits at TP when its high reaches it, else at SL when its low reaches
// it. A position still open at the end is not reported.
func (s *Simulator) Replay(ctx context.Context, strat strategy.Strategy, settings models.StrategySettings, symbol string, candles []models.Candle, tpPct, slPct, commissionPct decimal.Decimal) ([]Trade, error) {
	cost := commissionPct.Mul(decimal.NewFromInt(2)).Div(hundred)

	var (
		trades  []Trade
		open    bool
		entry   models.Candle
		tpPrice decimal.Decimal
		slPrice decimal.Decimal
	)
	for i := s.warmup; i < len(candles); i++ {
		current := candles[i]
		if !open {
			signal, err := strat.Evaluate(ctx, candles[:i+1], settings)
			if err != nil {
				return nil, err
			}
			if signal == models.SignalBuy {
				open = true
				entry = current
				tpPrice = models.TakeProfitPrice(entry.Close, tpPct)
				slPrice = models.StopLossPrice(entry.Close, slPct)
			}
			continue
		}

		var exit decimal.Decimal
		var reason models.ExitReason
		switch {
		case current.High.GreaterThanOrEqual(tpPrice):
			exit, reason = tpPrice, models.ExitTakeProfit
		case current.Low.LessThanOrEqual(slPrice):
			exit, reason = slPrice, models.ExitStopLoss
		default:
			continue
		}

		ret := exit.Sub(entry.Close).Div(entry.Close).Sub(cost).Round(models.PriceScale)
		trades = append(trades, Trade{
			Symbol:     symbol,
			EntryTime:  entry.CloseTime,
			EntryPrice: entry.Close,
			ExitTime:   current.CloseTime,
			ExitPrice:  exit,
			Reason:     reason,
			Return:     ret,
		})
		open = false
	}
	return trades, nil
}
