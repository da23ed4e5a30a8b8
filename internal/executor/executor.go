// Package executor turns a BUY signal into a filled entry order and an open TradeLog.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"binance-ai-trader-go/internal/exchange"
	"binance-ai-trader-go/internal/metrics"
	"binance-ai-trader-go/internal/models"
	"binance-ai-trader-go/internal/persistence"
	"binance-ai-trader-go/internal/strategy"
	"binance-ai-trader-go/internal/timeframe"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store is the persistence the executor reads and writes.
type Store interface {
	UserSettings(userID int64) (*models.UserSettings, error)
	Pair(userID int64, symbol string) (*models.ProfitablePair, error)
	HasOpenTrade(userID int64, symbol string) (bool, error)
	OpenTrade(trade *models.TradeLog) error
}

// Market prices and buys.
type Market interface {
	GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	PlaceMarketBuy(ctx context.Context, userID int64, symbol string, qty decimal.Decimal, clientOrderID string) (*models.Order, error)
	GetExchangeFilters(ctx context.Context) (map[string]models.SymbolFilter, error)
}

// Sizer computes the entry quantity.
type Sizer interface {
	PositionSize(ctx context.Context, userID int64, symbol string, entryPrice decimal.Decimal, riskPct float64) (decimal.Decimal, error)
}

// CandleLoader supplies the evaluation window.
type CandleLoader interface {
	LoadHistory(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)
}

type Executor struct {
	store    Store
	market   Market
	sizer    Sizer
	candles  CandleLoader
	registry *strategy.Registry
	defaults models.TradeDefaults
	logger   *zap.Logger
	now      func() time.Time

	// "<user>/<symbol>" keys with an entry in progress
	inflight sync.Map
}

func New(store Store, market Market, sizer Sizer, candles CandleLoader, registry *strategy.Registry, defaults models.TradeDefaults, logger *zap.Logger) *Executor {
	return &Executor{
		store:    store,
		market:   market,
		sizer:    sizer,
		candles:  candles,
		registry: registry,
		defaults: defaults,
		logger:   logger,
		now:      time.Now,
	}
}

// Enter evaluates the user's strategy on symbol and buys on a BUY signal.
// It returns the new trade, or nil when nothing was entered.
func (e *Executor) Enter(ctx context.Context, userID int64, symbol string) (*models.TradeLog, error) {
	key := fmt.Sprintf("%d/%s", userID, symbol)
	if _, busy := e.inflight.LoadOrStore(key, struct{}{}); busy {
		return nil, nil
	}
	defer e.inflight.Delete(key)

	us, err := e.store.UserSettings(userID)
	if err != nil {
		return nil, fmt.Errorf("settings for user %d: %w", userID, err)
	}
	if !us.Enabled {
		return nil, nil
	}
	strat, err := e.registry.Get(us.Strategy)
	if err != nil {
		return nil, err
	}
	settings, err := strat.Settings(userID)
	if err != nil {
		return nil, err
	}

	common := settings.Common()
	tf, limit := models.CandleWindow(*us, common)

	candles, err := e.candles.LoadHistory(ctx, symbol, timeframe.ParseOrDefault(tf).String(), limit)
	if err != nil {
		return nil, fmt.Errorf("history for %s: %w", symbol, err)
	}
	signal, err := strat.Evaluate(ctx, candles, settings)
	if err != nil {
		return nil, err
	}
	metrics.Signals.WithLabelValues(string(strat.Type()), string(signal)).Inc()
	e.logger.Debug("Strategy evaluated",
		zap.Int64("user", userID), zap.String("symbol", symbol),
		zap.String("strategy", string(strat.Type())), zap.String("signal", string(signal)))
	if signal != models.SignalBuy {
		return nil, nil
	}

	open, err := e.store.HasOpenTrade(userID, symbol)
	if err != nil {
		return nil, err
	}
	if open {
		e.logger.Debug("Position already open, skipping entry", zap.Int64("user", userID), zap.String("symbol", symbol))
		return nil, nil
	}

	tpPct, slPct := e.exitPercentages(userID, symbol, common)
	commission := us.CommissionPct
	if commission <= 0 {
		commission = e.defaults.CommissionPct
	}
	risk := us.RiskPct
	if risk <= 0 {
		risk = e.defaults.RiskPct
	}
	return e.buy(ctx, userID, symbol, strat.Type(), risk, tpPct, slPct, decimal.NewFromFloat(commission))
}

// exitPercentages picks TP/SL from the pair, then the strategy settings, then the defaults.
func (e *Executor) exitPercentages(userID int64, symbol string, common models.StrategyCommon) (decimal.Decimal, decimal.Decimal) {
	tp := decimal.NewFromFloat(e.defaults.TakeProfitPct)
	sl := decimal.NewFromFloat(e.defaults.StopLossPct)
	if common.TakeProfitPct > 0 {
		tp = decimal.NewFromFloat(common.TakeProfitPct)
	}
	if common.StopLossPct > 0 {
		sl = decimal.NewFromFloat(common.StopLossPct)
	}
	pair, err := e.store.Pair(userID, symbol)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			e.logger.Warn("Failed to read pair, using default TP/SL", zap.Int64("user", userID), zap.String("symbol", symbol), zap.Error(err))
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

func (e *Executor) buy(ctx context.Context, userID int64, symbol string, st models.StrategyType, riskPct float64, tpPct, slPct, commissionPct decimal.Decimal) (*models.TradeLog, error) {
	price, err := e.market.GetLastPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("price for %s: %w", symbol, err)
	}
	qty, err := e.sizer.PositionSize(ctx, userID, symbol, price, riskPct)
	if err != nil {
		return nil, err
	}
	if !qty.IsPositive() {
		e.logger.Info("Position size is zero, skipping entry", zap.Int64("user", userID), zap.String("symbol", symbol))
		return nil, nil
	}

	filters, err := e.market.GetExchangeFilters(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange filters: %w", err)
	}
	filter, ok := filters[symbol]
	if !ok {
		filter = models.SymbolFilter{Symbol: symbol}
	}
	qty, err = exchange.AdjustQuantity(filter, qty, price)
	if err != nil {
		e.logger.Info("Entry below exchange minimum, skipping", zap.Int64("user", userID), zap.String("symbol", symbol), zap.Error(err))
		return nil, nil
	}

	tradeID := exchange.NewTradeID()
	clientID := exchange.ClientOrderID(exchange.EntryOrderPrefix, tradeID)
	order, err := e.market.PlaceMarketBuy(ctx, userID, symbol, qty, clientID)
	metrics.Orders.WithLabelValues("BUY", metrics.OrderResult(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("buy %s %s: %w", qty, symbol, err)
	}

	entry := price
	if order.AvgPrice.IsPositive() {
		entry = order.AvgPrice
	}
	if order.ExecutedQty.IsPositive() {
		qty = order.ExecutedQty
	}

	trade := &models.TradeLog{
		ID:                 tradeID,
		UserID:             userID,
		Symbol:             symbol,
		Strategy:           st,
		EntryTime:          e.now(),
		EntryPrice:         entry,
		Quantity:           qty,
		TakeProfitPct:      tpPct,
		StopLossPct:        slPct,
		CommissionPct:      commissionPct,
		TakeProfitPrice:    models.TakeProfitPrice(entry, tpPct),
		StopLossPrice:      models.StopLossPrice(entry, slPct),
		EntryClientOrderID: clientID,
		ExitClientOrderID:  exchange.ClientOrderID(exchange.ExitOrderPrefix, tradeID),
	}
	if err := e.store.OpenTrade(trade); err != nil {
		e.logger.Error("CRITICAL: entry filled but trade not recorded",
			zap.Int64("user", userID), zap.String("symbol", symbol),
			zap.String("clientOrderId", clientID), zap.String("qty", qty.String()), zap.Error(err))
		return nil, fmt.Errorf("record trade %s: %w", tradeID, err)
	}

	e.logger.Info("Trade opened",
		zap.String("trade", tradeID),
		zap.Int64("user", userID),
		zap.String("symbol", symbol),
		zap.String("entry", entry.String()),
		zap.String("qty", qty.String()),
		zap.String("tp", trade.TakeProfitPrice.String()),
		zap.String("sl", trade.StopLossPrice.String()))
	return trade, nil
}

// ProcessPairs runs Enter for each of a user's active pairs. A failing pair is logged and
// counted; the rest are still processed. It returns the trades opened.
func (e *Executor) ProcessPairs(ctx context.Context, userID int64, pairs []models.ProfitablePair) []models.TradeLog {
	var opened []models.TradeLog
	for _, p := range pairs {
		if ctx.Err() != nil {
			break
		}
		trade, err := e.enterGuarded(ctx, userID, p.Symbol)
		if err != nil {
			metrics.CycleFailures.WithLabelValues("entry").Inc()
			e.logger.Error("Entry failed", zap.Int64("user", userID), zap.String("symbol", p.Symbol), zap.Error(err))
			continue
		}
		if trade != nil {
			opened = append(opened, *trade)
		}
	}
	return opened
}

func (e *Executor) enterGuarded(ctx context.Context, userID int64, symbol string) (trade *models.TradeLog, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.Enter(ctx, userID, symbol)
}
