// Package supervisor watches open trades and closes them at take-profit or stop-loss.
//
// Two monitors run the same exit check on their own schedules. The primary recomputes the
// TP/SL prices from the percentages captured at entry, the fallback trusts the prices stored
// on the trade. Either may close a trade; the store's close is applied once and the other
// monitor then sees the trade as closed.
package supervisor

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

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	MonitorPrimary  = "primary"
	MonitorFallback = "fallback"
)

// TradeStore is the part of the store the supervisor needs.
type TradeStore interface {
	OpenTrades() ([]models.TradeLog, error)
	Trade(id string) (*models.TradeLog, error)
	CloseTrade(id string, exit models.TradeExit) (*models.TradeLog, error)
}

// Market prices trades and sells them.
type Market interface {
	GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	PlaceMarketSell(ctx context.Context, userID int64, symbol string, qty decimal.Decimal, clientOrderID string) (*models.Order, error)
}

// Journal mirrors closed trades somewhere outside the store.
type Journal interface {
	RecordClose(trade models.TradeLog) error
}

// Stats summarises one monitor pass.
type Stats struct {
	Checked int
	Closed  int
	Failed  int
}

// levelsFunc yields the take-profit and stop-loss prices a monitor checks a trade against.
type levelsFunc func(t models.TradeLog) (tp, sl decimal.Decimal)

type Closer struct {
	store    TradeStore
	market   Market
	journal  Journal
	defaults models.TradeDefaults
	logger   *zap.Logger
	now      func() time.Time

	// trade ids with an exit in progress, shared by both monitors
	inflight sync.Map
}

// NewCloser wires the supervisor. journal may be nil.
func NewCloser(store TradeStore, market Market, journal Journal, defaults models.TradeDefaults, logger *zap.Logger) *Closer {
	return &Closer{
		store:    store,
		market:   market,
		journal:  journal,
		defaults: defaults,
		logger:   logger,
		now:      time.Now,
	}
}

// RunPrimary checks every open trade against TP/SL recomputed from its entry percentages.
func (c *Closer) RunPrimary(ctx context.Context) (Stats, error) {
	return c.run(ctx, MonitorPrimary, c.recomputedLevels)
}

// RunFallback checks every open trade against the TP/SL prices stored at entry.
func (c *Closer) RunFallback(ctx context.Context) (Stats, error) {
	return c.run(ctx, MonitorFallback, c.storedLevels)
}

func (c *Closer) recomputedLevels(t models.TradeLog) (decimal.Decimal, decimal.Decimal) {
	tpPct, slPct := t.TakeProfitPct, t.StopLossPct
	if !tpPct.IsPositive() {
		tpPct = decimal.NewFromFloat(c.defaults.TakeProfitPct)
	}
	if !slPct.IsPositive() {
		slPct = decimal.NewFromFloat(c.defaults.StopLossPct)
	}
	return models.TakeProfitPrice(t.EntryPrice, tpPct), models.StopLossPrice(t.EntryPrice, slPct)
}

func (c *Closer) storedLevels(t models.TradeLog) (decimal.Decimal, decimal.Decimal) {
	tp, sl := t.TakeProfitPrice, t.StopLossPrice
	if tp.IsPositive() && sl.IsPositive() {
		return tp, sl
	}
	return c.recomputedLevels(t)
}

func (c *Closer) run(ctx context.Context, monitor string, levels levelsFunc) (Stats, error) {
	var stats Stats
	open, err := c.store.OpenTrades()
	if err != nil {
		return stats, fmt.Errorf("%s monitor: load open trades: %w", monitor, err)
	}
	metrics.OpenTrades.Set(float64(len(open)))

	for _, trade := range open {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Checked++
		closed, err := c.checkGuarded(ctx, monitor, trade, levels)
		switch {
		case err != nil:
			stats.Failed++
			metrics.CycleFailures.WithLabelValues("exit-" + monitor).Inc()
			c.logger.Error("Exit check failed",
				zap.String("monitor", monitor), zap.String("trade", trade.ID),
				zap.Int64("user", trade.UserID), zap.String("symbol", trade.Symbol), zap.Error(err))
		case closed:
			stats.Closed++
		}
	}
	return stats, nil
}

// checkGuarded isolates one trade: panics become errors and a trade already being exited by
// the other monitor is skipped. The trade is re-read under the guard, so one closed after the
// pass listed it is never sold again.
func (c *Closer) checkGuarded(ctx context.Context, monitor string, trade models.TradeLog, levels levelsFunc) (closed bool, err error) {
	if _, busy := c.inflight.LoadOrStore(trade.ID, monitor); busy {
		return false, nil
	}
	defer c.inflight.Delete(trade.ID)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	current, err := c.store.Trade(trade.ID)
	if errors.Is(err, persistence.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reload trade %s: %w", trade.ID, err)
	}
	return c.check(ctx, monitor, *current, levels)
}

func (c *Closer) check(ctx context.Context, monitor string, trade models.TradeLog, levels levelsFunc) (bool, error) {
	if trade.Closed {
		return false, nil
	}
	price, err := c.market.GetLastPrice(ctx, trade.Symbol)
	if err != nil || !price.IsPositive() {
		c.logger.Warn("No price for open trade, skipping",
			zap.String("monitor", monitor), zap.String("trade", trade.ID), zap.String("symbol", trade.Symbol), zap.Error(err))
		return false, nil
	}

	tp, sl := levels(trade)
	var reason models.ExitReason
	switch {
	case price.GreaterThanOrEqual(tp):
		reason = models.ExitTakeProfit
	case price.LessThanOrEqual(sl):
		reason = models.ExitStopLoss
	default:
		return false, nil
	}

	clientID := trade.ExitClientOrderID
	if clientID == "" {
		clientID = exchange.ClientOrderID(exchange.ExitOrderPrefix, trade.ID)
	}
	order, err := c.market.PlaceMarketSell(ctx, trade.UserID, trade.Symbol, trade.Quantity, clientID)
	metrics.Orders.WithLabelValues("SELL", metrics.OrderResult(err)).Inc()
	if err != nil {
		return false, fmt.Errorf("sell %s %s: %w", trade.Quantity, trade.Symbol, err)
	}

	exitPrice := price
	if order != nil && order.AvgPrice.IsPositive() {
		exitPrice = order.AvgPrice
	}
	exit := models.TradeExit{
		Time:          c.now(),
		Price:         exitPrice,
		PnL:           models.NetPnL(trade.EntryPrice, exitPrice, trade.Quantity, trade.CommissionPct),
		ClientOrderID: clientID,
		Reason:        reason,
		ClosedBy:      monitor,
	}
	closed, err := c.store.CloseTrade(trade.ID, exit)
	if errors.Is(err, persistence.ErrTradeClosed) {
		c.logger.Info("Trade already closed elsewhere", zap.String("monitor", monitor), zap.String("trade", trade.ID))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("record close of %s: %w", trade.ID, err)
	}

	metrics.Exits.WithLabelValues(monitor, string(reason)).Inc()
	c.logger.Info("Trade closed",
		zap.String("monitor", monitor),
		zap.String("trade", trade.ID),
		zap.Int64("user", trade.UserID),
		zap.String("symbol", trade.Symbol),
		zap.String("reason", string(reason)),
		zap.String("exitPrice", exitPrice.String()),
		zap.String("pnl", exit.PnL.String()))

	if c.journal != nil {
		if err := c.journal.RecordClose(*closed); err != nil {
			c.logger.Warn("Failed to journal closed trade", zap.String("trade", trade.ID), zap.Error(err))
		}
	}
	return true, nil
}
