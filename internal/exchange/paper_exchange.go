package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"binance-ai-trader-go/internal/models"

	"github.com/shopspring/decimal"
)

// MarketData is the read-only part of an exchange. PaperExchange delegates to it for
// everything it does not simulate itself.
type MarketData interface {
	GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetAllSymbols(ctx context.Context) ([]string, error)
	GetExchangeFilters(ctx context.Context) (map[string]models.SymbolFilter, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
}

// PaperExchange simulates spot market orders against in-memory balances.
// Orders fill completely at the current price and pay the taker fee in the quote asset.
type PaperExchange struct {
	mu          sync.Mutex
	prices      map[string]decimal.Decimal
	balances    map[int64]map[string]decimal.Decimal
	filters     map[string]models.SymbolFilter
	orders      []models.Order
	nextOrderID int64
	// TakerFeeRate is a fraction, e.g. 0.001 for 0.1%.
	TakerFeeRate decimal.Decimal
	market       MarketData
}

// NewPaperExchange creates a simulator. market may be nil for a fully offline exchange.
func NewPaperExchange(takerFeeRate decimal.Decimal, market MarketData) *PaperExchange {
	return &PaperExchange{
		prices:       make(map[string]decimal.Decimal),
		balances:     make(map[int64]map[string]decimal.Decimal),
		filters:      make(map[string]models.SymbolFilter),
		nextOrderID:  1,
		TakerFeeRate: takerFeeRate,
		market:       market,
	}
}

// SetPrice sets the price orders for symbol fill at.
func (e *PaperExchange) SetPrice(symbol string, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price
}

// SetFilter registers trading rules for an offline symbol.
func (e *PaperExchange) SetFilter(f models.SymbolFilter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filters[f.Symbol] = f
}

func (e *PaperExchange) SetBalance(userID int64, asset string, amount decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wallet(userID)[asset] = amount
}

// Deposit adds amount to the user's asset balance.
func (e *PaperExchange) Deposit(userID int64, asset string, amount decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w := e.wallet(userID)
	w[asset] = w[asset].Add(amount)
}

// Orders returns a copy of every filled order.
func (e *PaperExchange) Orders() []models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Order, len(e.orders))
	copy(out, e.orders)
	return out
}

// wallet must be called with the lock held.
func (e *PaperExchange) wallet(userID int64) map[string]decimal.Decimal {
	w, ok := e.balances[userID]
	if !ok {
		w = make(map[string]decimal.Decimal)
		e.balances[userID] = w
	}
	return w
}

func (e *PaperExchange) GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	e.mu.Lock()
	p, ok := e.prices[symbol]
	e.mu.Unlock()
	if ok && p.IsPositive() {
		return p, nil
	}
	if e.market != nil {
		return e.market.GetLastPrice(ctx, symbol)
	}
	return decimal.Zero, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
}

func (e *PaperExchange) PlaceMarketBuy(ctx context.Context, userID int64, symbol string, qty decimal.Decimal, clientOrderID string) (*models.Order, error) {
	return e.fill(ctx, userID, symbol, "BUY", qty, clientOrderID)
}

func (e *PaperExchange) PlaceMarketSell(ctx context.Context, userID int64, symbol string, qty decimal.Decimal, clientOrderID string) (*models.Order, error) {
	return e.fill(ctx, userID, symbol, "SELL", qty, clientOrderID)
}

func (e *PaperExchange) fill(ctx context.Context, userID int64, symbol, side string, qty decimal.Decimal, clientOrderID string) (*models.Order, error) {
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: %s qty %s", ErrBelowMinimum, symbol, qty)
	}
	price, err := e.GetLastPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	f, err := e.filterFor(ctx, symbol)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, o := range e.orders {
		if clientOrderID != "" && o.ClientOrderID == clientOrderID {
			return nil, fmt.Errorf("duplicate client order id %s", clientOrderID)
		}
	}

	notional := qty.Mul(price)
	fee := notional.Mul(e.TakerFeeRate)
	w := e.wallet(userID)
	switch side {
	case "BUY":
		cost := notional.Add(fee)
		if w[f.QuoteAsset].LessThan(cost) {
			return nil, fmt.Errorf("%w: user %d needs %s %s, has %s", ErrInsufficientBalance, userID, cost, f.QuoteAsset, w[f.QuoteAsset])
		}
		w[f.QuoteAsset] = w[f.QuoteAsset].Sub(cost)
		w[f.BaseAsset] = w[f.BaseAsset].Add(qty)
	default:
		if w[f.BaseAsset].LessThan(qty) {
			return nil, fmt.Errorf("%w: user %d needs %s %s, has %s", ErrInsufficientBalance, userID, qty, f.BaseAsset, w[f.BaseAsset])
		}
		w[f.BaseAsset] = w[f.BaseAsset].Sub(qty)
		w[f.QuoteAsset] = w[f.QuoteAsset].Add(notional.Sub(fee))
	}

	order := models.Order{
		Symbol:        symbol,
		Side:          side,
		OrderID:       e.nextOrderID,
		ClientOrderID: clientOrderID,
		Status:        "FILLED",
		ExecutedQty:   qty,
		AvgPrice:      price,
		Commission:    fee,
	}
	e.nextOrderID++
	e.orders = append(e.orders, order)
	return &order, nil
}

// filterFor resolves the symbol's assets, falling back to the quote suffix convention.
func (e *PaperExchange) filterFor(ctx context.Context, symbol string) (models.SymbolFilter, error) {
	e.mu.Lock()
	f, ok := e.filters[symbol]
	e.mu.Unlock()
	if ok {
		return f, nil
	}
	if e.market != nil {
		all, err := e.market.GetExchangeFilters(ctx)
		if err != nil {
			return models.SymbolFilter{}, err
		}
		if f, ok := all[symbol]; ok {
			return f, nil
		}
	}
	quote := SettlementAsset(symbol)
	return models.SymbolFilter{
		Symbol:     symbol,
		BaseAsset:  symbol[:len(symbol)-len(quote)],
		QuoteAsset: quote,
	}, nil
}

func (e *PaperExchange) GetFreeBalance(_ context.Context, userID int64, asset string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wallet(userID)[asset], nil
}

func (e *PaperExchange) GetAllSymbols(ctx context.Context) ([]string, error) {
	if e.market != nil {
		return e.market.GetAllSymbols(ctx)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	symbols := make([]string, 0, len(e.prices))
	for s := range e.prices {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols, nil
}

func (e *PaperExchange) GetExchangeFilters(ctx context.Context) (map[string]models.SymbolFilter, error) {
	if e.market != nil {
		return e.market.GetExchangeFilters(ctx)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]models.SymbolFilter, len(e.filters))
	for k, v := range e.filters {
		out[k] = v
	}
	return out, nil
}

func (e *PaperExchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	if e.market == nil {
		return nil, fmt.Errorf("paper exchange has no market data for %s", symbol)
	}
	return e.market.GetKlines(ctx, symbol, interval, limit)
}
