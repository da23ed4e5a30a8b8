package exchange

import (
	"context"
	"errors"

	"binance-ai-trader-go/internal/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoPrice is returned when no price is known for a symbol.
	ErrNoPrice = errors.New("no price available")
	// ErrInsufficientBalance is returned by simulated exchanges when an order cannot be paid for.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrBelowMinimum is returned when an order is below the symbol's minimum quantity or notional.
	ErrBelowMinimum = errors.New("order below exchange minimum")
	// ErrUnknownUser is returned when no credentials are configured for a user.
	ErrUnknownUser = errors.New("no exchange account for user")
)

// Exchange is the spot exchange contract the trading core consumes.
// Every call is a blocking network operation bounded by its context.
type Exchange interface {
	GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	PlaceMarketBuy(ctx context.Context, userID int64, symbol string, qty decimal.Decimal, clientOrderID string) (*models.Order, error)
	PlaceMarketSell(ctx context.Context, userID int64, symbol string, qty decimal.Decimal, clientOrderID string) (*models.Order, error)
	GetFreeBalance(ctx context.Context, userID int64, asset string) (decimal.Decimal, error)
	// GetAllSymbols lists symbols currently open for spot trading.
	GetAllSymbols(ctx context.Context) ([]string, error)
	GetExchangeFilters(ctx context.Context) (map[string]models.SymbolFilter, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
}
