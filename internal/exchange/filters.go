package exchange

import (
	"fmt"

	"binance-ai-trader-go/internal/models"

	"github.com/shopspring/decimal"
)

// RoundToStep truncates value down to a multiple of step. A non-positive step leaves value unchanged.
func RoundToStep(value, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}

// AdjustQuantity rounds qty down to the lot step and checks the symbol minimums at price.
func AdjustQuantity(f models.SymbolFilter, qty, price decimal.Decimal) (decimal.Decimal, error) {
	adjusted := RoundToStep(qty, f.StepSize)
	if !adjusted.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s qty %s rounds to zero with step %s", ErrBelowMinimum, f.Symbol, qty, f.StepSize)
	}
	if f.MinQty.IsPositive() && adjusted.LessThan(f.MinQty) {
		return decimal.Zero, fmt.Errorf("%w: %s qty %s < min qty %s", ErrBelowMinimum, f.Symbol, adjusted, f.MinQty)
	}
	if f.MinNotional.IsPositive() && adjusted.Mul(price).LessThan(f.MinNotional) {
		return decimal.Zero, fmt.Errorf("%w: %s notional %s < %s", ErrBelowMinimum, f.Symbol, adjusted.Mul(price), f.MinNotional)
	}
	return adjusted, nil
}
