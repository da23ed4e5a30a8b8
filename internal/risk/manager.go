// Package risk sizes entries against the free balance of the settlement asset.
package risk

import (
	"context"
	"fmt"

	"binance-ai-trader-go/internal/exchange"

	"github.com/shopspring/decimal"
)

// DefaultRiskPct applies when a user has no risk percentage set.
const DefaultRiskPct = 1.0

const qtyScale = 8

// BalanceSource reports free balances.
type BalanceSource interface {
	GetFreeBalance(ctx context.Context, userID int64, asset string) (decimal.Decimal, error)
}

type Manager struct {
	balances BalanceSource
}

func NewManager(balances BalanceSource) *Manager {
	return &Manager{balances: balances}
}

// PositionSize returns freeBalance*riskPct/100/entryPrice truncated to 8 places, or zero when the
// balance or the price is not positive.
func (m *Manager) PositionSize(ctx context.Context, userID int64, symbol string, entryPrice decimal.Decimal, riskPct float64) (decimal.Decimal, error) {
	if !entryPrice.IsPositive() {
		return decimal.Zero, nil
	}
	asset := exchange.SettlementAsset(symbol)
	free, err := m.balances.GetFreeBalance(ctx, userID, asset)
	if err != nil {
		return decimal.Zero, fmt.Errorf("free %s balance for user %d: %w", asset, userID, err)
	}
	return Size(free, riskPct, entryPrice), nil
}

// Size is the pure sizing rule.
func Size(free decimal.Decimal, riskPct float64, entryPrice decimal.Decimal) decimal.Decimal {
	if !free.IsPositive() || !entryPrice.IsPositive() {
		return decimal.Zero
	}
	if riskPct <= 0 {
		riskPct = DefaultRiskPct
	}
	// exact only for riskPct with few decimals, which is what settings hold
	pct := decimal.NewFromFloat(riskPct)
	return free.Mul(pct).Div(decimal.NewFromInt(100)).Div(entryPrice).Truncate(qtyScale)
}
