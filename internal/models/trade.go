package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of fractional digits used for prices, quantities and PnL.
const PriceScale = 8

var hundred = decimal.NewFromInt(100)

// ExitReason tells why a trade was closed.
type ExitReason string

const (
	ExitTakeProfit ExitReason = "TAKE_PROFIT"
	ExitStopLoss   ExitReason = "STOP_LOSS"
)

// TradeLog is the record of one position from entry to exit.
// Closed is terminal: once set the record is never modified again.
type TradeLog struct {
	ID       string       `json:"id"`
	UserID   int64        `json:"user_id"`
	Symbol   string       `json:"symbol"`
	Strategy StrategyType `json:"strategy"`

	EntryTime  time.Time       `json:"entry_time"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Quantity   decimal.Decimal `json:"quantity"`

	// Percentages and commission captured at entry; the primary monitor recomputes from these.
	TakeProfitPct decimal.Decimal `json:"take_profit_pct"`
	StopLossPct   decimal.Decimal `json:"stop_loss_pct"`
	CommissionPct decimal.Decimal `json:"commission_pct"`

	TakeProfitPrice decimal.Decimal `json:"take_profit_price"`
	StopLossPrice   decimal.Decimal `json:"stop_loss_price"`

	EntryClientOrderID string `json:"entry_client_order_id"`
	ExitClientOrderID  string `json:"exit_client_order_id,omitempty"`

	ExitTime   *time.Time       `json:"exit_time,omitempty"`
	ExitPrice  *decimal.Decimal `json:"exit_price,omitempty"`
	PnL        *decimal.Decimal `json:"pnl,omitempty"`
	ExitReason ExitReason       `json:"exit_reason,omitempty"`
	ClosedBy   string           `json:"closed_by,omitempty"`
	Closed     bool             `json:"closed"`
}

// TradeExit carries the fields stamped on a trade when it closes.
type TradeExit struct {
	Time          time.Time
	Price         decimal.Decimal
	PnL           decimal.Decimal
	ClientOrderID string
	Reason        ExitReason
	ClosedBy      string
}

// ProfitablePair is a (user, symbol) approved for automated trading.
type ProfitablePair struct {
	UserID        int64           `json:"user_id"`
	Symbol        string          `json:"symbol"`
	TakeProfitPct decimal.Decimal `json:"take_profit_pct"`
	StopLossPct   decimal.Decimal `json:"stop_loss_pct"`
	Active        bool            `json:"active"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TakeProfitPrice returns entry*(1+pct/100) rounded half-up to PriceScale.
func TakeProfitPrice(entry, pct decimal.Decimal) decimal.Decimal {
	return entry.Mul(decimal.NewFromInt(1).Add(pct.Div(hundred))).Round(PriceScale)
}

// StopLossPrice returns entry*(1-pct/100) rounded half-up to PriceScale.
func StopLossPrice(entry, pct decimal.Decimal) decimal.Decimal {
	return entry.Mul(decimal.NewFromInt(1).Sub(pct.Div(hundred))).Round(PriceScale)
}

// NetPnL is (exit-entry)*qty minus commission charged on both legs.
func NetPnL(entry, exit, qty, commissionPct decimal.Decimal) decimal.Decimal {
	gross := exit.Sub(entry).Mul(qty)
	fee := entry.Add(exit).Mul(qty).Mul(commissionPct).Div(hundred)
	return gross.Sub(fee).Round(PriceScale)
}
