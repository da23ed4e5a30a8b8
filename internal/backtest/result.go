package backtest

import (
	"sort"
	"time"

	"binance-ai-trader-go/internal/models"

	"github.com/shopspring/decimal"
)

// Trade is one completed simulated round trip. Return is the fractional result net of
// commission on both legs (0.01 = +1%).
type Trade struct {
	Symbol     string            `json:"symbol"`
	EntryTime  time.Time         `json:"entry_time"`
	EntryPrice decimal.Decimal   `json:"entry_price"`
	ExitTime   time.Time         `json:"exit_time"`
	ExitPrice  decimal.Decimal   `json:"exit_price"`
	Reason     models.ExitReason `json:"reason"`
	Return     decimal.Decimal   `json:"return"`
}

func (t Trade) Win() bool { return t.Return.IsPositive() }

// Result is the ordered trade sequence of one run.
type Result struct {
	UserID        int64
	Strategy      models.StrategyType
	Timeframe     string
	CommissionPct decimal.Decimal
	Trades        []Trade
}

func (r *Result) add(t Trade) { r.Trades = append(r.Trades, t) }

func (r *Result) TotalTrades() int { return len(r.Trades) }

func (r *Result) TotalPnL() decimal.Decimal {
	total := decimal.Zero
	for _, t := range r.Trades {
		total = total.Add(t.Return)
	}
	return total
}

func (r *Result) WinCount() int {
	n := 0
	for _, t := range r.Trades {
		if t.Win() {
			n++
		}
	}
	return n
}

// WinRate is the share of winning trades in [0,1]; zero without trades.
func (r *Result) WinRate() float64 {
	if len(r.Trades) == 0 {
		return 0
	}
	return float64(r.WinCount()) / float64(len(r.Trades))
}

func (r *Result) PnLBySymbol() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, t := range r.Trades {
		out[t.Symbol] = out[t.Symbol].Add(t.Return)
	}
	return out
}

// LosingSymbols lists, sorted, the symbols whose summed return is negative.
func (r *Result) LosingSymbols() []string {
	var losers []string
	for symbol, pnl := range r.PnLBySymbol() {
		if pnl.IsNegative() {
			losers = append(losers, symbol)
		}
	}
	sort.Strings(losers)
	return losers
}
