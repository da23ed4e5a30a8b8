package reporter

import (
	"fmt"
	"io"
	"math"
	"sort"

	"binance-ai-trader-go/internal/backtest"
	"binance-ai-trader-go/internal/storage"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Metrics holds the computed backtest performance figures. Returns are fractions (0.01 = 1%).
type Metrics struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	TotalReturn   float64
	AvgReturn     float64
	AvgProfitLoss float64
	MaxDrawdown   float64
	BySymbol      map[string]float64
	LosingSymbols []string
}

// BuildBacktestMetrics summarises a backtest result.
func BuildBacktestMetrics(result *backtest.Result) Metrics {
	m := Metrics{BySymbol: make(map[string]float64)}
	if result == nil {
		return m
	}
	m.TotalTrades = result.TotalTrades()
	m.WinRate = result.WinRate() * 100
	m.TotalReturn = result.TotalPnL().InexactFloat64()
	m.LosingSymbols = result.LosingSymbols()
	for symbol, pnl := range result.PnLBySymbol() {
		m.BySymbol[symbol] = pnl.InexactFloat64()
	}

	var totalProfit, totalLoss float64
	equity := []float64{1}
	for _, t := range result.Trades {
		r := t.Return.InexactFloat64()
		if t.Win() {
			m.WinningTrades++
			totalProfit += r
		} else {
			m.LosingTrades++
			totalLoss += r
		}
		equity = append(equity, equity[len(equity)-1]+r)
	}
	if m.TotalTrades > 0 {
		m.AvgReturn = m.TotalReturn / float64(m.TotalTrades)
	}
	if m.LosingTrades > 0 && m.WinningTrades > 0 {
		avgWin := totalProfit / float64(m.WinningTrades)
		avgLoss := math.Abs(totalLoss / float64(m.LosingTrades))
		if avgLoss > 0 {
			m.AvgProfitLoss = avgWin / avgLoss
		}
	}
	m.MaxDrawdown = calculateMaxDrawdown(equity) * 100
	return m
}

// calculateMaxDrawdown is the largest peak-to-trough drop of the equity curve, as a fraction of the peak.
func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		drawdown := (peak - equity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleLight)
	return t
}

func pct(v float64) string { return fmt.Sprintf("%.2f%%", v) }

// WriteBacktestReport renders the summary, the per-symbol table and the trade list.
func WriteBacktestReport(w io.Writer, result *backtest.Result) {
	m := BuildBacktestMetrics(result)

	summary := newTable(w, fmt.Sprintf("Backtest user %d (%s, %s)", result.UserID, result.Strategy, result.Timeframe))
	summary.AppendRows([]table.Row{
		{"Trades", m.TotalTrades},
		{"Wins / losses", fmt.Sprintf("%d / %d", m.WinningTrades, m.LosingTrades)},
		{"Win rate", pct(m.WinRate)},
		{"Total return", pct(m.TotalReturn * 100)},
		{"Average return", pct(m.AvgReturn * 100)},
		{"Avg win / avg loss", fmt.Sprintf("%.2f", m.AvgProfitLoss)},
		{"Max drawdown", pct(m.MaxDrawdown)},
		{"Commission per leg", pct(result.CommissionPct.InexactFloat64())},
	})
	summary.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	summary.Render()

	symbols := make([]string, 0, len(m.BySymbol))
	for s := range m.BySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	if len(symbols) > 0 {
		bySymbol := newTable(w, "Return by symbol")
		bySymbol.AppendHeader(table.Row{"Symbol", "Return"})
		for _, s := range symbols {
			bySymbol.AppendRow(table.Row{s, pct(m.BySymbol[s] * 100)})
		}
		bySymbol.Render()
	}

	if len(result.Trades) == 0 {
		return
	}
	trades := newTable(w, "Trades")
	trades.AppendHeader(table.Row{"#", "Symbol", "Entry time", "Entry", "Exit time", "Exit", "Reason", "Return"})
	for i, t := range result.Trades {
		trades.AppendRow(table.Row{
			i + 1, t.Symbol,
			t.EntryTime.Format("2006-01-02 15:04"), t.EntryPrice.String(),
			t.ExitTime.Format("2006-01-02 15:04"), t.ExitPrice.String(),
			string(t.Reason), pct(t.Return.InexactFloat64() * 100),
		})
	}
	trades.AppendFooter(table.Row{"", "", "", "", "", "", "Total", pct(m.TotalReturn * 100)})
	trades.Render()
}

// WriteJournalReport renders closed trades from the journal.
func WriteJournalReport(w io.Writer, entries []storage.JournalEntry) {
	t := newTable(w, "Closed trades")
	t.AppendHeader(table.Row{"Trade", "User", "Symbol", "Strategy", "Exit time", "Entry", "Exit", "Qty", "PnL", "Reason", "Closed by"})
	for _, e := range entries {
		t.AppendRow(table.Row{
			e.TradeID, e.UserID, e.Symbol, e.Strategy,
			e.ExitTime.Format("2006-01-02 15:04:05"),
			e.EntryPrice.String(), e.ExitPrice.String(), e.Quantity.String(), e.PnL.String(),
			string(e.Reason), e.ClosedBy,
		})
	}
	t.Render()
}
