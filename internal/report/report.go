// Package report renders backtest results as text tables.
package report

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"tradesim/internal/domain"
	"tradesim/internal/store"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	if len(header) > 0 {
		table.SetHeader(header)
		table.SetAutoFormatHeaders(false)
	}
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

// WriteSummary writes the run metadata and performance metrics of res.
func WriteSummary(w io.Writer, res *domain.BacktestResult) {
	md, m := res.Metadata, res.Summary

	table := newTable(w, "Metric", "Value")
	table.AppendBulk([][]string{
		{"Run", md.RunID},
		{"Strategy", md.StrategyName},
		{"Symbol", md.Symbol},
		{"Period", period(md.StartDate, md.EndDate)},
		{"Bars", strconv.Itoa(md.DataPoints)},
		{"Initial value", money(m.InitialValue)},
		{"Final value", money(m.FinalValue)},
		{"Total return", pct(m.TotalReturn)},
		{"Annualized return", pct(m.AnnualizedReturn)},
		{"Sharpe ratio", num(m.SharpeRatio)},
		{"Max drawdown", pct(m.MaxDrawdown)},
		{"Volatility", pct(m.Volatility)},
		{"Trades", fmt.Sprintf("%d (%d won, %d lost)", m.TotalTrades, m.WinningTrades, m.LosingTrades)},
		{"Win rate", pct(m.WinRate)},
		{"Profit factor", num(m.ProfitFactor)},
		{"Average win", money(m.AverageWin)},
		{"Average loss", money(m.AverageLoss)},
		{"Largest win", money(m.LargestWin)},
		{"Largest loss", money(m.LargestLoss)},
		{"Commission", money(m.TotalCommission)},
		{"Average holding", holding(m.AverageHolding)},
		{"Execution time", fmt.Sprintf("%d ms", md.ExecutionTimeMs)},
	})
	if len(res.Errors) > 0 {
		table.Append([]string{"Bar errors", strconv.Itoa(len(res.Errors))})
	}
	table.Render()
}

// WriteTrades writes one row per trade.
func WriteTrades(w io.Writer, trades []domain.Trade) {
	table := newTable(w, "#", "Symbol", "Qty", "Entry", "Entry time", "Exit", "Exit time", "P&L", "Exit reason")
	for i, t := range trades {
		exit, exitTime := "", ""
		if t.IsClosed() {
			exit = price(t.ExitPrice)
			exitTime = t.ExitTime.Format("2006-01-02")
		}
		table.Append([]string{
			strconv.Itoa(i + 1),
			t.Symbol,
			strconv.FormatFloat(t.Quantity, 'f', 4, 64),
			price(t.EntryPrice),
			t.EntryTime.Format("2006-01-02"),
			exit,
			exitTime,
			money(t.PnL),
			t.ExitReason,
		})
	}
	table.Render()
}

// WriteErrors writes the per-bar failures of a run.
func WriteErrors(w io.Writer, errs []domain.BarError) {
	table := newTable(w, "Bar", "Time", "Error")
	for _, e := range errs {
		table.Append([]string{strconv.Itoa(e.Index), e.Timestamp.Format(time.RFC3339), e.Message})
	}
	table.Render()
}

// WriteRuns writes one row per stored run.
func WriteRuns(w io.Writer, runs []store.RunSummary) {
	table := newTable(w, "Run", "Created", "Strategy", "Symbol", "Return", "Sharpe", "Max DD", "Trades", "Win rate")
	for _, r := range runs {
		table.Append([]string{
			r.RunID,
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.Strategy,
			r.Symbol,
			pct(r.Metrics.TotalReturn),
			num(r.Metrics.SharpeRatio),
			pct(r.Metrics.MaxDrawdown),
			strconv.Itoa(r.Metrics.TotalTrades),
			pct(r.Metrics.WinRate),
		})
	}
	table.Render()
}

func period(start, end time.Time) string {
	if start.IsZero() && end.IsZero() {
		return "-"
	}
	return start.Format("2006-01-02") + " to " + end.Format("2006-01-02")
}

func pct(v float64) string { return fmt.Sprintf("%.2f%%", v*100) }

func money(v float64) string { return fmt.Sprintf("%.2f", v) }

func price(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }

func num(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsNaN(v):
		return "n/a"
	}
	return fmt.Sprintf("%.2f", v)
}

func holding(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	days := d.Hours() / 24
	if days >= 1 {
		return fmt.Sprintf("%.1f days", days)
	}
	return d.Round(time.Minute).String()
}
