// Package analytics derives summary performance statistics from a finished
// backtest's trade list and equity curve.
package analytics

import (
	"math"
	"time"

	"github.com/montanaflynn/stats"

	"tradesim/internal/domain"
)

// TradingDaysPerYear annualises daily volatility.
const TradingDaysPerYear = 252

// Compute summarises a run. Only CLOSED trades are counted. initialValue is
// the starting portfolio value; the final value is the last equity point, or
// initialValue when the curve is empty.
func Compute(trades []domain.Trade, curve []domain.EquityPoint, initialValue float64) domain.PerformanceMetrics {
	m := domain.PerformanceMetrics{
		InitialValue: initialValue,
		FinalValue:   initialValue,
	}
	if len(curve) > 0 {
		m.FinalValue = curve[len(curve)-1].TotalValue
	}
	if initialValue > 0 {
		m.TotalReturn = (m.FinalValue - initialValue) / initialValue
	}
	m.AnnualizedReturn = AnnualizedReturn(m.TotalReturn, elapsed(curve))

	values := make([]float64, len(curve))
	for i, p := range curve {
		values[i] = p.TotalValue
	}
	m.SharpeRatio = SharpeRatio(Returns(values))
	m.MaxDrawdown = MaxDrawdown(values)
	m.Volatility = Volatility(curve)

	tradeStats(&m, trades)
	return m
}

// Returns computes step returns, skipping steps whose previous value is
// zero.
func Returns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			continue
		}
		out = append(out, (values[i]-values[i-1])/values[i-1])
	}
	return out
}

// SharpeRatio is mean over sample standard deviation of returns, with no
// risk-free adjustment. It is 0 for fewer than two returns or zero
// deviation.
func SharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, err := stats.Mean(returns)
	if err != nil {
		return 0
	}
	sd, err := stats.StandardDeviationSample(returns)
	if err != nil || sd == 0 || math.IsNaN(sd) {
		return 0
	}
	return mean / sd
}

// MaxDrawdown is the largest fractional decline from a running peak.
func MaxDrawdown(values []float64) float64 {
	var peak, maxDD float64
	for i, v := range values {
		if i == 0 || v > peak {
			peak = v
		}
		if dd := Drawdown(peak, v); dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// Drawdown returns (peak - value) / peak clamped to [0, 1], or 0 when peak
// is not positive.
func Drawdown(peak, value float64) float64 {
	if peak <= 0 {
		return 0
	}
	dd := (peak - value) / peak
	switch {
	case dd < 0:
		return 0
	case dd > 1:
		return 1
	}
	return dd
}

// AnnualizedReturn compounds totalReturn over a 365.25-day year. A zero
// elapsed period returns totalReturn unchanged.
func AnnualizedReturn(totalReturn float64, period time.Duration) float64 {
	days := period.Hours() / 24
	if days <= 0 {
		return totalReturn
	}
	if 1+totalReturn <= 0 {
		return -1
	}
	return math.Pow(1+totalReturn, 365.25/days) - 1
}

// Volatility is the annualised sample standard deviation of daily returns,
// where each calendar day (UTC) is represented by its last equity point.
func Volatility(curve []domain.EquityPoint) float64 {
	var daily []float64
	var lastDay string
	for _, p := range curve {
		day := p.Timestamp.UTC().Format(time.DateOnly)
		if day == lastDay && len(daily) > 0 {
			daily[len(daily)-1] = p.TotalValue
			continue
		}
		daily = append(daily, p.TotalValue)
		lastDay = day
	}
	rets := Returns(daily)
	if len(rets) < 2 {
		return 0
	}
	sd, err := stats.StandardDeviationSample(rets)
	if err != nil || math.IsNaN(sd) {
		return 0
	}
	return sd * math.Sqrt(TradingDaysPerYear)
}

func elapsed(curve []domain.EquityPoint) time.Duration {
	if len(curve) < 2 {
		return 0
	}
	return curve[len(curve)-1].Timestamp.Sub(curve[0].Timestamp)
}

func tradeStats(m *domain.PerformanceMetrics, trades []domain.Trade) {
	var holding time.Duration
	for _, t := range trades {
		if !t.IsClosed() {
			continue
		}
		m.TotalTrades++
		m.TotalCommission += t.Commission
		holding += t.HoldingPeriod()

		switch {
		case t.PnL > 0:
			m.WinningTrades++
			m.GrossProfit += t.PnL
			if t.PnL > m.LargestWin {
				m.LargestWin = t.PnL
			}
		case t.PnL < 0:
			m.LosingTrades++
			m.GrossLoss += -t.PnL
			if t.PnL < m.LargestLoss {
				m.LargestLoss = t.PnL
			}
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
		m.AverageHolding = holding / time.Duration(m.TotalTrades)
	}
	if m.WinningTrades > 0 {
		m.AverageWin = m.GrossProfit / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = -m.GrossLoss / float64(m.LosingTrades)
	}
	m.ProfitFactor = ProfitFactor(m.GrossProfit, m.GrossLoss)
}

// ProfitFactor is grossProfit / grossLoss. With no losses it is 1 when there
// is also no profit and +Inf otherwise.
func ProfitFactor(grossProfit, grossLoss float64) float64 {
	if grossLoss == 0 {
		if grossProfit == 0 {
			return 1
		}
		return math.Inf(1)
	}
	return grossProfit / grossLoss
}
