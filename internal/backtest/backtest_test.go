package backtest

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/domain"
	"tradesim/internal/portfolio"
	"tradesim/internal/strategy"
)

var day0 = time.Date(2024, 1, 1, 21, 0, 0, 0, time.UTC)

func makeBars(prices ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(prices))
	for i, p := range prices {
		bars[i] = domain.Bar{
			Symbol:    "TEST",
			Timestamp: day0.AddDate(0, 0, i),
			Open:      p,
			High:      p,
			Low:       p,
			Close:     p,
			Volume:    1000,
		}
	}
	return bars
}

func compile(t *testing.T, buy, sell string, risk *domain.RiskConfig) *strategy.CompiledStrategy {
	t.Helper()
	cfg := strategy.Config{
		Name: "momentum",
		Parameters: map[string]any{
			"symbol":        "TEST",
			"position_size": 1.0,
		},
		Indicators: []strategy.IndicatorConfig{
			{Name: "sma", Type: "SMA", Parameters: map[string]any{"period": 2}},
		},
		RiskManagement: risk,
	}
	if buy != "" {
		cfg.Signals.Buy = []strategy.SignalConfig{{ID: "up", Description: "Close rose", Condition: buy}}
	}
	if sell != "" {
		cfg.Signals.Sell = []strategy.SignalConfig{{ID: "down", Description: "Close fell", Condition: sell}}
	}
	cs, err := strategy.Compile(cfg)
	require.NoError(t, err)
	return cs
}

func execConfig(cash float64) domain.ExecutionConfig {
	return domain.ExecutionConfig{
		Portfolio:    domain.PortfolioConfig{InitialCash: cash},
		IncludeCosts: true,
	}
}

func assertDrawdownConsistent(t *testing.T, curve []domain.EquityPoint) {
	t.Helper()
	var peak float64
	for i, p := range curve {
		if i == 0 || p.TotalValue > peak {
			peak = p.TotalValue
		}
		want := 0.0
		if peak > 0 {
			want = (peak - p.TotalValue) / peak
		}
		assert.GreaterOrEqual(t, p.Drawdown, 0.0)
		assert.LessOrEqual(t, p.Drawdown, 1.0)
		assert.InDelta(t, want, p.Drawdown, 1e-9, "point %d", i)
	}
}

func TestRunEmptyBars(t *testing.T) {
	bt := New()
	assert.Equal(t, StatusNotStarted, bt.Status())

	res, err := bt.Run(context.Background(), compile(t, "close > close[1]", "", nil), nil, execConfig(10000))
	require.NoError(t, err)

	assert.NotNil(t, res.Trades)
	assert.Empty(t, res.Trades)
	assert.NotNil(t, res.EquityCurve)
	assert.Empty(t, res.EquityCurve)
	assert.Zero(t, res.Summary.TotalTrades)
	assert.Equal(t, 10000.0, res.Summary.FinalValue)
	assert.Equal(t, 10000.0, res.FinalPortfolio.Cash)
	assert.Zero(t, res.Metadata.DataPoints)
	assert.Equal(t, StatusCompleted, bt.Status())
}

func TestRunMomentum(t *testing.T) {
	var signals, points int
	var trades []domain.Trade
	obs := ObserverFuncs{
		Signal:      func(domain.Signal) { signals++ },
		Trade:       func(tr domain.Trade) { trades = append(trades, tr) },
		EquityPoint: func(domain.EquityPoint) { points++ },
	}
	bt := New(WithObserver(obs))
	cs := compile(t, "close > close[1]", "close < close[1]", nil)

	res, err := bt.Run(context.Background(), cs, makeBars(10, 11, 12, 10, 10, 15), execConfig(1000))
	require.NoError(t, err)

	require.Len(t, res.EquityCurve, 6)
	assert.Equal(t, 6, points)
	assert.Equal(t, 4, signals)
	assert.GreaterOrEqual(t, len(trades), 3)

	require.Len(t, res.Trades, 2)
	first, second := res.Trades[0], res.Trades[1]

	assert.InDelta(t, 11.0, first.EntryPrice, 1e-9)
	assert.Equal(t, 10.0, first.ExitPrice)
	assert.Equal(t, "Close rose", first.EntryReason)
	assert.Equal(t, "Close fell", first.ExitReason)
	assert.InDelta(t, -1000.0/11, first.PnL, 1e-6)
	assert.Equal(t, "momentum", first.Strategy)

	assert.Equal(t, 15.0, second.EntryPrice)
	assert.Equal(t, ReasonEndOfBacktest, second.ExitReason)
	assert.Equal(t, day0.AddDate(0, 0, 5), second.ExitTime)
	assert.InDelta(t, 0, second.PnL, 1e-6)

	for _, tr := range res.Trades {
		assert.Equal(t, domain.TradeStatusClosed, tr.Status)
	}
	assert.Empty(t, res.FinalPortfolio.Positions)

	final := 1000 - 1000.0/11
	assert.InDelta(t, final, res.Summary.FinalValue, 1e-6)
	assert.InDelta(t, final, res.FinalPortfolio.TotalValue, 1e-6)
	assert.InDelta(t, (final-1000)/1000, res.Summary.TotalReturn, 1e-9)
	assert.Equal(t, 2, res.Summary.TotalTrades)
	assert.Equal(t, 1, res.Summary.LosingTrades)
	assert.Zero(t, res.Summary.WinRate)

	// Peak 12*1000/11, trough 10*1000/11.
	assert.InDelta(t, 1.0/6, res.Summary.MaxDrawdown, 1e-9)
	assertDrawdownConsistent(t, res.EquityCurve)

	assert.Equal(t, "momentum", res.Metadata.StrategyName)
	assert.Equal(t, "TEST", res.Metadata.Symbol)
	assert.Equal(t, 6, res.Metadata.DataPoints)
	assert.Equal(t, day0, res.Metadata.StartDate)
	assert.Equal(t, day0.AddDate(0, 0, 5), res.Metadata.EndDate)
	assert.NotEmpty(t, res.Metadata.RunID)
}

func TestRunLiquidationRestatesLastPoint(t *testing.T) {
	cfg := execConfig(1000)
	cfg.Portfolio.CommissionRate = 0.01
	cs := compile(t, "close > close[1]", "", nil)

	res, err := New().Run(context.Background(), cs, makeBars(10, 11, 11), cfg)
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	last := res.EquityCurve[len(res.EquityCurve)-1]
	assert.InDelta(t, res.FinalPortfolio.TotalValue, last.TotalValue, 1e-9)
	assert.InDelta(t, res.FinalPortfolio.Cash, last.Cash, 1e-9)
	assert.Zero(t, last.PositionsValue)
	assert.InDelta(t, 1000+res.Trades[0].PnL, last.TotalValue, 1e-6)
	assertDrawdownConsistent(t, res.EquityCurve)
}

func TestRunIncludeCosts(t *testing.T) {
	bars := makeBars(10, 11, 12, 10, 10, 15)
	cfg := execConfig(1000)
	cfg.Portfolio.CommissionRate = 0.01
	cfg.Portfolio.SlippageRate = 0.001

	withCosts, err := New().Run(context.Background(), compile(t, "close > close[1]", "close < close[1]", nil), bars, cfg)
	require.NoError(t, err)
	assert.Greater(t, withCosts.Summary.TotalCommission, 0.0)
	assert.Greater(t, withCosts.Trades[0].EntryPrice, 11.0)

	cfg.IncludeCosts = false
	noCosts, err := New().Run(context.Background(), compile(t, "close > close[1]", "close < close[1]", nil), bars, cfg)
	require.NoError(t, err)
	assert.Zero(t, noCosts.Summary.TotalCommission)
	assert.InDelta(t, 11.0, noCosts.Trades[0].EntryPrice, 1e-9)
	assert.Greater(t, noCosts.Summary.FinalValue, withCosts.Summary.FinalValue)
}

func TestRunDateRange(t *testing.T) {
	cfg := execConfig(1000)
	cfg.StartDate = day0.AddDate(0, 0, 3)
	cfg.EndDate = day0.AddDate(0, 0, 6)

	res, err := New().Run(context.Background(), compile(t, "close > close[1]", "", nil), makeBars(1, 2, 3, 4, 5, 6, 7, 8, 9, 10), cfg)
	require.NoError(t, err)

	require.Len(t, res.EquityCurve, 4)
	assert.Equal(t, cfg.StartDate, res.EquityCurve[0].Timestamp)
	assert.Equal(t, cfg.EndDate, res.EquityCurve[3].Timestamp)
	assert.Equal(t, 4, res.Metadata.DataPoints)
	assert.Equal(t, cfg.StartDate, res.Metadata.StartDate)
	assert.Equal(t, cfg.EndDate, res.Metadata.EndDate)

	require.Len(t, res.Trades, 1)
	// First in-range bar only seeds close[1]; the buy happens on the second.
	assert.Equal(t, 5.0, res.Trades[0].EntryPrice)
	assert.Equal(t, 7.0, res.Trades[0].ExitPrice)
}

func TestRunBarErrorsDoNotAbort(t *testing.T) {
	var logs bytes.Buffer
	bt := New(WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	bars := makeBars(10, 11, 12, 13)
	bars[2].Close = 0
	bars[3].Volume = math.NaN()

	res, err := bt.Run(context.Background(), compile(t, "close > close[1]", "", nil), bars, execConfig(1000))
	require.NoError(t, err)

	require.Len(t, res.Errors, 2)
	assert.Equal(t, 2, res.Errors[0].Index)
	assert.Equal(t, bars[2].Timestamp, res.Errors[0].Timestamp)
	assert.Contains(t, res.Errors[0].Message, "close must be positive")
	assert.Equal(t, 3, res.Errors[1].Index)
	assert.Len(t, res.EquityCurve, 2)
	assert.Equal(t, 2, res.Metadata.DataPoints)
	assert.Contains(t, logs.String(), "bar processing failed")
	assert.Equal(t, StatusCompleted, bt.Status())
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bt := New()
	res, err := bt.Run(ctx, compile(t, "close > close[1]", "", nil), makeBars(1, 2, 3), execConfig(1000))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, StatusFailed, bt.Status())
}

func TestRunCancelledMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := 0
	bt := New(WithObserver(ObserverFuncs{EquityPoint: func(domain.EquityPoint) {
		seen++
		if seen == 2 {
			cancel()
		}
	}}))
	_, err := bt.Run(ctx, compile(t, "close > close[1]", "", nil), makeBars(1, 2, 3, 4, 5), execConfig(1000))
	require.Error(t, err)
	assert.Equal(t, 2, seen)
	assert.Equal(t, StatusFailed, bt.Status())
}

func TestRunNilStrategy(t *testing.T) {
	bt := New()
	_, err := bt.Run(context.Background(), nil, makeBars(1), execConfig(1000))
	assert.Error(t, err)
	assert.Equal(t, StatusFailed, bt.Status())
}

func TestRunStopLossBeforeSignals(t *testing.T) {
	cs := compile(t, "close > close[1]", "", &domain.RiskConfig{StopLossPercent: 0.05})

	res, err := New().Run(context.Background(), cs, makeBars(100, 110, 100, 101), execConfig(1000))
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	assert.Equal(t, portfolio.ReasonStopLoss, res.Trades[0].ExitReason)
	assert.Equal(t, 110.0, res.Trades[0].EntryPrice)
	assert.Equal(t, 100.0, res.Trades[0].ExitPrice)
	assert.Equal(t, 101.0, res.Trades[1].EntryPrice)
	assert.Equal(t, ReasonEndOfBacktest, res.Trades[1].ExitReason)
}

func TestRunPortfolioRiskOverridesStrategy(t *testing.T) {
	cs := compile(t, "close > close[1]", "", &domain.RiskConfig{StopLossPercent: 0.05})
	cfg := execConfig(1000)
	cfg.Portfolio.Risk = &domain.RiskConfig{StopLossPercent: 0.5}

	res, err := New().Run(context.Background(), cs, makeBars(100, 110, 100, 101), cfg)
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, ReasonEndOfBacktest, res.Trades[0].ExitReason)
}

func TestRunDrawdownGuard(t *testing.T) {
	bars := makeBars(100, 110, 90, 95, 96)

	unguarded, err := New().Run(context.Background(), compile(t, "close > close[1]", "close < close[1]", nil), bars, execConfig(1000))
	require.NoError(t, err)
	assert.Len(t, unguarded.Trades, 2)

	cfg := execConfig(1000)
	cfg.Portfolio.Risk = &domain.RiskConfig{MaxDrawdownPercent: 0.05}
	guarded, err := New().Run(context.Background(), compile(t, "close > close[1]", "close < close[1]", nil), bars, cfg)
	require.NoError(t, err)
	require.Len(t, guarded.Trades, 1)
	assert.Equal(t, "Close fell", guarded.Trades[0].ExitReason)
}

func TestRunWinRateBounds(t *testing.T) {
	prices := []float64{100, 101, 99, 102, 104, 103, 107, 100, 98, 99, 105, 104, 110, 108, 109}
	res, err := New().Run(context.Background(), compile(t, "close > close[1]", "close < close[1]", nil), makeBars(prices...), execConfig(5000))
	require.NoError(t, err)

	s := res.Summary
	assert.GreaterOrEqual(t, s.WinRate, 0.0)
	assert.LessOrEqual(t, s.WinRate, 1.0)
	assert.LessOrEqual(t, s.WinningTrades+s.LosingTrades, s.TotalTrades)
	assert.Equal(t, len(res.Trades), s.TotalTrades)
	assertDrawdownConsistent(t, res.EquityCurve)
}

func TestEffectivePortfolio(t *testing.T) {
	cfg := domain.ExecutionConfig{
		Portfolio: domain.PortfolioConfig{
			InitialCash:    1000,
			CommissionRate: 0.01,
			Risk:           &domain.RiskConfig{TakeProfitPercent: 0.2},
		},
		IncludeCosts: true,
	}
	p := effectivePortfolio(cfg, &domain.RiskConfig{StopLossPercent: 0.05, TakeProfitPercent: 0.9})
	require.NotNil(t, p.Risk)
	assert.Equal(t, 0.05, p.Risk.StopLossPercent)
	assert.Equal(t, 0.2, p.Risk.TakeProfitPercent)
	assert.Equal(t, 0.01, p.CommissionRate)
	assert.Equal(t, 0.2, cfg.Portfolio.Risk.TakeProfitPercent, "input is not mutated")

	cfg.IncludeCosts = false
	cfg.Portfolio.Risk = nil
	p = effectivePortfolio(cfg, nil)
	assert.Zero(t, p.CommissionRate)
	assert.Nil(t, p.Risk)
}

func TestBarError(t *testing.T) {
	inner := errors.New("boom")
	be := &BarError{Index: 3, Timestamp: day0, Err: inner}
	assert.True(t, errors.Is(be, inner))
	assert.Contains(t, be.Error(), "bar 3")
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "running", StatusRunning.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "status(9)", Status(9).String())
}

func TestRunSkipsBarsForOtherSymbols(t *testing.T) {
	bars := makeBars(10, 10, 10)
	bars[1].Symbol = "OTHER"

	var traded []string
	bt := New(WithObserver(ObserverFuncs{Trade: func(tr domain.Trade) { traded = append(traded, tr.Symbol) }}))
	res, err := bt.Run(context.Background(), compile(t, "close > 0", "", nil), bars, execConfig(1000))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Metadata.DataPoints)
	require.Len(t, res.EquityCurve, 2)
	for i, p := range res.EquityCurve {
		assert.InDelta(t, 1000, p.TotalValue, 1e-9, "point %d", i)
		assert.Zero(t, p.Drawdown, "point %d", i)
	}
	assert.Zero(t, res.Summary.MaxDrawdown)
	for _, sym := range traded {
		assert.Equal(t, "TEST", sym)
	}
}

func TestRunValuesPositionsAtLastKnownPrice(t *testing.T) {
	// Bars without a symbol belong to the strategy's symbol.
	bars := makeBars(10, 10, 12)
	for i := range bars {
		bars[i].Symbol = ""
	}
	res, err := New().Run(context.Background(), compile(t, "close > 0", "", nil), bars, execConfig(1000))
	require.NoError(t, err)

	require.Len(t, res.EquityCurve, 3)
	assert.InDelta(t, 1000, res.EquityCurve[0].TotalValue, 1e-9)
	assert.InDelta(t, 1000, res.EquityCurve[1].TotalValue, 1e-9)
	assertDrawdownConsistent(t, res.EquityCurve)
	assert.Zero(t, res.Summary.MaxDrawdown)
}
