package strategy

import (
	"bytes"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/domain"
)

var day0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func bar(i int, close float64) domain.Bar {
	return domain.Bar{
		Symbol:    "BTCUSD",
		Timestamp: day0.AddDate(0, 0, i),
		Open:      close,
		High:      close,
		Low:       close,
		Close:     close,
		Volume:    100,
	}
}

func run(t *testing.T, cs *CompiledStrategy, prices ...float64) [][]domain.Signal {
	t.Helper()
	out := make([][]domain.Signal, len(prices))
	for i, p := range prices {
		sigs, err := cs.Evaluate(EvalInput{Bar: bar(i, p), BuyingPower: 1000})
		require.NoError(t, err)
		out[i] = sigs
	}
	return out
}

func TestEvaluateCrossover(t *testing.T) {
	cfg := validConfig()
	cfg.Signals.Buy = cfg.Signals.Buy[:1]
	cs, err := Compile(cfg)
	require.NoError(t, err)

	// fast=SMA2, slow=SMA3
	got := run(t, cs, 10, 9, 8, 12, 7)

	assert.Empty(t, got[0])
	assert.Empty(t, got[1])
	assert.Empty(t, got[2])

	require.Len(t, got[3], 1)
	buy := got[3][0]
	assert.Equal(t, domain.SignalTypeBuy, buy.Type)
	assert.Equal(t, "BTCUSD", buy.Symbol)
	assert.Equal(t, 12.0, buy.Price)
	assert.Equal(t, day0.AddDate(0, 0, 3), buy.Timestamp)
	assert.InDelta(t, 1000*0.5/12, buy.Quantity, 1e-12)
	assert.Equal(t, "Golden cross", buy.Reason)
	assert.Equal(t, "sma-cross", buy.Strategy)
	assert.Equal(t, 2, buy.Priority)

	// fast=(12+7)/2=9.5 stays above slow=(8+12+7)/3=9.
	assert.Empty(t, got[4])
	assert.Equal(t, 5, cs.BarsSeen())
}

func TestEvaluatePriorityOrder(t *testing.T) {
	cfg := Config{
		Name:       "ordered",
		Parameters: map[string]any{"symbol": "X", "position_size": 1},
		Indicators: []IndicatorConfig{{Name: "ema", Type: "EMA", Parameters: map[string]any{"period": 3}}},
		Signals: SignalsConfig{
			Buy: []SignalConfig{
				{ID: "default_a", Condition: "close > 0"},
				{ID: "low", Condition: "ema > 0", Priority: intp(5)},
				{ID: "default_b", Condition: "true"},
			},
			Sell: []SignalConfig{
				{ID: "first", Condition: "volume > 0", Priority: intp(1)},
			},
		},
	}
	cs, err := Compile(cfg)
	require.NoError(t, err)

	sigs, err := cs.Evaluate(EvalInput{Bar: bar(0, 50), BuyingPower: 100})
	require.NoError(t, err)

	ids := make([]string, len(sigs))
	for i, s := range sigs {
		ids[i] = s.ConditionID
	}
	assert.Equal(t, []string{"first", "low", "default_a", "default_b"}, ids)
	assert.Zero(t, sigs[0].Quantity, "sell signals carry no quantity")
	assert.InDelta(t, 2.0, sigs[1].Quantity, 1e-12)
}

func TestEvaluateUndefinedDoesNotFire(t *testing.T) {
	cfg := validConfig()
	cfg.Signals.Buy = []SignalConfig{{ID: "rsi_low", Condition: "rsi <= 100"}}
	cfg.Signals.Sell = []SignalConfig{{ID: "rsi_high", Condition: "not (rsi > 100)"}}
	cs, err := Compile(cfg)
	require.NoError(t, err)

	// RSI(2) needs three prices.
	got := run(t, cs, 10, 11, 12)
	assert.Empty(t, got[0])
	assert.Empty(t, got[1])
	assert.Len(t, got[2], 2)
}

func TestEvaluateConditionErrorIsLoggedAndSkipped(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	cfg := validConfig()
	cfg.Signals.Buy = []SignalConfig{
		{ID: "divide", Condition: "close / (close - close) > 1"},
		{ID: "ok", Condition: "close > 0"},
	}
	cs, err := Compile(cfg, WithLogger(logger))
	require.NoError(t, err)

	sigs, err := cs.Evaluate(EvalInput{Bar: bar(0, 10), BuyingPower: 10})
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, "ok", sigs[0].ConditionID)
	assert.Contains(t, buf.String(), "condition evaluation failed")
	assert.Contains(t, buf.String(), "division by zero")
}

func TestEvaluateRejectsInvalidBar(t *testing.T) {
	cs, err := Compile(validConfig())
	require.NoError(t, err)

	for _, b := range []domain.Bar{
		bar(0, 0),
		bar(0, -1),
		bar(0, math.NaN()),
		{Timestamp: day0, Open: 1, High: 1, Low: 1, Close: 1, Volume: math.Inf(1)},
	} {
		_, err := cs.Evaluate(EvalInput{Bar: b})
		assert.Error(t, err)
	}
	assert.Equal(t, 0, cs.BarsSeen(), "rejected bars must not advance state")
	ind, _ := cs.Indicator("sma_fast")
	assert.Empty(t, ind.History())
}

func TestEvaluateBarHistoryBounded(t *testing.T) {
	cfg := validConfig()
	cfg.Signals.Buy = []SignalConfig{{ID: "up", Condition: "close > close[1]"}}
	cfg.Signals.Sell = nil
	cs, err := Compile(cfg, WithHistorySize(4))
	require.NoError(t, err)

	got := run(t, cs, 1, 2, 3, 4, 5, 6)
	assert.Empty(t, got[0])
	for i := 1; i < len(got); i++ {
		assert.Len(t, got[i], 1)
	}
	assert.Equal(t, 4, cs.BarsSeen())

	ind, _ := cs.Indicator("sma_fast")
	assert.Len(t, ind.History(), 4)
}

func TestEvaluateNegativeBuyingPower(t *testing.T) {
	cfg := validConfig()
	cfg.Signals.Buy = []SignalConfig{{ID: "always", Condition: "true"}}
	cs, err := Compile(cfg)
	require.NoError(t, err)

	sigs, err := cs.Evaluate(EvalInput{Bar: bar(0, 10), BuyingPower: -5})
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Zero(t, sigs[0].Quantity)
}
