// Package builtins provides strategy definitions that ship with tradesim and
// can be run without a strategy file.
package builtins

import (
	"tradesim/internal/domain"
	"tradesim/internal/strategy"
)

func intPtr(v int) *int { return &v }

// SMACross returns a moving average crossover strategy. It buys when the
// short-period SMA crosses above the long-period SMA and sells when it
// crosses below.
func SMACross(symbol string, short, long int) strategy.Config {
	return strategy.Config{
		Name:        "sma-cross",
		Description: "Simple moving average crossover",
		Parameters: map[string]any{
			strategy.ParamSymbol:       symbol,
			strategy.ParamPositionSize: 0.95,
			"short_period":             short,
			"long_period":              long,
		},
		Indicators: []strategy.IndicatorConfig{
			{Name: "sma_fast", Type: "SMA", Parameters: map[string]any{"period": "{{parameters.short_period}}"}},
			{Name: "sma_slow", Type: "SMA", Parameters: map[string]any{"period": "{{parameters.long_period}}"}},
		},
		Signals: strategy.SignalsConfig{
			Buy: []strategy.SignalConfig{{
				ID:          "golden_cross",
				Description: "Fast SMA crossed above slow SMA",
				Condition:   "sma_fast crosses_above sma_slow",
				Priority:    intPtr(1),
			}},
			Sell: []strategy.SignalConfig{{
				ID:          "death_cross",
				Description: "Fast SMA crossed below slow SMA",
				Condition:   "sma_fast crosses_below sma_slow",
				Priority:    intPtr(1),
			}},
		},
	}
}

// RSIReversion returns a mean-reversion strategy that buys when RSI drops
// below oversold and sells when it rises above overbought.
func RSIReversion(symbol string, period int, oversold, overbought float64) strategy.Config {
	return strategy.Config{
		Name:        "rsi-reversion",
		Description: "RSI oversold/overbought mean reversion",
		Parameters: map[string]any{
			strategy.ParamSymbol:       symbol,
			strategy.ParamPositionSize: 0.5,
			"rsi_period":               period,
			"oversold":                 oversold,
			"overbought":               overbought,
		},
		Indicators: []strategy.IndicatorConfig{
			{Name: "rsi", Type: "RSI", Parameters: map[string]any{"period": "{{parameters.rsi_period}}"}},
		},
		Signals: strategy.SignalsConfig{
			Buy: []strategy.SignalConfig{{
				ID:          "oversold",
				Description: "RSI below oversold threshold",
				Condition:   "rsi < {{parameters.oversold}}",
			}},
			Sell: []strategy.SignalConfig{{
				ID:          "overbought",
				Description: "RSI above overbought threshold",
				Condition:   "rsi > {{parameters.overbought}}",
			}},
		},
		RiskManagement: &domain.RiskConfig{
			StopLossPercent: 0.05,
		},
	}
}

// EMATrend returns a trend-following strategy that holds while close is
// above its EMA.
func EMATrend(symbol string, period int) strategy.Config {
	return strategy.Config{
		Name:        "ema-trend",
		Description: "Price versus EMA trend filter",
		Parameters: map[string]any{
			strategy.ParamSymbol:       symbol,
			strategy.ParamPositionSize: 1.0,
			"ema_period":               period,
		},
		Indicators: []strategy.IndicatorConfig{
			{Name: "ema", Type: "EMA", Parameters: map[string]any{"period": "{{parameters.ema_period}}"}},
		},
		Signals: strategy.SignalsConfig{
			Buy: []strategy.SignalConfig{{
				ID:        "close_above_ema",
				Condition: "close crosses_above ema",
			}},
			Sell: []strategy.SignalConfig{{
				ID:        "close_below_ema",
				Condition: "close crosses_below ema",
			}},
		},
	}
}

// Register adds every built-in strategy to r using symbol and the default
// parameters.
func Register(r *strategy.Registry, symbol string) {
	r.Register(SMACross(symbol, 10, 30))
	r.Register(RSIReversion(symbol, 14, 30, 70))
	r.Register(EMATrend(symbol, 20))
}
