package strategy

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/domain"
	"tradesim/internal/indicator"
)

func intp(v int) *int { return &v }

func validConfig() Config {
	return Config{
		Name: "sma-cross",
		Parameters: map[string]any{
			"symbol":        "BTCUSD",
			"position_size": 0.5,
			"fast":          2,
			"slow":          3,
			"floor":         25.5,
		},
		Indicators: []IndicatorConfig{
			{Name: "sma_fast", Type: "SMA", Parameters: map[string]any{"period": "{{parameters.fast}}"}},
			{Name: "sma_slow", Type: "SMA", Parameters: map[string]any{"period": "{{ parameters.slow }}"}},
			{Name: "rsi", Type: "RSI", Parameters: map[string]any{"period": 2}},
		},
		Signals: SignalsConfig{
			Buy: []SignalConfig{
				{ID: "golden", Description: "Golden cross", Condition: "sma_fast crosses_above sma_slow", Priority: intp(2)},
				{ID: "oversold", Condition: "rsi < {{parameters.floor}}"},
			},
			Sell: []SignalConfig{
				{ID: "death", Condition: "sma_fast crosses_below sma_slow", Priority: intp(1)},
			},
		},
	}
}

func TestCompileValid(t *testing.T) {
	cs, err := Compile(validConfig())
	require.NoError(t, err)

	assert.Equal(t, "sma-cross", cs.Name())
	assert.Equal(t, "BTCUSD", cs.Symbol())
	assert.Equal(t, 0.5, cs.PositionSize())
	assert.Equal(t, []string{"sma_fast", "sma_slow", "rsi"}, cs.IndicatorNames())
	assert.Nil(t, cs.Risk())

	require.Len(t, cs.BuyConditions(), 2)
	golden := cs.BuyConditions()[0]
	assert.Equal(t, 2, golden.Priority)
	assert.Equal(t, domain.SignalTypeBuy, golden.Type)
	assert.Equal(t, []string{"sma_fast", "sma_slow"}, golden.Dependencies)
	assert.Equal(t, "Golden cross", golden.Reason())

	oversold := cs.BuyConditions()[1]
	assert.Equal(t, "rsi < 25.5", oversold.Expression)
	assert.Equal(t, domain.DefaultSignalPriority, oversold.Priority)
	assert.Equal(t, "oversold", oversold.Reason())

	ind, ok := cs.Indicator("sma_slow")
	require.True(t, ok)
	assert.Equal(t, "sma_slow", ind.Name())
}

func TestCompileWithParametersOverride(t *testing.T) {
	cs, err := Compile(validConfig(), WithParameters(map[string]any{"symbol": "ETHUSD", "floor": 10}))
	require.NoError(t, err)
	assert.Equal(t, "ETHUSD", cs.Symbol())
	assert.Equal(t, "rsi < 10", cs.BuyConditions()[1].Expression)
	assert.Equal(t, 10, cs.Parameters()["floor"])
}

func TestCompileCollectsAllViolations(t *testing.T) {
	cfg := Config{
		Parameters: map[string]any{"position_size": 1.5},
		Indicators: []IndicatorConfig{
			{Name: "a", Type: "SMA", Parameters: map[string]any{"period": 3}},
			{Name: "a", Type: "SMA", Parameters: map[string]any{"period": 3}},
			{Name: "b", Type: "MACD"},
			{Name: "close", Type: "EMA"},
			{Name: "c", Type: "EMA", Source: "typical"},
		},
	}
	_, err := Compile(cfg)
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	msg := strings.Join(verr.Violations, "\n")
	for _, want := range []string{
		"name is required",
		"parameters.symbol is required",
		"parameters.position_size must be in (0, 1]",
		`duplicate indicator name "a"`,
		`unknown indicator type "MACD"`,
		`name "close" is reserved`,
		`unknown price source "typical"`,
		"at least one buy or sell condition is required",
	} {
		assert.Contains(t, msg, want)
	}
	assert.Contains(t, err.Error(), "<unnamed>")
}

func TestCompileViolations(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no indicators", func(c *Config) { c.Indicators = nil }, "at least one indicator is required"},
		{"position size zero", func(c *Config) { c.Parameters["position_size"] = 0 }, "position_size must be in (0, 1]"},
		{"position size text", func(c *Config) { c.Parameters["position_size"] = "half" }, "position_size must be a number"},
		{"symbol not string", func(c *Config) { c.Parameters["symbol"] = 42 }, "symbol must be a non-empty string"},
		{"missing placeholder", func(c *Config) { c.Indicators[0].Parameters["period"] = "{{parameters.nope}}" }, `unknown parameter "nope"`},
		{"missing placeholder in condition", func(c *Config) { c.Signals.Sell[0].Condition = "rsi > {{parameters.ceiling}}" }, `unknown parameter "ceiling"`},
		{"bad period", func(c *Config) { c.Indicators[2].Parameters["period"] = 0 }, "period"},
		{"unknown reference", func(c *Config) { c.Signals.Buy[0].Condition = "sma_medium > 1" }, `unknown reference "sma_medium"`},
		{"empty condition", func(c *Config) { c.Signals.Sell[0].Condition = " " }, "signals.sell[0] (death).condition is required"},
		{"non-boolean condition", func(c *Config) { c.Signals.Buy[0].Condition = "sma_fast + 1" }, "must be boolean"},
		{"missing type", func(c *Config) { c.Indicators[0].Type = "" }, "type is required"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := validConfig()
			c.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.want)
		})
	}
}

func TestCompileCustomRegistry(t *testing.T) {
	reg := indicator.NewRegistry()
	reg.Register("ROLLING", func(s indicator.Spec) (indicator.Indicator, error) {
		return indicator.NewSMA(s.Name, 2, s.Source, s.HistorySize), nil
	})
	cfg := validConfig()
	cfg.Indicators = []IndicatorConfig{{Name: "r", Type: "rolling"}}
	cfg.Signals = SignalsConfig{Buy: []SignalConfig{{ID: "up", Condition: "close > r"}}}

	_, err := Compile(cfg, WithRegistry(reg))
	require.NoError(t, err)

	_, err = Compile(cfg)
	require.Error(t, err)
}

func TestCompileCopiesRisk(t *testing.T) {
	cfg := validConfig()
	cfg.RiskManagement = &domain.RiskConfig{StopLossPercent: 0.05}
	cs, err := Compile(cfg)
	require.NoError(t, err)

	cfg.RiskManagement.StopLossPercent = 0.5
	r := cs.Risk()
	require.NotNil(t, r)
	assert.Equal(t, 0.05, r.StopLossPercent)
}

func TestSubstitute(t *testing.T) {
	params := map[string]any{"a": 1.25, "b": "x", "c": 3}
	out, missing := substitute("{{parameters.a}} {{ parameters.b }} {{parameters.c}} {{parameters.d}}", params)
	assert.Equal(t, "1.25 x 3 {{parameters.d}}", out)
	assert.Equal(t, []string{"d"}, missing)

	v, missing := substituteValue("{{parameters.c}}", params)
	assert.Empty(t, missing)
	assert.Equal(t, 3, v)

	v, _ = substituteValue(" {{parameters.a}} ", params)
	assert.Equal(t, 1.25, v)

	v, _ = substituteValue(14, params)
	assert.Equal(t, 14, v)
}
