package domain

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"
)

func TestTypesExist(t *testing.T) {
	// Verify Bar can be instantiated with zero values.
	bar := Bar{}
	if bar.Symbol != "" {
		t.Error("expected empty Symbol for zero-value Bar")
	}
	if !bar.Timestamp.IsZero() {
		t.Error("expected zero Timestamp for zero-value Bar")
	}
	if bar.Open != 0 || bar.High != 0 || bar.Low != 0 || bar.Close != 0 || bar.Volume != 0 {
		t.Error("expected zero OHLCV values for zero-value Bar")
	}

	// Verify Trade zero value is not closed.
	trade := Trade{}
	if trade.IsClosed() {
		t.Error("zero-value Trade reported closed")
	}
	if trade.HoldingPeriod() != 0 {
		t.Error("expected zero HoldingPeriod for open Trade")
	}

	// Verify enum constants are defined correctly.
	if SignalTypeBuy != "BUY" || SignalTypeSell != "SELL" {
		t.Error("SignalType constants have unexpected values")
	}
	if TradeStatusOpen != "OPEN" || TradeStatusClosed != "CLOSED" {
		t.Error("TradeStatus constants have unexpected values")
	}

	pos := Position{
		Symbol:       "AAPL",
		Quantity:     10,
		AveragePrice: 150,
		Side:         PositionSideLong,
	}
	if got := pos.CostBasis(); got != 1500 {
		t.Errorf("pos.CostBasis() = %f, want %f", got, 1500.0)
	}
}

func TestTradeHoldingPeriod(t *testing.T) {
	entry := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	tr := Trade{
		Status:    TradeStatusClosed,
		EntryTime: entry,
		ExitTime:  entry.Add(48 * time.Hour),
	}
	if got := tr.HoldingPeriod(); got != 48*time.Hour {
		t.Errorf("HoldingPeriod() = %v, want %v", got, 48*time.Hour)
	}
}

func TestExecutionConfigInRange(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	cfg := ExecutionConfig{StartDate: start, EndDate: end}

	cases := []struct {
		ts   time.Time
		want bool
	}{
		{start, true},
		{end, true},
		{start.Add(-time.Second), false},
		{end.Add(time.Second), false},
		{start.AddDate(0, 0, 10), true},
	}
	for _, c := range cases {
		if got := cfg.InRange(c.ts); got != c.want {
			t.Errorf("InRange(%s) = %v, want %v", c.ts, got, c.want)
		}
	}

	open := ExecutionConfig{}
	if !open.InRange(time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Error("zero-bounded config should accept any timestamp")
	}
}

func TestPerformanceMetricsJSONInfiniteProfitFactor(t *testing.T) {
	m := PerformanceMetrics{TotalTrades: 2, ProfitFactor: math.Inf(1)}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	if !strings.Contains(string(data), `"profitFactor":null`) {
		t.Errorf("expected null profitFactor, got %s", data)
	}

	m.ProfitFactor = 1.5
	data, err = json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	if !strings.Contains(string(data), `"profitFactor":1.5`) {
		t.Errorf("expected profitFactor 1.5, got %s", data)
	}
	if !strings.Contains(string(data), `"totalTrades":2`) {
		t.Errorf("expected totalTrades 2, got %s", data)
	}
}
