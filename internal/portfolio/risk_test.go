package portfolio

import (
	"errors"
	"testing"

	"tradesim/internal/domain"
)

func TestRiskManagerExitReason(t *testing.T) {
	rm := NewRiskManager(0, domain.RiskConfig{StopLossPercent: 0.05, TakeProfitPercent: 0.2})

	tests := []struct {
		avg, current float64
		want         string
		exit         bool
	}{
		{50000, 47000, ReasonStopLoss, true},
		{50000, 47500, ReasonStopLoss, true},
		{50000, 48000, "", false},
		{100, 120, ReasonTakeProfit, true},
		{100, 119, "", false},
		{0, 10, "", false},
	}
	for _, tt := range tests {
		got, exit := rm.ExitReason(tt.avg, tt.current)
		if got != tt.want || exit != tt.exit {
			t.Errorf("ExitReason(%v, %v) = (%q, %v), want (%q, %v)", tt.avg, tt.current, got, exit, tt.want, tt.exit)
		}
	}
}

func TestRiskManagerCheckPosition(t *testing.T) {
	unlimited := NewRiskManager(0, domain.RiskConfig{})
	if err := unlimited.CheckPosition(1e9, 1); err != nil {
		t.Errorf("unlimited CheckPosition returned %v", err)
	}

	rm := NewRiskManager(0.1, domain.RiskConfig{})
	if err := rm.CheckPosition(1000, 10000); err != nil {
		t.Errorf("CheckPosition at limit returned %v", err)
	}
	if err := rm.CheckPosition(1001, 10000); !errors.Is(err, ErrPositionLimit) {
		t.Errorf("CheckPosition over limit returned %v, want ErrPositionLimit", err)
	}
	if err := rm.CheckPosition(1, 0); !errors.Is(err, ErrPositionLimit) {
		t.Errorf("CheckPosition with zero value returned %v, want ErrPositionLimit", err)
	}
}

func TestRiskManagerHaltEntries(t *testing.T) {
	rm := NewRiskManager(0, domain.RiskConfig{MaxDrawdownPercent: 0.2})
	if rm.HaltEntries(0.19) {
		t.Error("HaltEntries(0.19) = true, want false")
	}
	if !rm.HaltEntries(0.2) {
		t.Error("HaltEntries(0.2) = false, want true")
	}
	if NewRiskManager(0, domain.RiskConfig{}).HaltEntries(0.99) {
		t.Error("disabled guard halted entries")
	}
}

func TestCostModel(t *testing.T) {
	c := CostModel{CommissionRate: 0.001, SlippageRate: 0.01}
	if got := c.Commission(5000); got != 5 {
		t.Errorf("Commission(5000) = %v, want 5", got)
	}
	if got := c.BuyPrice(100); got != 101 {
		t.Errorf("BuyPrice(100) = %v, want 101", got)
	}
	if got := c.SellPrice(100); got != 99 {
		t.Errorf("SellPrice(100) = %v, want 99", got)
	}
}
