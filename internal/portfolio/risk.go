package portfolio

import (
	"fmt"

	"tradesim/internal/domain"
)

// Close reasons recorded by the risk pass.
const (
	ReasonStopLoss   = "Stop Loss"
	ReasonTakeProfit = "Take Profit"
)

// RiskManager enforces the position sizing limit, the per-position
// stop-loss and take-profit exits, and the portfolio drawdown guard. A zero
// threshold disables the corresponding rule.
type RiskManager struct {
	maxPositionSize float64
	rules           domain.RiskConfig
}

// NewRiskManager creates a RiskManager.
//
//   - maxPositionSize: maximum fraction of portfolio value a single order may
//     commit (e.g. 0.25 for 25%).
//   - rules: stop-loss, take-profit and max-drawdown thresholds as fractions.
func NewRiskManager(maxPositionSize float64, rules domain.RiskConfig) *RiskManager {
	return &RiskManager{
		maxPositionSize: maxPositionSize,
		rules:           rules,
	}
}

// Rules returns the configured exit and drawdown thresholds.
func (rm *RiskManager) Rules() domain.RiskConfig { return rm.rules }

// CheckPosition reports ErrPositionLimit when an order of the given notional
// would exceed the configured share of totalValue.
func (rm *RiskManager) CheckPosition(notional, totalValue float64) error {
	if rm.maxPositionSize <= 0 {
		return nil
	}
	if totalValue <= 0 {
		return fmt.Errorf("%w: portfolio value is %.2f", ErrPositionLimit, totalValue)
	}
	if share := notional / totalValue; share > rm.maxPositionSize {
		return fmt.Errorf("%w: order is %.4f of portfolio, max %.4f", ErrPositionLimit, share, rm.maxPositionSize)
	}
	return nil
}

// ExitReason decides whether a position entered at avgPrice should be closed
// at current. Stop-loss is checked before take-profit.
func (rm *RiskManager) ExitReason(avgPrice, current float64) (string, bool) {
	if avgPrice <= 0 {
		return "", false
	}
	change := (current - avgPrice) / avgPrice
	if rm.rules.StopLossPercent > 0 && change <= -rm.rules.StopLossPercent {
		return ReasonStopLoss, true
	}
	if rm.rules.TakeProfitPercent > 0 && change >= rm.rules.TakeProfitPercent {
		return ReasonTakeProfit, true
	}
	return "", false
}

// HaltEntries reports whether new positions should be refused at the given
// drawdown from peak.
func (rm *RiskManager) HaltEntries(drawdown float64) bool {
	return rm.rules.MaxDrawdownPercent > 0 && drawdown >= rm.rules.MaxDrawdownPercent
}
