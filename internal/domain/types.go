// Package domain defines the value types shared by the simulation core and
// its collaborators: price bars, signals, trades, positions, portfolio
// snapshots, equity curve points and backtest results.
package domain

import (
	"encoding/json"
	"math"
	"time"
)

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is a single OHLCV sample. Bars are produced by a data source and are
// never mutated by the simulation.
type Bar struct {
	Symbol     string    `json:"symbol,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	TradeCount int64     `json:"tradeCount,omitempty"`
	VWAP       float64   `json:"vwap,omitempty"`
}

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// SignalType is the direction of a trade signal.
type SignalType string

const (
	SignalTypeBuy  SignalType = "BUY"
	SignalTypeSell SignalType = "SELL"
)

// DefaultSignalPriority is used for conditions that do not declare one.
// Lower numbers are applied first.
const DefaultSignalPriority = 999

// Signal is emitted by a compiled strategy when one of its conditions fires.
type Signal struct {
	Type        SignalType `json:"type"`
	Symbol      string     `json:"symbol"`
	Price       float64    `json:"price"`
	Timestamp   time.Time  `json:"timestamp"`
	Quantity    float64    `json:"quantity,omitempty"` // buy only
	Reason      string     `json:"reason"`
	Strategy    string     `json:"strategy"`
	Priority    int        `json:"priority"`
	ConditionID string     `json:"conditionId,omitempty"`
}

// ---------------------------------------------------------------------------
// Trades and positions
// ---------------------------------------------------------------------------

// TradeSide is the side of the position a trade opened.
type TradeSide string

const (
	TradeSideLong TradeSide = "LONG"
)

// TradeStatus is the lifecycle state of a trade. An OPEN trade becomes CLOSED
// exactly once.
type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "OPEN"
	TradeStatusClosed TradeStatus = "CLOSED"
)

// Trade is the round-trip record of a position. ExitPrice, ExitTime and PnL
// are only meaningful once Status is TradeStatusClosed. Commission is the sum
// of the entry and exit legs.
type Trade struct {
	ID          string      `json:"id"`
	Symbol      string      `json:"symbol"`
	Side        TradeSide   `json:"side"`
	Quantity    float64     `json:"quantity"`
	EntryPrice  float64     `json:"entryPrice"`
	EntryTime   time.Time   `json:"entryTime"`
	ExitPrice   float64     `json:"exitPrice,omitempty"`
	ExitTime    time.Time   `json:"exitTime,omitempty"`
	Commission  float64     `json:"commission"`
	PnL         float64     `json:"pnl"`
	Status      TradeStatus `json:"status"`
	EntryReason string      `json:"entryReason,omitempty"`
	ExitReason  string      `json:"exitReason,omitempty"`
	Strategy    string      `json:"strategy,omitempty"`
}

// IsClosed reports whether the trade has been exited.
func (t Trade) IsClosed() bool { return t.Status == TradeStatusClosed }

// HoldingPeriod returns the time between entry and exit, or zero for an open
// trade.
func (t Trade) HoldingPeriod() time.Duration {
	if !t.IsClosed() || t.ExitTime.Before(t.EntryTime) {
		return 0
	}
	return t.ExitTime.Sub(t.EntryTime)
}

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionSideLong PositionSide = "LONG"
)

// Position is the netted holding for one symbol. Quantity is always > 0;
// a position whose quantity would reach zero is removed instead.
type Position struct {
	Symbol       string       `json:"symbol"`
	Side         PositionSide `json:"side"`
	Quantity     float64      `json:"quantity"`
	AveragePrice float64      `json:"averagePrice"`
	EntryTime    time.Time    `json:"entryTime"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// CostBasis returns quantity times average entry price.
func (p Position) CostBasis() float64 { return p.Quantity * p.AveragePrice }

// PositionValue is a position marked to a current price. Priced is false
// when no price was supplied for the symbol, in which case the market value
// and unrealized P&L are zero.
type PositionValue struct {
	Position
	CurrentPrice  float64 `json:"currentPrice"`
	MarketValue   float64 `json:"marketValue"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
	Priced        bool    `json:"priced"`
}

// PortfolioSnapshot is a read-only view of the ledger at one instant.
type PortfolioSnapshot struct {
	Timestamp     time.Time       `json:"timestamp"`
	Cash          float64         `json:"cash"`
	Positions     []PositionValue `json:"positions"`
	TotalValue    float64         `json:"totalValue"`
	UnrealizedPnL float64         `json:"unrealizedPnl"`
	RealizedPnL   float64         `json:"realizedPnl"`
}

// PositionsValue returns the summed market value of all priced positions.
func (s PortfolioSnapshot) PositionsValue() float64 {
	var v float64
	for _, p := range s.Positions {
		v += p.MarketValue
	}
	return v
}

// EquityPoint is one sample of the equity curve. Drawdown is the fractional
// decline from the highest total value seen so far.
type EquityPoint struct {
	Timestamp      time.Time `json:"timestamp"`
	TotalValue     float64   `json:"totalValue"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positionsValue"`
	UnrealizedPnL  float64   `json:"unrealizedPnl"`
	RealizedPnL    float64   `json:"realizedPnl"`
	Drawdown       float64   `json:"drawdown"`
}

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// RiskConfig holds the per-position exit rules and the portfolio drawdown
// guard. A zero field disables the corresponding rule.
type RiskConfig struct {
	StopLossPercent    float64 `json:"stopLossPercent,omitempty" yaml:"stop_loss_percent"`
	TakeProfitPercent  float64 `json:"takeProfitPercent,omitempty" yaml:"take_profit_percent"`
	MaxDrawdownPercent float64 `json:"maxDrawdownPercent,omitempty" yaml:"max_drawdown_percent"`
}

// IsZero reports whether no rule is configured.
func (r RiskConfig) IsZero() bool {
	return r.StopLossPercent == 0 && r.TakeProfitPercent == 0 && r.MaxDrawdownPercent == 0
}

// PortfolioConfig configures the ledger. MaxPositionSize of zero means no
// limit; Risk may be nil.
type PortfolioConfig struct {
	InitialCash     float64     `json:"initialCash" yaml:"initial_cash"`
	CommissionRate  float64     `json:"commissionRate" yaml:"commission_rate"`
	SlippageRate    float64     `json:"slippageRate,omitempty" yaml:"slippage_rate"`
	MaxPositionSize float64     `json:"maxPositionSize,omitempty" yaml:"max_position_size"`
	Risk            *RiskConfig `json:"riskManagement,omitempty" yaml:"risk_management"`
}

// ExecutionConfig configures one backtest run. A zero StartDate or EndDate
// leaves that side of the range open.
type ExecutionConfig struct {
	Portfolio    PortfolioConfig `json:"portfolio"`
	StartDate    time.Time       `json:"startDate"`
	EndDate      time.Time       `json:"endDate"`
	Benchmark    string          `json:"benchmark,omitempty"`
	IncludeCosts bool            `json:"includeCosts"`
}

// InRange reports whether ts falls inside [StartDate, EndDate].
func (c ExecutionConfig) InRange(ts time.Time) bool {
	if !c.StartDate.IsZero() && ts.Before(c.StartDate) {
		return false
	}
	if !c.EndDate.IsZero() && ts.After(c.EndDate) {
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// PerformanceMetrics summarises a finished run. ProfitFactor is +Inf when
// there were winning trades and no losing ones. GrossLoss is a positive
// magnitude; AverageLoss and LargestLoss are signed P&L values (<= 0).
type PerformanceMetrics struct {
	InitialValue     float64       `json:"initialValue"`
	FinalValue       float64       `json:"finalValue"`
	TotalReturn      float64       `json:"totalReturn"`
	AnnualizedReturn float64       `json:"annualizedReturn"`
	SharpeRatio      float64       `json:"sharpeRatio"`
	MaxDrawdown      float64       `json:"maxDrawdown"`
	Volatility       float64       `json:"volatility"`
	TotalTrades      int           `json:"totalTrades"`
	WinningTrades    int           `json:"winningTrades"`
	LosingTrades     int           `json:"losingTrades"`
	WinRate          float64       `json:"winRate"`
	ProfitFactor     float64       `json:"profitFactor"`
	GrossProfit      float64       `json:"grossProfit"`
	GrossLoss        float64       `json:"grossLoss"`
	AverageWin       float64       `json:"averageWin"`
	AverageLoss      float64       `json:"averageLoss"`
	LargestWin       float64       `json:"largestWin"`
	LargestLoss      float64       `json:"largestLoss"`
	TotalCommission  float64       `json:"totalCommission"`
	AverageHolding   time.Duration `json:"averageHolding"`
}

// MarshalJSON encodes an unbounded profit factor as null since JSON has no
// representation for infinity.
func (m PerformanceMetrics) MarshalJSON() ([]byte, error) {
	type plain PerformanceMetrics
	out := struct {
		plain
		ProfitFactor *float64 `json:"profitFactor"`
	}{plain: plain(m)}
	if !math.IsInf(m.ProfitFactor, 0) && !math.IsNaN(m.ProfitFactor) {
		pf := m.ProfitFactor
		out.ProfitFactor = &pf
	}
	return json.Marshal(out)
}

// BarError records a bar that failed to process. The run continues past it.
type BarError struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// ResultMetadata describes how a result was produced.
type ResultMetadata struct {
	RunID           string    `json:"runId"`
	StrategyName    string    `json:"strategyName"`
	Symbol          string    `json:"symbol"`
	ExecutionTimeMs int64     `json:"executionTimeMs"`
	DataPoints      int       `json:"dataPoints"`
	StartDate       time.Time `json:"startDate"`
	EndDate         time.Time `json:"endDate"`
}

// BacktestResult is everything a run produces. Trades holds CLOSED trades
// only.
type BacktestResult struct {
	Summary        PerformanceMetrics `json:"summary"`
	Trades         []Trade            `json:"trades"`
	EquityCurve    []EquityPoint      `json:"equityCurve"`
	FinalPortfolio PortfolioSnapshot  `json:"finalPortfolio"`
	Config         ExecutionConfig    `json:"config"`
	Metadata       ResultMetadata     `json:"metadata"`
	Errors         []BarError         `json:"errors,omitempty"`
}
