// Package portfolio implements the cash and position ledger used by the
// backtester: affordability and sizing checks, position opens and closes
// with weighted-average cost, commission and slippage accounting, and
// stop-loss/take-profit exits.
//
// Positions are netted one-to-one with trades: each held symbol has exactly
// one OPEN trade, and buying more of a held symbol amends that trade rather
// than starting another.
package portfolio

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"tradesim/internal/domain"
)

// costEpsilon absorbs float rounding when an order is sized to spend all
// available cash. It is also the smallest notional accepted for a buy.
const costEpsilon = 1e-9

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger used by the risk pass.
func WithLogger(l *slog.Logger) Option {
	return func(lg *Ledger) { lg.log = l }
}

// WithStrategy tags every trade with the originating strategy name.
func WithStrategy(name string) Option {
	return func(lg *Ledger) { lg.strategy = name }
}

// WithIDFunc replaces the trade ID generator.
func WithIDFunc(f func() string) Option {
	return func(lg *Ledger) { lg.newID = f }
}

// Ledger owns cash, open positions and the trade history of one simulated
// account. It is not safe for concurrent use.
type Ledger struct {
	cfg   domain.PortfolioConfig
	costs CostModel
	risk  *RiskManager

	cash      float64
	realized  float64
	positions map[string]*domain.Position
	trades    []domain.Trade
	open      map[string]int // symbol -> index of its OPEN trade

	strategy string
	newID    func() string
	log      *slog.Logger
}

// NewLedger creates a Ledger funded with cfg.InitialCash.
func NewLedger(cfg domain.PortfolioConfig, opts ...Option) *Ledger {
	var rules domain.RiskConfig
	if cfg.Risk != nil {
		rules = *cfg.Risk
	}
	l := &Ledger{
		cfg:       cfg,
		costs:     CostModel{CommissionRate: cfg.CommissionRate, SlippageRate: cfg.SlippageRate},
		risk:      NewRiskManager(cfg.MaxPositionSize, rules),
		cash:      cfg.InitialCash,
		positions: make(map[string]*domain.Position),
		open:      make(map[string]int),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l
}

// Config returns the configuration the ledger was created with.
func (l *Ledger) Config() domain.PortfolioConfig { return l.cfg }

// Risk returns the ledger's risk manager.
func (l *Ledger) Risk() *RiskManager { return l.risk }

// Cash returns the uninvested cash balance.
func (l *Ledger) Cash() float64 { return l.cash }

// RealizedPnL returns the P&L booked by closed trades so far.
func (l *Ledger) RealizedPnL() float64 { return l.realized }

// Commission returns the fee on an order of the given notional.
func (l *Ledger) Commission(orderValue float64) float64 { return l.costs.Commission(orderValue) }

// BuyingPower returns the largest notional that can be bought with the
// current cash once slippage and commission are added.
func (l *Ledger) BuyingPower() float64 {
	if l.cash <= 0 {
		return 0
	}
	return l.cash / ((1 + l.costs.SlippageRate) * (1 + l.costs.CommissionRate))
}

// Position returns the open position in symbol.
func (l *Ledger) Position(symbol string) (domain.Position, bool) {
	p, ok := l.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// HasPosition reports whether symbol is held.
func (l *Ledger) HasPosition(symbol string) bool {
	_, ok := l.positions[symbol]
	return ok
}

// Positions returns all open positions sorted by symbol.
func (l *Ledger) Positions() []domain.Position {
	out := make([]domain.Position, 0, len(l.positions))
	for _, sym := range l.symbols() {
		out = append(out, *l.positions[sym])
	}
	return out
}

// Trades returns the full trade history, OPEN and CLOSED, in entry order.
func (l *Ledger) Trades() []domain.Trade {
	return append([]domain.Trade(nil), l.trades...)
}

// ClosedTrades returns the CLOSED trades in entry order.
func (l *Ledger) ClosedTrades() []domain.Trade {
	out := make([]domain.Trade, 0, len(l.trades))
	for _, t := range l.trades {
		if t.IsClosed() {
			out = append(out, t)
		}
	}
	return out
}

// TotalValue returns cash plus the market value of every position with a
// known price. Positions without a price count as zero.
func (l *Ledger) TotalValue(prices map[string]float64) float64 {
	total := l.cash
	for sym, p := range l.positions {
		if px, ok := prices[sym]; ok {
			total += p.Quantity * px
		}
	}
	return total
}

// CanBuy reports whether qty of symbol at price is affordable and within
// the position size limit.
func (l *Ledger) CanBuy(symbol string, price, qty float64) bool {
	return l.checkBuy(symbol, price, qty) == nil
}

func (l *Ledger) checkBuy(symbol string, price, qty float64) error {
	if symbol == "" || !positive(price) || !positive(qty) {
		return fmt.Errorf("%w: buy %v %s at %v", ErrInvalidOrder, qty, symbol, price)
	}
	notional := l.costs.BuyPrice(price) * qty
	if notional < costEpsilon {
		return fmt.Errorf("%w: notional %v is below the minimum order size", ErrInvalidOrder, notional)
	}
	cost := notional + l.costs.Commission(notional)
	if cost > l.cash+costEpsilon*math.Max(1, math.Abs(l.cash)) {
		return fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientFunds, cost, l.cash)
	}
	return l.risk.CheckPosition(notional, l.TotalValue(map[string]float64{symbol: price}))
}

// OpenPosition buys qty of symbol at price. Buying a symbol that is already
// held adds to the position at the weighted-average price and amends its
// OPEN trade. The returned trade reflects the state after the buy.
func (l *Ledger) OpenPosition(symbol string, price, qty float64, ts time.Time, reason string) (domain.Trade, error) {
	if err := l.checkBuy(symbol, price, qty); err != nil {
		return domain.Trade{}, fmt.Errorf("open %s: %w", symbol, err)
	}

	pos, held := l.positions[symbol]
	idx, hasOpen := l.open[symbol]
	if held && !hasOpen {
		return domain.Trade{}, fmt.Errorf("open %s: %w", symbol, ErrNoOpenTradeFound)
	}

	fill := l.costs.BuyPrice(price)
	notional := fill * qty
	commission := l.costs.Commission(notional)
	l.cash -= notional + commission
	if l.cash < 0 {
		l.cash = 0 // rounding within costEpsilon
	}

	if held {
		total := pos.Quantity + qty
		pos.AveragePrice = (pos.Quantity*pos.AveragePrice + qty*fill) / total
		pos.Quantity = total
		pos.UpdatedAt = ts

		t := &l.trades[idx]
		t.Quantity = pos.Quantity
		t.EntryPrice = pos.AveragePrice
		t.Commission += commission
		return *t, nil
	}

	l.positions[symbol] = &domain.Position{
		Symbol:       symbol,
		Side:         domain.PositionSideLong,
		Quantity:     qty,
		AveragePrice: fill,
		EntryTime:    ts,
		UpdatedAt:    ts,
	}
	l.trades = append(l.trades, domain.Trade{
		ID:          l.newID(),
		Symbol:      symbol,
		Side:        domain.TradeSideLong,
		Quantity:    qty,
		EntryPrice:  fill,
		EntryTime:   ts,
		Commission:  commission,
		Status:      domain.TradeStatusOpen,
		EntryReason: reason,
		Strategy:    l.strategy,
	})
	l.open[symbol] = len(l.trades) - 1
	return l.trades[len(l.trades)-1], nil
}

// ClosePosition sells the whole position in symbol at price and closes its
// trade. P&L is net of the entry and exit commissions.
func (l *Ledger) ClosePosition(symbol string, price float64, ts time.Time, reason string) (domain.Trade, error) {
	pos, ok := l.positions[symbol]
	if !ok {
		return domain.Trade{}, fmt.Errorf("close %s: %w", symbol, ErrPositionNotFound)
	}
	idx, ok := l.open[symbol]
	if !ok {
		return domain.Trade{}, fmt.Errorf("close %s: %w", symbol, ErrNoOpenTradeFound)
	}
	if !positive(price) {
		return domain.Trade{}, fmt.Errorf("close %s: %w: price %v", symbol, ErrInvalidOrder, price)
	}

	fill := l.costs.SellPrice(price)
	proceeds := fill * pos.Quantity
	commission := l.costs.Commission(proceeds)

	t := &l.trades[idx]
	t.Commission += commission
	t.PnL = (fill-pos.AveragePrice)*pos.Quantity - t.Commission
	t.ExitPrice = fill
	t.ExitTime = ts
	t.ExitReason = reason
	t.Status = domain.TradeStatusClosed

	l.cash += proceeds - commission
	l.realized += t.PnL
	delete(l.positions, symbol)
	delete(l.open, symbol)
	return *t, nil
}

// ApplyRiskManagement closes every position whose price has moved past the
// stop-loss or take-profit threshold. Positions without a price are left
// alone. A failed close is logged and does not stop the pass.
func (l *Ledger) ApplyRiskManagement(prices map[string]float64, ts time.Time) []domain.Trade {
	var closed []domain.Trade
	for _, sym := range l.symbols() {
		px, ok := prices[sym]
		if !ok || !positive(px) {
			continue
		}
		reason, exit := l.risk.ExitReason(l.positions[sym].AveragePrice, px)
		if !exit {
			continue
		}
		t, err := l.ClosePosition(sym, px, ts, reason)
		if err != nil {
			l.log.Warn("risk exit failed", "symbol", sym, "reason", reason, "error", err)
			continue
		}
		l.log.Debug("risk exit", "symbol", sym, "reason", reason, "price", px, "pnl", t.PnL)
		closed = append(closed, t)
	}
	return closed
}

// Snapshot marks every position to prices and returns a point-in-time view.
func (l *Ledger) Snapshot(prices map[string]float64, ts time.Time) domain.PortfolioSnapshot {
	snap := domain.PortfolioSnapshot{
		Timestamp:   ts,
		Cash:        l.cash,
		Positions:   make([]domain.PositionValue, 0, len(l.positions)),
		TotalValue:  l.cash,
		RealizedPnL: l.realized,
	}
	for _, sym := range l.symbols() {
		p := *l.positions[sym]
		pv := domain.PositionValue{Position: p}
		if px, ok := prices[sym]; ok {
			pv.Priced = true
			pv.CurrentPrice = px
			pv.MarketValue = p.Quantity * px
			pv.UnrealizedPnL = (px - p.AveragePrice) * p.Quantity
			snap.TotalValue += pv.MarketValue
			snap.UnrealizedPnL += pv.UnrealizedPnL
		}
		snap.Positions = append(snap.Positions, pv)
	}
	return snap
}

func (l *Ledger) symbols() []string {
	syms := make([]string, 0, len(l.positions))
	for s := range l.positions {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	return syms
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
