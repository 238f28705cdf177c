// Package backtest replays historical bars through a compiled strategy and a
// portfolio ledger, recording trades and an equity curve, and summarises the
// run with performance analytics.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tradesim/internal/analytics"
	"tradesim/internal/domain"
	"tradesim/internal/portfolio"
	"tradesim/internal/strategy"
)

// ReasonEndOfBacktest is the exit reason of positions closed when the bars
// run out.
const ReasonEndOfBacktest = "End of backtest"

// ErrRunning is returned when Run is called on a Backtester that is already
// running.
var ErrRunning = errors.New("backtest already running")

// Status is the lifecycle state of a run.
type Status int

const (
	StatusNotStarted Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not_started"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// BarError records a bar that could not be processed. The run continues
// past it.
type BarError struct {
	Index     int
	Timestamp time.Time
	Err       error
}

func (e *BarError) Error() string {
	return fmt.Sprintf("bar %d (%s): %v", e.Index, e.Timestamp.Format(time.RFC3339), e.Err)
}

func (e *BarError) Unwrap() error { return e.Err }

// Option configures a Backtester.
type Option func(*Backtester)

// WithLogger sets the logger for run progress and per-bar failures.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backtester) { b.log = l }
}

// WithObserver registers an observer for signals, trades and equity points.
func WithObserver(o Observer) Option {
	return func(b *Backtester) { b.observer = o }
}

// WithClock replaces the clock used to measure execution time.
func WithClock(now func() time.Time) Option {
	return func(b *Backtester) { b.now = now }
}

// Backtester drives backtest runs. Runs are sequential; a Backtester must not
// be used from multiple goroutines at once.
type Backtester struct {
	log      *slog.Logger
	observer Observer
	now      func() time.Time
	status   Status
}

// New creates a Backtester.
func New(opts ...Option) *Backtester {
	b := &Backtester{
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if b.observer == nil {
		b.observer = nopObserver{}
	}
	return b
}

// Status returns the state of the most recent run.
func (b *Backtester) Status() Status { return b.status }

// run holds the mutable state of a single run.
type run struct {
	cs       *strategy.CompiledStrategy
	ledger   *portfolio.Ledger
	observer Observer
	log      *slog.Logger

	curve    []domain.EquityPoint
	errs     []domain.BarError
	peak     float64
	prevPeak float64
	havePeak bool

	processed int
	first     time.Time
	last      time.Time
	prices    map[string]float64
}

// Run replays bars, which must be in ascending timestamp order, through cs.
// Bars outside the configured date range are skipped. A bar that fails to
// process is recorded in the result's Errors and the run continues. Run
// returns an error only when cs is nil or ctx is cancelled, in which case the
// run ends in StatusFailed.
func (b *Backtester) Run(ctx context.Context, cs *strategy.CompiledStrategy, bars []domain.Bar, cfg domain.ExecutionConfig) (*domain.BacktestResult, error) {
	if b.status == StatusRunning {
		return nil, ErrRunning
	}
	if cs == nil {
		b.status = StatusFailed
		return nil, errors.New("backtest: nil strategy")
	}
	b.status = StatusRunning
	started := b.now()

	pcfg := effectivePortfolio(cfg, cs.Risk())
	r := &run{
		cs: cs,
		ledger: portfolio.NewLedger(pcfg,
			portfolio.WithLogger(b.log),
			portfolio.WithStrategy(cs.Name()),
		),
		observer: b.observer,
		log:      b.log,
		curve:    []domain.EquityPoint{},
		prices:   make(map[string]float64),
	}

	b.log.Info("backtest started",
		"strategy", cs.Name(),
		"symbol", cs.Symbol(),
		"bars", len(bars),
		"initial_cash", pcfg.InitialCash,
	)

	for i, bar := range bars {
		if err := ctx.Err(); err != nil {
			b.status = StatusFailed
			b.log.Warn("backtest cancelled", "strategy", cs.Name(), "bar", i, "error", err)
			return nil, fmt.Errorf("backtest cancelled at bar %d: %w", i, err)
		}
		if !cfg.InRange(bar.Timestamp) {
			continue
		}
		if bar.Symbol != "" && bar.Symbol != cs.Symbol() {
			b.log.Debug("bar skipped: other symbol", "strategy", cs.Name(), "index", i, "symbol", bar.Symbol)
			continue
		}
		if err := r.safeStep(bar); err != nil {
			be := &BarError{Index: i, Timestamp: bar.Timestamp, Err: err}
			b.log.Warn("bar processing failed", "strategy", cs.Name(), "index", i, "timestamp", bar.Timestamp, "error", err)
			r.errs = append(r.errs, domain.BarError{Index: i, Timestamp: bar.Timestamp, Message: be.Error()})
		}
	}

	r.liquidate()

	trades := r.ledger.ClosedTrades()
	summary := analytics.Compute(trades, r.curve, pcfg.InitialCash)

	meta := domain.ResultMetadata{
		RunID:           uuid.NewString(),
		StrategyName:    cs.Name(),
		Symbol:          cs.Symbol(),
		ExecutionTimeMs: b.now().Sub(started).Milliseconds(),
		DataPoints:      r.processed,
		StartDate:       cfg.StartDate,
		EndDate:         cfg.EndDate,
	}
	if meta.StartDate.IsZero() {
		meta.StartDate = r.first
	}
	if meta.EndDate.IsZero() {
		meta.EndDate = r.last
	}

	result := &domain.BacktestResult{
		Summary:        summary,
		Trades:         trades,
		EquityCurve:    r.curve,
		FinalPortfolio: r.ledger.Snapshot(r.prices, r.last),
		Config:         cfg,
		Metadata:       meta,
		Errors:         r.errs,
	}

	b.status = StatusCompleted
	b.log.Info("backtest completed",
		"strategy", cs.Name(),
		"run_id", meta.RunID,
		"bars", r.processed,
		"trades", summary.TotalTrades,
		"total_return", summary.TotalReturn,
		"bar_errors", len(r.errs),
		"elapsed_ms", meta.ExecutionTimeMs,
	)
	return result, nil
}

// effectivePortfolio applies the includeCosts switch and fills unset risk
// thresholds from the strategy's own risk block.
func effectivePortfolio(cfg domain.ExecutionConfig, strategyRisk *domain.RiskConfig) domain.PortfolioConfig {
	p := cfg.Portfolio
	if !cfg.IncludeCosts {
		p.CommissionRate = 0
		p.SlippageRate = 0
	}

	var risk domain.RiskConfig
	if p.Risk != nil {
		risk = *p.Risk
	}
	if strategyRisk != nil {
		if risk.StopLossPercent == 0 {
			risk.StopLossPercent = strategyRisk.StopLossPercent
		}
		if risk.TakeProfitPercent == 0 {
			risk.TakeProfitPercent = strategyRisk.TakeProfitPercent
		}
		if risk.MaxDrawdownPercent == 0 {
			risk.MaxDrawdownPercent = strategyRisk.MaxDrawdownPercent
		}
	}
	if risk.IsZero() {
		p.Risk = nil
	} else {
		p.Risk = &risk
	}
	return p
}

// safeStep processes one bar, converting a panic into an error.
func (r *run) safeStep(bar domain.Bar) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return r.step(bar)
}

func (r *run) step(bar domain.Bar) error {
	ts := bar.Timestamp
	symbol := bar.Symbol
	if symbol == "" {
		symbol = r.cs.Symbol()
	}
	if err := strategy.ValidateBar(bar); err != nil {
		return err
	}
	// Positions are valued at the latest close seen for each symbol.
	r.prices[symbol] = bar.Close
	prices := r.prices

	for _, t := range r.ledger.ApplyRiskManagement(prices, ts) {
		r.observer.OnTrade(t)
	}

	signals, err := r.cs.Evaluate(strategy.EvalInput{Bar: bar, BuyingPower: r.ledger.BuyingPower()})
	if err != nil {
		return err
	}

	halted := r.havePeak && r.ledger.Risk().HaltEntries(analytics.Drawdown(r.peak, r.ledger.TotalValue(prices)))
	for _, sig := range signals {
		r.observer.OnSignal(sig)
		r.apply(sig, halted)
	}

	r.record(ts, prices)
	if r.processed == 0 {
		r.first = ts
	}
	r.last = ts
	r.processed++
	return nil
}

// apply executes one signal against the ledger. A signal the ledger refuses
// is skipped.
func (r *run) apply(sig domain.Signal, halted bool) {
	switch sig.Type {
	case domain.SignalTypeBuy:
		if halted {
			r.log.Debug("buy skipped: drawdown limit reached", "symbol", sig.Symbol, "reason", sig.Reason)
			return
		}
		if !r.ledger.CanBuy(sig.Symbol, sig.Price, sig.Quantity) {
			r.log.Debug("buy skipped: cannot afford", "symbol", sig.Symbol, "price", sig.Price, "quantity", sig.Quantity)
			return
		}
		t, err := r.ledger.OpenPosition(sig.Symbol, sig.Price, sig.Quantity, sig.Timestamp, sig.Reason)
		if err != nil {
			r.log.Debug("buy skipped", "symbol", sig.Symbol, "error", err)
			return
		}
		r.observer.OnTrade(t)

	case domain.SignalTypeSell:
		if !r.ledger.HasPosition(sig.Symbol) {
			return
		}
		t, err := r.ledger.ClosePosition(sig.Symbol, sig.Price, sig.Timestamp, sig.Reason)
		if err != nil {
			r.log.Debug("sell skipped", "symbol", sig.Symbol, "error", err)
			return
		}
		r.observer.OnTrade(t)
	}
}

// record appends the equity point for the bar just processed.
func (r *run) record(ts time.Time, prices map[string]float64) {
	snap := r.ledger.Snapshot(prices, ts)
	r.prevPeak = r.peak
	if !r.havePeak || snap.TotalValue > r.peak {
		r.peak = snap.TotalValue
	}
	point := domain.EquityPoint{
		Timestamp:      ts,
		TotalValue:     snap.TotalValue,
		Cash:           snap.Cash,
		PositionsValue: snap.PositionsValue(),
		UnrealizedPnL:  snap.UnrealizedPnL,
		RealizedPnL:    snap.RealizedPnL,
		Drawdown:       analytics.Drawdown(r.peak, snap.TotalValue),
	}
	r.havePeak = true
	r.curve = append(r.curve, point)
	r.observer.OnEquityPoint(point)
}

// liquidate closes every remaining position at the last processed price and
// restates the final equity point to the liquidated portfolio.
func (r *run) liquidate() {
	positions := r.ledger.Positions()
	if len(positions) == 0 || len(r.curve) == 0 {
		return
	}
	for _, p := range positions {
		px, ok := r.prices[p.Symbol]
		if !ok {
			r.log.Warn("no price to close position", "symbol", p.Symbol)
			continue
		}
		t, err := r.ledger.ClosePosition(p.Symbol, px, r.last, ReasonEndOfBacktest)
		if err != nil {
			r.log.Warn("end of backtest close failed", "symbol", p.Symbol, "error", err)
			continue
		}
		r.observer.OnTrade(t)
	}

	snap := r.ledger.Snapshot(r.prices, r.last)
	peak := snap.TotalValue
	if len(r.curve) > 1 && r.prevPeak > peak {
		peak = r.prevPeak
	}
	r.peak = peak
	last := &r.curve[len(r.curve)-1]
	last.TotalValue = snap.TotalValue
	last.Cash = snap.Cash
	last.PositionsValue = snap.PositionsValue()
	last.UnrealizedPnL = snap.UnrealizedPnL
	last.RealizedPnL = snap.RealizedPnL
	last.Drawdown = analytics.Drawdown(peak, snap.TotalValue)
}
