package backtest

import (
	"context"
	"errors"
	"fmt"

	"tradesim/internal/domain"
	"tradesim/internal/store"
	"tradesim/internal/strategy"
)

// ErrStrategyNotFound is returned when a run names a strategy the registry
// does not hold.
var ErrStrategyNotFound = errors.New("strategy not found")

// Request describes one stored-data backtest.
type Request struct {
	// Strategy is the registered strategy name.
	Strategy string
	// Symbol, when set, overrides the strategy's symbol parameter.
	Symbol string
	// Params overlay the strategy's own parameters.
	Params map[string]any
	// Market selects the bar store partition; empty means store.DefaultMarket.
	Market string
	Exec   domain.ExecutionConfig
}

// Runner resolves a strategy by name, reads its bars from a BarStore, runs
// the backtest and optionally persists the result.
type Runner struct {
	bars     store.BarStore
	results  store.ResultStore
	registry *strategy.Registry
	opts     []Option
}

// NewRunner creates a Runner. results may be nil, in which case results are
// returned but not saved. opts are applied to the Backtester of every run.
func NewRunner(bars store.BarStore, registry *strategy.Registry, results store.ResultStore, opts ...Option) *Runner {
	return &Runner{
		bars:     bars,
		results:  results,
		registry: registry,
		opts:     opts,
	}
}

// Run executes req. When saving fails the result is still returned along
// with the error.
func (r *Runner) Run(ctx context.Context, req Request) (*domain.BacktestResult, error) {
	cfg, ok := r.registry.Get(req.Strategy)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStrategyNotFound, req.Strategy)
	}

	params := make(map[string]any, len(req.Params)+1)
	for k, v := range req.Params {
		params[k] = v
	}
	if req.Symbol != "" {
		params[strategy.ParamSymbol] = req.Symbol
	}

	bt := New(r.opts...)
	cs, err := strategy.Compile(cfg, strategy.WithParameters(params), strategy.WithLogger(bt.log))
	if err != nil {
		return nil, err
	}

	market := req.Market
	if market == "" {
		market = store.DefaultMarket
	}
	bars, err := r.bars.ReadBars(ctx, cs.Symbol(), market, req.Exec.StartDate, req.Exec.EndDate)
	if err != nil {
		return nil, fmt.Errorf("reading bars for %s: %w", cs.Symbol(), err)
	}
	bt.log.Debug("bars loaded", "symbol", cs.Symbol(), "market", market, "count", len(bars))

	res, err := bt.Run(ctx, cs, bars, req.Exec)
	if err != nil {
		return nil, err
	}

	if r.results != nil {
		if err := r.results.SaveResult(ctx, res); err != nil {
			return res, fmt.Errorf("saving run %s: %w", res.Metadata.RunID, err)
		}
		bt.log.Info("backtest saved", "run_id", res.Metadata.RunID)
	}
	return res, nil
}
