package gather

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tradesim/internal/domain"
	"tradesim/internal/store"
	"tradesim/internal/util"
)

var _ Gatherer = (*BarGatherer)(nil)

// marketWriter is implemented by stores that partition bars by market.
type marketWriter interface {
	WriteBarsForMarket(bars []domain.Bar, market string) error
}

// BarGatherer fetches daily bars for a list of symbols from a Source and
// writes them to a BarStore. Symbols are fetched concurrently; a symbol that
// fails after retries is logged and reported in Run's error while the rest
// continue.
type BarGatherer struct {
	source     Source
	store      store.BarStore
	symbols    []string
	dateRange  DateRange
	market     string
	maxWorkers int
	attempts   int
	baseDelay  time.Duration
	limiter    *util.RateLimiter
	log        *slog.Logger

	fetched atomic.Int64
	written atomic.Int64
}

// BarGathererConfig holds the tunables of a BarGatherer.
type BarGathererConfig struct {
	Symbols []string
	Range   DateRange
	// Market is the store partition. Empty means "crypto" for crypto pairs
	// and store.DefaultMarket otherwise, decided per symbol.
	Market          string
	MaxWorkers      int
	RateLimitPerMin int
	RetryAttempts   int
	RetryBaseDelay  time.Duration
	Logger          *slog.Logger
}

// NewBarGatherer creates a BarGatherer.
func NewBarGatherer(src Source, s store.BarStore, cfg BarGathererConfig) *BarGatherer {
	g := &BarGatherer{
		source:     src,
		store:      s,
		symbols:    cfg.Symbols,
		dateRange:  cfg.Range,
		market:     cfg.Market,
		maxWorkers: max(cfg.MaxWorkers, 1),
		attempts:   max(cfg.RetryAttempts, 1),
		baseDelay:  cfg.RetryBaseDelay,
		limiter:    util.NewRateLimiter(cfg.RateLimitPerMin),
		log:        cfg.Logger,
	}
	if g.log == nil {
		g.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	g.log = g.log.With("gatherer", g.Name())
	return g
}

// Name returns the gatherer identifier.
func (g *BarGatherer) Name() string { return g.source.Name() + "-daily" }

// Fetched returns the number of bars received from the source so far.
func (g *BarGatherer) Fetched() int64 { return g.fetched.Load() }

// Written returns the number of bars written to the store so far.
func (g *BarGatherer) Written() int64 { return g.written.Load() }

// Run fetches every symbol and writes the bars. It returns the joined
// per-symbol errors, or ctx.Err() when cancelled.
func (g *BarGatherer) Run(ctx context.Context) error {
	if err := g.dateRange.Validate(); err != nil {
		return err
	}
	if len(g.symbols) == 0 {
		return errors.New("no symbols to gather")
	}

	symCh := make(chan string, len(g.symbols))
	for _, sym := range g.symbols {
		symCh <- sym
	}
	close(symCh)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		errs     []error
		runStart = time.Now()
	)

	g.log.Info("starting",
		"symbols", len(g.symbols),
		"start", g.dateRange.Start.Format("2006-01-02"),
		"workers", g.maxWorkers,
	)

	workers := min(g.maxWorkers, len(g.symbols))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range symCh {
				if ctx.Err() != nil {
					return
				}
				n, err := g.gatherSymbol(ctx, sym)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					g.log.Error("symbol failed", "symbol", sym, "err", err)
					mu.Lock()
					errs = append(errs, fmt.Errorf("%s: %w", sym, err))
					mu.Unlock()
					continue
				}
				g.log.Info("symbol done", "symbol", sym, "bars", n)
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	g.log.Info("complete",
		"fetched", g.fetched.Load(),
		"written", g.written.Load(),
		"failed", len(errs),
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)
	return errors.Join(errs...)
}

func (g *BarGatherer) gatherSymbol(ctx context.Context, symbol string) (int, error) {
	var bars []domain.Bar
	err := util.Retry(ctx, g.attempts, g.baseDelay, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		bars, err = g.source.Bars(ctx, symbol, OneDay, g.dateRange)
		if err != nil {
			g.log.Warn("fetch failed", "symbol", symbol, "err", err)
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	g.fetched.Add(int64(len(bars)))
	if len(bars) == 0 {
		return 0, nil
	}

	if err := g.write(ctx, symbol, bars); err != nil {
		return 0, fmt.Errorf("writing bars: %w", err)
	}
	g.written.Add(int64(len(bars)))
	return len(bars), nil
}

func (g *BarGatherer) write(ctx context.Context, symbol string, bars []domain.Bar) error {
	market := g.market
	if market == "" {
		market = store.DefaultMarket
		if IsCrypto(symbol) {
			market = "crypto"
		}
	}
	if mw, ok := g.store.(marketWriter); ok {
		return mw.WriteBarsForMarket(bars, market)
	}
	return g.store.WriteBars(ctx, bars)
}
