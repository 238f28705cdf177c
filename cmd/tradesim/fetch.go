package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tradesim/internal/gather"
	"tradesim/internal/store"
)

func newFetchCmd(a *app) *cobra.Command {
	var (
		provider   string
		start, end string
		market     string
		workers    int
		timeframe  string
		csvOut     string
	)
	cmd := &cobra.Command{
		Use:   "fetch SYMBOL...",
		Short: "Download bars into the Parquet store or a CSV file",
		Long: `Download daily bars for each SYMBOL into the Parquet store.

With --csv, bars of any --timeframe for a single SYMBOL are written to a CSV
file instead; "tradesim run --csv" reads that file back.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gc := a.cfg.Gather
			if provider == "" {
				provider = gc.Provider
			}
			if start == "" {
				start = gc.StartDate
			}
			from, err := parseDate(start)
			if err != nil {
				return err
			}
			to, err := parseDate(end)
			if err != nil {
				return err
			}
			if to.IsZero() {
				to = time.Now().UTC().Truncate(24 * time.Hour)
			}
			if workers <= 0 {
				workers = gc.MaxWorkers
			}

			tf, err := gather.ParseTimeframe(timeframe)
			if err != nil {
				return err
			}
			if csvOut == "" && tf != gather.OneDay {
				return fmt.Errorf("the bar store holds daily bars only; use --csv for %s", tf)
			}
			if csvOut != "" && len(args) != 1 {
				return fmt.Errorf("--csv takes exactly one symbol")
			}

			src, err := a.source(provider)
			if err != nil {
				return err
			}

			symbols := make([]string, len(args))
			for i, s := range args {
				symbols[i] = strings.ToUpper(strings.TrimSpace(s))
			}

			if csvOut != "" {
				r := gather.DateRange{Start: from, End: to}
				if err := r.Validate(); err != nil {
					return err
				}
				bars, err := src.Bars(cmd.Context(), symbols[0], tf, r)
				if err != nil {
					return err
				}
				if err := store.WriteBarsCSVFile(csvOut, bars); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d %s bars for %s to %s\n", len(bars), tf, symbols[0], csvOut)
				return nil
			}

			g := gather.NewBarGatherer(src, store.NewParquetStore(a.cfg.Storage.DataDir), gather.BarGathererConfig{
				Symbols:         symbols,
				Range:           gather.DateRange{Start: from, End: to},
				Market:          market,
				MaxWorkers:      workers,
				RateLimitPerMin: gc.RateLimitPerMin,
				RetryAttempts:   gc.RetryAttempts,
				RetryBaseDelay:  gc.RetryBaseDelay,
				Logger:          a.log,
			})
			runErr := g.Run(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "%s: fetched %d bars, wrote %d for %d symbols\n",
				g.Name(), g.Fetched(), g.Written(), len(symbols))
			return runErr
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&provider, "provider", "", "bar provider, alpaca or polygon (default gather.provider)")
	fl.StringVar(&start, "start", "", "first date (default gather.start_date)")
	fl.StringVar(&end, "end", "", "last date (default today)")
	fl.StringVar(&market, "market", "", "store market (default us, or crypto for pairs)")
	fl.IntVar(&workers, "workers", 0, "concurrent symbols (default gather.max_workers)")
	fl.StringVar(&timeframe, "timeframe", "1Day", "bar size such as 1Day, 1Hour or 15Min")
	fl.StringVar(&csvOut, "csv", "", "write bars for one symbol to this CSV file")
	return cmd
}

func (a *app) source(provider string) (gather.Source, error) {
	switch strings.ToLower(provider) {
	case "alpaca":
		ac := a.cfg.Alpaca
		if ac.APIKey == "" || ac.APISecret == "" {
			return nil, fmt.Errorf("alpaca credentials are not configured")
		}
		return gather.NewAlpacaSource(gather.AlpacaConfig{
			APIKey:    ac.APIKey,
			APISecret: ac.APISecret,
			DataURL:   ac.DataURL,
			Feed:      ac.Feed,
		}), nil
	case "polygon":
		if a.cfg.Polygon.APIKey == "" {
			return nil, fmt.Errorf("polygon api key is not configured")
		}
		return gather.NewPolygonSource(a.cfg.Polygon.APIKey), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}
