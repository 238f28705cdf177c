package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"tradesim/internal/backtest"
	"tradesim/internal/domain"
	"tradesim/internal/report"
	"tradesim/internal/store"
	"tradesim/internal/strategy"
)

type runFlags struct {
	strategyFile  string
	symbol        string
	start, end    string
	market        string
	csvPath       string
	params        []string
	noCosts       bool
	save          bool
	showTrades    bool
	tradesCSV     string
	equityParquet string
	jsonOut       bool
}

func newRunCmd(a *app) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [strategy]",
		Short: "Backtest a strategy over stored or CSV bars",
		Long: `Backtest a registered strategy by name, or the strategy in --strategy-file.

Bars come from the Parquet store under storage.data_dir unless --csv is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return a.runBacktest(cmd.Context(), cmd.OutOrStdout(), name, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.strategyFile, "strategy-file", "f", "", "strategy YAML file to run")
	fl.StringVarP(&f.symbol, "symbol", "s", "", "override the strategy symbol")
	fl.StringVar(&f.start, "start", "", "first bar date (YYYY-MM-DD)")
	fl.StringVar(&f.end, "end", "", "last bar date (YYYY-MM-DD)")
	fl.StringVar(&f.market, "market", "", "bar store market (default backtest.market)")
	fl.StringVar(&f.csvPath, "csv", "", "read bars from this CSV file instead of the store")
	fl.StringArrayVarP(&f.params, "param", "p", nil, "strategy parameter override key=value (repeatable)")
	fl.BoolVar(&f.noCosts, "no-costs", false, "ignore commission and slippage")
	fl.BoolVar(&f.save, "save", false, "save the result to the SQLite results store")
	fl.BoolVar(&f.showTrades, "trades", false, "print the trade list")
	fl.StringVar(&f.tradesCSV, "trades-csv", "", "write trades to this CSV file")
	fl.StringVar(&f.equityParquet, "equity-parquet", "", "write the equity curve to this Parquet file")
	fl.BoolVar(&f.jsonOut, "json", false, "print the full result as JSON")
	return cmd
}

func (a *app) runBacktest(ctx context.Context, out io.Writer, name string, f *runFlags) error {
	if name == "" && f.strategyFile == "" {
		return fmt.Errorf("a strategy name or --strategy-file is required")
	}

	start, err := parseDate(f.start)
	if err != nil {
		return err
	}
	end, err := parseDate(f.end)
	if err != nil {
		return err
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return fmt.Errorf("--end %s is before --start %s", f.end, f.start)
	}
	params, err := parseParams(f.params)
	if err != nil {
		return err
	}

	defaultSymbol := f.symbol
	if defaultSymbol == "" {
		defaultSymbol = "SPY"
	}
	reg, err := a.registry(defaultSymbol)
	if err != nil {
		return err
	}
	if f.strategyFile != "" {
		cfg, err := strategy.LoadFile(f.strategyFile)
		if err != nil {
			return err
		}
		reg.Register(*cfg)
		if name == "" {
			name = cfg.Name
		}
	}

	var bars store.BarStore = store.NewParquetStore(a.cfg.Storage.DataDir)
	if f.csvPath != "" {
		csvBars, err := store.ReadBarsCSVFile(f.csvPath, f.symbol)
		if err != nil {
			return err
		}
		bars = &csvBarStore{bars: csvBars}
	}

	var results store.ResultStore
	if f.save {
		s, err := a.openResults()
		if err != nil {
			return err
		}
		defer s.Close()
		results = s
	}

	market := f.market
	if market == "" {
		market = a.cfg.Backtest.Market
	}
	exec := a.cfg.Execution(start, end)
	if f.noCosts {
		exec.IncludeCosts = false
	}

	log := a.log
	runner := backtest.NewRunner(bars, reg, results,
		backtest.WithLogger(log),
		backtest.WithObserver(backtest.ObserverFuncs{
			Trade: func(t domain.Trade) {
				log.Debug("trade", "side", t.Side, "symbol", t.Symbol, "qty", t.Quantity, "price", t.EntryPrice, "status", t.Status)
			},
		}),
	)

	res, err := runner.Run(ctx, backtest.Request{
		Strategy: name,
		Symbol:   f.symbol,
		Params:   params,
		Market:   market,
		Exec:     exec,
	})
	if res == nil {
		return err
	}
	if err != nil {
		// The run finished but could not be saved; still report it.
		log.Error("saving result failed", "error", err)
	}
	if f.tradesCSV != "" {
		if werr := store.WriteTradesCSVFile(f.tradesCSV, res.Trades); werr != nil {
			return werr
		}
	}
	if f.equityParquet != "" {
		if werr := store.WriteEquityCurve(f.equityParquet, res.EquityCurve); werr != nil {
			return werr
		}
	}

	if f.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if jerr := enc.Encode(res); jerr != nil {
			return jerr
		}
		return err
	}

	report.WriteSummary(out, res)
	if f.showTrades && len(res.Trades) > 0 {
		fmt.Fprintln(out)
		report.WriteTrades(out, res.Trades)
	}
	if len(res.Errors) > 0 {
		fmt.Fprintln(out)
		report.WriteErrors(out, res.Errors)
	}
	if f.save && err == nil {
		fmt.Fprintf(out, "\nsaved run %s\n", res.Metadata.RunID)
	}
	return err
}

// csvBarStore serves bars loaded from a CSV file. Market is ignored, rows
// for other symbols are dropped and rows without a symbol take the requested
// one.
type csvBarStore struct {
	bars []domain.Bar
}

func (s *csvBarStore) WriteBars(context.Context, []domain.Bar) error {
	return fmt.Errorf("csv bar store is read-only")
}

func (s *csvBarStore) ReadBars(_ context.Context, symbol, _ string, start, end time.Time) ([]domain.Bar, error) {
	out := make([]domain.Bar, 0, len(s.bars))
	for _, b := range s.bars {
		switch b.Symbol {
		case "":
			b.Symbol = symbol
		case symbol:
		default:
			continue
		}
		if !start.IsZero() && b.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *csvBarStore) ListSymbols(context.Context, string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, b := range s.bars {
		if !seen[b.Symbol] {
			seen[b.Symbol] = true
			out = append(out, b.Symbol)
		}
	}
	return out, nil
}
