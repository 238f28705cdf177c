package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tradesim/internal/domain"
	"tradesim/internal/report"
	"tradesim/internal/store"
)

func newResultsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Inspect saved backtest runs",
	}

	var (
		strategyName string
		limit        int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List saved runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.openResults()
			if err != nil {
				return err
			}
			defer s.Close()

			runs, err := s.ListRuns(cmd.Context(), strategyName, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no saved runs")
				return nil
			}
			report.WriteRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	list.Flags().StringVar(&strategyName, "strategy", "", "only runs of this strategy")
	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list (0 for all)")

	var showTrades bool
	show := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show the metrics of a saved run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openResults()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			run, err := s.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			report.WriteSummary(out, &domain.BacktestResult{
				Summary: run.Metrics,
				Metadata: domain.ResultMetadata{
					RunID:           run.RunID,
					StrategyName:    run.Strategy,
					Symbol:          run.Symbol,
					ExecutionTimeMs: run.ExecutionMs,
					DataPoints:      run.DataPoints,
					StartDate:       run.StartDate,
					EndDate:         run.EndDate,
				},
			})
			if !showTrades {
				return nil
			}
			trades, err := s.GetRunTrades(ctx, run.RunID)
			if err != nil {
				return err
			}
			if len(trades) > 0 {
				fmt.Fprintln(out)
				report.WriteTrades(out, trades)
			}
			return nil
		},
	}
	show.Flags().BoolVar(&showTrades, "trades", false, "also print the trade list")

	var tradesCSV, equityParquet string
	export := &cobra.Command{
		Use:   "export RUN_ID",
		Short: "Export the trades or equity curve of a saved run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tradesCSV == "" && equityParquet == "" {
				return fmt.Errorf("nothing to export: set --trades-csv or --equity-parquet")
			}
			s, err := a.openResults()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			if tradesCSV != "" {
				trades, err := s.GetRunTrades(ctx, args[0])
				if err != nil {
					return err
				}
				if err := store.WriteTradesCSVFile(tradesCSV, trades); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d trades to %s\n", len(trades), tradesCSV)
			}
			if equityParquet != "" {
				points, err := s.GetEquityCurve(ctx, args[0])
				if err != nil {
					return err
				}
				if err := store.WriteEquityCurve(equityParquet, points); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d equity points to %s\n", len(points), equityParquet)
			}
			return nil
		},
	}
	export.Flags().StringVar(&tradesCSV, "trades-csv", "", "trade CSV output path")
	export.Flags().StringVar(&equityParquet, "equity-parquet", "", "equity curve Parquet output path")

	cmd.AddCommand(list, show, export)
	return cmd
}
