package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"tradesim/internal/strategy"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check strategy files without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := validateFiles(cmd.OutOrStdout(), args)
			if failed > 0 {
				return fmt.Errorf("%d of %d strategy files invalid", failed, len(args))
			}
			return nil
		},
	}
}

// validateFiles reports each file as ok or lists its problems and returns
// the number of files that failed.
func validateFiles(out io.Writer, paths []string) int {
	failed := 0
	for _, path := range paths {
		cfg, err := strategy.LoadFile(path)
		if err == nil {
			err = cfg.Validate()
		}
		if err == nil {
			fmt.Fprintf(out, "%s: ok (%s)\n", path, cfg.Name)
			continue
		}
		failed++
		var ve *strategy.ValidationError
		if errors.As(err, &ve) {
			fmt.Fprintf(out, "%s: invalid\n", path)
			for _, v := range ve.Violations {
				fmt.Fprintf(out, "  - %s\n", v)
			}
			continue
		}
		fmt.Fprintf(out, "%s: %v\n", path, err)
	}
	return failed
}

func newStrategiesCmd(a *app) *cobra.Command {
	var symbol string
	cmd := &cobra.Command{
		Use:   "strategies",
		Short: "List registered strategies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := a.registry(symbol)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, name := range reg.List() {
				cfg, _ := reg.Get(name)
				if cfg.Description != "" {
					fmt.Fprintf(out, "%-20s %s\n", name, cfg.Description)
				} else {
					fmt.Fprintln(out, name)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&symbol, "symbol", "s", "SPY", "symbol for the built-in strategies")
	return cmd
}
