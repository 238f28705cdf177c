package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tradesim/internal/config"
	"tradesim/internal/store"
	"tradesim/internal/strategy"
	"tradesim/internal/strategy/builtins"
	"tradesim/internal/util"
)

const version = "0.3.0"

const defaultConfigPath = "config/tradesim.yaml"

// app carries what every subcommand needs once flags are parsed.
type app struct {
	cfgPath  string
	envFile  string
	logLevel string

	cfg *config.Config
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "tradesim",
		Short:         "Backtest declarative trading strategies",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "config file (default $TRADESIM_CONFIG or "+defaultConfigPath+")")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file with credentials (ignored when missing)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newRunCmd(a),
		newValidateCmd(a),
		newStrategiesCmd(a),
		newFetchCmd(a),
		newResultsCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) init() error {
	if err := config.LoadEnvFile(a.envFile); err != nil {
		return err
	}

	path := a.cfgPath
	if path == "" {
		path = os.Getenv("TRADESIM_CONFIG")
	}
	if path == "" {
		// The default location is optional.
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg
	a.log = util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(a.log)
	return nil
}

// registry returns the built-in strategies for symbol plus every strategy
// file in the configured strategy directory. Files override built-ins of the
// same name.
func (a *app) registry(symbol string) (*strategy.Registry, error) {
	reg := strategy.NewRegistry()
	builtins.Register(reg, symbol)

	dir := a.cfg.Storage.StrategyDir
	if dir == "" {
		return reg, nil
	}
	if err := reg.LoadDir(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			a.log.Debug("strategy directory missing", "dir", dir)
			return reg, nil
		}
		return nil, err
	}
	return reg, nil
}

func (a *app) openResults() (*store.SQLiteStore, error) {
	path := a.cfg.Storage.SQLitePath
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return store.NewSQLiteStore(path)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
}

// parseParams turns key=value pairs into typed strategy parameters.
func parseParams(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", p)
		}
		v = strings.TrimSpace(v)
		switch {
		case v == "true" || v == "false":
			out[k] = v == "true"
		default:
			if i, err := strconv.Atoi(v); err == nil {
				out[k] = i
			} else if f, err := strconv.ParseFloat(v, 64); err == nil {
				out[k] = f
			} else {
				out[k] = v
			}
		}
	}
	return out, nil
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tradesim %s\n", version)
		},
	}
	// No config is needed to print the version.
	cmd.PersistentPreRunE = func(*cobra.Command, []string) error { return nil }
	return cmd
}
