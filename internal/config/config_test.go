package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tradesim.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATA_DIR", "SQLITE_PATH", "STRATEGY_DIR", "ALPACA_API_KEY", "ALPACA_API_SECRET",
		"ALPACA_DATA_URL", "POLYGON_API_KEY", "LOG_LEVEL", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/tradesim/data"
  sqlite_path: "/tmp/tradesim/results.db"
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  data_url: "https://data.alpaca.markets"
  feed: "iex"
polygon:
  api_key: "poly"
logging:
  level: "debug"
  format: "json"
gather:
  provider: "polygon"
  start_date: "2021-01-01"
  max_workers: 8
  rate_limit_per_min: 5
  retry_attempts: 4
  retry_base_delay: 2s
backtest:
  initial_cash: 50000
  commission_rate: 0.0005
  slippage_rate: 0.001
  max_position_size: 25000
  include_costs: false
  risk_management:
    stop_loss_percent: 0.05
    take_profit_percent: 0.2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Storage.DataDir != "/tmp/tradesim/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/tradesim/data")
	}
	if cfg.Storage.SQLitePath != "/tmp/tradesim/results.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/tradesim/results.db")
	}
	if cfg.Storage.StrategyDir != "strategies" {
		t.Errorf("Storage.StrategyDir = %q, want default %q", cfg.Storage.StrategyDir, "strategies")
	}
	if cfg.Alpaca.APIKey != "test-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "test-key")
	}
	if cfg.Alpaca.Feed != "iex" {
		t.Errorf("Alpaca.Feed = %q, want %q", cfg.Alpaca.Feed, "iex")
	}
	if cfg.Polygon.APIKey != "poly" {
		t.Errorf("Polygon.APIKey = %q, want %q", cfg.Polygon.APIKey, "poly")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Gather.Provider != "polygon" {
		t.Errorf("Gather.Provider = %q, want %q", cfg.Gather.Provider, "polygon")
	}
	if cfg.Gather.MaxWorkers != 8 {
		t.Errorf("Gather.MaxWorkers = %d, want 8", cfg.Gather.MaxWorkers)
	}
	if cfg.Gather.RetryBaseDelay != 2*time.Second {
		t.Errorf("Gather.RetryBaseDelay = %v, want 2s", cfg.Gather.RetryBaseDelay)
	}
	if cfg.IncludeCosts() {
		t.Error("IncludeCosts() = true, want false")
	}

	p := cfg.Portfolio()
	if p.InitialCash != 50000 {
		t.Errorf("InitialCash = %v, want 50000", p.InitialCash)
	}
	if p.CommissionRate != 0.0005 {
		t.Errorf("CommissionRate = %v, want 0.0005", p.CommissionRate)
	}
	if p.SlippageRate != 0.001 {
		t.Errorf("SlippageRate = %v, want 0.001", p.SlippageRate)
	}
	if p.MaxPositionSize != 25000 {
		t.Errorf("MaxPositionSize = %v, want 25000", p.MaxPositionSize)
	}
	if p.Risk == nil {
		t.Fatal("Portfolio().Risk is nil")
	}
	if p.Risk.StopLossPercent != 0.05 || p.Risk.TakeProfitPercent != 0.2 {
		t.Errorf("Risk = %+v, want stop 0.05 take 0.2", *p.Risk)
	}

	// Portfolio hands out a copy of the risk block.
	p.Risk.StopLossPercent = 0.5
	if got := cfg.Portfolio().Risk.StopLossPercent; got != 0.05 {
		t.Errorf("StopLossPercent after mutating copy = %v, want 0.05", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Backtest.InitialCash != 10000 {
		t.Errorf("InitialCash = %v, want 10000", cfg.Backtest.InitialCash)
	}
	if cfg.Backtest.CommissionRate != 0.001 {
		t.Errorf("CommissionRate = %v, want 0.001", cfg.Backtest.CommissionRate)
	}
	if !cfg.IncludeCosts() {
		t.Error("IncludeCosts() = false, want true")
	}
	if cfg.Portfolio().Risk != nil {
		t.Errorf("Portfolio().Risk = %+v, want nil", cfg.Portfolio().Risk)
	}
	if cfg.Gather.Provider != "alpaca" {
		t.Errorf("Gather.Provider = %q, want %q", cfg.Gather.Provider, "alpaca")
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	exec := cfg.Execution(start, time.Time{})
	if !exec.StartDate.Equal(start) {
		t.Errorf("StartDate = %v, want %v", exec.StartDate, start)
	}
	if !exec.EndDate.IsZero() {
		t.Errorf("EndDate = %v, want zero", exec.EndDate)
	}
	if !exec.IncludeCosts {
		t.Error("exec.IncludeCosts = false, want true")
	}
	if exec.Portfolio.InitialCash != 10000 {
		t.Errorf("exec.Portfolio.InitialCash = %v, want 10000", exec.Portfolio.InitialCash)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
`)
	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("POLYGON_API_KEY", "env-poly")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "env-key")
	}
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/env/data")
	}
	if cfg.Polygon.APIKey != "env-poly" {
		t.Errorf("Polygon.APIKey = %q, want %q", cfg.Polygon.APIKey, "env-poly")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "warn")
	}

	t.Setenv("APCA_API_KEY_ID", "canonical")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Alpaca.APIKey != "canonical" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "canonical")
	}
}

func TestLoadInvalid(t *testing.T) {
	clearEnv(t)
	tests := map[string]string{
		"cash":       "backtest:\n  initial_cash: -1\n",
		"commission": "backtest:\n  commission_rate: 1.5\n",
		"provider":   "gather:\n  provider: yahoo\n",
		"yaml":       "backtest: [",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Error("Load returned nil error, want error")
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of missing file returned nil error")
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	// Unset rather than empty so the dotenv file may fill it in.
	if err := os.Unsetenv("DATA_DIR"); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOG_LEVEL", "warn")

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("DATA_DIR=/srv/bars\nLOG_LEVEL=debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile returned error: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Storage.DataDir != "/srv/bars" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/srv/bars")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want %q (existing variables are not replaced)", cfg.Logging.Level, "warn")
	}

	if err := LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("LoadEnvFile(missing) = %v, want nil", err)
	}
	if err := LoadEnvFile(""); err != nil {
		t.Errorf("LoadEnvFile(\"\") = %v, want nil", err)
	}
}
