// Package config loads the tradesim application configuration from YAML
// with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tradesim/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for tradesim.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Polygon  Polygon        `yaml:"polygon"`
	Logging  Logging        `yaml:"logging"`
	Gather   GatherConfig   `yaml:"gather"`
	Backtest BacktestConfig `yaml:"backtest"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir     string `yaml:"data_dir"`
	SQLitePath  string `yaml:"sqlite_path"`
	StrategyDir string `yaml:"strategy_dir"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Polygon holds credentials for the Polygon REST API.
type Polygon struct {
	APIKey string `yaml:"api_key"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatherConfig controls bar fetching.
type GatherConfig struct {
	// Provider is "alpaca" or "polygon".
	Provider        string        `yaml:"provider"`
	StartDate       string        `yaml:"start_date"`
	MaxWorkers      int           `yaml:"max_workers"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
}

// BacktestConfig holds the portfolio defaults for backtest runs.
type BacktestConfig struct {
	InitialCash     float64            `yaml:"initial_cash"`
	CommissionRate  float64            `yaml:"commission_rate"`
	SlippageRate    float64            `yaml:"slippage_rate"`
	MaxPositionSize float64            `yaml:"max_position_size"`
	IncludeCosts    *bool              `yaml:"include_costs"`
	Risk            *domain.RiskConfig `yaml:"risk_management"`
	Market          string             `yaml:"market"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// Default returns the configuration used when no file is given.
func Default() *Config {
	include := true
	return &Config{
		Storage: Storage{
			DataDir:     "data",
			SQLitePath:  "data/tradesim.db",
			StrategyDir: "strategies",
		},
		Alpaca:  Alpaca{Feed: "sip"},
		Logging: Logging{Level: "info", Format: "text"},
		Gather: GatherConfig{
			Provider:        "alpaca",
			StartDate:       "2020-01-01",
			MaxWorkers:      4,
			RateLimitPerMin: 200,
			RetryAttempts:   3,
			RetryBaseDelay:  time.Second,
		},
		Backtest: BacktestConfig{
			InitialCash:    10000,
			CommissionRate: 0.001,
			IncludeCosts:   &include,
			Market:         "us",
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path over the
// defaults, then applies environment variable overrides. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	var problems []string
	if c.Backtest.InitialCash <= 0 {
		problems = append(problems, "backtest.initial_cash must be positive")
	}
	if c.Backtest.CommissionRate < 0 || c.Backtest.CommissionRate >= 1 {
		problems = append(problems, "backtest.commission_rate must be in [0, 1)")
	}
	if c.Backtest.SlippageRate < 0 || c.Backtest.SlippageRate >= 1 {
		problems = append(problems, "backtest.slippage_rate must be in [0, 1)")
	}
	if c.Backtest.MaxPositionSize < 0 {
		problems = append(problems, "backtest.max_position_size must not be negative")
	}
	switch strings.ToLower(c.Gather.Provider) {
	case "alpaca", "polygon":
	default:
		problems = append(problems, fmt.Sprintf("gather.provider %q is not alpaca or polygon", c.Gather.Provider))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Portfolio converts the backtest section into a ledger configuration.
func (c *Config) Portfolio() domain.PortfolioConfig {
	p := domain.PortfolioConfig{
		InitialCash:     c.Backtest.InitialCash,
		CommissionRate:  c.Backtest.CommissionRate,
		SlippageRate:    c.Backtest.SlippageRate,
		MaxPositionSize: c.Backtest.MaxPositionSize,
	}
	if c.Backtest.Risk != nil {
		r := *c.Backtest.Risk
		p.Risk = &r
	}
	return p
}

// IncludeCosts reports whether commission and slippage apply. It defaults
// to true.
func (c *Config) IncludeCosts() bool {
	return c.Backtest.IncludeCosts == nil || *c.Backtest.IncludeCosts
}

// Execution builds the execution config for a run over [start, end].
func (c *Config) Execution(start, end time.Time) domain.ExecutionConfig {
	return domain.ExecutionConfig{
		Portfolio:    c.Portfolio(),
		StartDate:    start,
		EndDate:      end,
		IncludeCosts: c.IncludeCosts(),
	}
}

// LoadEnvFile exports the KEY=value pairs of a dotenv file so that Load's
// environment overrides see them. Variables already set are left alone and a
// missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("STRATEGY_DIR"); v != "" {
		cfg.Storage.StrategyDir = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("POLYGON_API_KEY"); v != "" {
		cfg.Polygon.APIKey = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// The SDK's own variable names win.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
