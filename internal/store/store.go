// Package store defines storage interfaces for the bar data a backtest reads
// and the results it produces, with Parquet, SQLite and CSV implementations.
package store

import (
	"context"
	"errors"
	"time"

	"tradesim/internal/domain"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("store: not found")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end],
	// sorted by timestamp. A zero start or end leaves that side open.
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// ResultStore persists finished backtest runs.
type ResultStore interface {
	// SaveResult stores the run's summary, closed trades and equity curve.
	// The result must carry a run ID in its metadata.
	SaveResult(ctx context.Context, res *domain.BacktestResult) error

	// GetRun returns the summary of one run.
	GetRun(ctx context.Context, runID string) (*RunSummary, error)

	// ListRuns returns the most recent runs, newest first. An empty strategy
	// matches every run; limit <= 0 means no limit.
	ListRuns(ctx context.Context, strategy string, limit int) ([]RunSummary, error)

	// GetRunTrades returns the closed trades of a run in entry order.
	GetRunTrades(ctx context.Context, runID string) ([]domain.Trade, error)

	// GetEquityCurve returns the equity curve of a run in time order.
	GetEquityCurve(ctx context.Context, runID string) ([]domain.EquityPoint, error)
}

// RunSummary is the stored header of a backtest run.
type RunSummary struct {
	RunID       string
	Strategy    string
	Symbol      string
	CreatedAt   time.Time
	StartDate   time.Time
	EndDate     time.Time
	DataPoints  int
	ExecutionMs int64
	Metrics     domain.PerformanceMetrics
}
