package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"tradesim/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

var _ ResultStore = (*SQLiteStore)(nil)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id         TEXT PRIMARY KEY,
	created_at     TEXT NOT NULL,
	strategy       TEXT NOT NULL,
	symbol         TEXT NOT NULL,
	start_date     TEXT NOT NULL,
	end_date       TEXT NOT NULL,
	data_points    INTEGER NOT NULL,
	execution_ms   INTEGER NOT NULL,
	initial_value  REAL NOT NULL,
	final_value    REAL NOT NULL,
	total_return   REAL NOT NULL,
	sharpe_ratio   REAL NOT NULL,
	max_drawdown   REAL NOT NULL,
	win_rate       REAL NOT NULL,
	total_trades   INTEGER NOT NULL,
	profit_factor  REAL,            -- NULL when unbounded
	metrics_json   TEXT NOT NULL,
	config_json    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_strategy_created ON runs(strategy, created_at);

CREATE TABLE IF NOT EXISTS trades (
	run_id       TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	seq          INTEGER NOT NULL,
	trade_id     TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	side         TEXT NOT NULL,
	quantity     REAL NOT NULL,
	entry_price  REAL NOT NULL,
	entry_time   TEXT NOT NULL,
	exit_price   REAL NOT NULL,
	exit_time    TEXT NOT NULL,
	commission   REAL NOT NULL,
	pnl          REAL NOT NULL,
	status       TEXT NOT NULL,
	entry_reason TEXT NOT NULL,
	exit_reason  TEXT NOT NULL,
	strategy     TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS equity_points (
	run_id          TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	seq             INTEGER NOT NULL,
	ts              TEXT NOT NULL,
	total_value     REAL NOT NULL,
	cash            REAL NOT NULL,
	positions_value REAL NOT NULL,
	unrealized_pnl  REAL NOT NULL,
	realized_pnl    REAL NOT NULL,
	drawdown        REAL NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

// SQLiteStore implements ResultStore backed by a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema if needed and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection serialises writers and keeps :memory: databases
	// shared across calls.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveResult stores res in a single transaction.
func (s *SQLiteStore) SaveResult(ctx context.Context, res *domain.BacktestResult) error {
	if res == nil {
		return errors.New("save result: nil result")
	}
	md := res.Metadata
	if md.RunID == "" {
		return errors.New("save result: missing run id")
	}

	metricsJSON, err := json.Marshal(res.Summary)
	if err != nil {
		return fmt.Errorf("save result %s: encoding metrics: %w", md.RunID, err)
	}
	configJSON, err := json.Marshal(res.Config)
	if err != nil {
		return fmt.Errorf("save result %s: encoding config: %w", md.RunID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save result %s: %w", md.RunID, err)
	}
	defer tx.Rollback()

	m := res.Summary
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, created_at, strategy, symbol, start_date, end_date,
			data_points, execution_ms, initial_value, final_value, total_return,
			sharpe_ratio, max_drawdown, win_rate, total_trades, profit_factor,
			metrics_json, config_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		md.RunID, formatTime(s.now()), md.StrategyName, md.Symbol,
		formatTime(md.StartDate), formatTime(md.EndDate),
		md.DataPoints, md.ExecutionTimeMs, m.InitialValue, m.FinalValue, m.TotalReturn,
		finite(m.SharpeRatio), m.MaxDrawdown, m.WinRate, m.TotalTrades, nullableFloat(m.ProfitFactor),
		string(metricsJSON), string(configJSON),
	)
	if err != nil {
		return fmt.Errorf("save result %s: inserting run: %w", md.RunID, err)
	}

	tradeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (run_id, seq, trade_id, symbol, side, quantity, entry_price,
			entry_time, exit_price, exit_time, commission, pnl, status, entry_reason,
			exit_reason, strategy)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("save result %s: %w", md.RunID, err)
	}
	defer tradeStmt.Close()
	for i, t := range res.Trades {
		_, err := tradeStmt.ExecContext(ctx, md.RunID, i, t.ID, t.Symbol, string(t.Side),
			t.Quantity, t.EntryPrice, formatTime(t.EntryTime), t.ExitPrice, formatTime(t.ExitTime),
			t.Commission, t.PnL, string(t.Status), t.EntryReason, t.ExitReason, t.Strategy)
		if err != nil {
			return fmt.Errorf("save result %s: inserting trade %s: %w", md.RunID, t.ID, err)
		}
	}

	eqStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO equity_points (run_id, seq, ts, total_value, cash, positions_value,
			unrealized_pnl, realized_pnl, drawdown)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("save result %s: %w", md.RunID, err)
	}
	defer eqStmt.Close()
	for i, p := range res.EquityCurve {
		_, err := eqStmt.ExecContext(ctx, md.RunID, i, formatTime(p.Timestamp), p.TotalValue,
			p.Cash, p.PositionsValue, p.UnrealizedPnL, p.RealizedPnL, p.Drawdown)
		if err != nil {
			return fmt.Errorf("save result %s: inserting equity point %d: %w", md.RunID, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save result %s: commit: %w", md.RunID, err)
	}
	return nil
}

const runColumns = `run_id, created_at, strategy, symbol, start_date, end_date,
	data_points, execution_ms, profit_factor, metrics_json`

// GetRun returns the summary of one run, or ErrNotFound.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	rs, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	return &rs, nil
}

// ListRuns returns stored runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, strategy string, limit int) ([]RunSummary, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if strategy != "" {
		query += ` WHERE strategy = ?`
		args = append(args, strategy)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		rs, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("listing runs: %w", err)
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// GetRunTrades returns the trades stored for runID.
func (s *SQLiteStore) GetRunTrades(ctx context.Context, runID string) ([]domain.Trade, error) {
	if err := s.exists(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_id, symbol, side, quantity, entry_price, entry_time, exit_price,
			exit_time, commission, pnl, status, entry_reason, exit_reason, strategy
		FROM trades WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("trades for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var (
			t                   domain.Trade
			side, status        string
			entryTime, exitTime string
		)
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &t.Quantity, &t.EntryPrice, &entryTime,
			&t.ExitPrice, &exitTime, &t.Commission, &t.PnL, &status, &t.EntryReason,
			&t.ExitReason, &t.Strategy); err != nil {
			return nil, fmt.Errorf("trades for run %s: %w", runID, err)
		}
		t.Side = domain.TradeSide(side)
		t.Status = domain.TradeStatus(status)
		if t.EntryTime, err = parseTime(entryTime); err != nil {
			return nil, err
		}
		if t.ExitTime, err = parseTime(exitTime); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetEquityCurve returns the equity points stored for runID.
func (s *SQLiteStore) GetEquityCurve(ctx context.Context, runID string) ([]domain.EquityPoint, error) {
	if err := s.exists(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, total_value, cash, positions_value, unrealized_pnl, realized_pnl, drawdown
		FROM equity_points WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("equity for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []domain.EquityPoint
	for rows.Next() {
		var (
			p  domain.EquityPoint
			ts string
		)
		if err := rows.Scan(&ts, &p.TotalValue, &p.Cash, &p.PositionsValue,
			&p.UnrealizedPnL, &p.RealizedPnL, &p.Drawdown); err != nil {
			return nil, fmt.Errorf("equity for run %s: %w", runID, err)
		}
		if p.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) exists(ctx context.Context, runID string) error {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM runs WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (RunSummary, error) {
	var (
		rs                         RunSummary
		created, start, end, mjson string
		pf                         sql.NullFloat64
	)
	if err := sc.Scan(&rs.RunID, &created, &rs.Strategy, &rs.Symbol, &start, &end,
		&rs.DataPoints, &rs.ExecutionMs, &pf, &mjson); err != nil {
		return RunSummary{}, err
	}
	var err error
	if rs.CreatedAt, err = parseTime(created); err != nil {
		return RunSummary{}, err
	}
	if rs.StartDate, err = parseTime(start); err != nil {
		return RunSummary{}, err
	}
	if rs.EndDate, err = parseTime(end); err != nil {
		return RunSummary{}, err
	}
	if err := json.Unmarshal([]byte(mjson), &rs.Metrics); err != nil {
		return RunSummary{}, fmt.Errorf("decoding metrics: %w", err)
	}
	if pf.Valid {
		rs.Metrics.ProfitFactor = pf.Float64
	} else {
		rs.Metrics.ProfitFactor = math.Inf(1)
	}
	return rs, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", s, err)
	}
	if t.IsZero() {
		return time.Time{}, nil
	}
	return t, nil
}

// nullableFloat maps non-finite values to NULL.
func nullableFloat(v float64) any {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return v
}

func finite(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return v
}
