package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"tradesim/internal/domain"
)

// barCSV is one row of a bar import file. Numeric columns are kept as
// strings so that a bad cell can be reported with its row.
type barCSV struct {
	Timestamp string `csv:"timestamp"`
	Symbol    string `csv:"symbol"`
	Open      string `csv:"open"`
	High      string `csv:"high"`
	Low       string `csv:"low"`
	Close     string `csv:"close"`
	Volume    string `csv:"volume"`
}

// tradeCSV is one row of a trade export file.
type tradeCSV struct {
	ID          string  `csv:"id"`
	Symbol      string  `csv:"symbol"`
	Side        string  `csv:"side"`
	Quantity    float64 `csv:"quantity"`
	EntryTime   string  `csv:"entry_time"`
	EntryPrice  float64 `csv:"entry_price"`
	ExitTime    string  `csv:"exit_time"`
	ExitPrice   float64 `csv:"exit_price"`
	Commission  float64 `csv:"commission"`
	PnL         float64 `csv:"pnl"`
	Status      string  `csv:"status"`
	EntryReason string  `csv:"entry_reason"`
	ExitReason  string  `csv:"exit_reason"`
	Strategy    string  `csv:"strategy"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ReadBarsCSV parses bars from r. The header must contain timestamp, open,
// high, low, close and volume; a symbol column is optional and defaults to
// symbol. Timestamps are RFC 3339, "YYYY-MM-DD HH:MM:SS", "YYYY-MM-DD" or
// Unix seconds. Bars are returned sorted by timestamp.
func ReadBarsCSV(r io.Reader, symbol string) ([]domain.Bar, error) {
	var rows []*barCSV
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("reading bar csv: %w", err)
	}

	bars := make([]domain.Bar, 0, len(rows))
	for i, row := range rows {
		line := i + 2 // header is line 1
		ts, err := parseTimestamp(row.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("bar csv line %d: %w", line, err)
		}
		b := domain.Bar{Symbol: symbol, Timestamp: ts}
		if row.Symbol != "" {
			b.Symbol = row.Symbol
		}
		for _, f := range []struct {
			name string
			raw  string
			dst  *float64
		}{
			{"open", row.Open, &b.Open},
			{"high", row.High, &b.High},
			{"low", row.Low, &b.Low},
			{"close", row.Close, &b.Close},
			{"volume", row.Volume, &b.Volume},
		} {
			v, err := strconv.ParseFloat(strings.TrimSpace(f.raw), 64)
			if err != nil {
				return nil, fmt.Errorf("bar csv line %d: %s: %w", line, f.name, err)
			}
			*f.dst = v
		}
		bars = append(bars, b)
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

// ReadBarsCSVFile is ReadBarsCSV on a file.
func ReadBarsCSVFile(path, symbol string) ([]domain.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadBarsCSV(f, symbol)
}

// WriteBarsCSV writes bars to w in the format ReadBarsCSV accepts.
func WriteBarsCSV(w io.Writer, bars []domain.Bar) error {
	rows := make([]*barCSV, len(bars))
	for i, b := range bars {
		rows[i] = &barCSV{
			Timestamp: b.Timestamp.UTC().Format(time.RFC3339),
			Symbol:    b.Symbol,
			Open:      formatFloat(b.Open),
			High:      formatFloat(b.High),
			Low:       formatFloat(b.Low),
			Close:     formatFloat(b.Close),
			Volume:    formatFloat(b.Volume),
		}
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("writing bar csv: %w", err)
	}
	return nil
}

// WriteBarsCSVFile is WriteBarsCSV to a new file at path.
func WriteBarsCSVFile(path string, bars []domain.Bar) error {
	return createAndWrite(path, func(w io.Writer) error { return WriteBarsCSV(w, bars) })
}

// WriteTradesCSV writes trades to w with a header row.
func WriteTradesCSV(w io.Writer, trades []domain.Trade) error {
	rows := make([]*tradeCSV, len(trades))
	for i, t := range trades {
		rows[i] = &tradeCSV{
			ID:          t.ID,
			Symbol:      t.Symbol,
			Side:        string(t.Side),
			Quantity:    t.Quantity,
			EntryTime:   formatCSVTime(t.EntryTime),
			EntryPrice:  t.EntryPrice,
			ExitTime:    formatCSVTime(t.ExitTime),
			ExitPrice:   t.ExitPrice,
			Commission:  t.Commission,
			PnL:         t.PnL,
			Status:      string(t.Status),
			EntryReason: t.EntryReason,
			ExitReason:  t.ExitReason,
			Strategy:    t.Strategy,
		}
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("writing trade csv: %w", err)
	}
	return nil
}

// WriteTradesCSVFile is WriteTradesCSV to a new file at path.
func WriteTradesCSVFile(path string, trades []domain.Trade) error {
	return createAndWrite(path, func(w io.Writer) error { return WriteTradesCSV(w, trades) })
}

func createAndWrite(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func formatCSVTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
