// Package gather fetches historical bars from market-data providers and
// writes them into a bar store.
package gather

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tradesim/internal/domain"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs the gathering. It returns early when ctx is cancelled.
	Run(ctx context.Context) error
}

// Source is a provider of historical bars.
type Source interface {
	// Name returns the provider identifier, e.g. "alpaca".
	Name() string
	// Bars returns bars for symbol in ascending time order.
	Bars(ctx context.Context, symbol string, tf Timeframe, r DateRange) ([]domain.Bar, error)
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Validate checks that the range is non-empty.
func (r DateRange) Validate() error {
	if r.Start.IsZero() {
		return fmt.Errorf("date range: start is required")
	}
	if !r.End.IsZero() && r.End.Before(r.Start) {
		return fmt.Errorf("date range: end %s is before start %s",
			r.End.Format("2006-01-02"), r.Start.Format("2006-01-02"))
	}
	return nil
}

// TimeUnit is the unit of a Timeframe.
type TimeUnit string

const (
	Minute TimeUnit = "Min"
	Hour   TimeUnit = "Hour"
	Day    TimeUnit = "Day"
)

// Timeframe is a bar interval such as 15Min or 1Day.
type Timeframe struct {
	N    int
	Unit TimeUnit
}

// OneDay is the daily timeframe stored by the Parquet bar store.
var OneDay = Timeframe{N: 1, Unit: Day}

func (tf Timeframe) String() string { return strconv.Itoa(tf.N) + string(tf.Unit) }

// ParseTimeframe parses strings such as "1Day", "1d", "4Hour", "15Min".
func ParseTimeframe(s string) (Timeframe, error) {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	n := 1
	if i > 0 {
		v, err := strconv.Atoi(s[:i])
		if err != nil || v <= 0 {
			return Timeframe{}, fmt.Errorf("invalid timeframe %q", s)
		}
		n = v
	}
	switch strings.ToLower(s[i:]) {
	case "min", "m", "minute":
		return Timeframe{N: n, Unit: Minute}, nil
	case "hour", "h":
		return Timeframe{N: n, Unit: Hour}, nil
	case "day", "d":
		return Timeframe{N: n, Unit: Day}, nil
	}
	return Timeframe{}, fmt.Errorf("invalid timeframe %q", s)
}

// IsCrypto reports whether symbol is a crypto pair such as BTC/USD.
func IsCrypto(symbol string) bool { return strings.Contains(symbol, "/") }
