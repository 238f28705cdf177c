// Package indicator implements streaming technical indicators. Each
// indicator consumes one bar at a time and keeps a bounded history of the
// values it computed. Insufficient data is not an error: the value is simply
// undefined until enough bars have been observed.
package indicator

import (
	"fmt"
	"strings"

	"tradesim/internal/domain"
)

// Indicator is a stateful streaming calculator.
type Indicator interface {
	// Name returns the name the strategy refers to the indicator by.
	Name() string

	// Update consumes one bar and appends exactly one computed value.
	Update(bar domain.Bar)

	// Value returns the value lag bars back (0 = most recent). ok is false
	// while the value is undefined.
	Value(lag int) (v float64, ok bool)

	// Ready reports whether the most recent value is defined.
	Ready() bool

	// History returns the computed values in arrival order. Undefined
	// values are NaN.
	History() []float64
}

// Source selects the bar field an indicator reads.
type Source string

const (
	SourceOpen   Source = "open"
	SourceHigh   Source = "high"
	SourceLow    Source = "low"
	SourceClose  Source = "close"
	SourceVolume Source = "volume"
)

// ParseSource parses a source name. The empty string selects close.
func ParseSource(s string) (Source, error) {
	switch src := Source(strings.ToLower(strings.TrimSpace(s))); src {
	case "":
		return SourceClose, nil
	case SourceOpen, SourceHigh, SourceLow, SourceClose, SourceVolume:
		return src, nil
	default:
		return "", fmt.Errorf("unknown price source %q", s)
	}
}

// Of extracts the source field from bar.
func (s Source) Of(bar domain.Bar) float64 {
	switch s {
	case SourceOpen:
		return bar.Open
	case SourceHigh:
		return bar.High
	case SourceLow:
		return bar.Low
	case SourceVolume:
		return bar.Volume
	default:
		return bar.Close
	}
}

// base holds the name and the computed-value history shared by all
// indicator types.
type base struct {
	name   string
	values *Series
}

func newBase(name string, historySize int) base {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return base{name: name, values: NewSeries(historySize)}
}

func (b *base) Name() string { return b.name }

func (b *base) Value(lag int) (float64, bool) { return b.values.At(lag) }

func (b *base) Ready() bool {
	_, ok := b.values.At(0)
	return ok
}

func (b *base) History() []float64 { return b.values.Values() }
