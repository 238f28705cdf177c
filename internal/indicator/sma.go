package indicator

import (
	"math"

	"tradesim/internal/domain"
)

var _ Indicator = (*SMA)(nil)

// SMA is the arithmetic mean of the last period source values. It is
// undefined until period bars have been observed.
type SMA struct {
	base
	period int
	source Source
	window *Series
}

// NewSMA creates a simple moving average.
func NewSMA(name string, period int, source Source, historySize int) *SMA {
	if period <= 0 {
		period = 1
	}
	return &SMA{
		base:   newBase(name, historySize),
		period: period,
		source: source,
		window: NewSeries(period),
	}
}

// Period returns the averaging window length.
func (s *SMA) Period() int { return s.period }

// Update pushes the bar's source value and appends the new mean.
func (s *SMA) Update(bar domain.Bar) {
	s.window.Push(s.source.Of(bar))
	if !s.window.Full() {
		s.values.Push(math.NaN())
		return
	}
	// Summing the window each bar avoids drift from a running total.
	s.values.Push(s.window.Sum() / float64(s.period))
}
