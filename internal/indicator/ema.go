package indicator

import (
	"tradesim/internal/domain"
)

var _ Indicator = (*EMA)(nil)

// EMA is an exponential moving average with smoothing 2/(period+1). The first
// observed value seeds the average, so an EMA is ready after one bar.
type EMA struct {
	base
	period int
	source Source
	alpha  float64
	prev   float64
	seeded bool
}

// NewEMA creates an exponential moving average.
func NewEMA(name string, period int, source Source, historySize int) *EMA {
	if period <= 0 {
		period = 1
	}
	return &EMA{
		base:   newBase(name, historySize),
		period: period,
		source: source,
		alpha:  2.0 / float64(period+1),
	}
}

// Period returns the smoothing period.
func (e *EMA) Period() int { return e.period }

// Update folds the bar's source value into the average.
func (e *EMA) Update(bar domain.Bar) {
	price := e.source.Of(bar)
	if !e.seeded {
		e.prev = price
		e.seeded = true
	} else {
		e.prev = price*e.alpha + e.prev*(1-e.alpha)
	}
	e.values.Push(e.prev)
}
