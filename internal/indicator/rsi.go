package indicator

import (
	"math"

	"tradesim/internal/domain"
)

var _ Indicator = (*RSI)(nil)

// RSI is the relative strength index over a rolling window of period price
// changes. Average gain and loss are simple means over the window, not
// Wilder-smoothed. The first value needs period+1 bars: one to seed the
// previous price and period more to fill the window.
type RSI struct {
	base
	period    int
	source    Source
	gains     *Series
	losses    *Series
	lastPrice float64
	seeded    bool
}

// NewRSI creates a relative strength index.
func NewRSI(name string, period int, source Source, historySize int) *RSI {
	if period <= 0 {
		period = 14
	}
	return &RSI{
		base:   newBase(name, historySize),
		period: period,
		source: source,
		gains:  NewSeries(period),
		losses: NewSeries(period),
	}
}

// Period returns the window length in price changes.
func (r *RSI) Period() int { return r.period }

// Update records the price change since the previous bar and appends the new
// RSI value.
func (r *RSI) Update(bar domain.Bar) {
	price := r.source.Of(bar)
	if !r.seeded {
		r.lastPrice = price
		r.seeded = true
		r.values.Push(math.NaN())
		return
	}

	change := price - r.lastPrice
	r.lastPrice = price
	r.gains.Push(math.Max(change, 0))
	r.losses.Push(math.Max(-change, 0))

	if !r.gains.Full() {
		r.values.Push(math.NaN())
		return
	}

	avgGain := r.gains.Sum() / float64(r.period)
	avgLoss := r.losses.Sum() / float64(r.period)
	if avgLoss == 0 {
		r.values.Push(100)
		return
	}
	r.values.Push(100 - 100/(1+avgGain/avgLoss))
}
