package strategy

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"tradesim/internal/domain"
	"tradesim/internal/indicator"
)

// CompiledStrategy is a validated strategy with live indicator state. It is
// single-use: one instance drives one backtest run and is not safe for
// concurrent use.
type CompiledStrategy struct {
	name         string
	symbol       string
	positionSize float64
	params       map[string]any

	indicators map[string]indicator.Indicator
	order      []string // declaration order, used for updates
	buy        []*Condition
	sell       []*Condition
	risk       *domain.RiskConfig

	bars *barHistory
	log  *slog.Logger
}

// Name returns the strategy name.
func (s *CompiledStrategy) Name() string { return s.name }

// Symbol returns the instrument the strategy trades.
func (s *CompiledStrategy) Symbol() string { return s.symbol }

// PositionSize returns the fraction of buying power committed per buy.
func (s *CompiledStrategy) PositionSize() float64 { return s.positionSize }

// Risk returns a copy of the strategy's risk block, or nil.
func (s *CompiledStrategy) Risk() *domain.RiskConfig {
	if s.risk == nil {
		return nil
	}
	r := *s.risk
	return &r
}

// Parameters returns the merged parameter set used for substitution.
func (s *CompiledStrategy) Parameters() map[string]any {
	out := make(map[string]any, len(s.params))
	for k, v := range s.params {
		out[k] = v
	}
	return out
}

// Indicator returns the named indicator instance.
func (s *CompiledStrategy) Indicator(name string) (indicator.Indicator, bool) {
	ind, ok := s.indicators[name]
	return ind, ok
}

// IndicatorNames returns indicator names in declaration order.
func (s *CompiledStrategy) IndicatorNames() []string {
	return append([]string(nil), s.order...)
}

// BuyConditions returns the compiled buy conditions.
func (s *CompiledStrategy) BuyConditions() []*Condition { return s.buy }

// SellConditions returns the compiled sell conditions.
func (s *CompiledStrategy) SellConditions() []*Condition { return s.sell }

// BarsSeen returns the number of bars retained in history.
func (s *CompiledStrategy) BarsSeen() int { return s.bars.len() }

// EvalInput is the per-bar input to Evaluate.
type EvalInput struct {
	Bar domain.Bar
	// BuyingPower is the cash available for new positions after costs.
	BuyingPower float64
}

// Evaluate feeds one bar through the indicators and returns the signals that
// fired, ordered by ascending priority. A bar with a non-positive or
// non-finite close is rejected before any state changes. A condition that
// fails to evaluate is logged and treated as not firing.
func (s *CompiledStrategy) Evaluate(in EvalInput) ([]domain.Signal, error) {
	bar := in.Bar
	if err := ValidateBar(bar); err != nil {
		return nil, err
	}

	for _, name := range s.order {
		s.indicators[name].Update(bar)
	}
	s.bars.push(bar)

	symbol := bar.Symbol
	if symbol == "" {
		symbol = s.symbol
	}

	var signals []domain.Signal
	emit := func(c *Condition) {
		fired, err := s.fire(c)
		if err != nil {
			s.log.Warn("condition evaluation failed",
				"condition", c.ID,
				"expression", c.Expression,
				"timestamp", bar.Timestamp,
				"error", err,
			)
			return
		}
		if !fired {
			return
		}
		sig := domain.Signal{
			Type:        c.Type,
			Symbol:      symbol,
			Price:       bar.Close,
			Timestamp:   bar.Timestamp,
			Reason:      c.Reason(),
			Strategy:    s.name,
			Priority:    c.Priority,
			ConditionID: c.ID,
		}
		if c.Type == domain.SignalTypeBuy {
			bp := in.BuyingPower
			if bp < 0 || math.IsNaN(bp) {
				bp = 0
			}
			sig.Quantity = bp * s.positionSize / bar.Close
		}
		signals = append(signals, sig)
	}
	for _, c := range s.buy {
		emit(c)
	}
	for _, c := range s.sell {
		emit(c)
	}

	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].Priority < signals[j].Priority
	})
	return signals, nil
}

// fire evaluates c against the current state. Panics are converted to
// errors so one malformed condition cannot abort a run.
func (s *CompiledStrategy) fire(c *Condition) (fired bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	v, err := c.root.eval(s, 0)
	if err != nil {
		return false, err
	}
	return v.defined && v.truth, nil
}

// indicatorValue implements env.
func (s *CompiledStrategy) indicatorValue(name string, lag int) (float64, bool) {
	ind, ok := s.indicators[name]
	if !ok {
		return 0, false
	}
	return ind.Value(lag)
}

// barValue implements env.
func (s *CompiledStrategy) barValue(field indicator.Source, lag int) (float64, bool) {
	bar, ok := s.bars.at(lag)
	if !ok {
		return 0, false
	}
	return field.Of(bar), true
}

// ValidateBar rejects bars with non-finite fields or a non-positive close.
func ValidateBar(bar domain.Bar) error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"open", bar.Open}, {"high", bar.High}, {"low", bar.Low}, {"close", bar.Close}, {"volume", bar.Volume},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("bar at %s: %s is not finite", bar.Timestamp.Format("2006-01-02T15:04:05Z07:00"), f.name)
		}
	}
	if bar.Close <= 0 {
		return fmt.Errorf("bar at %s: close must be positive, got %v", bar.Timestamp.Format("2006-01-02T15:04:05Z07:00"), bar.Close)
	}
	return nil
}

// barHistory keeps the most recent bars for bar-field lookback.
type barHistory struct {
	buf   []domain.Bar
	start int
	n     int
}

func newBarHistory(capacity int) *barHistory {
	if capacity <= 0 {
		capacity = indicator.DefaultHistorySize
	}
	return &barHistory{buf: make([]domain.Bar, capacity)}
}

func (h *barHistory) push(b domain.Bar) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = b
		h.n++
		return
	}
	h.buf[h.start] = b
	h.start = (h.start + 1) % len(h.buf)
}

func (h *barHistory) at(lag int) (domain.Bar, bool) {
	if lag < 0 || lag >= h.n {
		return domain.Bar{}, false
	}
	return h.buf[(h.start+h.n-1-lag)%len(h.buf)], true
}

func (h *barHistory) len() int { return h.n }
