package indicator

import "math"

// DefaultHistorySize caps the number of computed values an indicator keeps.
const DefaultHistorySize = 1000

// Series is a fixed-capacity ring buffer of float64 values. Lag 0 is the most
// recent value. Undefined entries are stored as NaN.
type Series struct {
	buf   []float64
	cap   int
	len   int
	start int
}

// NewSeries creates a Series that retains at most capacity values.
func NewSeries(capacity int) *Series {
	if capacity <= 0 {
		capacity = 1
	}
	return &Series{buf: make([]float64, capacity), cap: capacity}
}

// Push appends v, evicting the oldest value once the series is full.
func (s *Series) Push(v float64) {
	if s.len < s.cap {
		s.buf[(s.start+s.len)%s.cap] = v
		s.len++
		return
	}
	s.buf[s.start] = v
	s.start = (s.start + 1) % s.cap
}

// Raw returns the value lag steps back, or NaN when lag is out of range.
func (s *Series) Raw(lag int) float64 {
	if lag < 0 || lag >= s.len {
		return math.NaN()
	}
	return s.buf[(s.start+s.len-1-lag)%s.cap]
}

// At returns the value lag steps back. ok is false when the lag is out of
// range or the stored value is undefined.
func (s *Series) At(lag int) (float64, bool) {
	v := s.Raw(lag)
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Len returns the number of stored values.
func (s *Series) Len() int { return s.len }

// Cap returns the capacity.
func (s *Series) Cap() int { return s.cap }

// Full reports whether the series holds Cap values.
func (s *Series) Full() bool { return s.len == s.cap }

// Sum returns the sum of all stored values.
func (s *Series) Sum() float64 {
	var sum float64
	for i := 0; i < s.len; i++ {
		sum += s.buf[(s.start+i)%s.cap]
	}
	return sum
}

// Values returns a copy of the stored values in arrival order (oldest first).
func (s *Series) Values() []float64 {
	out := make([]float64, s.len)
	for i := 0; i < s.len; i++ {
		out[i] = s.buf[(s.start+i)%s.cap]
	}
	return out
}
