package indicator

import "math"

// sma is a simple moving average over raw float values, backed by a
// preallocated circular buffer for a zero-allocation hot path.
type sma struct {
	period  int
	buf     []float64
	idx     int
	count   int
	sum     float64
	current float64
}

func newSMA(period int) *sma {
	return &sma{
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *sma) add(v float64) {
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	}
	s.buf[s.idx] = v
	s.sum += v
	s.idx = (s.idx + 1) % s.period
	s.count++
	if s.count >= s.period {
		s.current = s.sum / float64(s.period)
	}
}

func (s *sma) value() float64 { return s.current }
func (s *sma) ready() bool    { return s.count >= s.period }

// stddev returns the population standard deviation over the current window.
// Two-pass over the window buffer to avoid catastrophic cancellation.
func (s *sma) stddev() float64 {
	if s.count < s.period {
		return 0
	}
	mean := s.sum / float64(s.period)
	var sq float64
	for _, v := range s.buf {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(s.period))
}

func (s *sma) reset() {
	s.idx = 0
	s.count = 0
	s.sum = 0
	s.current = 0
	for i := range s.buf {
		s.buf[i] = 0
	}
}
