package indicator

import (
	"strconv"

	"signalwatch/internal/model"
)

// Stochastic calculates the Stochastic oscillator:
// raw %K = (close - lowestLow) / (highestHigh - lowestLow) * 100 over
// kPeriod, smoothed %K = SMA(smoothing) of raw %K, %D = SMA(dPeriod) of
// smoothed %K. A zero-range window yields the fixed 50 sentinel.
// Requires kPeriod+smoothing+dPeriod-2 points.
type Stochastic struct {
	kPeriod   int
	dPeriod   int
	smoothing int
	suffix    string

	highs []float64 // circular window of highs
	lows  []float64 // circular window of lows
	idx   int
	count int

	kSMA *sma // smoothed %K
	dSMA *sma // %D
}

// NewStochastic creates a new Stochastic accumulator.
// Typical parameters: 14, 3, 3.
func NewStochastic(kPeriod, dPeriod, smoothing int) *Stochastic {
	return &Stochastic{
		kPeriod:   kPeriod,
		dPeriod:   dPeriod,
		smoothing: smoothing,
		suffix:    strconv.Itoa(kPeriod) + "_" + strconv.Itoa(dPeriod) + "_" + strconv.Itoa(smoothing),
		highs:     make([]float64, kPeriod),
		lows:      make([]float64, kPeriod),
		kSMA:      newSMA(smoothing),
		dSMA:      newSMA(dPeriod),
	}
}

func (s *Stochastic) Key() string { return "STOCH_" + s.suffix }

func (s *Stochastic) Push(p model.PricePoint) {
	high, low := p.HighLow()
	s.highs[s.idx] = high
	s.lows[s.idx] = low
	s.idx = (s.idx + 1) % s.kPeriod
	s.count++

	if s.count < s.kPeriod {
		return
	}

	// Window extremes — O(kPeriod) scan, kPeriod is small.
	hh, ll := s.highs[0], s.lows[0]
	for i := 1; i < s.kPeriod; i++ {
		if s.highs[i] > hh {
			hh = s.highs[i]
		}
		if s.lows[i] < ll {
			ll = s.lows[i]
		}
	}

	rawK := 50.0 // zero-range sentinel
	if hh != ll {
		rawK = (p.ClosePrice() - ll) / (hh - ll) * 100.0
	}

	s.kSMA.add(rawK)
	if s.kSMA.ready() {
		s.dSMA.add(s.kSMA.value())
	}
}

func (s *Stochastic) Seed(history []model.PricePoint) {
	s.idx = 0
	s.count = 0
	for i := range s.highs {
		s.highs[i] = 0
		s.lows[i] = 0
	}
	s.kSMA.reset()
	s.dSMA.reset()
	for _, p := range history {
		s.Push(p)
	}
}

func (s *Stochastic) Ready() bool {
	return s.count >= s.kPeriod+s.smoothing+s.dPeriod-2
}

func (s *Stochastic) Fields() map[string]float64 {
	if !s.Ready() {
		return nil
	}
	return map[string]float64{
		"STOCH_K_" + s.suffix: s.kSMA.value(),
		"STOCH_D_" + s.suffix: s.dSMA.value(),
	}
}
