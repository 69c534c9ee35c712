package indicator

// ema is an exponential moving average over raw float values.
// Seeded with the simple mean of the first period values, then
// EMA(t) = (v(t) - EMA(t-1)) * 2/(period+1) + EMA(t-1). O(1) per update.
type ema struct {
	period     int
	multiplier float64
	count      int
	sum        float64
	current    float64
}

func newEMA(period int) *ema {
	return &ema{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *ema) add(v float64) {
	e.count++
	if e.count <= e.period {
		// Accumulate for the initial SMA seed
		e.sum += v
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}
	e.current = (v-e.current)*e.multiplier + e.current
}

func (e *ema) value() float64 { return e.current }
func (e *ema) ready() bool    { return e.count >= e.period }

func (e *ema) reset() {
	e.count = 0
	e.sum = 0
	e.current = 0
}
