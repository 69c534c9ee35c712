package indicator

import (
	"strconv"

	"signalwatch/internal/model"
)

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
// Push is O(1) per point — no history scans. Requires period+1 points.
type RSI struct {
	period    int
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
	current   float64
}

// NewRSI creates a new RSI accumulator with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

func (r *RSI) Key() string { return "RSI_" + strconv.Itoa(r.period) }

func (r *RSI) Push(p model.PricePoint) {
	price := p.Price
	r.count++

	if r.count == 1 {
		// First point — just record price, no delta yet
		r.prevClose = price
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	if r.count <= r.period+1 {
		// Accumulation phase: build initial averages
		r.avgGain += gain
		r.avgLoss += loss
		if r.count == r.period+1 {
			// First RSI value using SMA seed
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.recompute()
		}
		return
	}

	// Wilder's smoothing: avg = (prevAvg * (period-1) + new) / period
	n := float64(r.period)
	r.avgGain = (r.avgGain*(n-1) + gain) / n
	r.avgLoss = (r.avgLoss*(n-1) + loss) / n
	r.recompute()
}

func (r *RSI) recompute() {
	if r.avgLoss == 0 {
		// Zero average loss is the fixed 100 sentinel, not undefined.
		r.current = 100.0
		return
	}
	rs := r.avgGain / r.avgLoss
	r.current = 100.0 - (100.0 / (1.0 + rs))
}

func (r *RSI) Seed(history []model.PricePoint) {
	r.count = 0
	r.prevClose = 0
	r.avgGain = 0
	r.avgLoss = 0
	r.current = 0
	for _, p := range history {
		r.Push(p)
	}
}

func (r *RSI) Ready() bool { return r.count > r.period }

func (r *RSI) Fields() map[string]float64 {
	if !r.Ready() {
		return nil
	}
	return map[string]float64{r.Key(): r.current}
}
