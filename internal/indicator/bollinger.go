package indicator

import (
	"strconv"

	"signalwatch/internal/model"
)

// Bollinger calculates Bollinger Bands: middle = SMA(period), band width =
// stdDevMult * population standard deviation over the window,
// upper/lower = middle ± band. Requires period points.
type Bollinger struct {
	period int
	mult   float64
	suffix string

	window *sma
}

// NewBollinger creates a new Bollinger Bands accumulator.
// Typical parameters: 20, 2.0.
func NewBollinger(period int, stdDevMult float64) *Bollinger {
	return &Bollinger{
		period: period,
		mult:   stdDevMult,
		suffix: strconv.Itoa(period) + "_" + strconv.FormatFloat(stdDevMult, 'g', -1, 64),
		window: newSMA(period),
	}
}

func (b *Bollinger) Key() string { return "BB_" + b.suffix }

func (b *Bollinger) Push(p model.PricePoint) {
	b.window.add(p.Price)
}

func (b *Bollinger) Seed(history []model.PricePoint) {
	b.window.reset()
	for _, p := range history {
		b.Push(p)
	}
}

func (b *Bollinger) Ready() bool { return b.window.ready() }

func (b *Bollinger) Fields() map[string]float64 {
	if !b.Ready() {
		return nil
	}
	middle := b.window.value()
	band := b.mult * b.window.stddev()
	return map[string]float64{
		"BB_UPPER_" + b.suffix:  middle + band,
		"BB_MIDDLE_" + b.suffix: middle,
		"BB_LOWER_" + b.suffix:  middle - band,
	}
}
