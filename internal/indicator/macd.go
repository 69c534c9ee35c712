package indicator

import (
	"strconv"

	"signalwatch/internal/model"
)

// MACD calculates Moving Average Convergence Divergence:
// MACD line = EMA(fast) - EMA(slow), signal = EMA(signalPeriod) of the MACD
// line, histogram = MACD - signal. Requires slow+signalPeriod points.
type MACD struct {
	fast   int
	slow   int
	signal int
	suffix string // "fast_slow_signal", shared by all three field names

	fastEMA   *ema
	slowEMA   *ema
	signalEMA *ema

	count     int
	macd      float64
	signalVal float64
}

// NewMACD creates a new MACD accumulator. Typical parameters: 12, 26, 9.
func NewMACD(fast, slow, signalPeriod int) *MACD {
	return &MACD{
		fast:      fast,
		slow:      slow,
		signal:    signalPeriod,
		suffix:    strconv.Itoa(fast) + "_" + strconv.Itoa(slow) + "_" + strconv.Itoa(signalPeriod),
		fastEMA:   newEMA(fast),
		slowEMA:   newEMA(slow),
		signalEMA: newEMA(signalPeriod),
	}
}

func (m *MACD) Key() string { return "MACD_" + m.suffix }

func (m *MACD) Push(p model.PricePoint) {
	m.count++
	m.fastEMA.add(p.Price)
	m.slowEMA.add(p.Price)

	if !m.slowEMA.ready() {
		return
	}
	m.macd = m.fastEMA.value() - m.slowEMA.value()
	m.signalEMA.add(m.macd)
	if m.signalEMA.ready() {
		m.signalVal = m.signalEMA.value()
	}
}

func (m *MACD) Seed(history []model.PricePoint) {
	m.count = 0
	m.macd = 0
	m.signalVal = 0
	m.fastEMA.reset()
	m.slowEMA.reset()
	m.signalEMA.reset()
	for _, p := range history {
		m.Push(p)
	}
}

func (m *MACD) Ready() bool { return m.count >= m.slow+m.signal }

func (m *MACD) Fields() map[string]float64 {
	if !m.Ready() {
		return nil
	}
	return map[string]float64{
		"MACD_" + m.suffix:        m.macd,
		"MACD_SIGNAL_" + m.suffix: m.signalVal,
		"MACD_HIST_" + m.suffix:   m.macd - m.signalVal,
	}
}
