package stats

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// welford accumulates mean and variance online in decimal, plus the downside
// second moment used by the Sortino denominator.
type welford struct {
	n         int64
	mean      decimal.Decimal
	m2        decimal.Decimal
	downM2    decimal.Decimal
	timeFirst time.Time
	timeLast  time.Time
}

func (w *welford) add(x decimal.Decimal, t time.Time) {
	w.n++
	nDec := decimal.NewFromInt(w.n)
	delta := x.Sub(w.mean)
	w.mean = w.mean.Add(delta.Div(nDec))
	w.m2 = w.m2.Add(delta.Mul(x.Sub(w.mean)))
	if x.IsNegative() {
		w.downM2 = w.downM2.Add(x.Pow(two))
	}
	if w.timeFirst.IsZero() || t.Before(w.timeFirst) {
		w.timeFirst = t
	}
	if t.After(w.timeLast) {
		w.timeLast = t
	}
}

// stdDev is the sample standard deviation, or false with fewer than two
// samples or zero variance.
func (w *welford) stdDev() (decimal.Decimal, bool) {
	if w.n < 2 {
		return decimal.Decimal{}, false
	}
	variance := w.m2.Div(decimal.NewFromInt(w.n - 1))
	if !variance.IsPositive() {
		return decimal.Decimal{}, false
	}
	return sqrt(variance), true
}

// downsideDev is the root mean square of the negative samples, or false when
// no sample was negative.
func (w *welford) downsideDev() (decimal.Decimal, bool) {
	if w.n == 0 || !w.downM2.IsPositive() {
		return decimal.Decimal{}, false
	}
	return sqrt(w.downM2.Div(decimal.NewFromInt(w.n))), true
}

// samplingSeconds is the mean spacing between samples, or false with fewer
// than two samples or no elapsed time.
func (w *welford) samplingSeconds() (decimal.Decimal, bool) {
	if w.n < 2 {
		return decimal.Decimal{}, false
	}
	elapsed := w.timeLast.Sub(w.timeFirst)
	if elapsed <= 0 {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromFloat(elapsed.Seconds()).Div(decimal.NewFromInt(w.n - 1)), true
}

// sqrt is the single permitted float excursion.
func sqrt(d decimal.Decimal) decimal.Decimal {
	f, _ := d.Float64()
	if f <= 0 {
		return decimal.Decimal{}
	}
	return decimal.NewFromFloat(math.Sqrt(f))
}

// Drawdown is one completed peak-to-trough excursion on a cumulative curve.
type Drawdown struct {
	Value     decimal.Decimal `json:"value"`
	TimeStart time.Time       `json:"time_start"`
	TimeEnd   time.Time       `json:"time_end"`
}

// MeanDrawdown summarises all completed drawdowns.
type MeanDrawdown struct {
	MeanValue       decimal.Decimal `json:"mean_value"`
	MeanDurationSec decimal.Decimal `json:"mean_duration_secs"`
}

// drawdownTracker watches a cumulative value curve and records every
// peak-to-trough excursion. An excursion still open at summary time is closed
// at the last observed timestamp.
type drawdownTracker struct {
	started    bool
	peak       decimal.Decimal
	peakTime   time.Time
	trough     decimal.Decimal
	troughTime time.Time
	open       bool
	completed  []Drawdown
}

func (d *drawdownTracker) observe(value decimal.Decimal, t time.Time) {
	if !d.started {
		d.started = true
		d.peak = value
		d.peakTime = t
		return
	}
	if value.GreaterThanOrEqual(d.peak) {
		if d.open {
			d.completed = append(d.completed, Drawdown{
				Value:     d.peak.Sub(d.trough),
				TimeStart: d.peakTime,
				TimeEnd:   t,
			})
			d.open = false
		}
		d.peak = value
		d.peakTime = t
		return
	}
	if !d.open || value.LessThan(d.trough) {
		d.trough = value
		d.troughTime = t
		d.open = true
	}
}

// finish returns all drawdowns including a still-open excursion.
func (d *drawdownTracker) finish() []Drawdown {
	all := d.completed
	if d.open {
		all = append(all, Drawdown{
			Value:     d.peak.Sub(d.trough),
			TimeStart: d.peakTime,
			TimeEnd:   d.troughTime,
		})
	}
	return all
}

func maxDrawdown(drawdowns []Drawdown) *Drawdown {
	var max *Drawdown
	for i := range drawdowns {
		if max == nil || drawdowns[i].Value.GreaterThan(max.Value) {
			max = &drawdowns[i]
		}
	}
	if max == nil {
		return nil
	}
	out := *max
	return &out
}

func meanDrawdown(drawdowns []Drawdown) *MeanDrawdown {
	if len(drawdowns) == 0 {
		return nil
	}
	var sumValue decimal.Decimal
	var sumSecs decimal.Decimal
	for _, d := range drawdowns {
		sumValue = sumValue.Add(d.Value)
		sumSecs = sumSecs.Add(decimal.NewFromFloat(d.TimeEnd.Sub(d.TimeStart).Seconds()))
	}
	n := decimal.NewFromInt(int64(len(drawdowns)))
	return &MeanDrawdown{
		MeanValue:       sumValue.Div(n),
		MeanDurationSec: sumSecs.Div(n),
	}
}
