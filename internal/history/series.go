package history

import (
	"time"

	"github.com/shopspring/decimal"
)

// Window is the look-back period used for uptime and bandwidth averages.
const Window = 60 * 24 * time.Hour

var (
	hundred  = decimal.NewFromInt(100)
	thousand = decimal.NewFromInt(1000)
)

// Series is one metric's sparse history graph. Sample i is taken at
// First + i*Interval; a nil value means the sample is absent.
type Series struct {
	First    time.Time
	Last     time.Time
	Interval time.Duration
	Factor   float64
	Count    int
	Values   []*float64
}

// Metrics holds the per-relay aggregates of a single run. An invalid value
// means the relay reported no history for that metric at all.
type Metrics struct {
	UptimePercent    decimal.NullDecimal
	AverageBandwidth decimal.NullDecimal
}

// Compute derives uptime percent and average bandwidth (kB/s) over Window.
func Compute(uptime, bandwidth *Series, now time.Time) Metrics {
	return Metrics{
		UptimePercent:    UptimePercent(uptime, now),
		AverageBandwidth: AverageBandwidth(bandwidth, now),
	}
}

// WindowedAverage averages the present samples taken within window of now,
// scaled by the series factor. A nil series yields an invalid result; a
// series with no qualifying samples yields exactly zero.
func WindowedAverage(s *Series, window time.Duration, now time.Time) decimal.NullDecimal {
	if s == nil {
		return decimal.NullDecimal{}
	}

	sum := decimal.Zero
	included := 0
	for i := 0; i < s.Count && i < len(s.Values); i++ {
		ts := s.First.Add(time.Duration(i) * s.Interval)
		if now.Sub(ts) > window {
			continue
		}
		v := s.Values[i]
		if v == nil {
			continue
		}
		sum = sum.Add(decimal.NewFromFloat(*v))
		included++
	}

	if included == 0 {
		return decimal.NewNullDecimal(decimal.Zero)
	}

	avg := sum.Mul(decimal.NewFromFloat(s.Factor)).Div(decimal.NewFromInt(int64(included)))
	return decimal.NewNullDecimal(avg)
}

// UptimePercent returns the windowed uptime fraction as a percentage.
func UptimePercent(s *Series, now time.Time) decimal.NullDecimal {
	avg := WindowedAverage(s, Window, now)
	if !avg.Valid {
		return avg
	}
	return decimal.NewNullDecimal(Round(avg.Decimal.Mul(hundred)))
}

// AverageBandwidth returns the windowed write rate in kB/s.
func AverageBandwidth(s *Series, now time.Time) decimal.NullDecimal {
	avg := WindowedAverage(s, Window, now)
	if !avg.Valid {
		return avg
	}
	return decimal.NewNullDecimal(Round(avg.Decimal.Div(thousand)))
}

// Round rounds half away from zero to two decimal places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
