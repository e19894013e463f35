package indicator

import (
	"math"

	"tradeforge/internal/domain"
)

// BollingerSeries holds the three band outputs.
type BollingerSeries struct {
	Upper  Series
	Middle Series
	Lower  Series
}

// Bollinger computes middle = SMA(period) and upper/lower = middle ±
// multiplier × rolling population standard deviation.
func Bollinger(values []float64, period int, multiplier float64) (BollingerSeries, error) {
	if err := checkPeriod("bollinger", period, len(values)); err != nil {
		return BollingerSeries{}, err
	}
	if multiplier <= 0 {
		return BollingerSeries{}, domain.NewValidationError("bollinger.multiplier", "must be positive, got %v", multiplier)
	}
	middle, err := SMA(values, period)
	if err != nil {
		return BollingerSeries{}, err
	}
	n := len(values)
	upper, lower := nanSeries(n), nanSeries(n)
	for i := period - 1; i < n; i++ {
		mean := middle[i]
		var variance float64
		for _, v := range values[i-period+1 : i+1] {
			d := v - mean
			variance += d * d
		}
		band := multiplier * math.Sqrt(variance/float64(period))
		upper[i] = mean + band
		lower[i] = mean - band
	}
	return BollingerSeries{Upper: upper, Middle: middle, Lower: lower}, nil
}

// ZScore returns (value - mean) / population stddev over the trailing
// window. A zero stddev yields 0.
func ZScore(values []float64, period int) (Series, error) {
	if err := checkPeriod("zscore", period, len(values)); err != nil {
		return nil, err
	}
	mean, err := SMA(values, period)
	if err != nil {
		return nil, err
	}
	out := nanSeries(len(values))
	for i := period - 1; i < len(values); i++ {
		var variance float64
		for _, v := range values[i-period+1 : i+1] {
			d := v - mean[i]
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))
		if sd == 0 {
			out[i] = 0
			continue
		}
		out[i] = (values[i] - mean[i]) / sd
	}
	return out, nil
}
