package indicator

// SMA is the arithmetic mean of the trailing period values. Indices below
// period-1 are undefined.
func SMA(values []float64, period int) (Series, error) {
	if err := checkPeriod("sma", period, len(values)); err != nil {
		return nil, err
	}
	out := nanSeries(len(values))
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out, nil
}

// EMA seeds with the SMA of the first period values at index period-1, then
// applies ema[i] = v[i]*k + ema[i-1]*(1-k) with k = 2/(period+1).
func EMA(values []float64, period int) (Series, error) {
	if err := checkPeriod("ema", period, len(values)); err != nil {
		return nil, err
	}
	return emaFrom(values, 0, period), nil
}

// emaFrom computes an EMA over values[start:], leaving earlier entries NaN.
// The caller guarantees len(values)-start >= period.
func emaFrom(values []float64, start, period int) Series {
	out := nanSeries(len(values))
	k := 2.0 / float64(period+1)

	var seed float64
	for i := start; i < start+period; i++ {
		seed += values[i]
	}
	seedIdx := start + period - 1
	out[seedIdx] = seed / float64(period)
	for i := seedIdx + 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}
