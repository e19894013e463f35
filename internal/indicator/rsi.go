package indicator

import "math"

// RSI is Wilder's relative strength index. The first value, at index
// period, averages the first period changes; later values use Wilder
// smoothing avg = (avg*(period-1) + x) / period.
func RSI(values []float64, period int) (Series, error) {
	if err := checkPeriod("rsi", period, len(values)); err != nil {
		return nil, err
	}
	out := nanSeries(len(values))

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		gain, loss := split(values[i] - values[i-1])
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	p := float64(period)
	for i := period + 1; i < len(values); i++ {
		gain, loss := split(values[i] - values[i-1])
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out, nil
}

func split(change float64) (gain, loss float64) {
	if change > 0 {
		return change, 0
	}
	return 0, -change
}

func rsiValue(avgGain, avgLoss float64) float64 {
	switch {
	case avgLoss == 0 && avgGain == 0:
		return 50
	case avgLoss == 0:
		return 100
	}
	rs := avgGain / avgLoss
	v := 100 - 100/(1+rs)
	return math.Max(0, math.Min(100, v))
}
