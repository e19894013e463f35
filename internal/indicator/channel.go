package indicator

import "tradeforge/internal/domain"

// Highest is the rolling maximum over the trailing period values,
// including the current one.
func Highest(values []float64, period int) (Series, error) {
	return rolling("highest", values, period, func(a, b float64) bool { return a > b })
}

// Lowest is the rolling minimum over the trailing period values,
// including the current one.
func Lowest(values []float64, period int) (Series, error) {
	return rolling("lowest", values, period, func(a, b float64) bool { return a < b })
}

func rolling(name string, values []float64, period int, better func(a, b float64) bool) (Series, error) {
	if err := checkPeriod(name, period, len(values)); err != nil {
		return nil, err
	}
	out := nanSeries(len(values))
	for i := period - 1; i < len(values); i++ {
		best := values[i-period+1]
		for _, v := range values[i-period+2 : i+1] {
			if better(v, best) {
				best = v
			}
		}
		out[i] = best
	}
	return out, nil
}

// Highs extracts the high prices of bars.
func Highs(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}
	return out
}

// Lows extracts the low prices of bars.
func Lows(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Low
	}
	return out
}
