package indicator

import (
	"fmt"

	"tradeforge/internal/domain"
)

// MACDSeries holds the three MACD outputs.
type MACDSeries struct {
	Line      Series
	Signal    Series
	Histogram Series
}

// MACD computes line = EMA(fast) - EMA(slow), signal = EMA(line, signal)
// and histogram = line - signal. fast must be strictly less than slow.
func MACD(values []float64, fast, slow, signal int) (MACDSeries, error) {
	if fast >= slow {
		return MACDSeries{}, domain.NewValidationError("macd", "fast period %d must be less than slow period %d", fast, slow)
	}
	fastEMA, err := EMA(values, fast)
	if err != nil {
		return MACDSeries{}, err
	}
	slowEMA, err := EMA(values, slow)
	if err != nil {
		return MACDSeries{}, err
	}
	if signal < 1 {
		return MACDSeries{}, &domain.DataError{Message: fmt.Sprintf("macd signal period must be >= 1, got %d", signal)}
	}
	n := len(values)
	start := slow - 1
	if n-start <= signal {
		return MACDSeries{}, &domain.DataError{Message: fmt.Sprintf("macd %d/%d/%d requires more than %d bars", fast, slow, signal, n)}
	}

	line := nanSeries(n)
	for i := start; i < n; i++ {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	sig := emaFrom(line, start, signal)
	hist := nanSeries(n)
	for i := start + signal - 1; i < n; i++ {
		hist[i] = line[i] - sig[i]
	}
	return MACDSeries{Line: line, Signal: sig, Histogram: hist}, nil
}
