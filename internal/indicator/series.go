// Package indicator implements stateless technical indicators over a price
// series. Every output is aligned 1:1 with its input; entries inside the
// warm-up window are NaN and never fabricated.
package indicator

import (
	"fmt"
	"math"

	"tradeforge/internal/domain"
)

// Series is an indicator output aligned by index to its input bars.
type Series []float64

// Defined reports whether index i is inside the series and past warm-up.
func (s Series) Defined(i int) bool {
	return i >= 0 && i < len(s) && !math.IsNaN(s[i])
}

// At returns the value at i and whether it is defined.
func (s Series) At(i int) (float64, bool) {
	if !s.Defined(i) {
		return 0, false
	}
	return s[i], true
}

// Last returns the final value and whether it is defined.
func (s Series) Last() (float64, bool) { return s.At(len(s) - 1) }

// Closes extracts the close prices of bars.
func Closes(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Volumes extracts the volumes of bars as floats.
func Volumes(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = float64(b.Volume)
	}
	return out
}

func nanSeries(n int) Series {
	out := make(Series, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// checkPeriod enforces 1 <= period < n.
func checkPeriod(name string, period, n int) error {
	if period < 1 {
		return &domain.DataError{Message: fmt.Sprintf("%s period must be >= 1, got %d", name, period)}
	}
	if period >= n {
		return &domain.DataError{Message: fmt.Sprintf("%s period %d requires more than %d bars", name, period, n)}
	}
	return nil
}
