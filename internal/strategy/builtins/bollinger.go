package builtins

import (
	"tradeforge/internal/domain"
	"tradeforge/internal/indicator"
	"tradeforge/internal/strategy"
)

var _ strategy.Strategy = (*Bollinger)(nil)

// Bollinger buys closes below the lower band and exits at the middle or
// upper band.
type Bollinger struct {
	p strategy.BollingerParams
}

func NewBollinger(p strategy.BollingerParams) *Bollinger {
	return &Bollinger{p: p}
}

func (s *Bollinger) Kind() strategy.Kind { return strategy.KindBollinger }

func (s *Bollinger) Prepare(bars []domain.Bar) (strategy.Plan, error) {
	closes := indicator.Closes(bars)
	bands, err := indicator.Bollinger(closes, s.p.Period, s.p.Multiplier)
	if err != nil {
		return nil, err
	}
	target := bands.Middle
	if s.p.ExitAt == strategy.ExitAtUpper {
		target = bands.Upper
	}
	return strategy.Rules{
		N: len(bars),
		Entry: func(i int) (bool, bool) {
			lower, ok := bands.Lower.At(i)
			return ok && closes[i] < lower, ok
		},
		Exit: func(i int) (bool, bool) {
			t, ok := target.At(i)
			return ok && closes[i] >= t, ok
		},
	}, nil
}
