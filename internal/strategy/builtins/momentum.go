package builtins

import (
	"tradeforge/internal/domain"
	"tradeforge/internal/indicator"
	"tradeforge/internal/strategy"
)

var _ strategy.Strategy = (*Momentum)(nil)

// Momentum buys oversold RSI readings and sells overbought ones.
type Momentum struct {
	p strategy.MomentumParams
}

func NewMomentum(p strategy.MomentumParams) *Momentum {
	return &Momentum{p: p}
}

func (s *Momentum) Kind() strategy.Kind { return strategy.KindMomentum }

func (s *Momentum) Prepare(bars []domain.Bar) (strategy.Plan, error) {
	rsi, err := indicator.RSI(indicator.Closes(bars), s.p.RSIPeriod)
	if err != nil {
		return nil, err
	}
	return strategy.Rules{
		N: len(bars),
		Entry: func(i int) (bool, bool) {
			v, ok := rsi.At(i)
			return ok && v < s.p.Oversold, ok
		},
		Exit: func(i int) (bool, bool) {
			v, ok := rsi.At(i)
			return ok && v > s.p.Overbought, ok
		},
	}, nil
}
