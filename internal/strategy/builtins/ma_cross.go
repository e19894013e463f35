package builtins

import (
	"tradeforge/internal/domain"
	"tradeforge/internal/indicator"
	"tradeforge/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*MACross)(nil)

// MACross implements a moving average crossover strategy. It generates a
// buy signal when the fast average crosses above the slow average, and a
// sell signal when it crosses below.
type MACross struct {
	p strategy.MACrossoverParams
}

// NewMACross creates a new MACross strategy.
func NewMACross(p strategy.MACrossoverParams) *MACross {
	return &MACross{p: p}
}

func (s *MACross) Kind() strategy.Kind { return strategy.KindMACrossover }

func (s *MACross) Prepare(bars []domain.Bar) (strategy.Plan, error) {
	closes := indicator.Closes(bars)
	ma := indicator.SMA
	if s.p.MAType == strategy.MATypeEMA {
		ma = indicator.EMA
	}
	fast, err := ma(closes, s.p.FastPeriod)
	if err != nil {
		return nil, err
	}
	slow, err := ma(closes, s.p.SlowPeriod)
	if err != nil {
		return nil, err
	}
	return strategy.Rules{
		N:     len(bars),
		Entry: func(i int) (bool, bool) { return crosses(fast, slow, i, true) },
		Exit:  func(i int) (bool, bool) { return crosses(fast, slow, i, false) },
	}, nil
}
