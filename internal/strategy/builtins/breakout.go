package builtins

import (
	"tradeforge/internal/domain"
	"tradeforge/internal/indicator"
	"tradeforge/internal/strategy"
)

var _ strategy.Strategy = (*Breakout)(nil)

// Breakout buys closes above the prior channel high confirmed by volume and
// sells closes below the prior channel low.
type Breakout struct {
	p strategy.BreakoutParams
}

func NewBreakout(p strategy.BreakoutParams) *Breakout {
	return &Breakout{p: p}
}

func (s *Breakout) Kind() strategy.Kind { return strategy.KindBreakout }

func (s *Breakout) Prepare(bars []domain.Bar) (strategy.Plan, error) {
	closes := indicator.Closes(bars)
	volumes := indicator.Volumes(bars)
	high, err := indicator.Highest(indicator.Highs(bars), s.p.Lookback)
	if err != nil {
		return nil, err
	}
	low, err := indicator.Lowest(indicator.Lows(bars), s.p.Lookback)
	if err != nil {
		return nil, err
	}
	avgVol, err := indicator.SMA(volumes, s.p.Lookback)
	if err != nil {
		return nil, err
	}

	// Channel values at i-1 cover the lookback window ending before bar i.
	broke := func(i int) (bool, bool) {
		h, ok1 := high.At(i - 1)
		v, ok2 := avgVol.At(i - 1)
		if !ok1 || !ok2 {
			return false, false
		}
		return closes[i] > h && volumes[i] >= s.p.VolumeRatio*v, true
	}

	return strategy.Rules{
		N: len(bars),
		Entry: func(i int) (bool, bool) {
			for j := i - s.p.ConfirmationBars + 1; j <= i; j++ {
				v, ok := broke(j)
				if !ok {
					return false, false
				}
				if !v {
					return false, true
				}
			}
			return true, true
		},
		Exit: func(i int) (bool, bool) {
			l, ok := low.At(i - 1)
			return ok && closes[i] < l, ok
		},
	}, nil
}
