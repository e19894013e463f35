package builtins

import (
	"tradeforge/internal/domain"
	"tradeforge/internal/indicator"
	"tradeforge/internal/strategy"
)

var _ strategy.Strategy = (*MeanReversion)(nil)

// MeanReversion trades the z-score of the close against its rolling mean.
type MeanReversion struct {
	p strategy.MeanReversionParams
}

func NewMeanReversion(p strategy.MeanReversionParams) *MeanReversion {
	return &MeanReversion{p: p}
}

func (s *MeanReversion) Kind() strategy.Kind { return strategy.KindMeanReversion }

func (s *MeanReversion) Prepare(bars []domain.Bar) (strategy.Plan, error) {
	z, err := indicator.ZScore(indicator.Closes(bars), s.p.Window)
	if err != nil {
		return nil, err
	}
	return strategy.Rules{
		N: len(bars),
		Entry: func(i int) (bool, bool) {
			v, ok := z.At(i)
			return ok && v <= -s.p.EntryZ, ok
		},
		Exit: func(i int) (bool, bool) {
			v, ok := z.At(i)
			return ok && v >= s.p.ExitZ, ok
		},
	}, nil
}
