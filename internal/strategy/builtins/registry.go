// Package builtins provides the parametrized strategy implementations that
// ship with tradeforge and a Registry preloaded with every strategy kind.
package builtins

import (
	"tradeforge/internal/indicator"
	"tradeforge/internal/strategy"
)

// NewRegistry returns a Registry with every strategy kind registered.
func NewRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	r.Register(strategy.KindCustom, strategy.Typed(func(p strategy.CustomParams) (strategy.Strategy, error) {
		return strategy.NewCustom(p)
	}))
	r.Register(strategy.KindMeanReversion, strategy.Typed(func(p strategy.MeanReversionParams) (strategy.Strategy, error) {
		return NewMeanReversion(p), nil
	}))
	r.Register(strategy.KindMACrossover, strategy.Typed(func(p strategy.MACrossoverParams) (strategy.Strategy, error) {
		return NewMACross(p), nil
	}))
	r.Register(strategy.KindMomentum, strategy.Typed(func(p strategy.MomentumParams) (strategy.Strategy, error) {
		return NewMomentum(p), nil
	}))
	r.Register(strategy.KindBollinger, strategy.Typed(func(p strategy.BollingerParams) (strategy.Strategy, error) {
		return NewBollinger(p), nil
	}))
	r.Register(strategy.KindBreakout, strategy.Typed(func(p strategy.BreakoutParams) (strategy.Strategy, error) {
		return NewBreakout(p), nil
	}))
	r.Register(strategy.KindSentiment, strategy.Typed(func(p strategy.SentimentParams) (strategy.Strategy, error) {
		return NewSentiment(p), nil
	}))
	return r
}

// crosses reports a strict crossing of a over b at i: above when up is
// true, below otherwise. ready is false while either series is undefined
// at i or i-1.
func crosses(a, b indicator.Series, i int, up bool) (value, ready bool) {
	cur, ok1 := a.At(i)
	ref, ok2 := b.At(i)
	prev, ok3 := a.At(i - 1)
	prevRef, ok4 := b.At(i - 1)
	if !(ok1 && ok2 && ok3 && ok4) {
		return false, false
	}
	if up {
		return prev <= prevRef && cur > ref, true
	}
	return prev >= prevRef && cur < ref, true
}
