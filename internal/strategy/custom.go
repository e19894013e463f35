package strategy

import (
	"tradeforge/internal/condition"
	"tradeforge/internal/domain"
)

var _ Strategy = (*Custom)(nil)

// Custom executes user-built buy and sell condition trees. Each side is a
// list of trees combined with OR.
type Custom struct {
	buy  []condition.Node
	sell []condition.Node
	opts []condition.Option
}

// NewCustom parses and validates the condition sets of p.
func NewCustom(p CustomParams, opts ...condition.Option) (*Custom, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	buy, err := condition.ParseListAt("buyConditions", p.Buy)
	if err != nil {
		return nil, err
	}
	sell, err := condition.ParseListAt("sellConditions", p.Sell)
	if err != nil {
		return nil, err
	}
	return &Custom{buy: buy, sell: sell, opts: opts}, nil
}

func (c *Custom) Kind() Kind { return KindCustom }

func (c *Custom) Prepare(bars []domain.Bar) (Plan, error) {
	nodes := append(append([]condition.Node(nil), c.buy...), c.sell...)
	ev, err := condition.NewEvaluator(bars, nodes, c.opts...)
	if err != nil {
		return nil, err
	}
	return Rules{
		N:     len(bars),
		Entry: func(i int) (bool, bool) { return ev.EvalAny(c.buy, i) },
		Exit:  func(i int) (bool, bool) { return ev.EvalAny(c.sell, i) },
	}, nil
}

// ExecuteStrategy evaluates buy and sell condition sets on the last bar of
// bars and returns the signal actionable from pos.
func ExecuteStrategy(buy, sell Conditions, bars []domain.Bar, pos domain.PositionState) (domain.Signal, error) {
	c, err := NewCustom(CustomParams{Buy: buy, Sell: sell})
	if err != nil {
		return domain.SignalHold, err
	}
	return ComputeSignal(c, bars, pos)
}
