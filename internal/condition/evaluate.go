package condition

import (
	"fmt"
	"time"

	"tradeforge/internal/domain"
	"tradeforge/internal/indicator"
)

// Evaluator holds every indicator series a set of trees references,
// computed once over a fixed bar series.
type Evaluator struct {
	bars   []domain.Bar
	series map[string]indicator.Series
	loc    *time.Location
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLocation sets the time zone used for daily VWAP resets.
func WithLocation(loc *time.Location) Option {
	return func(e *Evaluator) { e.loc = loc }
}

// NewEvaluator precomputes the series referenced by nodes. An indicator
// whose lookback cannot be satisfied by bars yields a *domain.DataError.
func NewEvaluator(bars []domain.Bar, nodes []Node, opts ...Option) (*Evaluator, error) {
	e := &Evaluator{
		bars:   bars,
		series: make(map[string]indicator.Series),
		loc:    time.UTC,
	}
	for _, opt := range opts {
		opt(e)
	}
	closes := indicator.Closes(bars)
	for _, n := range nodes {
		var err error
		n.Walk(func(l Leaf) {
			if err != nil {
				return
			}
			if err = e.ensure(l.Subject, closes); err != nil {
				return
			}
			if l.Reference != nil {
				err = e.ensure(*l.Reference, closes)
			}
		})
		if err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Len returns the number of bars the evaluator covers.
func (e *Evaluator) Len() int { return len(e.bars) }

// Series returns the precomputed series for spec, if any.
func (e *Evaluator) Series(s Spec) (indicator.Series, bool) {
	v, ok := e.series[s.Key()]
	return v, ok
}

func (e *Evaluator) ensure(s Spec, closes []float64) error {
	key := s.Key()
	if _, ok := e.series[key]; ok {
		return nil
	}
	out, err := compute(s, e.bars, closes, e.loc)
	if err != nil {
		return fmt.Errorf("computing %s: %w", key, err)
	}
	e.series[key] = out
	return nil
}

func compute(s Spec, bars []domain.Bar, closes []float64, loc *time.Location) (indicator.Series, error) {
	switch s.Kind {
	case KindPrice:
		return indicator.Series(closes), nil
	case KindVolume:
		return indicator.Series(indicator.Volumes(bars)), nil
	case KindSMA:
		return indicator.SMA(closes, s.Period)
	case KindEMA:
		return indicator.EMA(closes, s.Period)
	case KindRSI:
		return indicator.RSI(closes, s.Period)
	case KindVWAP:
		return indicator.VWAP(bars, s.Reset, loc)
	case KindMACD:
		m, err := indicator.MACD(closes, s.FastPeriod, s.SlowPeriod, s.SignalPeriod)
		if err != nil {
			return nil, err
		}
		switch s.Field {
		case "signal":
			return m.Signal, nil
		case "histogram":
			return m.Histogram, nil
		default:
			return m.Line, nil
		}
	case KindBollinger:
		b, err := indicator.Bollinger(closes, s.Period, s.Multiplier)
		if err != nil {
			return nil, err
		}
		switch s.Field {
		case "upper":
			return b.Upper, nil
		case "lower":
			return b.Lower, nil
		default:
			return b.Middle, nil
		}
	}
	return nil, domain.NewValidationError("indicator.type", "unsupported indicator %q", s.Kind)
}

// Eval evaluates n at bar index i. ready is false when a value the tree
// needs is still inside its warm-up window; value is then false. An OR is
// ready as soon as one ready child is true.
func (e *Evaluator) Eval(n Node, i int) (value, ready bool) {
	switch n.typ {
	case TypeIndicator:
		return e.evalLeaf(n.leaf, i)
	case TypeNot:
		v, ok := e.Eval(n.children[0], i)
		return ok && !v, ok
	case TypeAnd:
		value, ready = true, true
		for _, c := range n.children {
			v, ok := e.Eval(c, i)
			ready = ready && ok
			value = value && v
		}
		if !ready {
			return false, false
		}
		return value, true
	case TypeOr:
		return e.anyOf(n.children, i)
	}
	return false, false
}

// EvalAny evaluates a node list combined with OR. An empty list is never
// true.
func (e *Evaluator) EvalAny(nodes []Node, i int) (value, ready bool) {
	return e.anyOf(nodes, i)
}

func (e *Evaluator) anyOf(nodes []Node, i int) (value, ready bool) {
	ready = true
	for _, n := range nodes {
		v, ok := e.Eval(n, i)
		if ok && v {
			return true, true
		}
		ready = ready && ok
	}
	return false, ready
}

func (e *Evaluator) evalLeaf(l *Leaf, i int) (bool, bool) {
	subject := e.series[l.Subject.Key()]
	cur, ok := subject.At(i)
	if !ok {
		return false, false
	}
	ref, ok := e.reference(l, i)
	if !ok {
		return false, false
	}

	switch l.cmp {
	case cmpAbove:
		return cur > ref, true
	case cmpBelow:
		return cur < ref, true
	}

	prev, ok := subject.At(i - 1)
	if !ok {
		return false, false
	}
	prevRef, ok := e.reference(l, i-1)
	if !ok {
		return false, false
	}
	if l.cmp == cmpCrossAbove {
		return prev <= prevRef && cur > ref, true
	}
	return prev >= prevRef && cur < ref, true
}

func (e *Evaluator) reference(l *Leaf, i int) (float64, bool) {
	if l.Reference != nil {
		return e.series[l.Reference.Key()].At(i)
	}
	if i < 0 || i >= len(e.bars) {
		return 0, false
	}
	return *l.Threshold, true
}
