// Package strategy defines the contract every trading strategy implements,
// the closed set of strategy kinds with their parameter structs, and a
// Registry that resolves a kind to its implementation once at construction.
package strategy

import (
	"fmt"
	"sort"
	"strings"

	"tradeforge/internal/domain"
)

// Kind is the closed set of strategy implementations.
type Kind string

const (
	KindCustom        Kind = "custom"
	KindMeanReversion Kind = "meanReversion"
	KindMACrossover   Kind = "maCrossover"
	KindMomentum      Kind = "momentum"
	KindBollinger     Kind = "bollinger"
	KindBreakout      Kind = "breakout"
	KindSentiment     Kind = "sentiment"
)

var allKinds = []Kind{
	KindCustom, KindMeanReversion, KindMACrossover, KindMomentum,
	KindBollinger, KindBreakout, KindSentiment,
}

// ParseKind resolves a strategy name, ignoring case.
func ParseKind(s string) (Kind, error) {
	for _, k := range allKinds {
		if strings.EqualFold(string(k), s) {
			return k, nil
		}
	}
	return "", domain.NewValidationError("strategy", "unknown strategy kind %q", s)
}

// Kinds returns every strategy kind in sorted order.
func Kinds() []Kind {
	out := append([]Kind(nil), allKinds...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Params is the parameter struct of one strategy kind.
type Params interface {
	Kind() Kind
	Validate() error
}

// Plan is a strategy bound to one bar series. Signal returns the gated
// signal for bar i given the current position; ready is false while a
// required indicator is still warming up.
type Plan interface {
	Len() int
	Signal(i int, pos domain.PositionState) (sig domain.Signal, ready bool)
}

// Strategy is the interface that all trading strategies implement.
type Strategy interface {
	// Kind returns the strategy's tag.
	Kind() Kind

	// Prepare precomputes every indicator the strategy needs over bars.
	// bars must already satisfy domain.ValidateSeries.
	Prepare(bars []domain.Bar) (Plan, error)
}

// ComputeSignal evaluates s on the last bar of bars.
func ComputeSignal(s Strategy, bars []domain.Bar, pos domain.PositionState) (domain.Signal, error) {
	if err := domain.ValidateSeries(bars); err != nil {
		return domain.SignalHold, err
	}
	plan, err := s.Prepare(bars)
	if err != nil {
		return domain.SignalHold, err
	}
	sig, _ := plan.Signal(len(bars)-1, pos)
	return sig, nil
}

// Rules is a Plan built from entry and exit predicates. Entry is consulted
// only while flat and Exit only while long.
type Rules struct {
	N     int
	Entry func(i int) (value, ready bool)
	Exit  func(i int) (value, ready bool)
}

var _ Plan = Rules{}

func (r Rules) Len() int { return r.N }

func (r Rules) Signal(i int, pos domain.PositionState) (domain.Signal, bool) {
	if i < 0 || i >= r.N {
		return domain.SignalHold, false
	}
	pred, sig := r.Entry, domain.SignalBuy
	if pos == domain.PositionLong {
		pred, sig = r.Exit, domain.SignalSell
	}
	v, ok := pred(i)
	if !ok {
		return domain.SignalHold, false
	}
	if v {
		return sig, true
	}
	return domain.SignalHold, true
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Factory builds a strategy from validated parameters of its kind.
type Factory func(p Params) (Strategy, error)

// Typed adapts a constructor over a concrete parameter type into a Factory.
// Params of the wrong type are rejected, and Validate runs before build.
func Typed[P Params](build func(P) (Strategy, error)) Factory {
	return func(p Params) (Strategy, error) {
		tp, ok := p.(P)
		if !ok {
			return nil, domain.NewValidationError("params", "unexpected parameter type %T", p)
		}
		if err := tp.Validate(); err != nil {
			return nil, err
		}
		return build(tp)
	}
}

// Registry maps strategy kinds to their factories.
type Registry struct {
	factories map[Kind]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[Kind]Factory),
	}
}

// Register adds a factory for kind, replacing any previous one.
func (r *Registry) Register(kind Kind, f Factory) {
	r.factories[kind] = f
}

// Get retrieves the factory for kind. The second return value indicates
// whether the kind was registered.
func (r *Registry) Get(kind Kind) (Factory, bool) {
	f, ok := r.factories[kind]
	return f, ok
}

// New builds a strategy of kind. Nil params select the kind's defaults.
func (r *Registry) New(kind Kind, p Params) (Strategy, error) {
	f, ok := r.factories[kind]
	if !ok {
		return nil, domain.NewValidationError("strategy", "strategy kind %q is not registered", kind)
	}
	if p == nil {
		var err error
		if p, err = DefaultParams(kind); err != nil {
			return nil, err
		}
	}
	if p.Kind() != kind {
		return nil, domain.NewValidationError("params", "parameters for %s given to %s", p.Kind(), kind)
	}
	s, err := f(p)
	if err != nil {
		return nil, fmt.Errorf("building %s strategy: %w", kind, err)
	}
	return s, nil
}

// List returns the registered kinds in sorted order.
func (r *Registry) List() []Kind {
	kinds := make([]Kind, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
