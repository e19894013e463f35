package condition

import (
	"fmt"
	"math"
	"strings"

	"tradeforge/internal/domain"
	"tradeforge/internal/indicator"
)

// IndicatorKind names an indicator a leaf can reference.
type IndicatorKind string

const (
	KindSMA       IndicatorKind = "sma"
	KindEMA       IndicatorKind = "ema"
	KindRSI       IndicatorKind = "rsi"
	KindMACD      IndicatorKind = "macd"
	KindBollinger IndicatorKind = "bollinger"
	KindVWAP      IndicatorKind = "vwap"
	KindPrice     IndicatorKind = "price"
	KindVolume    IndicatorKind = "volume"
)

var knownKinds = map[IndicatorKind]bool{
	KindSMA: true, KindEMA: true, KindRSI: true, KindMACD: true,
	KindBollinger: true, KindVWAP: true, KindPrice: true, KindVolume: true,
}

// Parameter ranges accepted by leaf indicators.
const (
	MinRSIPeriod     = 2
	MaxRSIPeriod     = 100
	MinMultiplier    = 0.1
	MaxMultiplier    = 5.0
	defaultRSIPeriod = 14
	defaultMAPeriod  = 20
)

// Spec is a fully resolved indicator reference with typed parameters.
type Spec struct {
	Kind         IndicatorKind
	Period       int
	FastPeriod   int
	SlowPeriod   int
	SignalPeriod int
	Multiplier   float64
	Field        string
	Reset        indicator.VWAPReset
}

// Key identifies the series a spec produces; equal keys share a series.
func (s Spec) Key() string {
	switch s.Kind {
	case KindSMA, KindEMA, KindRSI:
		return fmt.Sprintf("%s(%d)", s.Kind, s.Period)
	case KindMACD:
		return fmt.Sprintf("macd(%d,%d,%d).%s", s.FastPeriod, s.SlowPeriod, s.SignalPeriod, s.Field)
	case KindBollinger:
		return fmt.Sprintf("bollinger(%d,%g).%s", s.Period, s.Multiplier, s.Field)
	case KindVWAP:
		return fmt.Sprintf("vwap(%s)", s.Reset)
	default:
		return string(s.Kind)
	}
}

// Lookback is the number of leading bars the spec leaves undefined.
func (s Spec) Lookback() int {
	switch s.Kind {
	case KindSMA, KindEMA, KindBollinger:
		return s.Period - 1
	case KindRSI:
		return s.Period
	case KindMACD:
		if s.Field == "line" {
			return s.SlowPeriod - 1
		}
		return s.SlowPeriod + s.SignalPeriod - 2
	default:
		return 0
	}
}

// parseSpec resolves an indicator type and its parameter bag into a Spec.
func parseSpec(path, kind string, params map[string]any) (Spec, error) {
	if kind == "" {
		return Spec{}, domain.NewValidationError(path+".type", "is required")
	}
	s := Spec{Kind: IndicatorKind(strings.ToLower(kind))}
	if !knownKinds[s.Kind] {
		return Spec{}, domain.NewValidationError(path+".type", "unknown indicator %q", kind)
	}
	p := paramReader{path: path + ".params", params: params}

	switch s.Kind {
	case KindSMA, KindEMA:
		s.Period = p.int("period", defaultMAPeriod)
		if p.err == nil && s.Period < 1 {
			p.fail("period", "must be >= 1, got %d", s.Period)
		}
	case KindRSI:
		s.Period = p.int("period", defaultRSIPeriod)
		if p.err == nil && (s.Period < MinRSIPeriod || s.Period > MaxRSIPeriod) {
			p.fail("period", "must be between %d and %d, got %d", MinRSIPeriod, MaxRSIPeriod, s.Period)
		}
	case KindMACD:
		s.FastPeriod = p.int("fastPeriod", 12)
		s.SlowPeriod = p.int("slowPeriod", 26)
		s.SignalPeriod = p.int("signalPeriod", 9)
		s.Field = p.str("field", "line")
		switch {
		case p.err != nil:
		case s.FastPeriod < 1 || s.SignalPeriod < 1:
			p.fail("fastPeriod", "periods must be >= 1")
		case s.FastPeriod >= s.SlowPeriod:
			p.fail("fastPeriod", "fast period %d must be less than slow period %d", s.FastPeriod, s.SlowPeriod)
		case s.Field != "line" && s.Field != "signal" && s.Field != "histogram":
			p.fail("field", "must be line, signal or histogram, got %q", s.Field)
		}
	case KindBollinger:
		s.Period = p.int("period", defaultMAPeriod)
		s.Multiplier = p.float("multiplier", 2)
		s.Field = p.str("band", "middle")
		switch {
		case p.err != nil:
		case s.Period < 1:
			p.fail("period", "must be >= 1, got %d", s.Period)
		case s.Multiplier < MinMultiplier || s.Multiplier > MaxMultiplier:
			p.fail("multiplier", "must be between %g and %g, got %g", MinMultiplier, MaxMultiplier, s.Multiplier)
		case s.Field != "upper" && s.Field != "middle" && s.Field != "lower":
			p.fail("band", "must be upper, middle or lower, got %q", s.Field)
		}
	case KindVWAP:
		reset, err := indicator.ParseVWAPReset(p.str("reset", ""))
		if err != nil && p.err == nil {
			p.fail("reset", "%v", err)
		}
		s.Reset = reset
	}
	return s, p.err
}

// paramReader pulls typed values out of a JSON parameter bag, recording the
// first error it meets.
type paramReader struct {
	path   string
	params map[string]any
	err    error
}

func (p *paramReader) fail(name, format string, args ...any) {
	if p.err == nil {
		p.err = domain.NewValidationError(p.path+"."+name, format, args...)
	}
}

func (p *paramReader) float(name string, def float64) float64 {
	v, ok := p.params[name]
	if !ok || v == nil {
		return def
	}
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		p.fail(name, "must be a number")
		return def
	}
	return f
}

func (p *paramReader) int(name string, def int) int {
	f := p.float(name, float64(def))
	if f != math.Trunc(f) {
		p.fail(name, "must be an integer, got %v", f)
		return def
	}
	return int(f)
}

func (p *paramReader) str(name, def string) string {
	v, ok := p.params[name]
	if !ok || v == nil {
		return def
	}
	s, ok := v.(string)
	if !ok {
		p.fail(name, "must be a string")
		return def
	}
	return strings.ToLower(s)
}
