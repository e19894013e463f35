package strategy

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"tradeforge/internal/domain"
)

// stubStrategy is a minimal Strategy implementation used in registry tests.
type stubStrategy struct {
	kind Kind
}

func (s *stubStrategy) Kind() Kind { return s.kind }
func (s *stubStrategy) Prepare(bars []domain.Bar) (Plan, error) {
	return Rules{
		N:     len(bars),
		Entry: func(int) (bool, bool) { return true, true },
		Exit:  func(int) (bool, bool) { return false, true },
	}, nil
}

func stubFactory(kind Kind) Factory {
	return func(Params) (Strategy, error) { return &stubStrategy{kind: kind}, nil }
}

func closesToBars(closes ...float64) []domain.Bar {
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{Symbol: "TEST", Timestamp: start.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 100}
	}
	return bars
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(KindMomentum, stubFactory(KindMomentum))

	f, ok := r.Get(KindMomentum)
	if !ok {
		t.Fatal("Get returned false for registered kind")
	}
	s, err := f(nil)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if s.Kind() != KindMomentum {
		t.Errorf("Kind() = %q, want %q", s.Kind(), KindMomentum)
	}
}

func TestRegistryGet_NotFound(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get(KindBreakout)
	if ok {
		t.Error("Get returned true for unregistered kind")
	}
	if _, err := r.New(KindBreakout, nil); err == nil {
		t.Error("New succeeded for unregistered kind")
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register(KindMomentum, stubFactory(KindMomentum))
	r.Register(KindBollinger, stubFactory(KindBollinger))

	kinds := r.List()
	if len(kinds) != 2 {
		t.Fatalf("List returned %d kinds, want 2", len(kinds))
	}
	// List returns sorted kinds.
	if kinds[0] != KindBollinger || kinds[1] != KindMomentum {
		t.Errorf("List returned %v, want [bollinger momentum]", kinds)
	}
}

func TestRegistryNewRejectsMismatchedParams(t *testing.T) {
	r := NewRegistry()
	r.Register(KindMomentum, Typed(func(p MomentumParams) (Strategy, error) {
		return &stubStrategy{kind: KindMomentum}, nil
	}))

	if _, err := r.New(KindMomentum, BollingerParams{Period: 20, Multiplier: 2, ExitAt: ExitAtMiddle}); err == nil {
		t.Error("New accepted parameters of another kind")
	}
	_, err := r.New(KindMomentum, MomentumParams{RSIPeriod: 1, Oversold: 30, Overbought: 70})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("New error = %v, want ValidationError", err)
	}
	if ve.Field != "params.rsiPeriod" {
		t.Errorf("Field = %q, want %q", ve.Field, "params.rsiPeriod")
	}
	if _, err := r.New(KindMomentum, nil); err != nil {
		t.Errorf("New with default params: %v", err)
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("MEANREVERSION")
	if err != nil || k != KindMeanReversion {
		t.Errorf("ParseKind = %q, %v; want %q", k, err, KindMeanReversion)
	}
	if _, err := ParseKind("martingale"); err == nil {
		t.Error("ParseKind accepted an unknown kind")
	}
	if got := len(Kinds()); got != 7 {
		t.Errorf("len(Kinds()) = %d, want 7", got)
	}
}

func TestDecodeParams(t *testing.T) {
	p, err := DecodeParams(KindMACrossover, []byte(`{"fastPeriod":5,"maType":"ema"}`))
	if err != nil {
		t.Fatalf("DecodeParams: %v", err)
	}
	mc := p.(MACrossoverParams)
	if mc.FastPeriod != 5 || mc.SlowPeriod != 30 || mc.MAType != MATypeEMA {
		t.Errorf("decoded %+v, want fast 5 slow 30 ema", mc)
	}

	if _, err := DecodeParams(KindMACrossover, []byte(`{"fastPeriod":40}`)); err == nil {
		t.Error("DecodeParams accepted fast >= slow")
	}
	if _, err := DecodeParams(KindMomentum, []byte(`{"rsiPeriodd":14}`)); err == nil {
		t.Error("DecodeParams accepted an unknown field")
	}
	if _, err := DecodeParams(KindBollinger, nil); err != nil {
		t.Errorf("DecodeParams with empty data: %v", err)
	}
}

func TestConditionsAcceptSingleNodeOrList(t *testing.T) {
	var single, list Conditions
	if err := json.Unmarshal([]byte(`{"type":"indicator","indicator":{"type":"rsi","condition":"oversold"}}`), &single); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(`[{"type":"indicator","indicator":{"type":"rsi","condition":"oversold"}},
		{"type":"indicator","indicator":{"type":"price","condition":"below","value":10}}]`), &list); err != nil {
		t.Fatal(err)
	}
	if len(single) != 1 || len(list) != 2 {
		t.Errorf("len(single) = %d, len(list) = %d; want 1, 2", len(single), len(list))
	}
}

func TestComputeSignalGatesOnPosition(t *testing.T) {
	s := &stubStrategy{kind: KindCustom}
	bars := closesToBars(1, 2, 3)

	sig, err := ComputeSignal(s, bars, domain.PositionFlat)
	if err != nil {
		t.Fatal(err)
	}
	if sig != domain.SignalBuy {
		t.Errorf("flat signal = %s, want BUY", sig)
	}
	sig, _ = ComputeSignal(s, bars, domain.PositionLong)
	if sig != domain.SignalHold {
		t.Errorf("long signal = %s, want HOLD", sig)
	}
	if _, err := ComputeSignal(s, nil, domain.PositionFlat); err == nil {
		t.Error("ComputeSignal accepted an empty series")
	}
}

// ---------------------------------------------------------------------------
// Custom strategies
// ---------------------------------------------------------------------------

func mustConditions(t *testing.T, js string) Conditions {
	t.Helper()
	var c Conditions
	if err := json.Unmarshal([]byte(js), &c); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestExecuteStrategy(t *testing.T) {
	buy := mustConditions(t, `{"type":"indicator","indicator":{"type":"price","condition":"crossesAbove","compareTo":{"type":"sma","params":{"period":3}}}}`)
	sell := mustConditions(t, `{"type":"indicator","indicator":{"type":"price","condition":"below","compareTo":{"type":"sma","params":{"period":3}}}}`)

	// sma(3) at the last bar is 4; price 6 crosses above it from 3 <= 3.
	bars := closesToBars(3, 3, 3, 3, 6)
	sig, err := ExecuteStrategy(buy, sell, bars, domain.PositionFlat)
	if err != nil {
		t.Fatal(err)
	}
	if sig != domain.SignalBuy {
		t.Errorf("signal = %s, want BUY", sig)
	}

	// Falling price while long triggers the sell side.
	bars = closesToBars(5, 5, 5, 5, 2)
	sig, err = ExecuteStrategy(buy, sell, bars, domain.PositionLong)
	if err != nil {
		t.Fatal(err)
	}
	if sig != domain.SignalSell {
		t.Errorf("signal = %s, want SELL", sig)
	}

	// A sell condition is not actionable while flat.
	sig, _ = ExecuteStrategy(buy, sell, bars, domain.PositionFlat)
	if sig != domain.SignalHold {
		t.Errorf("signal = %s, want HOLD", sig)
	}
}

func TestExecuteStrategyRejectsInvalidTree(t *testing.T) {
	buy := mustConditions(t, `{"type":"and","children":[{"type":"indicator","indicator":{"type":"rsi","condition":"oversold"}}]}`)
	sell := mustConditions(t, `{"type":"indicator","indicator":{"type":"rsi","condition":"overbought"}}`)
	_, err := ExecuteStrategy(buy, sell, closesToBars(1, 2, 3), domain.PositionFlat)
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if ve.Field != "buyConditions[0].children" {
		t.Errorf("Field = %q, want %q", ve.Field, "buyConditions[0].children")
	}
}

// ---------------------------------------------------------------------------
// ValidateStrategy
// ---------------------------------------------------------------------------

func TestValidateStrategyIdenticalTrees(t *testing.T) {
	tree := `{"type":"indicator","indicator":{"type":"rsi","params":{"period":14},"condition":"below","value":30}}`
	report := ValidateStrategy(mustConditions(t, tree), mustConditions(t, tree))
	if report.Valid {
		t.Fatal("identical buy and sell trees validated")
	}
	found := false
	for _, e := range report.Errors {
		if strings.Contains(e, "would never generate signals") {
			found = true
		}
	}
	if !found {
		t.Errorf("Errors = %v, want a 'would never generate signals' entry", report.Errors)
	}
}

func TestValidateStrategyEmptyAndRanges(t *testing.T) {
	report := ValidateStrategy(nil, nil)
	if report.Valid || len(report.Errors) != 2 {
		t.Errorf("empty sets: Valid = %v, Errors = %v; want invalid with 2 errors", report.Valid, report.Errors)
	}

	buy := mustConditions(t, `{"type":"indicator","indicator":{"type":"rsi","params":{"period":101},"condition":"oversold"}}`)
	sell := mustConditions(t, `{"type":"indicator","indicator":{"type":"macd","params":{"fastPeriod":30,"slowPeriod":20},"condition":"crossesBelow"}}`)
	report = ValidateStrategy(buy, sell)
	if report.Valid || len(report.Errors) != 2 {
		t.Fatalf("out-of-range params: Valid = %v, Errors = %v", report.Valid, report.Errors)
	}
	if !strings.HasPrefix(report.Errors[0], "buyConditions[0].indicator.params.period") {
		t.Errorf("Errors[0] = %q, want a buyConditions[0].indicator.params.period error", report.Errors[0])
	}
}

func TestValidateStrategyWarnings(t *testing.T) {
	buy := mustConditions(t, `{"type":"indicator","indicator":{"type":"rsi","condition":"overbought"}}`)
	sell := mustConditions(t, `{"type":"indicator","indicator":{"type":"rsi","condition":"oversold"}}`)
	report := ValidateStrategy(buy, sell)
	if !report.Valid {
		t.Fatalf("Errors = %v", report.Errors)
	}
	want := []string{"buy condition triggers on overbought", "sell condition triggers on oversold", "single indicator"}
	for _, w := range want {
		found := false
		for _, got := range report.Warnings {
			if strings.Contains(got, w) {
				found = true
			}
		}
		if !found {
			t.Errorf("Warnings = %v, missing %q", report.Warnings, w)
		}
	}

	sell = mustConditions(t, `{"type":"indicator","indicator":{"type":"rsi","condition":"above","value":100}}`)
	buy = mustConditions(t, `{"type":"indicator","indicator":{"type":"sma","condition":"above","value":10}}`)
	report = ValidateStrategy(buy, sell)
	found := false
	for _, got := range report.Warnings {
		if strings.Contains(got, "never be satisfied") {
			found = true
		}
	}
	if !found {
		t.Errorf("Warnings = %v, want an unreachable sell warning", report.Warnings)
	}
}
