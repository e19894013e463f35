package domain

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

func TestTypesExist(t *testing.T) {
	// Verify Bar can be instantiated with zero values.
	bar := Bar{}
	if bar.Symbol != "" {
		t.Error("expected empty Symbol for zero-value Bar")
	}
	if !bar.Timestamp.IsZero() {
		t.Error("expected zero Timestamp for zero-value Bar")
	}
	if bar.Open != 0 || bar.High != 0 || bar.Low != 0 || bar.Close != 0 {
		t.Error("expected zero OHLC values for zero-value Bar")
	}

	// A zero-value Trade is not a closing trade.
	trade := Trade{}
	if trade.IsClosing() {
		t.Error("expected zero-value Trade not to be closing")
	}
	pnl := 12.5
	trade.RealizedPnL = &pnl
	if !trade.IsClosing() {
		t.Error("expected Trade with RealizedPnL to be closing")
	}

	// Verify enum constants are defined correctly.
	if OrderSideBuy != "buy" {
		t.Errorf("OrderSideBuy = %q, want %q", OrderSideBuy, "buy")
	}
	if SignalBuy != "BUY" || SignalSell != "SELL" || SignalHold != "HOLD" {
		t.Error("Signal constants have unexpected values")
	}

	order := OrderRequest{Symbol: "AAPL", Side: OrderSideBuy, Quantity: 10, Price: 150}
	if got := order.NotionalValue(); got != 1500 {
		t.Errorf("NotionalValue() = %v, want %v", got, 1500.0)
	}
	order.Notional = 2000
	if got := order.NotionalValue(); got != 2000 {
		t.Errorf("NotionalValue() with notional = %v, want %v", got, 2000.0)
	}

	pos := Position{Symbol: "AAPL", Qty: 100, CurrentPrice: 10}
	if pos.MarketValue() != 1000 {
		t.Errorf("pos.MarketValue() = %v, want %v", pos.MarketValue(), 1000.0)
	}
}

func TestSignalActionable(t *testing.T) {
	tests := []struct {
		signal Signal
		pos    PositionState
		want   bool
	}{
		{SignalBuy, PositionFlat, true},
		{SignalBuy, PositionLong, false},
		{SignalSell, PositionLong, true},
		{SignalSell, PositionFlat, false},
		{SignalHold, PositionFlat, false},
		{SignalHold, PositionLong, false},
	}
	for _, tt := range tests {
		if got := tt.signal.Actionable(tt.pos); got != tt.want {
			t.Errorf("%s.Actionable(%s) = %v, want %v", tt.signal, tt.pos, got, tt.want)
		}
	}
	if got := SignalBuy.Gate(PositionLong); got != SignalHold {
		t.Errorf("SignalBuy.Gate(LONG) = %s, want HOLD", got)
	}
}

func TestValidateSeries(t *testing.T) {
	base := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

	if err := ValidateSeries(nil); err == nil {
		t.Fatal("ValidateSeries(nil) should fail")
	}

	bar := func(day int, price float64) Bar {
		return Bar{Timestamp: base.AddDate(0, 0, day), Open: price, High: price, Low: price, Close: price}
	}

	ok := []Bar{bar(0, 10), bar(1, 11)}
	if err := ValidateSeries(ok); err != nil {
		t.Fatalf("ValidateSeries returned unexpected error: %v", err)
	}

	bad := []Bar{bar(0, 10), bar(0, 10)}
	err := ValidateSeries(bad)
	var de *DataError
	if !errors.As(err, &de) {
		t.Fatalf("ValidateSeries error = %v, want *DataError", err)
	}
	if de.Index != 1 {
		t.Errorf("DataError.Index = %d, want 1", de.Index)
	}
}

func TestValidateSeriesPrices(t *testing.T) {
	base := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		edit func(*Bar)
	}{
		{"nan close", func(b *Bar) { b.Close = math.NaN() }},
		{"inf high", func(b *Bar) { b.High = math.Inf(1) }},
		{"zero open", func(b *Bar) { b.Open = 0 }},
		{"negative low", func(b *Bar) { b.Low = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bars := []Bar{
				{Timestamp: base, Open: 10, High: 10, Low: 10, Close: 10},
				{Timestamp: base.AddDate(0, 0, 1), Open: 10, High: 10, Low: 10, Close: 10},
			}
			tt.edit(&bars[1])
			err := ValidateSeries(bars)
			var de *DataError
			if !errors.As(err, &de) {
				t.Fatalf("ValidateSeries error = %v, want *DataError", err)
			}
			if de.Index != 1 {
				t.Errorf("DataError.Index = %d, want 1", de.Index)
			}
		})
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := fmt.Errorf("loading bars: %w", &ProviderError{Provider: "alpaca", Op: "GetBars", Err: inner})
	if !errors.Is(err, inner) {
		t.Error("ProviderError should unwrap to the provider failure")
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Provider != "alpaca" {
		t.Errorf("errors.As did not find ProviderError in %v", err)
	}
}
