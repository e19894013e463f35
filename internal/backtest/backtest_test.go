package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeforge/internal/analytics"
	"tradeforge/internal/domain"
	"tradeforge/internal/marketdata"
	"tradeforge/internal/risk"
	"tradeforge/internal/strategy"
	"tradeforge/internal/strategy/builtins"
)

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// flatBars builds daily bars whose open and close equal the given closes
// with a one-point range.
func flatBars(closes ...float64) []domain.Bar {
	out := make([]domain.Bar, len(closes))
	for i, c := range closes {
		out[i] = domain.Bar{
			Symbol:    "TEST",
			Timestamp: day0.AddDate(0, 0, i),
			Open:      c, High: c + 0.5, Low: c - 0.5, Close: c,
			Volume: 1000,
		}
	}
	return out
}

// scripted buys on the entry bars and sells on the exit bars.
type scripted struct {
	entries, exits map[int]bool
}

func script(entries, exits []int) *scripted {
	s := &scripted{entries: map[int]bool{}, exits: map[int]bool{}}
	for _, i := range entries {
		s.entries[i] = true
	}
	for _, i := range exits {
		s.exits[i] = true
	}
	return s
}

func (s *scripted) Kind() strategy.Kind { return strategy.KindCustom }

func (s *scripted) Prepare(bars []domain.Bar) (strategy.Plan, error) {
	return strategy.Rules{
		N:     len(bars),
		Entry: func(i int) (bool, bool) { return s.entries[i], true },
		Exit:  func(i int) (bool, bool) { return s.exits[i], true },
	}, nil
}

func fixedQty(qty float64) *risk.Settings {
	s := risk.DefaultSettings()
	s.PositionSizingMethod = risk.SizingFixedQuantity
	s.PositionSizeValue = qty
	s.MaxPositionSizePercent = 0
	return &s
}

func config(settings *risk.Settings, capital float64) Config {
	return Config{Kind: strategy.KindCustom, Symbol: "TEST", InitialCapital: capital, Settings: settings}
}

func TestSimulateRoundTrip(t *testing.T) {
	bars := flatBars(10, 11, 12, 13, 14)
	res, err := Simulate(config(fixedQty(10), 1000), script([]int{1}, []int{3}), bars)
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	buy, sell := res.Trades[0], res.Trades[1]
	assert.Equal(t, domain.OrderSideBuy, buy.Action)
	assert.Equal(t, 10.0, buy.Quantity)
	assert.Equal(t, 11.0, buy.Price)
	assert.Nil(t, buy.RealizedPnL)
	assert.Equal(t, domain.OrderSideSell, sell.Action)
	assert.Equal(t, 13.0, sell.Price)
	require.NotNil(t, sell.RealizedPnL)
	assert.InDelta(t, 20.0, *sell.RealizedPnL, 1e-9)
	assert.Equal(t, ReasonSignal, sell.Reason)

	assert.InDelta(t, 1020.0, res.FinalValue, 1e-9)
	assert.Equal(t, 1, res.Metrics.ClosedTrades)
	assert.Equal(t, 1.0, res.Metrics.WinRate)
	assert.Nil(t, res.OpenPosition)
	assert.Empty(t, res.Rejections)
}

func TestSimulateEquityInvariant(t *testing.T) {
	bars := flatBars(10, 11, 12, 13, 14, 15)
	res, err := Simulate(config(fixedQty(10), 1000), script([]int{1}, nil), bars)
	require.NoError(t, err)

	require.Len(t, res.EquityCurve, len(bars))
	for i, pt := range res.EquityCurve {
		assert.Equal(t, bars[i].Timestamp, pt.Timestamp)
		assert.Equal(t, pt.Cash+pt.PositionsValue, pt.Equity, "bar %d", i)
		if i >= 1 {
			assert.Equal(t, 10*bars[i].Close, pt.PositionsValue, "bar %d", i)
		}
	}
	assert.Equal(t, 1000.0, res.EquityCurve[0].Equity)
	require.NotNil(t, res.OpenPosition)
	assert.Equal(t, 10.0, res.OpenPosition.Qty)
	assert.InDelta(t, 1040.0, res.FinalValue, 1e-9)
}

func TestSimulatePositionSizeRejection(t *testing.T) {
	s := fixedQty(50)
	s.MaxPositionSizePercent = 25
	bars := flatBars(10, 10, 10)

	res, err := Simulate(config(s, 1000), script([]int{0, 1, 2}, nil), bars)
	require.NoError(t, err)

	assert.Empty(t, res.Trades)
	require.Len(t, res.Rejections, 3)
	assert.Contains(t, res.Rejections[0].Reason, "position size")
	assert.Equal(t, 50.0, res.Rejections[0].Quantity)
	for _, pt := range res.EquityCurve {
		assert.Equal(t, 1000.0, pt.Equity)
		assert.Equal(t, 1000.0, pt.Cash)
	}
}

func TestSimulateTradingWindowRejection(t *testing.T) {
	s := fixedQty(1)
	s.TradingDays = []string{"mon", "tue", "wed", "thu", "fri"}
	// day0 is a Tuesday; index 4 is Saturday.
	bars := flatBars(10, 10, 10, 10, 10)

	res, err := Simulate(config(s, 1000), script([]int{4}, nil), bars)
	require.NoError(t, err)

	assert.Empty(t, res.Trades)
	require.Len(t, res.Rejections, 1)
	assert.Contains(t, res.Rejections[0].Reason, "outside trading window")
}

func TestSimulateDailyBarsIgnoreTradingHours(t *testing.T) {
	s := fixedQty(1)
	s.TradingHoursStart, s.TradingHoursEnd = "09:30", "16:00"
	s.TradingDays = []string{"mon", "tue", "wed", "thu", "fri"}
	// Daily bars are stamped at midnight, before the session opens.
	bars := flatBars(10, 10, 10, 10)

	res, err := Simulate(config(s, 1000), script([]int{0, 1, 2, 3}, nil), bars)
	require.NoError(t, err)

	assert.Empty(t, res.Rejections)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, domain.OrderSideBuy, res.Trades[0].Action)
}

func TestSimulateShrinksToCash(t *testing.T) {
	res, err := Simulate(config(fixedQty(1000), 1000), script([]int{0}, nil), flatBars(10, 10))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, 100.0, res.Trades[0].Quantity)

	res, err = Simulate(config(fixedQty(1), 1000), script([]int{0}, nil), flatBars(2000, 2000))
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	require.Len(t, res.Rejections, 1)
	assert.Contains(t, res.Rejections[0].Reason, "insufficient cash")
}

func TestSimulateCosts(t *testing.T) {
	s := fixedQty(10)
	s.SlippageModel = risk.SlippagePercentage
	s.SlippageValue = 1
	s.CommissionRate = 0.001

	res, err := Simulate(config(s, 10000), script([]int{0}, []int{1}), flatBars(100, 100))
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)

	buy, sell := res.Trades[0], res.Trades[1]
	assert.Equal(t, 101.0, buy.Price)
	assert.InDelta(t, 1.01, buy.Commission, 1e-9)
	assert.Equal(t, 99.0, sell.Price)
	assert.InDelta(t, 0.99, sell.Commission, 1e-9)
	assert.InDelta(t, -22.0, *sell.RealizedPnL, 1e-9)
	assert.InDelta(t, 9978.0, res.FinalValue, 1e-9)
}

func TestSimulateProtectiveExits(t *testing.T) {
	entry := domain.Bar{Symbol: "TEST", Timestamp: day0, Open: 100, High: 101, Low: 99, Close: 100}
	next := func(o, h, l, c float64, days int) domain.Bar {
		return domain.Bar{Symbol: "TEST", Timestamp: day0.AddDate(0, 0, days), Open: o, High: h, Low: l, Close: c}
	}

	tests := []struct {
		name      string
		configure func(*risk.Settings)
		bars      []domain.Bar
		price     float64
		reason    string
	}{
		{
			name:      "stop loss inside range",
			configure: func(s *risk.Settings) { s.StopLossPercent = 5 },
			bars:      []domain.Bar{entry, next(99, 100, 94, 96, 1)},
			price:     95,
			reason:    ReasonStopLoss,
		},
		{
			name:      "stop loss gap fills at open",
			configure: func(s *risk.Settings) { s.StopLossPercent = 5 },
			bars:      []domain.Bar{entry, next(90, 92, 89, 91, 1)},
			price:     90,
			reason:    ReasonStopLoss,
		},
		{
			name:      "take profit",
			configure: func(s *risk.Settings) { s.TakeProfitPercent = 10 },
			bars:      []domain.Bar{entry, next(101, 111, 100, 105, 1)},
			price:     110,
			reason:    ReasonTakeProfit,
		},
		{
			name: "stop wins when both touched",
			configure: func(s *risk.Settings) {
				s.StopLossPercent = 5
				s.TakeProfitPercent = 10
			},
			bars:   []domain.Bar{entry, next(100, 111, 94, 100, 1)},
			price:  95,
			reason: ReasonStopLoss,
		},
		{
			name: "trailing stop follows the high",
			configure: func(s *risk.Settings) {
				s.UseTrailingStop = true
				s.TrailingStopPercent = 5
			},
			bars:   []domain.Bar{entry, next(100, 120, 100, 118, 1), next(117, 118, 113, 114, 2)},
			price:  114,
			reason: ReasonTrailingStop,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := fixedQty(10)
			tt.configure(s)
			res, err := Simulate(config(s, 10000), script([]int{0}, nil), tt.bars)
			require.NoError(t, err)
			require.Len(t, res.Trades, 2)

			exit := res.Trades[1]
			assert.Equal(t, domain.OrderSideSell, exit.Action)
			assert.InDelta(t, tt.price, exit.Price, 1e-9)
			assert.Equal(t, tt.reason, exit.Reason)
			assert.Equal(t, tt.bars[len(tt.bars)-1].Timestamp, exit.Timestamp)
			assert.Nil(t, res.OpenPosition)
		})
	}
}

func TestSimulateTrailingStopStartsAtEntryFill(t *testing.T) {
	s := fixedQty(1)
	s.UseTrailingStop = true
	s.TrailingStopPercent = 10
	bars := []domain.Bar{
		{Symbol: "TEST", Timestamp: day0, Open: 100, High: 120, Low: 99, Close: 100},
		{Symbol: "TEST", Timestamp: day0.AddDate(0, 0, 1), Open: 106, High: 107, Low: 105, Close: 106},
	}

	res, err := Simulate(config(s, 10000), script([]int{0}, nil), bars)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, domain.OrderSideBuy, res.Trades[0].Action)
	require.NotNil(t, res.OpenPosition)
	assert.InDelta(t, 107, res.OpenPosition.HighWater, 1e-9)
}

func TestSimulateDeterministic(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + 10*float64(i%12) - 5*float64(i%7)
	}
	bars := flatBars(closes...)
	reg := builtins.NewRegistry()
	strat, err := reg.New(strategy.KindMACrossover, strategy.MACrossoverParams{FastPeriod: 3, SlowPeriod: 5, MAType: strategy.MATypeEMA})
	require.NoError(t, err)

	cfg := Config{Kind: strategy.KindMACrossover, Symbol: "TEST", InitialCapital: 10000, Params: json.RawMessage(`{"fastPeriod":3,"slowPeriod":5,"maType":"ema"}`)}
	a, err := Simulate(cfg, strat, bars)
	require.NoError(t, err)
	b, err := Simulate(cfg, strat, bars)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEmpty(t, a.Trades)
	seen := map[string]bool{}
	for _, tr := range a.Trades {
		assert.NotEmpty(t, tr.ID)
		assert.False(t, seen[tr.ID], "duplicate trade id %s", tr.ID)
		seen[tr.ID] = true
	}

	cfg.InitialCapital = 20000
	c, err := Simulate(cfg, strat, bars)
	require.NoError(t, err)
	assert.NotEqual(t, a.RunID, c.RunID)
}

func TestSimulateRejectsBadInput(t *testing.T) {
	_, err := Simulate(config(nil, 0), script(nil, nil), flatBars(10))
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)

	bars := flatBars(10, 11)
	bars[1].Timestamp = bars[0].Timestamp
	_, err = Simulate(config(nil, 1000), script(nil, nil), bars)
	var derr *domain.DataError
	assert.ErrorAs(t, err, &derr)
}

// ---------------------------------------------------------------------------
// Backtester
// ---------------------------------------------------------------------------

func zigzag(n int) []domain.Bar {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 50 + float64(i%10)*2
	}
	return flatBars(closes...)
}

func staticProvider(bars map[string][]domain.Bar) marketdata.Provider {
	return marketdata.ProviderFunc(func(_ context.Context, symbol string, _, _ time.Time) ([]domain.Bar, error) {
		b, ok := bars[symbol]
		if !ok {
			return nil, &domain.ProviderError{Provider: "static", Op: "bars", Err: fmt.Errorf("unknown symbol %s", symbol)}
		}
		return b, nil
	})
}

func TestBacktesterRun(t *testing.T) {
	bt := NewBacktester(staticProvider(map[string][]domain.Bar{"TEST": zigzag(40)}), builtins.NewRegistry())

	res, err := bt.Run(context.Background(), Config{
		Kind:           "MACROSSOVER",
		Params:         json.RawMessage(`{"fastPeriod":2,"slowPeriod":4}`),
		Symbol:         "TEST",
		InitialCapital: 10000,
	})
	require.NoError(t, err)
	assert.Equal(t, strategy.KindMACrossover, res.Kind)
	assert.Len(t, res.EquityCurve, 40)
	assert.NotEmpty(t, res.Trades)
}

func TestBacktesterRunErrors(t *testing.T) {
	bt := NewBacktester(staticProvider(map[string][]domain.Bar{"EMPTY": {}}), builtins.NewRegistry())
	ctx := context.Background()

	_, err := bt.Run(ctx, Config{Kind: strategy.KindMomentum, Params: json.RawMessage(`{"rsiPeriod":1}`), Symbol: "EMPTY", InitialCapital: 1000})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "params.rsiPeriod", verr.Field)

	_, err = bt.Run(ctx, Config{Kind: strategy.KindMomentum, Symbol: "EMPTY", InitialCapital: 1000})
	var derr *domain.DataError
	assert.ErrorAs(t, err, &derr)

	_, err = bt.Run(ctx, Config{Kind: strategy.KindMomentum, Symbol: "NOPE", InitialCapital: 1000})
	var perr *domain.ProviderError
	assert.ErrorAs(t, err, &perr)
}

type recordingSentiment struct {
	calls int
}

func (r *recordingSentiment) Scores(_ context.Context, _ string, start, _ time.Time) ([]strategy.SentimentScore, error) {
	r.calls++
	return []strategy.SentimentScore{{Timestamp: start, Score: 0.9}}, nil
}

func TestBacktesterLoadsSentiment(t *testing.T) {
	src := &recordingSentiment{}
	bt := NewBacktester(staticProvider(map[string][]domain.Bar{"TEST": zigzag(30)}), builtins.NewRegistry(), WithSentiment(src))

	_, err := bt.Run(context.Background(), Config{
		Kind:           strategy.KindSentiment,
		Params:         json.RawMessage(`{"trendPeriod":3}`),
		Symbol:         "TEST",
		InitialCapital: 10000,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
}

func TestRunBatchIsolatesFailures(t *testing.T) {
	bt := NewBacktester(staticProvider(map[string][]domain.Bar{
		"AAA": zigzag(40),
		"CCC": zigzag(40),
	}), builtins.NewRegistry(), WithMaxParallel(2))

	cfg := Config{Kind: strategy.KindMACrossover, Params: json.RawMessage(`{"fastPeriod":2,"slowPeriod":4}`), InitialCapital: 10000}
	results, err := bt.RunBatch(context.Background(), cfg, []string{"AAA", "BAD", "CCC"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "AAA", results[0].Symbol)
	assert.NotNil(t, results[0].Result)
	assert.Empty(t, results[0].Error)

	assert.Equal(t, "BAD", results[1].Symbol)
	assert.Nil(t, results[1].Result)
	assert.Contains(t, results[1].Error, "unknown symbol BAD")

	assert.NotNil(t, results[2].Result)
	assert.Equal(t, results[0].Result.Metrics, results[2].Result.Metrics)

	_, err = bt.RunBatch(context.Background(), cfg, nil)
	assert.True(t, errors.As(err, new(*domain.ValidationError)))
}

func TestConfigDates(t *testing.T) {
	var cfg Config
	require.NoError(t, json.Unmarshal([]byte(`{"strategy":"momentum","symbol":"AAPL","start":"2023-01-01","end":"2023-06-30T00:00:00Z","initialCapital":5000}`), &cfg))
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), cfg.Start.Time)
	assert.NoError(t, cfg.Validate())

	out, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"start":"2023-01-01"`)

	cfg.End = cfg.Start
	assert.Error(t, cfg.Validate())

	assert.Error(t, json.Unmarshal([]byte(`{"start":"01/02/2023"}`), &cfg))
}

func TestSummarize(t *testing.T) {
	mk := func(ret, sharpe, dd float64, trades int, final float64) *Result {
		return &Result{
			InitialCapital: 1000,
			FinalValue:     final,
			Metrics:        analytics.Metrics{TotalReturnPct: ret, SharpeRatio: sharpe, MaxDrawdownPct: dd, TotalTrades: trades},
		}
	}
	s := Summarize([]SymbolResult{
		{Symbol: "AAA", Result: mk(10, 1, -5, 4, 1100)},
		{Symbol: "BBB", Error: "boom"},
		{Symbol: "CCC", Result: mk(-20, -0.5, -30, 2, 800)},
	})

	assert.Equal(t, 3, s.Symbols)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 6, s.TotalTrades)
	assert.InDelta(t, -5, s.AverageReturnPct, 1e-9)
	assert.InDelta(t, 0.25, s.AverageSharpe, 1e-9)
	assert.Equal(t, -30.0, s.WorstDrawdownPct)
	assert.Equal(t, "AAA", s.BestSymbol)
	assert.Equal(t, "CCC", s.WorstSymbol)
	assert.InDelta(t, -5, s.CombinedReturnPct, 1e-9)

	empty := Summarize([]SymbolResult{{Symbol: "X", Error: "no data"}})
	assert.Equal(t, 1, empty.Failed)
	assert.Zero(t, empty.AverageReturnPct)
}

func TestConfigWindow(t *testing.T) {
	now := time.Date(2024, 6, 30, 15, 0, 0, 0, time.UTC)

	from, to := Config{}.window(now)
	assert.Equal(t, now, to)
	assert.Equal(t, now.Add(-DefaultLookback), from)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	from, to = Config{Start: Date{start}}.window(now)
	assert.Equal(t, start, from)
	assert.Equal(t, now, to)
}
