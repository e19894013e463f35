package analytics

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tradeforge/internal/domain"
)

func curveOf(equities ...float64) []EquityPoint {
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	out := make([]EquityPoint, len(equities))
	for i, e := range equities {
		out[i] = EquityPoint{Timestamp: start.AddDate(0, 0, i), Cash: e, Equity: e}
	}
	return out
}

func closing(pnl float64) domain.Trade {
	return domain.Trade{Action: domain.OrderSideSell, Quantity: 1, RealizedPnL: &pnl}
}

func TestComputeEmpty(t *testing.T) {
	m := Compute(10000, nil, nil, 0)
	assert.Equal(t, 10000.0, m.FinalValue)
	assert.Zero(t, m.WinRate)
	assert.False(t, math.IsNaN(m.WinRate))
	assert.Zero(t, m.MaxDrawdownPct)
	assert.Zero(t, m.SharpeRatio)
	assert.Zero(t, m.ProfitFactor)
}

func TestComputeReturnsAndDrawdown(t *testing.T) {
	curve := curveOf(10000, 11000, 8800, 9900, 12000)
	m := Compute(10000, nil, curve, 252)

	assert.Equal(t, 2000.0, m.TotalReturn)
	assert.InDelta(t, 20.0, m.TotalReturnPct, 1e-9)
	assert.InDelta(t, -20.0, m.MaxDrawdownPct, 1e-9)
	assert.NotZero(t, m.SharpeRatio)
	assert.NotZero(t, m.SortinoRatio)
}

func TestTradeStats(t *testing.T) {
	opening := domain.Trade{Action: domain.OrderSideBuy, Quantity: 1}
	trades := []domain.Trade{opening, closing(300), opening, closing(-100), opening, closing(100)}
	m := Compute(10000, trades, curveOf(10000, 10300), 0)

	assert.Equal(t, 6, m.TotalTrades)
	assert.Equal(t, 3, m.ClosedTrades)
	assert.InDelta(t, 2.0/3.0, m.WinRate, 1e-12)
	assert.InDelta(t, 4.0, m.ProfitFactor, 1e-12)
	assert.Equal(t, 200.0, m.AverageWin)
	assert.Equal(t, -100.0, m.AverageLoss)
	assert.Equal(t, 300.0, m.LargestWin)
	assert.Equal(t, -100.0, m.LargestLoss)

	onlyWins := Compute(10000, []domain.Trade{closing(50)}, nil, 0)
	assert.Equal(t, float64(ProfitFactorCap), onlyWins.ProfitFactor)
	assert.Equal(t, 1.0, onlyWins.WinRate)
}

func TestSharpeKnownValue(t *testing.T) {
	returns := []float64{0.01, -0.01, 0.02, 0.0}
	// mean 0.005, sample standard deviation over n-1.
	mu := 0.005
	var ss float64
	for _, r := range returns {
		ss += (r - mu) * (r - mu)
	}
	want := mu / math.Sqrt(ss/3) * math.Sqrt(252)
	assert.InDelta(t, want, Sharpe(returns, 252), 1e-12)

	down := math.Sqrt(0.0001 / 4)
	assert.InDelta(t, mu/down*math.Sqrt(252), Sortino(returns, 252), 1e-12)
}

func TestMetricsBoundedForRandomCurves(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		equities := make([]float64, 100)
		e := 10000.0
		for i := range equities {
			e *= 1 + (rng.Float64()-0.5)*0.1
			equities[i] = e
		}
		var trades []domain.Trade
		for i := 0; i < rng.Intn(10); i++ {
			trades = append(trades, closing((rng.Float64()-0.5)*1000))
		}
		m := Compute(10000, trades, curveOf(equities...), 252)
		assert.LessOrEqual(t, m.MaxDrawdownPct, 0.0)
		assert.GreaterOrEqual(t, m.MaxDrawdownPct, -100.0)
		assert.GreaterOrEqual(t, m.WinRate, 0.0)
		assert.LessOrEqual(t, m.WinRate, 1.0)
		for _, v := range []float64{m.SharpeRatio, m.SortinoRatio, m.ProfitFactor, m.Volatility} {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		}
	}
}
