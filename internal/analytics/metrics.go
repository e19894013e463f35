// Package analytics derives performance metrics from a finished trade log
// and equity curve.
package analytics

import (
	"math"
	"time"

	"tradeforge/internal/domain"
)

// DefaultAnnualization is the number of daily periods in a trading year.
const DefaultAnnualization = 252

// ProfitFactorCap is reported when there are winning trades and no losing
// ones.
const ProfitFactorCap = 999

// EquityPoint is one mark-to-market snapshot. Equity is always
// Cash + PositionsValue.
type EquityPoint struct {
	Timestamp      time.Time `json:"timestamp"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
	Equity         float64   `json:"equity"`
}

// Metrics summarises a run. Ratios are plain fractions except the
// percentage fields, which are named as such.
type Metrics struct {
	InitialCapital float64 `json:"initial_capital"`
	FinalValue     float64 `json:"final_value"`
	TotalReturn    float64 `json:"total_return"`
	TotalReturnPct float64 `json:"total_return_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	SortinoRatio   float64 `json:"sortino_ratio"`
	Volatility     float64 `json:"volatility"`

	TotalTrades   int     `json:"total_trades"`
	ClosedTrades  int     `json:"closed_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	ProfitFactor  float64 `json:"profit_factor"`
	AverageWin    float64 `json:"average_win"`
	AverageLoss   float64 `json:"average_loss"`
	LargestWin    float64 `json:"largest_win"`
	LargestLoss   float64 `json:"largest_loss"`
	Exposure      float64 `json:"exposure"`
}

// Compute derives Metrics. annualization <= 0 selects
// DefaultAnnualization. The result never contains NaN or Inf.
func Compute(initial float64, trades []domain.Trade, curve []EquityPoint, annualization float64) Metrics {
	if annualization <= 0 {
		annualization = DefaultAnnualization
	}
	m := Metrics{InitialCapital: initial, FinalValue: initial, TotalTrades: len(trades)}
	if len(curve) > 0 {
		m.FinalValue = curve[len(curve)-1].Equity
	}
	m.TotalReturn = m.FinalValue - initial
	if initial > 0 {
		m.TotalReturnPct = m.TotalReturn / initial * 100
	}

	m.MaxDrawdownPct = MaxDrawdown(curve)
	returns := PeriodReturns(curve)
	m.SharpeRatio = Sharpe(returns, annualization)
	m.SortinoRatio = Sortino(returns, annualization)
	if sd, ok := sampleStdDev(returns); ok {
		m.Volatility = sd * math.Sqrt(annualization)
	}

	tradeStats(&m, trades)

	if len(curve) > 0 {
		exposed := 0
		for _, p := range curve {
			if p.PositionsValue != 0 {
				exposed++
			}
		}
		m.Exposure = float64(exposed) / float64(len(curve))
	}
	return m
}

func tradeStats(m *Metrics, trades []domain.Trade) {
	var grossWin, grossLoss float64
	for _, t := range trades {
		if !t.IsClosing() {
			continue
		}
		pnl := *t.RealizedPnL
		m.ClosedTrades++
		switch {
		case pnl > 0:
			m.WinningTrades++
			grossWin += pnl
			m.LargestWin = math.Max(m.LargestWin, pnl)
		case pnl < 0:
			m.LosingTrades++
			grossLoss += pnl
			m.LargestLoss = math.Min(m.LargestLoss, pnl)
		}
	}
	if m.ClosedTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.ClosedTrades)
	}
	if m.WinningTrades > 0 {
		m.AverageWin = grossWin / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = grossLoss / float64(m.LosingTrades)
	}
	switch {
	case grossLoss < 0:
		m.ProfitFactor = math.Min(grossWin/-grossLoss, ProfitFactorCap)
	case grossWin > 0:
		m.ProfitFactor = ProfitFactorCap
	}
}

// MaxDrawdown is the worst peak-to-trough decline of the curve as a
// percentage in [-100, 0].
func MaxDrawdown(curve []EquityPoint) float64 {
	var peak, worst float64
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak <= 0 {
			continue
		}
		dd := (p.Equity - peak) / peak * 100
		if dd < worst {
			worst = dd
		}
	}
	return math.Max(worst, -100)
}

// PeriodReturns are the simple returns between consecutive snapshots.
// Periods starting from non-positive equity are skipped.
func PeriodReturns(curve []EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		out = append(out, curve[i].Equity/prev-1)
	}
	return out
}

// Sharpe is mean / sample stddev of returns, annualized. It is 0 when
// there are fewer than two returns or no variance.
func Sharpe(returns []float64, annualization float64) float64 {
	sd, ok := sampleStdDev(returns)
	if !ok || sd == 0 {
		return 0
	}
	return mean(returns) / sd * math.Sqrt(annualization)
}

// Sortino is mean / downside deviation, annualized. Downside deviation is
// the root mean square of negative returns over all periods. It is 0 when
// no period lost money.
func Sortino(returns []float64, annualization float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sq float64
	for _, r := range returns {
		if r < 0 {
			sq += r * r
		}
	}
	dd := math.Sqrt(sq / float64(len(returns)))
	if dd == 0 {
		return 0
	}
	return mean(returns) / dd * math.Sqrt(annualization)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func sampleStdDev(xs []float64) (float64, bool) {
	if len(xs) < 2 {
		return 0, false
	}
	mu := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - mu
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1)), true
}
