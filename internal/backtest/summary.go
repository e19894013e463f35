package backtest

import "sort"

// BatchSummary aggregates the successful runs of a batch.
type BatchSummary struct {
	Symbols           int     `json:"symbols"`
	Succeeded         int     `json:"succeeded"`
	Failed            int     `json:"failed"`
	TotalTrades       int     `json:"totalTrades"`
	AverageReturnPct  float64 `json:"averageReturnPct"`
	AverageSharpe     float64 `json:"averageSharpe"`
	WorstDrawdownPct  float64 `json:"worstDrawdownPct"`
	BestSymbol        string  `json:"bestSymbol,omitempty"`
	WorstSymbol       string  `json:"worstSymbol,omitempty"`
	CombinedFinal     float64 `json:"combinedFinalValue"`
	CombinedInitial   float64 `json:"combinedInitialCapital"`
	CombinedReturnPct float64 `json:"combinedReturnPct"`
}

// Summarize aggregates results as if each symbol had been given its own
// copy of the initial capital. Failed symbols are counted and skipped.
func Summarize(results []SymbolResult) BatchSummary {
	s := BatchSummary{Symbols: len(results)}
	ok := make([]SymbolResult, 0, len(results))
	for _, r := range results {
		if r.Result == nil {
			s.Failed++
			continue
		}
		ok = append(ok, r)
	}
	s.Succeeded = len(ok)
	if len(ok) == 0 {
		return s
	}

	sort.SliceStable(ok, func(i, j int) bool {
		return ok[i].Result.Metrics.TotalReturnPct > ok[j].Result.Metrics.TotalReturnPct
	})
	s.BestSymbol = ok[0].Symbol
	s.WorstSymbol = ok[len(ok)-1].Symbol

	for _, r := range ok {
		m := r.Result.Metrics
		s.TotalTrades += m.TotalTrades
		s.AverageReturnPct += m.TotalReturnPct
		s.AverageSharpe += m.SharpeRatio
		if m.MaxDrawdownPct < s.WorstDrawdownPct {
			s.WorstDrawdownPct = m.MaxDrawdownPct
		}
		s.CombinedInitial += r.Result.InitialCapital
		s.CombinedFinal += r.Result.FinalValue
	}
	n := float64(len(ok))
	s.AverageReturnPct /= n
	s.AverageSharpe /= n
	if s.CombinedInitial > 0 {
		s.CombinedReturnPct = (s.CombinedFinal - s.CombinedInitial) / s.CombinedInitial * 100
	}
	return s
}
