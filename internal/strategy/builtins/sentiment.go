package builtins

import (
	"sort"

	"tradeforge/internal/domain"
	"tradeforge/internal/indicator"
	"tradeforge/internal/strategy"
)

var _ strategy.Strategy = (*Sentiment)(nil)

// Sentiment trades news sentiment readings filtered by a price trend.
type Sentiment struct {
	p strategy.SentimentParams
}

func NewSentiment(p strategy.SentimentParams) *Sentiment {
	return &Sentiment{p: p}
}

func (s *Sentiment) Kind() strategy.Kind { return strategy.KindSentiment }

// Prepare aligns each bar with the latest score published at or before the
// bar's timestamp. Bars with no score yet are not ready.
func (s *Sentiment) Prepare(bars []domain.Bar) (strategy.Plan, error) {
	closes := indicator.Closes(bars)
	trend, err := indicator.SMA(closes, s.p.TrendPeriod)
	if err != nil {
		return nil, err
	}

	scores := append([]strategy.SentimentScore(nil), s.p.Scores...)
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Timestamp.Before(scores[j].Timestamp) })

	aligned := make([]float64, len(bars))
	have := make([]bool, len(bars))
	k := -1
	for i, b := range bars {
		for k+1 < len(scores) && !scores[k+1].Timestamp.After(b.Timestamp) {
			k++
		}
		if k >= 0 {
			aligned[i], have[i] = scores[k].Score, true
		}
	}

	return strategy.Rules{
		N: len(bars),
		Entry: func(i int) (bool, bool) {
			t, ok := trend.At(i)
			if !ok || !have[i] {
				return false, false
			}
			return aligned[i] >= s.p.BuyThreshold && closes[i] > t, true
		},
		Exit: func(i int) (bool, bool) {
			t, ok := trend.At(i)
			if !ok || !have[i] {
				return false, false
			}
			return aligned[i] <= s.p.SellThreshold || closes[i] < t, true
		},
	}, nil
}
