package news

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"tradeforge/internal/domain"
	"tradeforge/internal/strategy"
)

var positiveWords = map[string]bool{
	"beat": true, "beats": true, "bullish": true, "gain": true, "gains": true,
	"growth": true, "outperform": true, "profit": true, "profits": true,
	"rally": true, "record": true, "rise": true, "rises": true, "soar": true,
	"soars": true, "strong": true, "surge": true, "surges": true, "upgrade": true,
	"upgraded": true, "buy": true, "positive": true, "raises": true, "higher": true,
}

var negativeWords = map[string]bool{
	"bearish": true, "cut": true, "cuts": true, "decline": true, "declines": true,
	"downgrade": true, "downgraded": true, "drop": true, "drops": true, "fall": true,
	"falls": true, "fraud": true, "lawsuit": true, "loss": true, "losses": true,
	"miss": true, "misses": true, "plunge": true, "plunges": true, "sell": true,
	"slump": true, "weak": true, "negative": true, "lower": true, "recall": true,
}

var negators = map[string]bool{"not": true, "no": true, "never": true, "without": true}

// Score rates text in [-1, 1] by counting lexicon hits. A negator directly
// before a hit flips it. Text without hits scores 0.
func Score(text string) float64 {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	var pos, neg int
	for i, w := range words {
		hit := 0
		switch {
		case positiveWords[w]:
			hit = 1
		case negativeWords[w]:
			hit = -1
		default:
			continue
		}
		if i > 0 && negators[words[i-1]] {
			hit = -hit
		}
		if hit > 0 {
			pos++
		} else {
			neg++
		}
	}
	if pos+neg == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}

// Daily averages article scores per UTC day. Each reading is stamped at
// midnight UTC of its day, in ascending order.
func Daily(articles []Article) []strategy.SentimentScore {
	type acc struct {
		sum float64
		n   int
	}
	days := map[time.Time]*acc{}
	for _, a := range articles {
		day := a.Time.UTC().Truncate(24 * time.Hour)
		d, ok := days[day]
		if !ok {
			d = &acc{}
			days[day] = d
		}
		d.sum += Score(a.Headline + " " + a.Content)
		d.n++
	}
	out := make([]strategy.SentimentScore, 0, len(days))
	for day, d := range days {
		out = append(out, strategy.SentimentScore{Timestamp: day, Score: d.sum / float64(d.n)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Source merges several fetchers into daily sentiment. It satisfies the
// backtester's sentiment source.
type Source struct {
	fetchers []Fetcher
	log      *slog.Logger
}

// NewSource creates a Source over fetchers.
func NewSource(fetchers ...Fetcher) *Source {
	return &Source{fetchers: fetchers, log: slog.Default().With("component", "news")}
}

// Scores fetches from every source concurrently. A failing source is
// logged and skipped; the call fails only when every source fails.
func (s *Source) Scores(ctx context.Context, symbol string, start, end time.Time) ([]strategy.SentimentScore, error) {
	if len(s.fetchers) == 0 {
		return []strategy.SentimentScore{}, nil
	}
	results := make([][]Article, len(s.fetchers))
	errs := make([]error, len(s.fetchers))

	g, gctx := errgroup.WithContext(ctx)
	for i, f := range s.fetchers {
		g.Go(func() error {
			articles, err := f.Fetch(gctx, symbol, start, end)
			if err != nil {
				s.log.Warn("fetching news", "source", f.Name(), "symbol", symbol, "error", err)
				errs[i] = fmt.Errorf("%s: %w", f.Name(), err)
				return nil
			}
			results[i] = articles
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var all []Article
	failed := 0
	for i := range s.fetchers {
		if errs[i] != nil {
			failed++
			continue
		}
		all = append(all, results[i]...)
	}
	if failed == len(s.fetchers) {
		return nil, &domain.ProviderError{Provider: "news", Op: "fetch " + symbol, Err: errors.Join(errs...)}
	}
	s.log.Debug("news fetched", "symbol", symbol, "articles", len(all))
	return Daily(all), nil
}
