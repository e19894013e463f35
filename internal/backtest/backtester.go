package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"tradeforge/internal/domain"
	"tradeforge/internal/marketdata"
	"tradeforge/internal/strategy"
)

// DefaultMaxParallel bounds concurrent symbols in a batch.
const DefaultMaxParallel = 8

// SentimentSource supplies news sentiment for sentiment strategies whose
// parameters carry no scores.
type SentimentSource interface {
	Scores(ctx context.Context, symbol string, start, end time.Time) ([]strategy.SentimentScore, error)
}

// Backtester loads bars from a provider and runs simulations.
type Backtester struct {
	provider    marketdata.Provider
	registry    *strategy.Registry
	sentiment   SentimentSource
	maxParallel int
	logger      *slog.Logger
}

// Option configures a Backtester.
type Option func(*Backtester)

// WithSentiment sets the sentiment source.
func WithSentiment(src SentimentSource) Option {
	return func(b *Backtester) { b.sentiment = src }
}

// WithMaxParallel bounds concurrent symbols in RunBatch.
func WithMaxParallel(n int) Option {
	return func(b *Backtester) {
		if n > 0 {
			b.maxParallel = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backtester) { b.logger = l }
}

// NewBacktester creates a Backtester that reads bars from provider and
// resolves strategies through registry.
func NewBacktester(provider marketdata.Provider, registry *strategy.Registry, opts ...Option) *Backtester {
	b := &Backtester{
		provider:    provider,
		registry:    registry,
		maxParallel: DefaultMaxParallel,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Run loads bars for cfg and simulates them.
func (b *Backtester) Run(ctx context.Context, cfg Config) (*Result, error) {
	kind, err := strategy.ParseKind(string(cfg.Kind))
	if err != nil {
		return nil, err
	}
	cfg.Kind = kind
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	params, err := strategy.DecodeParams(kind, cfg.Params)
	if err != nil {
		return nil, err
	}

	from, to := cfg.window(time.Now())
	bars, err := b.provider.GetBars(ctx, cfg.Symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("loading bars for %s: %w", cfg.Symbol, err)
	}
	if len(bars) == 0 {
		return nil, &domain.DataError{Message: fmt.Sprintf("no bars for %s between %s and %s",
			cfg.Symbol, from.Format(dateLayout), to.Format(dateLayout))}
	}

	if sp, ok := params.(strategy.SentimentParams); ok && len(sp.Scores) == 0 && b.sentiment != nil {
		scores, err := b.sentiment.Scores(ctx, cfg.Symbol, bars[0].Timestamp, bars[len(bars)-1].Timestamp)
		if err != nil {
			return nil, fmt.Errorf("loading sentiment for %s: %w", cfg.Symbol, err)
		}
		sp.Scores = scores
		params = sp
	}

	strat, err := b.registry.New(kind, params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := Simulate(cfg, strat, bars)
	if err != nil {
		return nil, err
	}
	b.logger.Info("backtest complete",
		"symbol", cfg.Symbol,
		"strategy", kind,
		"bars", len(bars),
		"trades", len(res.Trades),
		"rejections", len(res.Rejections),
		"return_pct", res.Metrics.TotalReturnPct,
		"elapsed", time.Since(start),
	)
	return res, nil
}

// SymbolResult is one entry of a batch. Exactly one of Result and Error is
// set.
type SymbolResult struct {
	Symbol string  `json:"symbol"`
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// RunBatch runs cfg once per symbol in parallel. A failing symbol records
// its error and does not affect the others. Results keep the order of
// symbols.
func (b *Backtester) RunBatch(ctx context.Context, cfg Config, symbols []string) ([]SymbolResult, error) {
	if len(symbols) == 0 {
		return nil, domain.NewValidationError("symbols", "at least one symbol is required")
	}

	results := make([]SymbolResult, len(symbols))
	sem := make(chan struct{}, b.maxParallel)

	g, gctx := errgroup.WithContext(ctx)
	for i, sym := range symbols {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				results[i] = SymbolResult{Symbol: sym, Error: gctx.Err().Error()}
				return nil
			}
			defer func() { <-sem }()

			c := cfg
			c.Symbol = sym
			res, err := b.Run(gctx, c)
			if err != nil {
				b.logger.Warn("backtest failed", "symbol", sym, "error", err)
				results[i] = SymbolResult{Symbol: sym, Error: err.Error()}
				return nil
			}
			results[i] = SymbolResult{Symbol: sym, Result: res}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
