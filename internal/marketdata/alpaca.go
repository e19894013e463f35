package marketdata

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/sony/gobreaker"

	"tradeforge/internal/domain"
	"tradeforge/internal/util"
)

var _ Provider = (*AlpacaProvider)(nil)

// AlpacaOptions configures an AlpacaProvider.
type AlpacaOptions struct {
	APIKey    string
	APISecret string
	DataURL   string
	Feed      string // "sip" or "iex"

	RequestsPerMinute int
	Burst             int

	// BreakerFailures consecutive failures open the breaker for
	// BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// AlpacaProvider loads daily bars from the Alpaca market-data API. Calls
// are rate limited and pass through a circuit breaker. Failures are
// reported as *domain.ProviderError and never retried.
type AlpacaProvider struct {
	client  *marketdata.Client
	feed    string
	limiter *util.RateLimiter
	breaker *gobreaker.CircuitBreaker
	log     *slog.Logger
}

// NewAlpacaProvider creates a provider from opts. Zero limits fall back to
// 200 requests per minute and a breaker that opens after five consecutive
// failures for thirty seconds.
func NewAlpacaProvider(opts AlpacaOptions) *AlpacaProvider {
	co := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		co.BaseURL = opts.DataURL
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 200
	}
	if opts.Feed == "" {
		opts.Feed = "iex"
	}
	return &AlpacaProvider{
		client:  marketdata.NewClient(co),
		feed:    opts.Feed,
		limiter: util.NewRateLimiter(opts.RequestsPerMinute, opts.Burst),
		breaker: NewBreaker("alpaca-bars", opts.BreakerFailures, opts.BreakerTimeout),
		log:     slog.Default().With("component", "alpaca-provider"),
	}
}

// NewBreaker builds a circuit breaker that opens after failures
// consecutive errors and half-opens after timeout.
func NewBreaker(name string, failures uint32, timeout time.Duration) *gobreaker.CircuitBreaker {
	if failures == 0 {
		failures = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	st := gobreaker.Settings{
		Name:    name,
		Timeout: timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
	}
	log := slog.Default().With("breaker", name)
	st.OnStateChange = func(_ string, from, to gobreaker.State) {
		log.Warn("circuit breaker state change", "from", from.String(), "to", to.String())
	}
	return gobreaker.NewCircuitBreaker(st)
}

// GetBars returns daily bars for symbol in [start, end] in timestamp order.
func (p *AlpacaProvider) GetBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(symbol)

	out, err := p.breaker.Execute(func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return p.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			End:       end,
			Feed:      marketdata.Feed(p.feed),
		})
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &domain.ProviderError{Provider: "alpaca", Op: "get bars " + symbol, Err: err}
	}

	raw := out.([]marketdata.Bar)
	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		bars = append(bars, domain.Bar{
			Symbol:     symbol,
			Timestamp:  ab.Timestamp.UTC(),
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	p.log.Debug("loaded bars", "symbol", symbol, "count", len(bars))
	return bars, nil
}
