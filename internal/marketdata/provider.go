// Package marketdata supplies ordered price bars to the backtester and the
// paper trading session. Providers compose: a cache can front a remote
// source, and the remote source is rate limited and circuit broken.
package marketdata

import (
	"context"
	"time"

	"tradeforge/internal/domain"
)

// Provider returns the bars of symbol in [start, end], ordered by strictly
// increasing timestamp. Failures of a remote collaborator are reported as
// *domain.ProviderError.
type Provider interface {
	GetBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

func (f ProviderFunc) GetBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	return f(ctx, symbol, start, end)
}
