package marketdata

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tradeforge/internal/domain"
	"tradeforge/internal/store"
)

var _ Provider = (*CachedProvider)(nil)

// CachedProvider fronts an upstream provider with an optional hot cache and
// an optional on-disk bar store. Fetched ranges are written to both. When
// the upstream fails, bars already on disk for the range are served
// instead.
type CachedProvider struct {
	upstream Provider
	cache    store.BarCache
	disk     store.BarStore
	log      *slog.Logger
}

// NewCachedProvider wraps upstream. cache and disk may be nil.
func NewCachedProvider(upstream Provider, cache store.BarCache, disk store.BarStore) *CachedProvider {
	return &CachedProvider{
		upstream: upstream,
		cache:    cache,
		disk:     disk,
		log:      slog.Default().With("component", "bar-cache"),
	}
}

// GetBars serves symbol's bars from the cache, the upstream, or the disk
// store, in that order.
func (p *CachedProvider) GetBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	if p.cache != nil {
		bars, ok, err := p.cache.GetBars(ctx, symbol, start, end)
		switch {
		case err != nil:
			p.log.Warn("bar cache read failed", "symbol", symbol, "error", err)
		case ok:
			return bars, nil
		}
	}

	bars, err := p.upstream.GetBars(ctx, symbol, start, end)
	if err != nil {
		var perr *domain.ProviderError
		if p.disk != nil && errors.As(err, &perr) {
			stored, serr := p.disk.ReadBars(ctx, symbol, start, end)
			if serr == nil && len(stored) > 0 {
				p.log.Warn("upstream failed, serving stored bars", "symbol", symbol, "bars", len(stored), "error", err)
				return stored, nil
			}
		}
		return nil, err
	}

	if p.cache != nil && len(bars) > 0 {
		if err := p.cache.SetBars(ctx, symbol, start, end, bars); err != nil {
			p.log.Warn("bar cache write failed", "symbol", symbol, "error", err)
		}
	}
	if p.disk != nil && len(bars) > 0 {
		if err := p.disk.WriteBars(ctx, bars); err != nil {
			p.log.Warn("bar store write failed", "symbol", symbol, "error", err)
		}
	}
	return bars, nil
}

// FromStore serves bars from a bar store only.
func FromStore(s store.BarStore) Provider {
	return ProviderFunc(func(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
		return s.ReadBars(ctx, symbol, start, end)
	})
}
