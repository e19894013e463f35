package marketdata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeforge/internal/domain"
	"tradeforge/internal/store"
)

type memCache struct {
	mu   sync.Mutex
	data map[string][]domain.Bar
	sets int
}

func (m *memCache) key(symbol string, start, end time.Time) string {
	return symbol + start.String() + end.String()
}

func (m *memCache) GetBars(_ context.Context, symbol string, start, end time.Time) ([]domain.Bar, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[m.key(symbol, start, end)]
	return b, ok, nil
}

func (m *memCache) SetBars(_ context.Context, symbol string, start, end time.Time, bars []domain.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string][]domain.Bar{}
	}
	m.data[m.key(symbol, start, end)] = bars
	m.sets++
	return nil
}

var (
	jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan5 = time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
)

func sampleBars() []domain.Bar {
	return []domain.Bar{
		{Symbol: "SPY", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 470, High: 472, Low: 468, Close: 471, Volume: 1000},
		{Symbol: "SPY", Timestamp: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Open: 471, High: 474, Low: 470, Close: 473, Volume: 1200},
	}
}

func TestCachedProviderCachesUpstream(t *testing.T) {
	calls := 0
	upstream := ProviderFunc(func(context.Context, string, time.Time, time.Time) ([]domain.Bar, error) {
		calls++
		return sampleBars(), nil
	})
	cache := &memCache{}
	disk := store.NewParquetStore(t.TempDir())
	p := NewCachedProvider(upstream, cache, disk)
	ctx := context.Background()

	first, err := p.GetBars(ctx, "SPY", jan1, jan5)
	require.NoError(t, err)
	second, err := p.GetBars(ctx, "SPY", jan1, jan5)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, first, second)

	stored, err := disk.ReadBars(ctx, "SPY", jan1, jan5)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestCachedProviderFallsBackToDisk(t *testing.T) {
	disk := store.NewParquetStore(t.TempDir())
	require.NoError(t, disk.WriteBars(context.Background(), sampleBars()))

	upstream := ProviderFunc(func(context.Context, string, time.Time, time.Time) ([]domain.Bar, error) {
		return nil, &domain.ProviderError{Provider: "test", Op: "bars", Err: errors.New("down")}
	})
	p := NewCachedProvider(upstream, nil, disk)

	bars, err := p.GetBars(context.Background(), "SPY", jan1, jan5)
	require.NoError(t, err)
	assert.Len(t, bars, 2)

	_, err = p.GetBars(context.Background(), "QQQ", jan1, jan5)
	var perr *domain.ProviderError
	assert.ErrorAs(t, err, &perr)
}

func TestCachedProviderPassesThroughOtherErrors(t *testing.T) {
	disk := store.NewParquetStore(t.TempDir())
	require.NoError(t, disk.WriteBars(context.Background(), sampleBars()))

	upstream := ProviderFunc(func(context.Context, string, time.Time, time.Time) ([]domain.Bar, error) {
		return nil, context.Canceled
	})
	_, err := NewCachedProvider(upstream, nil, disk).GetBars(context.Background(), "SPY", jan1, jan5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromStore(t *testing.T) {
	disk := store.NewParquetStore(t.TempDir())
	require.NoError(t, disk.WriteBars(context.Background(), sampleBars()))

	bars, err := FromStore(disk).GetBars(context.Background(), "SPY", jan1, jan5)
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	assert.Equal(t, 473.0, bars[1].Close)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewBreaker("test", 2, time.Minute)
	boom := errors.New("boom")
	fail := func() (any, error) { return nil, boom }

	_, err := cb.Execute(fail)
	assert.ErrorIs(t, err, boom)
	_, err = cb.Execute(fail)
	assert.ErrorIs(t, err, boom)

	_, err = cb.Execute(func() (any, error) { return "ok", nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, gobreaker.StateOpen, cb.State())
}
