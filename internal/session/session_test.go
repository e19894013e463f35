package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeforge/internal/domain"
	"tradeforge/internal/marketdata"
	"tradeforge/internal/risk"
	"tradeforge/internal/strategy"
)

// threshold buys at or above buyAt and sells at or below sellAt.
type threshold struct{ buyAt, sellAt float64 }

func (threshold) Kind() strategy.Kind { return strategy.KindCustom }

func (t threshold) Prepare(bars []domain.Bar) (strategy.Plan, error) {
	return strategy.Rules{
		N:     len(bars),
		Entry: func(i int) (bool, bool) { return bars[i].Close >= t.buyAt, true },
		Exit:  func(i int) (bool, bool) { return bars[i].Close <= t.sellAt, true },
	}, nil
}

// flaky fails its first Prepare and then behaves like threshold.
type flaky struct {
	threshold
	calls int
}

func (f *flaky) Prepare(bars []domain.Bar) (strategy.Plan, error) {
	f.calls++
	if f.calls == 1 {
		return nil, errors.New("indicator unavailable")
	}
	return f.threshold.Prepare(bars)
}

// feed is a provider whose series grows as the test appends closes.
type feed struct {
	mu   sync.Mutex
	bars []domain.Bar
	err  error
}

func (f *feed) push(closes ...float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for _, c := range closes {
		f.bars = append(f.bars, domain.Bar{
			Symbol:    "SPY",
			Timestamp: start.AddDate(0, 0, len(f.bars)),
			Open:      c, High: c, Low: c, Close: c,
			Volume: 100,
		})
	}
}

func (f *feed) provider() marketdata.Provider {
	return marketdata.ProviderFunc(func(context.Context, string, time.Time, time.Time) ([]domain.Bar, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.err != nil {
			return nil, f.err
		}
		return append([]domain.Bar(nil), f.bars...), nil
	})
}

func clock() time.Time { return time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC) }

func newSession(t *testing.T, f *feed) *Session {
	t.Helper()
	s, err := New(Config{
		Symbol:         "spy",
		Strategy:       threshold{buyAt: 105, sellAt: 95},
		Settings:       risk.DefaultSettings(),
		InitialCapital: 100000,
		Interval:       10 * time.Millisecond,
	}, f.provider(), WithClock(clock))
	require.NoError(t, err)
	return s
}

func TestStepTradesOncePerBar(t *testing.T) {
	f := &feed{}
	f.push(100, 101, 106)
	s := newSession(t, f)
	ctx := context.Background()

	ev, err := s.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventOrder, ev.Type)
	assert.Equal(t, domain.SignalBuy, ev.Signal)
	require.NotNil(t, ev.Order)
	assert.Equal(t, domain.OrderStatusFilled, ev.Order.Status)
	assert.Equal(t, 94.0, ev.Position.Qty)
	assert.Equal(t, 106.0, ev.Price)

	ev, err = s.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventTick, ev.Type)
	assert.Equal(t, domain.SignalHold, ev.Signal)
	assert.Equal(t, 1, s.State(ctx).Orders)

	f.push(94)
	ev, err = s.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventOrder, ev.Type)
	assert.Equal(t, domain.SignalSell, ev.Signal)
	assert.Zero(t, ev.Position.Qty)

	st := s.State(ctx)
	assert.Equal(t, "SPY", st.Symbol)
	assert.Empty(t, st.Positions)
	assert.InDelta(t, 100000-94*12, st.Account.Equity, 1e-6)
}

func TestStepRetriesBarAfterSignalError(t *testing.T) {
	f := &feed{}
	f.push(100, 106)
	strat := &flaky{threshold: threshold{buyAt: 105, sellAt: 95}}
	s, err := New(Config{Symbol: "SPY", Strategy: strat, Settings: risk.DefaultSettings(), InitialCapital: 100000}, f.provider(), WithClock(clock))
	require.NoError(t, err)
	ctx := context.Background()

	ev, err := s.Step(ctx)
	require.Error(t, err)
	assert.Equal(t, EventError, ev.Type)
	assert.Zero(t, s.State(ctx).Orders)

	// The same bar is evaluated again once the strategy recovers.
	ev, err = s.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventOrder, ev.Type)
	assert.Equal(t, domain.SignalBuy, ev.Signal)
	assert.Equal(t, 2, strat.calls)
}

func TestStepRiskRejection(t *testing.T) {
	f := &feed{}
	f.push(106)
	settings := risk.DefaultSettings()
	settings.PositionSizeValue = 50
	s, err := New(Config{Symbol: "SPY", Strategy: threshold{buyAt: 105, sellAt: 95}, Settings: settings, InitialCapital: 10000}, f.provider(), WithClock(clock))
	require.NoError(t, err)

	ev, err := s.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EventRejected, ev.Type)
	assert.Contains(t, ev.Reason, "position size")
	assert.Equal(t, 10000.0, ev.Equity)
}

func TestStepProviderError(t *testing.T) {
	f := &feed{err: &domain.ProviderError{Provider: "test", Op: "bars", Err: errors.New("down")}}
	s := newSession(t, f)

	ev, err := s.Step(context.Background())
	var perr *domain.ProviderError
	assert.ErrorAs(t, err, &perr)
	assert.Equal(t, EventError, ev.Type)

	f.err = nil
	_, err = s.Step(context.Background())
	var derr *domain.DataError
	assert.ErrorAs(t, err, &derr)
}

func TestSubscribers(t *testing.T) {
	f := &feed{}
	f.push(100)
	s := newSession(t, f)

	id, ch := s.Subscribe(4)
	_, err := s.Step(context.Background())
	require.NoError(t, err)

	ev := <-ch
	assert.Equal(t, EventTick, ev.Type)
	assert.Equal(t, s.ID(), ev.SessionID)

	s.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
	s.Unsubscribe(id)
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	f := &feed{}
	f.push(100)
	s := newSession(t, f)

	_, ch := s.Subscribe(1)
	for i := 0; i < 3; i++ {
		_, err := s.Step(context.Background())
		require.NoError(t, err)
	}
	assert.Len(t, ch, 1)
}

func TestRunUntilStopped(t *testing.T) {
	f := &feed{}
	f.push(100)
	s := newSession(t, f)
	_, ch := s.Subscribe(64)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	require.Eventually(t, func() bool { return s.State(context.Background()).Running }, time.Second, 5*time.Millisecond)
	<-ch
	s.Stop()
	s.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}

	var last Event
	for len(ch) > 0 {
		last = <-ch
	}
	assert.Equal(t, EventStopped, last.Type)
	assert.False(t, s.State(context.Background()).Running)
}

func TestRunHonoursContext(t *testing.T) {
	f := &feed{}
	f.push(100)
	s := newSession(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Run(ctx), context.DeadlineExceeded)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{Strategy: threshold{}}, (&feed{}).provider())
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = New(Config{Symbol: "SPY"}, (&feed{}).provider())
	assert.ErrorAs(t, err, &verr)

	bad := risk.DefaultSettings()
	bad.MaxOpenPositions = -1
	_, err = New(Config{Symbol: "SPY", Strategy: threshold{}, Settings: bad}, (&feed{}).provider())
	assert.Error(t, err)
}
