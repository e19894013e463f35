// Package session runs paper trading sessions. A Session owns its ticker,
// simulated broker, strategy and subscribers; nothing is shared between
// sessions and there is no process-wide registry.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradeforge/internal/broker"
	"tradeforge/internal/domain"
	"tradeforge/internal/marketdata"
	"tradeforge/internal/risk"
	"tradeforge/internal/strategy"
)

// Defaults for Config fields left zero.
const (
	DefaultInterval = time.Minute
	DefaultLookback = 365 * 24 * time.Hour
	DefaultCapital  = 100000
)

// Event types published to subscribers.
const (
	EventTick     = "tick"
	EventOrder    = "order"
	EventRejected = "rejected"
	EventError    = "error"
	EventStopped  = "stopped"
)

// Event is one step of a session as seen by subscribers.
type Event struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Time      time.Time       `json:"time"`
	Symbol    string          `json:"symbol,omitempty"`
	Signal    domain.Signal   `json:"signal,omitempty"`
	Price     float64         `json:"price,omitempty"`
	Equity    float64         `json:"equity,omitempty"`
	Order     *domain.Order   `json:"order,omitempty"`
	Position  domain.Position `json:"position"`
	Reason    string          `json:"reason,omitempty"`
}

// Config describes one paper trading session.
type Config struct {
	ID             string
	Symbol         string
	Strategy       strategy.Strategy
	Settings       risk.Settings
	InitialCapital float64
	Interval       time.Duration
	Lookback       time.Duration
}

// State is a point-in-time view of a session.
type State struct {
	ID        string             `json:"id"`
	Symbol    string             `json:"symbol"`
	Strategy  strategy.Kind      `json:"strategy"`
	Running   bool               `json:"running"`
	LastBar   time.Time          `json:"last_bar"`
	Account   domain.AccountInfo `json:"account"`
	Positions []domain.Position  `json:"positions"`
	Orders    int                `json:"orders"`
}

// Session is a self-contained paper trading actor.
type Session struct {
	cfg      Config
	provider marketdata.Provider
	broker   *broker.SimulatorBroker
	risk     *risk.Manager
	now      func() time.Time
	log      *slog.Logger

	mu       sync.Mutex
	running  bool
	lastBar  time.Time
	lastDay  string
	orders   int
	stop     chan struct{}
	stopOnce sync.Once

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan Event
}

// Option configures a Session.
type Option func(*Session)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithLogger sets the session's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// New validates cfg and builds a stopped session.
func New(cfg Config, provider marketdata.Provider, opts ...Option) (*Session, error) {
	if cfg.Symbol == "" {
		return nil, domain.NewValidationError("symbol", "is required")
	}
	if cfg.Strategy == nil {
		return nil, domain.NewValidationError("strategy", "is required")
	}
	if cfg.InitialCapital < 0 {
		return nil, domain.NewValidationError("initial_capital", "must not be negative, got %g", cfg.InitialCapital)
	}
	mgr, err := risk.NewManager(cfg.Settings)
	if err != nil {
		return nil, err
	}
	cfg.Symbol = strings.ToUpper(cfg.Symbol)
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.InitialCapital == 0 {
		cfg.InitialCapital = DefaultCapital
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}

	s := &Session{
		cfg:      cfg,
		provider: provider,
		risk:     mgr,
		now:      time.Now,
		stop:     make(chan struct{}),
		subs:     make(map[int]chan Event),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default().With("component", "session", "session", cfg.ID)
	}
	s.broker = broker.NewSimulatorBroker(
		broker.WithCash(cfg.InitialCapital),
		broker.WithCommissionRate(cfg.Settings.CommissionRate),
		broker.WithClock(s.now),
	)
	return s, nil
}

// ID returns the session ID.
func (s *Session) ID() string { return s.cfg.ID }

// Broker exposes the session's simulated broker.
func (s *Session) Broker() *broker.SimulatorBroker { return s.broker }

// Run polls the provider every interval until ctx ends or Stop is called.
// Step failures are published as error events and do not end the session.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("session %s already running", s.cfg.ID)
	}
	s.running = true
	s.mu.Unlock()

	s.log.Info("session started", "symbol", s.cfg.Symbol, "strategy", s.cfg.Strategy.Kind(), "interval", s.cfg.Interval)
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.broadcast(Event{Type: EventStopped, SessionID: s.cfg.ID, Time: s.now(), Symbol: s.cfg.Symbol})
		s.log.Info("session stopped")
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("session step failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case <-ticker.C:
		}
	}
}

// Stop ends Run. It is safe to call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Step performs one poll: it loads bars, marks the broker at the last
// close, evaluates the strategy on the last bar and submits an order when
// the signal is actionable. A bar is acted on at most once.
func (s *Session) Step(ctx context.Context) (Event, error) {
	now := s.now()
	ev := Event{Type: EventTick, SessionID: s.cfg.ID, Time: now, Symbol: s.cfg.Symbol, Signal: domain.SignalHold}

	bars, err := s.provider.GetBars(ctx, s.cfg.Symbol, now.Add(-s.cfg.Lookback), now)
	if err == nil && len(bars) == 0 {
		err = &domain.DataError{Message: fmt.Sprintf("no bars for %s", s.cfg.Symbol)}
	}
	if err != nil {
		return s.fail(ev, fmt.Errorf("loading bars: %w", err))
	}
	last := bars[len(bars)-1]
	ev.Price = last.Close

	s.mu.Lock()
	// The previous close becomes the new day's baseline before repricing.
	if day := now.Format("2006-01-02"); day != s.lastDay {
		if s.lastDay != "" {
			s.broker.StartDay()
		}
		s.lastDay = day
	}
	s.broker.Mark(s.cfg.Symbol, last.Close)
	seen := !last.Timestamp.After(s.lastBar)
	s.mu.Unlock()

	pos, ok := s.position(ctx)
	state := domain.PositionFlat
	if ok {
		state = domain.PositionLong
		ev.Position = pos
	}

	if !seen {
		sig, err := strategy.ComputeSignal(s.cfg.Strategy, bars, state)
		if err != nil {
			return s.fail(ev, fmt.Errorf("computing signal: %w", err))
		}
		// A bar whose signal failed is evaluated again on the next poll.
		s.mu.Lock()
		s.lastBar = last.Timestamp
		s.mu.Unlock()
		ev.Signal = sig
		if sig != domain.SignalHold {
			ev = s.act(ctx, ev, sig, pos)
		}
	}

	if acct, err := s.broker.GetAccount(ctx); err == nil {
		ev.Equity = acct.Equity
	}
	if p, ok := s.position(ctx); ok {
		ev.Position = p
	} else {
		ev.Position = domain.Position{}
	}
	s.broadcast(ev)
	return ev, nil
}

func (s *Session) act(ctx context.Context, ev Event, sig domain.Signal, pos domain.Position) Event {
	base := domain.OrderRequest{Symbol: s.cfg.Symbol, Price: ev.Price}
	switch sig {
	case domain.SignalBuy:
		base.Side = domain.OrderSideBuy
	case domain.SignalSell:
		base.Side = domain.OrderSideSell
		base.Quantity = pos.Qty
		base.Type = domain.OrderTypeMarket
	}

	snap, err := s.snapshot(ctx)
	if err != nil {
		ev.Type, ev.Reason = EventError, err.Error()
		return ev
	}
	req, err := risk.PrepareOrder(base, s.cfg.Settings, snap.Equity)
	if err != nil {
		ev.Type, ev.Reason = EventRejected, err.Error()
		return ev
	}
	if d := s.risk.Check(req, snap, ev.Time); !d.Allowed {
		s.log.Info("order rejected by risk", "side", req.Side, "reason", d.Reason)
		ev.Type, ev.Reason = EventRejected, d.Reason
		return ev
	}

	order, err := s.broker.SubmitOrder(ctx, req)
	ev.Order = order
	if err != nil {
		ev.Type, ev.Reason = EventRejected, err.Error()
		return ev
	}
	s.mu.Lock()
	s.orders++
	s.mu.Unlock()
	s.log.Info("paper order", "side", order.Side, "qty", order.Qty, "status", order.Status, "price", order.FilledAvgPrice)
	ev.Type = EventOrder
	return ev
}

func (s *Session) fail(ev Event, err error) (Event, error) {
	ev.Type, ev.Reason = EventError, err.Error()
	s.broadcast(ev)
	return ev, err
}

func (s *Session) position(ctx context.Context) (domain.Position, bool) {
	positions, _ := s.broker.GetPositions(ctx)
	for _, p := range positions {
		if p.Symbol == s.cfg.Symbol {
			return p, true
		}
	}
	return domain.Position{}, false
}

func (s *Session) snapshot(ctx context.Context) (risk.Snapshot, error) {
	acct, err := s.broker.GetAccount(ctx)
	if err != nil {
		return risk.Snapshot{}, err
	}
	positions, err := s.broker.GetPositions(ctx)
	if err != nil {
		return risk.Snapshot{}, err
	}
	snap := risk.Snapshot{
		Equity:         acct.Equity,
		Cash:           acct.Cash,
		DayStartEquity: acct.LastEquity,
		Positions:      make(map[string]float64, len(positions)),
	}
	for _, p := range positions {
		snap.Positions[p.Symbol] = p.MarketValue()
	}
	return snap, nil
}

// State returns a snapshot of the session.
func (s *Session) State(ctx context.Context) State {
	acct, _ := s.broker.GetAccount(ctx)
	positions, _ := s.broker.GetPositions(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		ID:        s.cfg.ID,
		Symbol:    s.cfg.Symbol,
		Strategy:  s.cfg.Strategy.Kind(),
		Running:   s.running,
		LastBar:   s.lastBar,
		Positions: positions,
		Orders:    s.orders,
	}
	if acct != nil {
		st.Account = *acct
	}
	return st
}

// ---------------------------------------------------------------------------
// Subscribers
// ---------------------------------------------------------------------------

// Subscribe returns a channel that receives events. bufSize controls the
// channel buffer; slow consumers have events dropped.
func (s *Session) Subscribe(bufSize int) (int, <-chan Event) {
	ch := make(chan Event, bufSize)
	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = ch
	s.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Session) Unsubscribe(id int) {
	s.subsMu.Lock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
	s.subsMu.Unlock()
}

// broadcast sends an event to all subscribers without blocking.
func (s *Session) broadcast(e Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
