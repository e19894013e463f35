// Package engine coordinates live order submission: it sizes orders from
// session settings, checks them against the risk rules and forwards the
// survivors to a broker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tradeforge/internal/broker"
	"tradeforge/internal/domain"
	"tradeforge/internal/risk"
	"tradeforge/internal/store"
)

// DefaultSubmitTimeout bounds a single broker submission.
const DefaultSubmitTimeout = 10 * time.Second

// Engine orchestrates the order lifecycle by delegating to a broker for
// execution, an order store for persistence, and the risk manager for
// pre-trade checks.
type Engine struct {
	broker  broker.Broker
	orders  store.OrderStore
	timeout time.Duration
	now     func() time.Time
	log     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout overrides DefaultSubmitTimeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithClock overrides the time source used for trading window checks.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// NewEngine creates a new Engine wired with the given dependencies. orders
// may be nil, in which case nothing is persisted.
func NewEngine(b broker.Broker, orders store.OrderStore, opts ...Option) *Engine {
	e := &Engine{
		broker:  b,
		orders:  orders,
		timeout: DefaultSubmitTimeout,
		now:     time.Now,
		log:     slog.Default().With("component", "engine"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Snapshot reads the broker account and positions into a risk snapshot.
// The broker's previous close stands in for the day's starting equity.
func (e *Engine) Snapshot(ctx context.Context) (risk.Snapshot, error) {
	acct, err := e.broker.GetAccount(ctx)
	if err != nil {
		return risk.Snapshot{}, fmt.Errorf("reading account: %w", err)
	}
	positions, err := e.broker.GetPositions(ctx)
	if err != nil {
		return risk.Snapshot{}, fmt.Errorf("reading positions: %w", err)
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

// SubmitOrder prepares base from settings, checks it against the risk
// rules and submits it. Validation errors are returned; risk rejections
// and broker failures are reported in OrderResponse.Error. A failed
// submission is never retried.
func (e *Engine) SubmitOrder(ctx context.Context, base domain.OrderRequest, settings risk.Settings) (domain.OrderResponse, error) {
	resp := domain.OrderResponse{Request: base}

	mgr, err := risk.NewManager(settings)
	if err != nil {
		return resp, err
	}
	snap, err := e.Snapshot(ctx)
	if err != nil {
		resp.Error = err.Error()
		return resp, nil
	}

	if base.Price <= 0 {
		base.Price = e.lastPrice(ctx, base.Symbol)
	}
	req, err := risk.PrepareOrder(base, settings, snap.Equity)
	if err != nil {
		return resp, err
	}
	resp.Request = req

	if d := mgr.Check(req, snap, e.now()); !d.Allowed {
		e.log.Info("order rejected by risk", "symbol", req.Symbol, "side", req.Side, "reason", d.Reason)
		resp.Error = d.Reason
		return resp, nil
	}

	sctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	order, err := e.broker.SubmitOrder(sctx, req)
	if order != nil {
		resp.Order = order
		e.persist(ctx, order)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("broker %s did not answer within %s: %w", e.broker.Name(), e.timeout, err)
		}
		e.log.Warn("order submission failed", "symbol", req.Symbol, "broker", e.broker.Name(), "error", err)
		resp.Error = err.Error()
		return resp, nil
	}

	e.log.Info("order submitted",
		"id", order.ID,
		"symbol", order.Symbol,
		"side", order.Side,
		"qty", order.Qty,
		"status", order.Status,
	)
	return resp, nil
}

// lastPrice returns the broker's current price for a held symbol, or zero.
func (e *Engine) lastPrice(ctx context.Context, symbol string) float64 {
	positions, err := e.broker.GetPositions(ctx)
	if err != nil {
		return 0
	}
	for _, p := range positions {
		if strings.EqualFold(p.Symbol, symbol) {
			return p.CurrentPrice
		}
	}
	return 0
}

func (e *Engine) persist(ctx context.Context, o *domain.Order) {
	if e.orders == nil {
		return
	}
	if err := e.orders.SaveOrder(ctx, o); err != nil {
		e.log.Warn("persisting order failed", "id", o.ID, "error", err)
	}
}

// CancelOrder requests cancellation of an open order and records the new
// status when the order is known to the store.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	if err := e.broker.CancelOrder(ctx, orderID); err != nil {
		return fmt.Errorf("cancelling order %s: %w", orderID, err)
	}
	if e.orders == nil {
		return nil
	}
	o, err := e.orders.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading order %s: %w", orderID, err)
	}
	o.Status = domain.OrderStatusCancelled
	o.UpdatedAt = e.now()
	if err := e.orders.UpdateOrder(ctx, o); err != nil {
		return fmt.Errorf("updating order %s: %w", orderID, err)
	}
	return nil
}

// GetPositions returns all currently open positions from the broker.
func (e *Engine) GetPositions(ctx context.Context) ([]domain.Position, error) {
	return e.broker.GetPositions(ctx)
}

// Orders lists persisted orders with the given status; empty means all.
func (e *Engine) Orders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	if e.orders == nil {
		return []domain.Order{}, nil
	}
	return e.orders.ListOrders(ctx, status)
}
