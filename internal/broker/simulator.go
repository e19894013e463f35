package broker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradeforge/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// restingOrder is an accepted order waiting for its trigger.
type restingOrder struct {
	order     *domain.Order
	req       domain.OrderRequest
	highWater float64
	group     string // OCO siblings share a group
}

// SimulatorBroker implements the Broker interface for paper trading. It
// tracks cash, positions and orders in memory without making external API
// calls. Market orders fill immediately at the last marked price; limit,
// stop and trailing orders rest until a Mark crosses their trigger.
// Bracket buys attach a take-profit and a stop-loss leg on fill, and OCO
// sells rest as a linked limit/stop pair.
type SimulatorBroker struct {
	mu             sync.Mutex
	cash           float64
	lastEquity     float64
	commissionRate float64
	prices         map[string]float64
	positions      map[string]*domain.Position
	orders         map[string]*domain.Order
	resting        []*restingOrder
	pending        []*restingOrder
	now            func() time.Time
}

// SimulatorOption configures a SimulatorBroker.
type SimulatorOption func(*SimulatorBroker)

// WithCash sets the starting cash.
func WithCash(cash float64) SimulatorOption {
	return func(b *SimulatorBroker) { b.cash, b.lastEquity = cash, cash }
}

// WithCommissionRate charges rate times notional on every fill.
func WithCommissionRate(rate float64) SimulatorOption {
	return func(b *SimulatorBroker) { b.commissionRate = rate }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SimulatorOption {
	return func(b *SimulatorBroker) { b.now = now }
}

// NewSimulatorBroker creates a new SimulatorBroker with empty position and
// order maps.
func NewSimulatorBroker(opts ...SimulatorOption) *SimulatorBroker {
	b := &SimulatorBroker{
		positions: make(map[string]*domain.Position),
		orders:    make(map[string]*domain.Order),
		prices:    make(map[string]float64),
		now:       time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// Mark records the latest price of symbol, revalues its position and fills
// any resting orders whose trigger the price crosses. Filling one leg of an
// OCO group cancels its siblings.
func (b *SimulatorBroker) Mark(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	symbol = strings.ToUpper(symbol)
	b.prices[symbol] = price
	if p, ok := b.positions[symbol]; ok {
		p.CurrentPrice = price
	}

	filled := map[string]bool{}
	for _, r := range b.resting {
		if r.order.Status != domain.OrderStatusNew || r.req.Symbol != symbol || filled[r.group] {
			continue
		}
		px, ok := r.triggered(price)
		if !ok {
			continue
		}
		if err := b.fill(r.order, r.req, px); err != nil {
			r.order.Status = domain.OrderStatusRejected
			r.order.UpdatedAt = b.now()
			continue
		}
		if r.group != "" {
			filled[r.group] = true
		}
		b.attachBracket(r.order, r.req)
	}

	out := b.resting[:0]
	for _, r := range b.resting {
		if r.order.Status == domain.OrderStatusNew && r.group != "" && filled[r.group] {
			b.cancel(r.order)
		}
		if r.order.Status == domain.OrderStatusNew {
			out = append(out, r)
		}
	}
	b.resting = append(out, b.takePending()...)
}

// triggered reports whether price fires r, and at which fill price.
func (r *restingOrder) triggered(price float64) (float64, bool) {
	buy := r.req.Side == domain.OrderSideBuy
	switch r.req.Type {
	case domain.OrderTypeLimit:
		if (buy && price <= r.req.LimitPrice) || (!buy && price >= r.req.LimitPrice) {
			return price, true
		}
	case domain.OrderTypeStop:
		if (buy && price >= r.req.StopPrice) || (!buy && price <= r.req.StopPrice) {
			return price, true
		}
	case domain.OrderTypeStopLimit:
		stopped := (buy && price >= r.req.StopPrice) || (!buy && price <= r.req.StopPrice)
		marketable := (buy && price <= r.req.LimitPrice) || (!buy && price >= r.req.LimitPrice)
		if stopped && marketable {
			return price, true
		}
	case domain.OrderTypeTrailingStop:
		if buy {
			return 0, false
		}
		r.highWater = math.Max(r.highWater, price)
		if price <= r.highWater*(1-r.req.TrailPercent/100) {
			return price, true
		}
	}
	return 0, false
}

// SubmitOrder accepts a prepared order. Market orders fill at the last
// marked price, or at the request's reference price when the symbol has
// not been marked.
func (b *SimulatorBroker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	req.Symbol = strings.ToUpper(req.Symbol)
	now := b.now()
	o := &domain.Order{
		ID:            uuid.NewString(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Status:        domain.OrderStatusNew,
		Qty:           req.Quantity,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if o.Type == "" {
		o.Type = domain.OrderTypeMarket
	}
	b.orders[o.ID] = o

	price, marked := b.prices[req.Symbol]
	if !marked {
		price = req.Price
	}

	// An OCO sell rests as a take-profit limit and a stop-loss leg.
	if req.Class == domain.OrderClassOCO && req.Side == domain.OrderSideSell {
		if err := b.checkSell(req.Symbol, req.Quantity); err != nil {
			return b.reject(o, err)
		}
		group := o.ID
		tp := req
		tp.Type, tp.LimitPrice = domain.OrderTypeLimit, req.TakeProfitPrice
		o.Type = domain.OrderTypeLimit
		b.resting = append(b.resting, &restingOrder{order: o, req: tp, group: group})
		b.restLeg(o, req, domain.OrderTypeStop, req.StopLossPrice, group)
		return copyOrder(o), nil
	}

	if o.Type == domain.OrderTypeMarket {
		if price <= 0 {
			return b.reject(o, fmt.Errorf("%w %s", ErrNoPrice, req.Symbol))
		}
		if err := b.fill(o, req, price); err != nil {
			return b.reject(o, err)
		}
		b.attachBracket(o, req)
		b.resting = append(b.resting, b.takePending()...)
		return copyOrder(o), nil
	}

	r := &restingOrder{order: o, req: req, highWater: price}
	if marked {
		if px, ok := r.triggered(price); ok {
			if err := b.fill(o, req, px); err != nil {
				return b.reject(o, err)
			}
			b.attachBracket(o, req)
			b.resting = append(b.resting, b.takePending()...)
			return copyOrder(o), nil
		}
	}
	if req.Side == domain.OrderSideSell {
		if err := b.checkSell(req.Symbol, req.Quantity); err != nil {
			return b.reject(o, err)
		}
	}
	b.resting = append(b.resting, r)
	return copyOrder(o), nil
}

func (b *SimulatorBroker) reject(o *domain.Order, err error) (*domain.Order, error) {
	o.Status = domain.OrderStatusRejected
	o.UpdatedAt = b.now()
	return copyOrder(o), err
}

func (b *SimulatorBroker) checkSell(symbol string, qty float64) error {
	p, ok := b.positions[symbol]
	if !ok || qty > p.Qty+1e-9 {
		return fmt.Errorf("%w: selling %g %s", ErrInsufficientPosition, qty, symbol)
	}
	return nil
}

// fill executes o at price, moving cash and positions.
func (b *SimulatorBroker) fill(o *domain.Order, req domain.OrderRequest, price float64) error {
	qty := req.Quantity
	if qty == 0 && req.Notional > 0 {
		qty = req.Notional / price
	}
	if qty <= 0 {
		return fmt.Errorf("order %s has no quantity", o.ID)
	}
	notional := qty * price
	commission := notional * b.commissionRate

	switch req.Side {
	case domain.OrderSideBuy:
		if notional+commission > b.cash+1e-9 {
			return fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientFunds, notional+commission, b.cash)
		}
		b.cash -= notional + commission
		p, ok := b.positions[req.Symbol]
		if !ok {
			p = &domain.Position{Symbol: req.Symbol}
			b.positions[req.Symbol] = p
		}
		p.AvgPrice = (p.AvgPrice*p.Qty + notional) / (p.Qty + qty)
		p.Qty += qty
		p.CurrentPrice = price
	case domain.OrderSideSell:
		if err := b.checkSell(req.Symbol, qty); err != nil {
			return err
		}
		p := b.positions[req.Symbol]
		b.cash += notional - commission
		p.Qty -= qty
		p.CurrentPrice = price
		if p.Qty <= 1e-9 {
			delete(b.positions, req.Symbol)
		}
	default:
		return fmt.Errorf("order %s has unknown side %q", o.ID, req.Side)
	}

	o.Qty = qty
	o.Status = domain.OrderStatusFilled
	o.FilledQty = qty
	o.FilledAvgPrice = price
	o.UpdatedAt = b.now()
	return nil
}

// attachBracket queues the exit legs of a filled bracket buy.
func (b *SimulatorBroker) attachBracket(o *domain.Order, req domain.OrderRequest) {
	if req.Class != domain.OrderClassBracket || req.Side != domain.OrderSideBuy || o.Status != domain.OrderStatusFilled {
		return
	}
	exit := req
	exit.Side = domain.OrderSideSell
	exit.Quantity = o.FilledQty
	exit.Notional = 0
	exit.Class = domain.OrderClassSimple
	group := o.ID
	if req.TakeProfitPrice > 0 {
		b.pendLeg(o, exit, domain.OrderTypeLimit, req.TakeProfitPrice, group)
	}
	if req.StopLossPrice > 0 {
		b.pendLeg(o, exit, domain.OrderTypeStop, req.StopLossPrice, group)
	}
}

// takePending returns and clears the bracket legs queued by fills.
func (b *SimulatorBroker) takePending() []*restingOrder {
	out := b.pending
	b.pending = nil
	return out
}

func (b *SimulatorBroker) makeLeg(parent *domain.Order, req domain.OrderRequest, typ domain.OrderType, level float64, group string) *restingOrder {
	leg := req
	leg.Type = typ
	leg.ClientOrderID = ""
	if typ == domain.OrderTypeLimit {
		leg.LimitPrice = level
	} else {
		leg.StopPrice = level
	}
	now := b.now()
	o := &domain.Order{
		ID:        uuid.NewString(),
		Symbol:    parent.Symbol,
		Side:      leg.Side,
		Type:      typ,
		Status:    domain.OrderStatusNew,
		Qty:       leg.Quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	b.orders[o.ID] = o
	return &restingOrder{order: o, req: leg, group: group}
}

func (b *SimulatorBroker) pendLeg(parent *domain.Order, req domain.OrderRequest, typ domain.OrderType, level float64, group string) {
	b.pending = append(b.pending, b.makeLeg(parent, req, typ, level, group))
}

func (b *SimulatorBroker) restLeg(parent *domain.Order, req domain.OrderRequest, typ domain.OrderType, level float64, group string) {
	b.resting = append(b.resting, b.makeLeg(parent, req, typ, level, group))
}

func (b *SimulatorBroker) cancel(o *domain.Order) {
	o.Status = domain.OrderStatusCancelled
	o.UpdatedAt = b.now()
}

// CancelOrder cancels a resting order.
func (b *SimulatorBroker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if o.Status != domain.OrderStatusNew {
		return fmt.Errorf("order %s is %s and cannot be cancelled", orderID, o.Status)
	}
	b.cancel(o)
	out := b.resting[:0]
	for _, r := range b.resting {
		if r.order.ID != orderID {
			out = append(out, r)
		}
	}
	b.resting = out
	return nil
}

// Order returns a copy of an order by ID.
func (b *SimulatorBroker) Order(orderID string) (*domain.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return nil, false
	}
	return copyOrder(o), true
}

// OpenOrders returns the resting orders, oldest first.
func (b *SimulatorBroker) OpenOrders() []domain.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Order, 0, len(b.resting))
	for _, r := range b.resting {
		if r.order.Status == domain.OrderStatusNew {
			out = append(out, *r.order)
		}
	}
	return out
}

// GetPositions returns all simulated positions sorted by symbol.
func (b *SimulatorBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	positions := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		positions = append(positions, *p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

// GetAccount returns simulated account information. Equity marks every
// position at its last price.
func (b *SimulatorBroker) GetAccount(_ context.Context) (*domain.AccountInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &domain.AccountInfo{
		Equity:      b.equity(),
		Cash:        b.cash,
		BuyingPower: b.cash,
		LastEquity:  b.lastEquity,
	}, nil
}

func (b *SimulatorBroker) equity() float64 {
	eq := b.cash
	for _, p := range b.positions {
		eq += p.MarketValue()
	}
	return eq
}

// StartDay records the current equity as the previous close, which the
// daily loss limits measure against.
func (b *SimulatorBroker) StartDay() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastEquity = b.equity()
}

func copyOrder(o *domain.Order) *domain.Order {
	c := *o
	return &c
}
