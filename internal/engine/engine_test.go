package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tradeforge/internal/broker"
	"tradeforge/internal/domain"
	"tradeforge/internal/risk"
	"tradeforge/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *broker.SimulatorBroker, *store.SQLiteStore) {
	t.Helper()
	sim := broker.NewSimulatorBroker(broker.WithCash(10000))
	sim.Mark("SPY", 100)
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewEngine(sim, db), sim, db
}

func TestNewEngine(t *testing.T) {
	e := NewEngine(broker.NewSimulatorBroker(), nil)
	if e == nil {
		t.Fatal("NewEngine returned nil")
	}
	if e.timeout != DefaultSubmitTimeout {
		t.Errorf("timeout = %v, want %v", e.timeout, DefaultSubmitTimeout)
	}
}

func TestSubmitOrderSizesAndFills(t *testing.T) {
	e, _, db := newTestEngine(t)
	ctx := context.Background()

	resp, err := e.SubmitOrder(ctx, domain.OrderRequest{Symbol: "SPY", Side: domain.OrderSideBuy, Price: 100}, risk.DefaultSettings())
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if resp.Error != "" {
		t.Fatalf("resp.Error = %q, want empty", resp.Error)
	}
	if resp.Request.Quantity != 10 {
		t.Errorf("sized quantity = %v, want 10", resp.Request.Quantity)
	}
	if resp.Order == nil || resp.Order.Status != domain.OrderStatusFilled {
		t.Fatalf("order = %+v, want filled", resp.Order)
	}

	saved, err := db.GetOrder(ctx, resp.Order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if saved.Status != domain.OrderStatusFilled {
		t.Errorf("saved status = %s, want filled", saved.Status)
	}

	positions, err := e.GetPositions(ctx)
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(positions) != 1 || positions[0].Qty != 10 {
		t.Errorf("positions = %+v, want 10 SPY", positions)
	}
}

func TestSubmitOrderRiskRejection(t *testing.T) {
	e, sim, _ := newTestEngine(t)
	ctx := context.Background()

	resp, err := e.SubmitOrder(ctx, domain.OrderRequest{Symbol: "SPY", Side: domain.OrderSideBuy, Price: 100, Quantity: 50}, risk.DefaultSettings())
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if !strings.Contains(resp.Error, "position size") {
		t.Errorf("resp.Error = %q, want position size rejection", resp.Error)
	}
	if resp.Order != nil {
		t.Errorf("resp.Order = %+v, want nil", resp.Order)
	}
	acct, _ := sim.GetAccount(ctx)
	if acct.Cash != 10000 {
		t.Errorf("Cash = %v, want untouched 10000", acct.Cash)
	}
}

func TestSubmitOrderWithoutPriceChecksSize(t *testing.T) {
	e, sim, _ := newTestEngine(t)
	ctx := context.Background()

	resp, err := e.SubmitOrder(ctx, domain.OrderRequest{Symbol: "SPY", Side: domain.OrderSideBuy, Quantity: 10000}, risk.DefaultSettings())
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if !strings.Contains(resp.Error, "position size") {
		t.Errorf("resp.Error = %q, want position size rejection", resp.Error)
	}
	if resp.Order != nil {
		t.Errorf("resp.Order = %+v, want nil", resp.Order)
	}

	// A held symbol is valued at the broker's current price.
	if _, err := sim.SubmitOrder(ctx, domain.OrderRequest{Symbol: "SPY", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Quantity: 1}); err != nil {
		t.Fatalf("seeding position: %v", err)
	}
	resp, err = e.SubmitOrder(ctx, domain.OrderRequest{Symbol: "SPY", Side: domain.OrderSideBuy, Quantity: 50}, risk.DefaultSettings())
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if resp.Request.Price != 100 {
		t.Errorf("Request.Price = %v, want 100", resp.Request.Price)
	}
	if !strings.Contains(resp.Error, "exceeds max position size") {
		t.Errorf("resp.Error = %q, want max position size rejection", resp.Error)
	}
}

func TestSubmitOrderBrokerFailure(t *testing.T) {
	e, _, db := newTestEngine(t)
	ctx := context.Background()

	resp, err := e.SubmitOrder(ctx, domain.OrderRequest{Symbol: "SPY", Side: domain.OrderSideSell, Quantity: 5}, risk.DefaultSettings())
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if !strings.Contains(resp.Error, "insufficient position") {
		t.Errorf("resp.Error = %q, want insufficient position", resp.Error)
	}
	rejected, err := db.ListOrders(ctx, domain.OrderStatusRejected)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(rejected) != 1 {
		t.Errorf("rejected orders = %d, want 1", len(rejected))
	}
}

func TestSubmitOrderValidation(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.SubmitOrder(context.Background(), domain.OrderRequest{Side: domain.OrderSideBuy, Quantity: 1}, risk.DefaultSettings())
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("error = %v, want ValidationError", err)
	}

	bad := risk.DefaultSettings()
	bad.StopLossPercent = -1
	if _, err := e.SubmitOrder(context.Background(), domain.OrderRequest{Symbol: "SPY", Side: domain.OrderSideBuy, Quantity: 1}, bad); err == nil {
		t.Error("invalid settings should fail")
	}
}

// slowBroker never answers SubmitOrder before its context ends.
type slowBroker struct{ *broker.SimulatorBroker }

func (slowBroker) SubmitOrder(ctx context.Context, _ domain.OrderRequest) (*domain.Order, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSubmitOrderTimeout(t *testing.T) {
	sim := broker.NewSimulatorBroker(broker.WithCash(10000))
	e := NewEngine(slowBroker{sim}, nil, WithTimeout(20*time.Millisecond))

	resp, err := e.SubmitOrder(context.Background(), domain.OrderRequest{Symbol: "SPY", Side: domain.OrderSideBuy, Price: 100, Quantity: 1}, risk.DefaultSettings())
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if !strings.Contains(resp.Error, "did not answer") {
		t.Errorf("resp.Error = %q, want timeout", resp.Error)
	}
}

func TestCancelOrder(t *testing.T) {
	e, _, db := newTestEngine(t)
	ctx := context.Background()

	resp, err := e.SubmitOrder(ctx, domain.OrderRequest{
		Symbol: "SPY", Side: domain.OrderSideBuy, Type: domain.OrderTypeLimit,
		Price: 100, LimitPrice: 90, Quantity: 1,
	}, risk.DefaultSettings())
	if err != nil || resp.Error != "" {
		t.Fatalf("SubmitOrder: %v %s", err, resp.Error)
	}
	if resp.Order.Status != domain.OrderStatusNew {
		t.Fatalf("status = %s, want new", resp.Order.Status)
	}

	if err := e.CancelOrder(ctx, resp.Order.ID); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	saved, err := db.GetOrder(ctx, resp.Order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if saved.Status != domain.OrderStatusCancelled {
		t.Errorf("status = %s, want cancelled", saved.Status)
	}

	if err := e.CancelOrder(ctx, "missing"); !errors.Is(err, broker.ErrOrderNotFound) {
		t.Errorf("CancelOrder(missing) = %v, want ErrOrderNotFound", err)
	}

	all, err := e.Orders(ctx, "")
	if err != nil {
		t.Fatalf("Orders: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("Orders = %d, want 1", len(all))
	}
}
