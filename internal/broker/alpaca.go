package broker

import (
	"context"
	"errors"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"tradeforge/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaBroker implements the Broker interface using the Alpaca brokerage API.
type AlpacaBroker struct {
	client *alpaca.Client
}

// NewAlpacaBroker creates a new AlpacaBroker configured with the given
// credentials and API endpoint.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string) *AlpacaBroker {
	return &AlpacaBroker{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

func providerError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &domain.ProviderError{Provider: "alpaca", Op: op, Err: err}
}

func dec(v float64) *decimal.Decimal {
	if v == 0 {
		return nil
	}
	d := decimal.NewFromFloat(v)
	return &d
}

func flt(d *decimal.Decimal) float64 {
	if d == nil {
		return 0
	}
	return d.InexactFloat64()
}

// placeOrderRequest maps a prepared order onto the Alpaca request.
func placeOrderRequest(req domain.OrderRequest) alpaca.PlaceOrderRequest {
	r := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           dec(req.Quantity),
		Notional:      dec(req.Notional),
		Side:          alpaca.Side(req.Side),
		Type:          alpaca.OrderType(req.Type),
		TimeInForce:   alpaca.TimeInForce(req.TimeInForce),
		LimitPrice:    dec(req.LimitPrice),
		StopPrice:     dec(req.StopPrice),
		TrailPercent:  dec(req.TrailPercent),
		ClientOrderID: req.ClientOrderID,
	}
	switch req.Class {
	case domain.OrderClassBracket, domain.OrderClassOCO:
		r.OrderClass = alpaca.OrderClass(req.Class)
		r.TakeProfit = &alpaca.TakeProfit{LimitPrice: dec(req.TakeProfitPrice)}
		r.StopLoss = &alpaca.StopLoss{StopPrice: dec(req.StopLossPrice)}
	}
	return r
}

func toOrder(o *alpaca.Order) *domain.Order {
	status := domain.OrderStatusNew
	switch o.Status {
	case "filled":
		status = domain.OrderStatusFilled
	case "canceled", "expired":
		status = domain.OrderStatusCancelled
	case "rejected":
		status = domain.OrderStatusRejected
	}
	return &domain.Order{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Side:           domain.OrderSide(o.Side),
		Type:           domain.OrderType(o.Type),
		Status:         status,
		Qty:            flt(o.Qty),
		FilledQty:      o.FilledQty.InexactFloat64(),
		FilledAvgPrice: flt(o.FilledAvgPrice),
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

// SubmitOrder sends an order to the Alpaca API for execution.
func (b *AlpacaBroker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	o, err := call(ctx, func() (*alpaca.Order, error) {
		return b.client.PlaceOrder(placeOrderRequest(req))
	})
	if err != nil {
		return nil, providerError("place order", err)
	}
	return toOrder(o), nil
}

// CancelOrder requests cancellation of an open order via the Alpaca API.
func (b *AlpacaBroker) CancelOrder(ctx context.Context, orderID string) error {
	_, err := call(ctx, func() (struct{}, error) {
		return struct{}{}, b.client.CancelOrder(orderID)
	})
	if err != nil {
		return providerError("cancel order", err)
	}
	return nil
}

// GetPositions returns all current positions from the Alpaca account.
func (b *AlpacaBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	ps, err := call(ctx, b.client.GetPositions)
	if err != nil {
		return nil, providerError("get positions", err)
	}
	out := make([]domain.Position, 0, len(ps))
	for _, p := range ps {
		out = append(out, domain.Position{
			Symbol:       p.Symbol,
			Qty:          p.Qty.InexactFloat64(),
			AvgPrice:     p.AvgEntryPrice.InexactFloat64(),
			CurrentPrice: flt(p.CurrentPrice),
		})
	}
	return out, nil
}

// GetAccount returns the current account information from the Alpaca API.
func (b *AlpacaBroker) GetAccount(ctx context.Context) (*domain.AccountInfo, error) {
	a, err := call(ctx, b.client.GetAccount)
	if err != nil {
		return nil, providerError("get account", err)
	}
	return &domain.AccountInfo{
		Equity:      a.Equity.InexactFloat64(),
		Cash:        a.Cash.InexactFloat64(),
		BuyingPower: a.BuyingPower.InexactFloat64(),
		LastEquity:  a.LastEquity.InexactFloat64(),
	}, nil
}
