// Package domain defines the core types shared across the tradeforge
// platform: price bars, signals, trades, orders, positions, and the error
// taxonomy used by the strategy and backtesting engine.
package domain

import (
	"fmt"
	"math"
	"time"
)

// Bar is one OHLCV price sample for a symbol at a point in time.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	TradeCount int64     `json:"trade_count,omitempty"`
	VWAP       float64   `json:"vwap,omitempty"`
}

// ValidateSeries checks that bars is non-empty, ordered by strictly
// increasing timestamps and priced with finite, positive OHLC values.
func ValidateSeries(bars []Bar) error {
	if len(bars) == 0 {
		return &DataError{Message: "price series is empty"}
	}
	for i, b := range bars {
		for _, p := range [...]struct {
			name  string
			value float64
		}{{"open", b.Open}, {"high", b.High}, {"low", b.Low}, {"close", b.Close}} {
			if math.IsNaN(p.value) || math.IsInf(p.value, 0) || p.value <= 0 {
				return &DataError{
					Message: fmt.Sprintf("price series has invalid %s price %v", p.name, p.value),
					Index:   i,
				}
			}
		}
		if i > 0 && !b.Timestamp.After(bars[i-1].Timestamp) {
			return &DataError{
				Message: "price series timestamps are not strictly increasing",
				Index:   i,
			}
		}
	}
	return nil
}

// Signal is the per-bar output of a strategy.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// PositionState is the FLAT/LONG state machine that governs which signals
// are actionable.
type PositionState string

const (
	PositionFlat PositionState = "FLAT"
	PositionLong PositionState = "LONG"
)

// Actionable reports whether the signal may act on the given position
// state: BUY only when FLAT, SELL only when LONG.
func (s Signal) Actionable(pos PositionState) bool {
	switch s {
	case SignalBuy:
		return pos == PositionFlat
	case SignalSell:
		return pos == PositionLong
	default:
		return false
	}
}

// Gate downgrades a non-actionable signal to HOLD.
func (s Signal) Gate(pos PositionState) Signal {
	if s.Actionable(pos) {
		return s
	}
	return SignalHold
}

// OrderSide indicates whether an order is a buy or a sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType enumerates supported order types.
type OrderType string

const (
	OrderTypeMarket       OrderType = "market"
	OrderTypeLimit        OrderType = "limit"
	OrderTypeStop         OrderType = "stop"
	OrderTypeStopLimit    OrderType = "stop_limit"
	OrderTypeTrailingStop OrderType = "trailing_stop"
)

// TimeInForce enumerates order durations.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
	TimeInForceFOK TimeInForce = "fok"
)

// OrderClass distinguishes simple orders from bracket and OCO groups.
type OrderClass string

const (
	OrderClassSimple  OrderClass = "simple"
	OrderClassBracket OrderClass = "bracket"
	OrderClassOCO     OrderClass = "oco"
)

// OrderStatus tracks the lifecycle of an order.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "new"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Trade is one simulated or executed fill. Quantity is always positive; the
// direction is carried by Action.
type Trade struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Action      OrderSide `json:"action"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	Commission  float64   `json:"commission"`
	Timestamp   time.Time `json:"timestamp"`
	StrategyID  string    `json:"strategy_id"`
	Reason      string    `json:"reason,omitempty"`
	RealizedPnL *float64  `json:"realized_pnl,omitempty"`
}

// IsClosing reports whether the trade closed a position.
func (t Trade) IsClosing() bool { return t.RealizedPnL != nil }

// OrderRequest is an order as assembled by the engine before submission.
// Quantity and Notional are mutually exclusive; zero means "size me".
type OrderRequest struct {
	ClientOrderID   string      `json:"client_order_id,omitempty"`
	Symbol          string      `json:"symbol"`
	Side            OrderSide   `json:"side"`
	Type            OrderType   `json:"type,omitempty"`
	TimeInForce     TimeInForce `json:"time_in_force,omitempty"`
	Class           OrderClass  `json:"order_class,omitempty"`
	Quantity        float64     `json:"quantity,omitempty"`
	Notional        float64     `json:"notional,omitempty"`
	Price           float64     `json:"price"`
	LimitPrice      float64     `json:"limit_price,omitempty"`
	StopPrice       float64     `json:"stop_price,omitempty"`
	TakeProfitPrice float64     `json:"take_profit_price,omitempty"`
	StopLossPrice   float64     `json:"stop_loss_price,omitempty"`
	TrailPercent    float64     `json:"trail_percent,omitempty"`
}

// NotionalValue returns the order's value at its reference price.
func (o OrderRequest) NotionalValue() float64 {
	if o.Notional > 0 {
		return o.Notional
	}
	return o.Quantity * o.Price
}

// Order is an order as acknowledged by a broker.
type Order struct {
	ID             string      `json:"id"`
	ClientOrderID  string      `json:"client_order_id,omitempty"`
	Symbol         string      `json:"symbol"`
	Side           OrderSide   `json:"side"`
	Type           OrderType   `json:"type"`
	Status         OrderStatus `json:"status"`
	Qty            float64     `json:"qty"`
	FilledQty      float64     `json:"filled_qty"`
	FilledAvgPrice float64     `json:"filled_avg_price"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// OrderResponse is the outcome of a live order submission. Provider
// failures and risk rejections are reported in Error rather than returned.
type OrderResponse struct {
	Order   *Order       `json:"order,omitempty"`
	Request OrderRequest `json:"request"`
	Error   string       `json:"error,omitempty"`
}

// Position is a held quantity of one symbol.
type Position struct {
	Symbol       string  `json:"symbol"`
	Qty          float64 `json:"qty"`
	AvgPrice     float64 `json:"avg_price"`
	CurrentPrice float64 `json:"current_price"`
}

// MarketValue returns the position's value at its current price.
func (p Position) MarketValue() float64 { return p.Qty * p.CurrentPrice }

// AccountInfo is a snapshot of an account's financial metrics.
type AccountInfo struct {
	Equity      float64 `json:"equity"`
	Cash        float64 `json:"cash"`
	BuyingPower float64 `json:"buying_power"`
	LastEquity  float64 `json:"last_equity"`
}
