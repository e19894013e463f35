package risk

import (
	"github.com/shopspring/decimal"

	"tradeforge/internal/domain"
)

// fractionalPlaces is the share precision used when fractional orders are
// allowed.
const fractionalPlaces = 6

// Size derives an order quantity from the settings' sizing method at the
// given price and portfolio value. The result is whole shares unless
// AllowFractional is set, and is never negative.
func Size(s Settings, price, portfolioValue float64) (float64, error) {
	if price <= 0 {
		return 0, domain.NewValidationError("price", "must be positive to size an order, got %g", price)
	}
	var qty decimal.Decimal
	p := decimal.NewFromFloat(price)
	v := decimal.NewFromFloat(s.PositionSizeValue)
	pv := decimal.NewFromFloat(portfolioValue)
	hundred := decimal.NewFromInt(100)

	switch s.PositionSizingMethod {
	case SizingFixedQuantity:
		qty = v
	case SizingFixedAmount:
		qty = v.Div(p)
	case SizingPercentOfPortfolio:
		qty = pv.Mul(v).Div(hundred).Div(p)
	case SizingRiskBased:
		if s.StopLossPercent <= 0 {
			return 0, domain.NewValidationError("stop_loss_percentage", "risk_based sizing requires a stop loss")
		}
		riskAmount := pv.Mul(v).Div(hundred)
		perShare := p.Mul(decimal.NewFromFloat(s.StopLossPercent)).Div(hundred)
		qty = riskAmount.Div(perShare)
	default:
		return 0, domain.NewValidationError("position_sizing_method", "unknown sizing method %q", s.PositionSizingMethod)
	}
	if qty.IsNegative() {
		return 0, nil
	}
	return roundQty(qty, s.AllowFractional).InexactFloat64(), nil
}

// RoundQuantity floors q to whole shares, or to six decimal places when
// fractional shares are allowed.
func RoundQuantity(q float64, fractional bool) float64 {
	return roundQty(decimal.NewFromFloat(q), fractional).InexactFloat64()
}

func roundQty(q decimal.Decimal, fractional bool) decimal.Decimal {
	if fractional {
		return q.Truncate(fractionalPlaces)
	}
	return q.Floor()
}

// RoundPrice rounds a price to cents.
func RoundPrice(p float64) float64 {
	return decimal.NewFromFloat(p).Round(2).InexactFloat64()
}

func pct(p, percent float64, up bool) float64 {
	f := decimal.NewFromFloat(percent).Div(decimal.NewFromInt(100))
	if !up {
		f = f.Neg()
	}
	return decimal.NewFromFloat(p).Mul(decimal.NewFromInt(1).Add(f)).Round(2).InexactFloat64()
}

// PrepareOrder completes base from settings. Missing quantity is sized
// against portfolioValue; missing order type and time in force take the
// defaults. Buys become bracket orders when brackets are enabled; sells
// become trailing stops or OCO exits when those are enabled and no explicit
// type was given. Prices are rounded to cents.
func PrepareOrder(base domain.OrderRequest, s Settings, portfolioValue float64) (domain.OrderRequest, error) {
	o := base
	if o.Symbol == "" {
		return o, domain.NewValidationError("symbol", "is required")
	}
	switch o.Side {
	case domain.OrderSideBuy, domain.OrderSideSell:
	default:
		return o, domain.NewValidationError("side", "must be buy or sell, got %q", o.Side)
	}
	if o.Quantity < 0 || o.Notional < 0 {
		return o, domain.NewValidationError("quantity", "must not be negative")
	}
	if o.Quantity > 0 && o.Notional > 0 {
		return o, domain.NewValidationError("notional", "quantity and notional are mutually exclusive")
	}

	if o.Quantity == 0 && o.Notional == 0 {
		qty, err := Size(s, o.Price, portfolioValue)
		if err != nil {
			return o, err
		}
		if qty <= 0 {
			return o, domain.NewValidationError("quantity", "sizing produced no shares at price %.2f", o.Price)
		}
		o.Quantity = qty
	} else if o.Quantity > 0 {
		q := decimal.NewFromFloat(o.Quantity)
		if !s.AllowFractional && !q.Equal(q.Floor()) {
			return o, domain.NewValidationError("quantity", "fractional quantity %g not allowed", o.Quantity)
		}
		o.Quantity = q.Truncate(fractionalPlaces).InexactFloat64()
	} else {
		o.Notional = RoundPrice(o.Notional)
	}

	explicitType := o.Type != ""
	if !explicitType {
		o.Type = s.DefaultOrderType
		if o.Type == "" {
			o.Type = domain.OrderTypeMarket
		}
	}
	if o.TimeInForce == "" {
		o.TimeInForce = s.TimeInForce
		if o.TimeInForce == "" {
			o.TimeInForce = domain.TimeInForceDay
		}
	}
	if o.Class == "" {
		o.Class = domain.OrderClassSimple
	}

	switch {
	case o.Side == domain.OrderSideBuy && s.UseBracketOrders && o.Price > 0:
		o.Class = domain.OrderClassBracket
		o.TakeProfitPrice = pct(o.Price, s.TakeProfitPercent, true)
		o.StopLossPrice = pct(o.Price, s.StopLossPercent, false)
	case o.Side == domain.OrderSideSell && s.UseTrailingStop && !explicitType:
		o.Type = domain.OrderTypeTrailingStop
		o.TrailPercent = s.TrailingStopPercent
	case o.Side == domain.OrderSideSell && s.UseOCOOrders && o.Price > 0:
		o.Class = domain.OrderClassOCO
		o.Type = domain.OrderTypeLimit
		o.TakeProfitPrice = pct(o.Price, s.TakeProfitPercent, true)
		o.StopLossPrice = pct(o.Price, s.StopLossPercent, false)
	}

	switch o.Type {
	case domain.OrderTypeLimit, domain.OrderTypeStopLimit:
		if o.LimitPrice == 0 {
			o.LimitPrice = o.Price
		}
		if o.LimitPrice <= 0 {
			return o, domain.NewValidationError("limit_price", "is required for %s orders", o.Type)
		}
	}
	switch o.Type {
	case domain.OrderTypeStop, domain.OrderTypeStopLimit:
		if o.StopPrice == 0 {
			o.StopPrice = o.Price
		}
		if o.StopPrice <= 0 {
			return o, domain.NewValidationError("stop_price", "is required for %s orders", o.Type)
		}
	case domain.OrderTypeTrailingStop:
		if o.TrailPercent <= 0 {
			o.TrailPercent = s.TrailingStopPercent
		}
		if o.TrailPercent <= 0 {
			return o, domain.NewValidationError("trail_percent", "is required for trailing stop orders")
		}
	}

	o.Price = RoundPrice(o.Price)
	o.LimitPrice = RoundPrice(o.LimitPrice)
	o.StopPrice = RoundPrice(o.StopPrice)
	return o, nil
}
