package backtest

import (
	"math"

	"tradeforge/internal/domain"
	"tradeforge/internal/risk"
)

// FillModel turns a reference price into an executed price and commission.
// Slippage always moves the price against the trader.
type FillModel struct {
	Slippage       risk.SlippageModel
	SlippageValue  float64
	CommissionRate float64
}

// NewFillModel reads the cost fields of settings.
func NewFillModel(s risk.Settings) FillModel {
	return FillModel{Slippage: s.SlippageModel, SlippageValue: s.SlippageValue, CommissionRate: s.CommissionRate}
}

// Price applies slippage for side to ref.
func (f FillModel) Price(side domain.OrderSide, ref float64) float64 {
	var adj float64
	switch f.Slippage {
	case risk.SlippageFixed:
		adj = f.SlippageValue
	case risk.SlippagePercentage:
		adj = ref * f.SlippageValue / 100
	}
	if side == domain.OrderSideSell {
		return math.Max(ref-adj, 0)
	}
	return ref + adj
}

// Commission is CommissionRate times the fill's notional value.
func (f FillModel) Commission(qty, price float64) float64 {
	return f.CommissionRate * qty * price
}

// Affordable is the largest quantity whose cost plus commission fits in
// cash at price.
func (f FillModel) Affordable(cash, price float64) float64 {
	if price <= 0 || cash <= 0 {
		return 0
	}
	return cash / (price * (1 + f.CommissionRate))
}
