// Package risk validates, sizes and gates orders against a session's risk
// settings. The same checks run in backtests and on the live order path.
package risk

import (
	"time"

	"tradeforge/internal/domain"
	"tradeforge/internal/util"
)

// SizingMethod selects how an order's quantity is derived when the caller
// does not give one.
type SizingMethod string

const (
	SizingFixedQuantity      SizingMethod = "fixed_quantity"
	SizingFixedAmount        SizingMethod = "fixed_amount"
	SizingPercentOfPortfolio SizingMethod = "percent_of_portfolio"
	SizingRiskBased          SizingMethod = "risk_based"
)

// SlippageModel selects how fills deviate from the reference price.
type SlippageModel string

const (
	SlippageNone       SlippageModel = "none"
	SlippageFixed      SlippageModel = "fixed"
	SlippagePercentage SlippageModel = "percentage"
)

// Settings is the per-session risk and execution configuration. It is
// immutable for the duration of a run. Zero limits are disabled.
type Settings struct {
	StopLossPercent        float64 `json:"stop_loss_percentage" yaml:"stop_loss_percentage"`
	TakeProfitPercent      float64 `json:"take_profit_percentage" yaml:"take_profit_percentage"`
	MaxPositionSizePercent float64 `json:"max_position_size_percentage" yaml:"max_position_size_percentage"`
	MaxDailyLossPercent    float64 `json:"max_daily_loss_percentage" yaml:"max_daily_loss_percentage"`
	MaxDailyLoss           float64 `json:"max_daily_loss" yaml:"max_daily_loss"`
	MaxOpenPositions       int     `json:"max_open_positions" yaml:"max_open_positions"`

	TimeInForce      domain.TimeInForce `json:"time_in_force" yaml:"time_in_force"`
	DefaultOrderType domain.OrderType   `json:"default_order_type" yaml:"default_order_type"`

	PositionSizingMethod SizingMethod `json:"position_sizing_method" yaml:"position_sizing_method"`
	PositionSizeValue    float64      `json:"position_size_value" yaml:"position_size_value"`
	AllowFractional      bool         `json:"allow_fractional" yaml:"allow_fractional"`

	// Empty hours mean the whole day; empty days mean every day.
	TradingHoursStart string   `json:"trading_hours_start" yaml:"trading_hours_start"`
	TradingHoursEnd   string   `json:"trading_hours_end" yaml:"trading_hours_end"`
	TradingDays       []string `json:"trading_days" yaml:"trading_days"`
	Timezone          string   `json:"timezone" yaml:"timezone"`

	UseTrailingStop     bool    `json:"use_trailing_stop" yaml:"use_trailing_stop"`
	TrailingStopPercent float64 `json:"trailing_stop_percentage" yaml:"trailing_stop_percentage"`
	UseBracketOrders    bool    `json:"use_bracket_orders" yaml:"use_bracket_orders"`
	UseOCOOrders        bool    `json:"use_oco_orders" yaml:"use_oco_orders"`

	CommissionRate float64       `json:"commission_rate" yaml:"commission_rate"`
	SlippageModel  SlippageModel `json:"slippage_model" yaml:"slippage_model"`
	SlippageValue  float64       `json:"slippage_value" yaml:"slippage_value"`
}

// DefaultSettings returns conservative settings: 10% of the portfolio per
// position, at most 25% in one symbol, five open positions, market day
// orders, no costs.
func DefaultSettings() Settings {
	return Settings{
		MaxPositionSizePercent: 25,
		MaxOpenPositions:       5,
		TimeInForce:            domain.TimeInForceDay,
		DefaultOrderType:       domain.OrderTypeMarket,
		PositionSizingMethod:   SizingPercentOfPortfolio,
		PositionSizeValue:      10,
		SlippageModel:          SlippageNone,
	}
}

func percent(field string, v float64) error {
	if v < 0 || v > 100 {
		return domain.NewValidationError(field, "must be between 0 and 100, got %g", v)
	}
	return nil
}

// Validate checks every field against its allowed range.
func (s Settings) Validate() error {
	for _, p := range []struct {
		field string
		v     float64
	}{
		{"stop_loss_percentage", s.StopLossPercent},
		{"take_profit_percentage", s.TakeProfitPercent},
		{"max_position_size_percentage", s.MaxPositionSizePercent},
		{"max_daily_loss_percentage", s.MaxDailyLossPercent},
		{"trailing_stop_percentage", s.TrailingStopPercent},
	} {
		if err := percent(p.field, p.v); err != nil {
			return err
		}
	}
	if s.MaxDailyLoss < 0 {
		return domain.NewValidationError("max_daily_loss", "must be >= 0, got %g", s.MaxDailyLoss)
	}
	if s.MaxOpenPositions < 0 {
		return domain.NewValidationError("max_open_positions", "must be >= 0, got %d", s.MaxOpenPositions)
	}

	switch s.TimeInForce {
	case "", domain.TimeInForceDay, domain.TimeInForceGTC, domain.TimeInForceIOC, domain.TimeInForceFOK:
	default:
		return domain.NewValidationError("time_in_force", "unknown time in force %q", s.TimeInForce)
	}
	switch s.DefaultOrderType {
	case "", domain.OrderTypeMarket, domain.OrderTypeLimit, domain.OrderTypeStop,
		domain.OrderTypeStopLimit, domain.OrderTypeTrailingStop:
	default:
		return domain.NewValidationError("default_order_type", "unknown order type %q", s.DefaultOrderType)
	}

	switch s.PositionSizingMethod {
	case SizingFixedQuantity, SizingFixedAmount:
	case SizingPercentOfPortfolio:
		if err := percent("position_size_value", s.PositionSizeValue); err != nil {
			return err
		}
	case SizingRiskBased:
		if err := percent("position_size_value", s.PositionSizeValue); err != nil {
			return err
		}
		if s.StopLossPercent <= 0 {
			return domain.NewValidationError("stop_loss_percentage", "risk_based sizing requires a stop loss")
		}
	default:
		return domain.NewValidationError("position_sizing_method", "unknown sizing method %q", s.PositionSizingMethod)
	}
	if s.PositionSizeValue <= 0 {
		return domain.NewValidationError("position_size_value", "must be positive, got %g", s.PositionSizeValue)
	}

	if s.UseTrailingStop && s.TrailingStopPercent <= 0 {
		return domain.NewValidationError("trailing_stop_percentage", "is required when use_trailing_stop is set")
	}
	if s.UseBracketOrders && (s.StopLossPercent <= 0 || s.TakeProfitPercent <= 0) {
		return domain.NewValidationError("use_bracket_orders", "bracket orders need both stop_loss_percentage and take_profit_percentage")
	}
	if s.UseOCOOrders && (s.StopLossPercent <= 0 || s.TakeProfitPercent <= 0) {
		return domain.NewValidationError("use_oco_orders", "oco orders need both stop_loss_percentage and take_profit_percentage")
	}

	if s.CommissionRate < 0 || s.CommissionRate >= 1 {
		return domain.NewValidationError("commission_rate", "must be in [0, 1), got %g", s.CommissionRate)
	}
	switch s.SlippageModel {
	case "", SlippageNone:
	case SlippageFixed:
		if s.SlippageValue < 0 {
			return domain.NewValidationError("slippage_value", "must be >= 0, got %g", s.SlippageValue)
		}
	case SlippagePercentage:
		if err := percent("slippage_value", s.SlippageValue); err != nil {
			return err
		}
	default:
		return domain.NewValidationError("slippage_model", "unknown slippage model %q", s.SlippageModel)
	}

	_, err := s.Calendar()
	return err
}

// Calendar builds the trading window described by the hours, days and
// timezone fields.
func (s Settings) Calendar() (*util.TradingCalendar, error) {
	loc := time.UTC
	if s.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(s.Timezone); err != nil {
			return nil, domain.NewValidationError("timezone", "unknown time zone %q", s.Timezone)
		}
	}

	var open, close time.Duration
	if s.TradingHoursStart != "" || s.TradingHoursEnd != "" {
		var err error
		if open, err = util.ParseClock(s.TradingHoursStart); err != nil {
			return nil, domain.NewValidationError("trading_hours_start", "%v", err)
		}
		if close, err = util.ParseClock(s.TradingHoursEnd); err != nil {
			return nil, domain.NewValidationError("trading_hours_end", "%v", err)
		}
		if open >= close {
			return nil, domain.NewValidationError("trading_hours_end", "must be after trading_hours_start")
		}
	}

	days := make([]time.Weekday, 0, len(s.TradingDays))
	for _, d := range s.TradingDays {
		wd, err := util.ParseWeekday(d)
		if err != nil {
			return nil, domain.NewValidationError("trading_days", "%v", err)
		}
		days = append(days, wd)
	}
	return util.NewTradingCalendar(loc, open, close, days), nil
}
