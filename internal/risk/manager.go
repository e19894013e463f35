package risk

import (
	"fmt"
	"time"

	"tradeforge/internal/domain"
	"tradeforge/internal/util"
)

// Decision is the outcome of a risk check. A rejected order carries a
// human-readable Reason and must not be applied in any part.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

func reject(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// Snapshot is the portfolio state an order is checked against.
type Snapshot struct {
	Equity         float64            `json:"equity"`
	Cash           float64            `json:"cash"`
	DayStartEquity float64            `json:"day_start_equity"`
	Positions      map[string]float64 `json:"positions"` // symbol -> market value
}

// OpenPositions counts symbols with a non-zero holding.
func (s Snapshot) OpenPositions() int {
	n := 0
	for _, v := range s.Positions {
		if v != 0 {
			n++
		}
	}
	return n
}

// DailyLoss is the drawdown from the day's starting equity, zero when up.
func (s Snapshot) DailyLoss() float64 {
	if s.DayStartEquity <= 0 || s.Equity >= s.DayStartEquity {
		return 0
	}
	return s.DayStartEquity - s.Equity
}

// Manager enforces pre-trade risk rules for one session's settings.
type Manager struct {
	settings Settings
	calendar *util.TradingCalendar
}

// NewManager validates settings and builds their trading window.
func NewManager(settings Settings) (*Manager, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	cal, err := settings.Calendar()
	if err != nil {
		return nil, err
	}
	return &Manager{settings: settings, calendar: cal}, nil
}

// Settings returns the manager's settings.
func (m *Manager) Settings() Settings { return m.settings }

// Check evaluates order at time at. Checks run in a fixed order and the
// first failure wins: trading window, max open positions, max position
// size, then max daily loss (absolute before percentage). Sell orders
// reduce exposure and are gated by the trading window only.
func (m *Manager) Check(order domain.OrderRequest, snap Snapshot, at time.Time) Decision {
	if !m.calendar.IsMarketOpen(at) {
		local := at.In(m.calendar.Location())
		if !m.calendar.IsTradingDay(at) {
			return reject("outside trading window: %s is not a trading day", local.Weekday())
		}
		return reject("outside trading window: %s is outside trading hours %s-%s",
			local.Format("15:04"), m.settings.TradingHoursStart, m.settings.TradingHoursEnd)
	}
	return m.checkLimits(order, snap)
}

// CheckDay is Check for an order placed on a daily bar. Daily bars carry
// a session date rather than a time of day, so the window is enforced on
// trading days only and the hours are not consulted.
func (m *Manager) CheckDay(order domain.OrderRequest, snap Snapshot, day time.Time) Decision {
	if !m.calendar.IsTradingDay(day) {
		return reject("outside trading window: %s is not a trading day", day.In(m.calendar.Location()).Weekday())
	}
	return m.checkLimits(order, snap)
}

func (m *Manager) checkLimits(order domain.OrderRequest, snap Snapshot) Decision {
	s := m.settings
	if order.Side == domain.OrderSideSell {
		return allow()
	}

	held := snap.Positions[order.Symbol] != 0
	if s.MaxOpenPositions > 0 && !held && snap.OpenPositions() >= s.MaxOpenPositions {
		return reject("max open positions reached: %d of %d", snap.OpenPositions(), s.MaxOpenPositions)
	}

	if s.MaxPositionSizePercent > 0 {
		if snap.Equity <= 0 {
			return reject("position size cannot be checked against non-positive equity %.2f", snap.Equity)
		}
		notional, ok := referenceNotional(order)
		if !ok {
			return reject("position size of %g %s cannot be checked without a reference price", order.Quantity, order.Symbol)
		}
		pct := (snap.Positions[order.Symbol] + notional) / snap.Equity * 100
		if pct > s.MaxPositionSizePercent+1e-9 {
			return reject("position size %.2f%% of portfolio exceeds max position size %.2f%%", pct, s.MaxPositionSizePercent)
		}
	}

	loss := snap.DailyLoss()
	if s.MaxDailyLoss > 0 && loss >= s.MaxDailyLoss {
		return reject("daily loss %.2f reached max daily loss %.2f", loss, s.MaxDailyLoss)
	}
	if s.MaxDailyLossPercent > 0 && snap.DayStartEquity > 0 {
		pct := loss / snap.DayStartEquity * 100
		if pct >= s.MaxDailyLossPercent {
			return reject("daily loss %.2f%% reached max daily loss %.2f%%", pct, s.MaxDailyLossPercent)
		}
	}
	return allow()
}

// referenceNotional values order at its reference price, falling back to
// its limit price. It reports false when a quantity order carries neither.
func referenceNotional(order domain.OrderRequest) (float64, bool) {
	if order.Notional > 0 {
		return order.Notional, true
	}
	switch {
	case order.Price > 0:
		return order.Quantity * order.Price, true
	case order.LimitPrice > 0:
		return order.Quantity * order.LimitPrice, true
	}
	return 0, order.Quantity == 0
}
