package backtest

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"tradeforge/internal/analytics"
	"tradeforge/internal/domain"
	"tradeforge/internal/risk"
	"tradeforge/internal/strategy"
)

// Exit reasons recorded on trades.
const (
	ReasonSignal       = "signal"
	ReasonStopLoss     = "stop_loss"
	ReasonTrailingStop = "trailing_stop"
	ReasonTakeProfit   = "take_profit"
)

// Rejection is an order the risk manager refused. Rejections never mutate
// the portfolio.
type Rejection struct {
	Timestamp time.Time        `json:"timestamp"`
	Side      domain.OrderSide `json:"side"`
	Quantity  float64          `json:"quantity"`
	Price     float64          `json:"price"`
	Reason    string           `json:"reason"`
}

// Result is the immutable outcome of one run.
type Result struct {
	RunID          string                  `json:"runId"`
	StrategyID     string                  `json:"strategyId,omitempty"`
	Kind           strategy.Kind           `json:"strategy"`
	Symbol         string                  `json:"symbol"`
	Start          time.Time               `json:"start"`
	End            time.Time               `json:"end"`
	Bars           int                     `json:"bars"`
	InitialCapital float64                 `json:"initialCapital"`
	FinalValue     float64                 `json:"finalValue"`
	Metrics        analytics.Metrics       `json:"metrics"`
	Trades         []domain.Trade          `json:"trades"`
	EquityCurve    []analytics.EquityPoint `json:"equityCurve"`
	Rejections     []Rejection             `json:"rejections"`
	OpenPosition   *Holding                `json:"openPosition,omitempty"`
}

// runNamespace roots the deterministic IDs of every run.
var runNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("tradeforge/backtest"))

// runID derives a stable identifier from the run inputs.
func runID(cfg Config, bars []domain.Bar) (uuid.UUID, error) {
	key, err := json.Marshal(cfg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encoding run config: %w", err)
	}
	first, last := bars[0].Timestamp.UnixNano(), bars[len(bars)-1].Timestamp.UnixNano()
	key = append(key, fmt.Sprintf("|%d|%d|%d", len(bars), first, last)...)
	return uuid.NewSHA1(runNamespace, key), nil
}

// simulation is the mutable state of one run.
type simulation struct {
	cfg      Config
	settings risk.Settings
	manager  *risk.Manager
	fill     FillModel
	loc      *time.Location
	id       uuid.UUID

	portfolio  *Portfolio
	trades     []domain.Trade
	rejections []Rejection
}

// Simulate runs strat over bars. For each bar in order it checks protective
// exits against the bar's range, asks the strategy for a signal, sizes and
// risk-checks any actionable order, fills it at the close with slippage and
// commission, and finally marks the portfolio to the close. Runs are
// deterministic: identical inputs produce identical results.
func Simulate(cfg Config, strat strategy.Strategy, bars []domain.Bar) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := domain.ValidateSeries(bars); err != nil {
		return nil, err
	}
	settings := cfg.RiskSettings()
	manager, err := risk.NewManager(settings)
	if err != nil {
		return nil, err
	}
	cal, err := settings.Calendar()
	if err != nil {
		return nil, err
	}
	plan, err := strat.Prepare(bars)
	if err != nil {
		return nil, fmt.Errorf("preparing %s strategy: %w", strat.Kind(), err)
	}
	id, err := runID(cfg, bars)
	if err != nil {
		return nil, err
	}

	s := &simulation{
		cfg:       cfg,
		settings:  settings,
		manager:   manager,
		fill:      NewFillModel(settings),
		loc:       cal.Location(),
		id:        id,
		portfolio: NewPortfolio(cfg.InitialCapital),
	}
	if err := s.run(plan, bars); err != nil {
		return nil, err
	}
	return s.result(bars), nil
}

func (s *simulation) run(plan strategy.Plan, bars []domain.Bar) error {
	symbol := s.cfg.Symbol
	dayStart := s.cfg.InitialCapital
	lastEquity := s.cfg.InitialCapital
	var day string

	for i, bar := range bars {
		if d := bar.Timestamp.In(s.loc).Format("2006-01-02"); d != day {
			day, dayStart = d, lastEquity
		}

		exited, err := s.protectiveExit(bar)
		if err != nil {
			return err
		}

		if !exited {
			// Only a position held before this bar sees its high; an entry
			// filled at the close starts from its fill price.
			s.portfolio.raiseHighWater(symbol, bar.High)

			pos := domain.PositionFlat
			if _, held := s.portfolio.Position(symbol); held {
				pos = domain.PositionLong
			}
			if sig, ready := plan.Signal(i, pos); ready && sig.Actionable(pos) {
				if err := s.act(sig, bar, dayStart); err != nil {
					return err
				}
			}
		}

		lastEquity = s.portfolio.Mark(bar.Timestamp, map[string]float64{symbol: bar.Close}).Equity
	}
	return nil
}

// protectiveExit closes the position when the bar trades through its stop
// or target. A bar that opens beyond a level fills at the open. When both
// levels are touched the stop wins.
func (s *simulation) protectiveExit(bar domain.Bar) (bool, error) {
	h, held := s.portfolio.Position(s.cfg.Symbol)
	if !held {
		return false, nil
	}
	st := s.settings

	var stop float64
	stopReason := ReasonStopLoss
	if st.StopLossPercent > 0 {
		stop = h.AvgPrice * (1 - st.StopLossPercent/100)
	}
	if st.UseTrailingStop && st.TrailingStopPercent > 0 {
		if trail := h.HighWater * (1 - st.TrailingStopPercent/100); trail > stop {
			stop, stopReason = trail, ReasonTrailingStop
		}
	}
	if stop > 0 {
		switch {
		case bar.Open <= stop:
			return true, s.exit(bar, h.Qty, bar.Open, stopReason)
		case bar.Low <= stop:
			return true, s.exit(bar, h.Qty, stop, stopReason)
		}
	}

	if st.TakeProfitPercent > 0 {
		target := h.AvgPrice * (1 + st.TakeProfitPercent/100)
		switch {
		case bar.Open >= target:
			return true, s.exit(bar, h.Qty, bar.Open, ReasonTakeProfit)
		case bar.High >= target:
			return true, s.exit(bar, h.Qty, target, ReasonTakeProfit)
		}
	}
	return false, nil
}

func (s *simulation) exit(bar domain.Bar, qty, trigger float64, reason string) error {
	px := s.fill.Price(domain.OrderSideSell, trigger)
	commission := s.fill.Commission(qty, px)
	realized, err := s.portfolio.Sell(s.cfg.Symbol, qty, px, commission)
	if err != nil {
		return err
	}
	s.record(domain.OrderSideSell, bar.Timestamp, qty, px, commission, reason, &realized)
	return nil
}

// act turns an actionable signal into a risk-checked fill at the close.
func (s *simulation) act(sig domain.Signal, bar domain.Bar, dayStart float64) error {
	symbol := s.cfg.Symbol
	prices := map[string]float64{symbol: bar.Close}
	snap := s.portfolio.Snapshot(prices, dayStart)

	if sig == domain.SignalSell {
		h, _ := s.portfolio.Position(symbol)
		px := s.fill.Price(domain.OrderSideSell, bar.Close)
		order := domain.OrderRequest{Symbol: symbol, Side: domain.OrderSideSell, Type: domain.OrderTypeMarket, Quantity: h.Qty, Price: px}
		if d := s.manager.CheckDay(order, snap, bar.Timestamp); !d.Allowed {
			s.reject(order, bar.Timestamp, d.Reason)
			return nil
		}
		return s.exit(bar, h.Qty, bar.Close, ReasonSignal)
	}

	px := s.fill.Price(domain.OrderSideBuy, bar.Close)
	order := domain.OrderRequest{Symbol: symbol, Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Price: px}

	qty, err := risk.Size(s.settings, px, snap.Equity)
	if err != nil {
		s.reject(order, bar.Timestamp, err.Error())
		return nil
	}
	affordable := risk.RoundQuantity(s.fill.Affordable(s.portfolio.Cash(), px), s.settings.AllowFractional)
	order.Quantity = math.Min(qty, affordable)
	if order.Quantity <= 0 {
		s.reject(order, bar.Timestamp, fmt.Sprintf("insufficient cash %.2f to buy at %.2f", s.portfolio.Cash(), px))
		return nil
	}
	if d := s.manager.CheckDay(order, snap, bar.Timestamp); !d.Allowed {
		s.reject(order, bar.Timestamp, d.Reason)
		return nil
	}

	commission := s.fill.Commission(order.Quantity, px)
	if err := s.portfolio.Buy(symbol, order.Quantity, px, commission, bar.Timestamp); err != nil {
		return err
	}
	s.record(domain.OrderSideBuy, bar.Timestamp, order.Quantity, px, commission, ReasonSignal, nil)
	return nil
}

func (s *simulation) reject(order domain.OrderRequest, at time.Time, reason string) {
	s.rejections = append(s.rejections, Rejection{
		Timestamp: at,
		Side:      order.Side,
		Quantity:  order.Quantity,
		Price:     order.Price,
		Reason:    reason,
	})
}

func (s *simulation) record(side domain.OrderSide, at time.Time, qty, px, commission float64, reason string, realized *float64) {
	seq := strconv.Itoa(len(s.trades))
	s.trades = append(s.trades, domain.Trade{
		ID:          uuid.NewSHA1(s.id, []byte(seq)).String(),
		Symbol:      s.cfg.Symbol,
		Action:      side,
		Quantity:    qty,
		Price:       px,
		Commission:  commission,
		Timestamp:   at,
		StrategyID:  s.cfg.StrategyID,
		Reason:      reason,
		RealizedPnL: realized,
	})
}

func (s *simulation) result(bars []domain.Bar) *Result {
	curve := s.portfolio.Curve()
	r := &Result{
		RunID:          s.id.String(),
		StrategyID:     s.cfg.StrategyID,
		Kind:           s.cfg.Kind,
		Symbol:         s.cfg.Symbol,
		Start:          bars[0].Timestamp,
		End:            bars[len(bars)-1].Timestamp,
		Bars:           len(bars),
		InitialCapital: s.cfg.InitialCapital,
		Metrics:        analytics.Compute(s.cfg.InitialCapital, s.trades, curve, s.cfg.annualization()),
		Trades:         s.trades,
		EquityCurve:    curve,
		Rejections:     s.rejections,
	}
	r.FinalValue = r.Metrics.FinalValue
	if r.Trades == nil {
		r.Trades = []domain.Trade{}
	}
	if r.Rejections == nil {
		r.Rejections = []Rejection{}
	}
	if h, ok := s.portfolio.Position(s.cfg.Symbol); ok {
		r.OpenPosition = &h
	}
	return r
}
