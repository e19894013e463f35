package backtest

import (
	"fmt"
	"sort"
	"time"

	"tradeforge/internal/analytics"
	"tradeforge/internal/risk"
)

// Holding is an open long position.
type Holding struct {
	Qty        float64   `json:"qty"`
	AvgPrice   float64   `json:"avg_price"`
	Commission float64   `json:"commission"` // entry commissions not yet realized
	EntryTime  time.Time `json:"entry_time"`
	HighWater  float64   `json:"high_water"`
}

// Portfolio is the cash, positions and equity curve of one run. It is
// owned by a single run and never shared.
type Portfolio struct {
	cash      float64
	positions map[string]*Holding
	curve     []analytics.EquityPoint
}

// NewPortfolio starts a portfolio with cash and no positions.
func NewPortfolio(cash float64) *Portfolio {
	return &Portfolio{cash: cash, positions: make(map[string]*Holding)}
}

// Cash returns uninvested cash.
func (p *Portfolio) Cash() float64 { return p.cash }

// Position returns a copy of the holding of symbol.
func (p *Portfolio) Position(symbol string) (Holding, bool) {
	h, ok := p.positions[symbol]
	if !ok {
		return Holding{}, false
	}
	return *h, true
}

// Buy adds qty shares at price, paying commission on top.
func (p *Portfolio) Buy(symbol string, qty, price, commission float64, at time.Time) error {
	cost := qty*price + commission
	if qty <= 0 || cost > p.cash+1e-9 {
		return fmt.Errorf("buying %g %s at %.4f: cost %.2f exceeds cash %.2f", qty, symbol, price, cost, p.cash)
	}
	p.cash -= cost
	h, ok := p.positions[symbol]
	if !ok {
		p.positions[symbol] = &Holding{Qty: qty, AvgPrice: price, Commission: commission, EntryTime: at, HighWater: price}
		return nil
	}
	h.AvgPrice = (h.AvgPrice*h.Qty + price*qty) / (h.Qty + qty)
	h.Qty += qty
	h.Commission += commission
	return nil
}

// Sell removes qty shares at price, net of commission, and returns the
// realized P&L including the matching share of entry commissions.
func (p *Portfolio) Sell(symbol string, qty, price, commission float64) (float64, error) {
	h, ok := p.positions[symbol]
	if !ok || qty <= 0 || qty > h.Qty+1e-9 {
		return 0, fmt.Errorf("selling %g %s: position is smaller", qty, symbol)
	}
	entryCommission := h.Commission * qty / h.Qty
	realized := (price-h.AvgPrice)*qty - commission - entryCommission

	p.cash += qty*price - commission
	h.Qty -= qty
	h.Commission -= entryCommission
	if h.Qty <= 1e-9 {
		delete(p.positions, symbol)
	}
	return realized, nil
}

// raiseHighWater records a new high for a trailing stop.
func (p *Portfolio) raiseHighWater(symbol string, high float64) {
	if h, ok := p.positions[symbol]; ok && high > h.HighWater {
		h.HighWater = high
	}
}

func (p *Portfolio) symbols() []string {
	out := make([]string, 0, len(p.positions))
	for s := range p.positions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Value marks positions at prices. Symbols missing from prices are marked
// at their average price.
func (p *Portfolio) Value(prices map[string]float64) (positions float64, values map[string]float64) {
	values = make(map[string]float64, len(p.positions))
	for _, s := range p.symbols() {
		h := p.positions[s]
		px, ok := prices[s]
		if !ok {
			px = h.AvgPrice
		}
		v := h.Qty * px
		values[s] = v
		positions += v
	}
	return positions, values
}

// Mark appends an equity snapshot at prices.
func (p *Portfolio) Mark(at time.Time, prices map[string]float64) analytics.EquityPoint {
	pv, _ := p.Value(prices)
	pt := analytics.EquityPoint{Timestamp: at, Cash: p.cash, PositionsValue: pv, Equity: p.cash + pv}
	p.curve = append(p.curve, pt)
	return pt
}

// Snapshot is the risk view of the portfolio at prices.
func (p *Portfolio) Snapshot(prices map[string]float64, dayStartEquity float64) risk.Snapshot {
	pv, values := p.Value(prices)
	return risk.Snapshot{
		Equity:         p.cash + pv,
		Cash:           p.cash,
		DayStartEquity: dayStartEquity,
		Positions:      values,
	}
}

// Curve returns the equity snapshots recorded so far.
func (p *Portfolio) Curve() []analytics.EquityPoint {
	return append([]analytics.EquityPoint(nil), p.curve...)
}
