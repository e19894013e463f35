// Package backtest replays historical bars through a strategy, gates every
// order through the risk manager, and accounts for the resulting trades in
// a simulated portfolio.
package backtest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tradeforge/internal/analytics"
	"tradeforge/internal/domain"
	"tradeforge/internal/risk"
	"tradeforge/internal/strategy"
)

// Config describes one single-symbol run.
type Config struct {
	StrategyID          string          `json:"strategyId,omitempty"`
	Kind                strategy.Kind   `json:"strategy"`
	Params              json.RawMessage `json:"params,omitempty"`
	Symbol              string          `json:"symbol"`
	Start               Date            `json:"start"`
	End                 Date            `json:"end"`
	InitialCapital      float64         `json:"initialCapital"`
	Settings            *risk.Settings  `json:"settings,omitempty"`
	AnnualizationFactor float64         `json:"annualizationFactor,omitempty"`
}

// Validate checks the run description. It does not decode Params.
func (c Config) Validate() error {
	if _, err := strategy.ParseKind(string(c.Kind)); err != nil {
		return err
	}
	if strings.TrimSpace(c.Symbol) == "" {
		return domain.NewValidationError("symbol", "is required")
	}
	if c.InitialCapital <= 0 {
		return domain.NewValidationError("initialCapital", "must be positive, got %g", c.InitialCapital)
	}
	if !c.Start.IsZero() && !c.End.IsZero() && !c.End.After(c.Start.Time) {
		return domain.NewValidationError("end", "must be after start")
	}
	if c.AnnualizationFactor < 0 {
		return domain.NewValidationError("annualizationFactor", "must be >= 0, got %g", c.AnnualizationFactor)
	}
	if c.Settings != nil {
		return c.Settings.Validate()
	}
	return nil
}

// RiskSettings returns the configured settings or the defaults.
func (c Config) RiskSettings() risk.Settings {
	if c.Settings != nil {
		return *c.Settings
	}
	return risk.DefaultSettings()
}

// DefaultLookback is the window loaded when a run names no start date.
const DefaultLookback = 365 * 24 * time.Hour

// window returns the bar range to load. A zero end means now; a zero start
// means DefaultLookback before the end.
func (c Config) window(now time.Time) (time.Time, time.Time) {
	start, end := c.Start.Time, c.End.Time
	if end.IsZero() {
		end = now.UTC()
	}
	if start.IsZero() {
		start = end.Add(-DefaultLookback)
	}
	return start, end
}

func (c Config) annualization() float64 {
	if c.AnnualizationFactor > 0 {
		return c.AnnualizationFactor
	}
	return analytics.DefaultAnnualization
}

// Date is a time that decodes from either "2006-01-02" or RFC 3339.
type Date struct{ time.Time }

const dateLayout = "2006-01-02"

// ParseDate accepts "2006-01-02" or RFC 3339. Plain dates are UTC midnight.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return Date{t}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("parsing date %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return Date{t}, nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	if d.Equal(time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)) {
		return json.Marshal(d.Format(dateLayout))
	}
	return json.Marshal(d.Format(time.RFC3339))
}
