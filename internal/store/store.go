// Package store defines storage interfaces for persisting and retrieving
// bars, backtest runs, saved strategies and orders.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"tradeforge/internal/analytics"
	"tradeforge/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol within [start, end].
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols with stored bars.
	ListSymbols(ctx context.Context) ([]string, error)
}

// BarCache is a short-lived cache of bar ranges in front of a provider.
type BarCache interface {
	// GetBars returns the cached range and whether it was present.
	GetBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, bool, error)

	// SetBars caches a range.
	SetBars(ctx context.Context, symbol string, start, end time.Time, bars []domain.Bar) error
}

// RunStore exports the trades and equity curve of a backtest run.
type RunStore interface {
	WriteRun(ctx context.Context, runID string, trades []domain.Trade, curve []analytics.EquityPoint) error
	ReadRun(ctx context.Context, runID string) ([]domain.Trade, []analytics.EquityPoint, error)
}

// StrategyRecord is a saved strategy definition.
type StrategyRecord struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Kind      string          `json:"strategy"`
	Params    json.RawMessage `json:"params,omitempty"`
	Settings  json.RawMessage `json:"settings,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// StrategyStore persists strategy definitions.
type StrategyStore interface {
	// SaveStrategy inserts or replaces a strategy by ID.
	SaveStrategy(ctx context.Context, s *StrategyRecord) error

	// GetStrategy retrieves a strategy by ID.
	GetStrategy(ctx context.Context, id string) (*StrategyRecord, error)

	// ListStrategies returns every saved strategy, newest first.
	ListStrategies(ctx context.Context) ([]StrategyRecord, error)

	// DeleteStrategy removes a strategy by ID.
	DeleteStrategy(ctx context.Context, id string) error
}

// ResultRecord is the summary of a backtest run. Payload holds the full
// encoded result.
type ResultRecord struct {
	RunID          string          `json:"runId"`
	StrategyID     string          `json:"strategyId,omitempty"`
	Kind           string          `json:"strategy"`
	Symbol         string          `json:"symbol"`
	TotalReturnPct float64         `json:"totalReturnPct"`
	SharpeRatio    float64         `json:"sharpeRatio"`
	MaxDrawdownPct float64         `json:"maxDrawdownPct"`
	TotalTrades    int             `json:"totalTrades"`
	CreatedAt      time.Time       `json:"createdAt"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// ResultStore persists backtest results.
type ResultStore interface {
	// SaveResult inserts or replaces a result by run ID.
	SaveResult(ctx context.Context, r *ResultRecord) error

	// GetResult retrieves a result by run ID.
	GetResult(ctx context.Context, runID string) (*ResultRecord, error)

	// ListResults returns the most recent results, optionally filtered by
	// strategy ID, up to limit.
	ListResults(ctx context.Context, strategyID string, limit int) ([]ResultRecord, error)
}

// OrderStore persists and retrieves order records.
type OrderStore interface {
	// SaveOrder inserts a new order into storage.
	SaveOrder(ctx context.Context, order *domain.Order) error

	// GetOrder retrieves a single order by its ID.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// ListOrders returns all orders matching the given status. An empty
	// status lists every order.
	ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error)

	// UpdateOrder persists changes to an existing order.
	UpdateOrder(ctx context.Context, order *domain.Order) error
}
