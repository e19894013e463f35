package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"tradeforge/internal/analytics"
	"tradeforge/internal/domain"
)

// Compile-time interface checks.
var _ BarStore = (*ParquetStore)(nil)
var _ RunStore = (*ParquetStore)(nil)

// DefaultMarket is the market directory used for bars.
const DefaultMarket = "us"

// ParquetStore implements BarStore and RunStore using Parquet files on disk.
type ParquetStore struct {
	DataDir string
	Market  string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir, Market: DefaultMarket}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

// TradeRecord is the Parquet schema for a simulated fill.
type TradeRecord struct {
	ID          string   `parquet:"id"`
	Symbol      string   `parquet:"symbol"`
	Action      string   `parquet:"action"`
	Quantity    float64  `parquet:"quantity"`
	Price       float64  `parquet:"price"`
	Commission  float64  `parquet:"commission"`
	Timestamp   int64    `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	StrategyID  string   `parquet:"strategy_id"`
	Reason      string   `parquet:"reason"`
	RealizedPnL *float64 `parquet:"realized_pnl,optional"`
}

// EquityRecord is the Parquet schema for one equity curve point.
type EquityRecord struct {
	Timestamp      int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Cash           float64 `parquet:"cash"`
	PositionsValue float64 `parquet:"positions_value"`
	Equity         float64 `parquet:"equity"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bar data to Parquet files organized by symbol and year.
// Each symbol+year combination produces a separate file at:
//
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) WriteBars(_ context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{symbol: strings.ToUpper(b.Symbol), year: b.Timestamp.UTC().Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol:     k.symbol,
			Timestamp:  b.Timestamp.UnixMilli(),
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			TradeCount: b.TradeCount,
			VWAP:       b.VWAP,
		})
	}

	for k, records := range groups {
		path := s.barPath(k.symbol, k.year)

		existing, err := readParquetFile[BarRecord](path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("reading bars for %s/%d: %w", k.symbol, k.year, err)
		}
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bar data from Parquet files for the given symbol and time
// range, in timestamp order.
func (s *ParquetStore) ReadBars(_ context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		records, err := readParquetFile[BarRecord](s.barPath(symbol, year))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("reading bars for %s/%d: %w", symbol, year, err)
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol:     r.Symbol,
				Timestamp:  ts,
				Open:       r.Open,
				High:       r.High,
				Low:        r.Low,
				Close:      r.Close,
				Volume:     r.Volume,
				TradeCount: r.TradeCount,
				VWAP:       r.VWAP,
			})
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols that have bar data.
func (s *ParquetStore) ListSymbols(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, s.market(), "daily"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// WriteRun exports a run's trades and equity curve to:
//
//	<DataDir>/runs/<runID>/trades.parquet
//	<DataDir>/runs/<runID>/equity.parquet
func (s *ParquetStore) WriteRun(_ context.Context, runID string, trades []domain.Trade, curve []analytics.EquityPoint) error {
	if runID == "" || strings.ContainsAny(runID, `/\`) {
		return domain.NewValidationError("runId", "invalid run id %q", runID)
	}

	tr := make([]TradeRecord, len(trades))
	for i, t := range trades {
		tr[i] = TradeRecord{
			ID:          t.ID,
			Symbol:      t.Symbol,
			Action:      string(t.Action),
			Quantity:    t.Quantity,
			Price:       t.Price,
			Commission:  t.Commission,
			Timestamp:   t.Timestamp.UnixMilli(),
			StrategyID:  t.StrategyID,
			Reason:      t.Reason,
			RealizedPnL: t.RealizedPnL,
		}
	}
	eq := make([]EquityRecord, len(curve))
	for i, p := range curve {
		eq[i] = EquityRecord{
			Timestamp:      p.Timestamp.UnixMilli(),
			Cash:           p.Cash,
			PositionsValue: p.PositionsValue,
			Equity:         p.Equity,
		}
	}

	if err := writeParquetFile(s.runPath(runID, "trades"), tr); err != nil {
		return fmt.Errorf("writing trades for run %s: %w", runID, err)
	}
	if err := writeParquetFile(s.runPath(runID, "equity"), eq); err != nil {
		return fmt.Errorf("writing equity for run %s: %w", runID, err)
	}
	return nil
}

// ReadRun reads back an exported run.
func (s *ParquetStore) ReadRun(_ context.Context, runID string) ([]domain.Trade, []analytics.EquityPoint, error) {
	tr, err := readParquetFile[TradeRecord](s.runPath(runID, "trades"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("reading trades for run %s: %w", runID, err)
	}
	eq, err := readParquetFile[EquityRecord](s.runPath(runID, "equity"))
	if err != nil {
		return nil, nil, fmt.Errorf("reading equity for run %s: %w", runID, err)
	}

	trades := make([]domain.Trade, len(tr))
	for i, r := range tr {
		trades[i] = domain.Trade{
			ID:          r.ID,
			Symbol:      r.Symbol,
			Action:      domain.OrderSide(r.Action),
			Quantity:    r.Quantity,
			Price:       r.Price,
			Commission:  r.Commission,
			Timestamp:   time.UnixMilli(r.Timestamp).UTC(),
			StrategyID:  r.StrategyID,
			Reason:      r.Reason,
			RealizedPnL: r.RealizedPnL,
		}
	}
	curve := make([]analytics.EquityPoint, len(eq))
	for i, r := range eq {
		curve[i] = analytics.EquityPoint{
			Timestamp:      time.UnixMilli(r.Timestamp).UTC(),
			Cash:           r.Cash,
			PositionsValue: r.PositionsValue,
			Equity:         r.Equity,
		}
	}
	return trades, curve, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

func (s *ParquetStore) market() string {
	if s.Market == "" {
		return DefaultMarket
	}
	return s.Market
}

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol string, year int) string {
	return filepath.Join(s.DataDir, s.market(), "daily", strings.ToUpper(symbol), strconv.Itoa(year)+".parquet")
}

// runPath returns the filesystem path for one file of an exported run.
// Layout: <dataDir>/runs/<runID>/<name>.parquet
func (s *ParquetStore) runPath(runID, name string) string {
	return filepath.Join(s.DataDir, "runs", runID, name+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[T](path)
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
