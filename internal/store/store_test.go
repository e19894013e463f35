package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tradeforge/internal/analytics"
	"tradeforge/internal/domain"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	bp := ps.barPath("aapl", 2024)
	wantBarPath := filepath.Join("/data", "us", "daily", "AAPL", "2024.parquet")
	if bp != wantBarPath {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", bp, wantBarPath)
	}

	rp := ps.runPath("run-1", "trades")
	wantRunPath := filepath.Join("/data", "runs", "run-1", "trades.parquet")
	if rp != wantRunPath {
		t.Errorf("runPath mismatch:\n  got  %s\n  want %s", rp, wantRunPath)
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{
			Symbol:     "AAPL",
			Timestamp:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			Open:       185.0,
			High:       186.5,
			Low:        184.0,
			Close:      185.5,
			Volume:     50000000,
			TradeCount: 500000,
			VWAP:       185.25,
		},
		{
			Symbol:     "AAPL",
			Timestamp:  time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			Open:       185.5,
			High:       187.0,
			Low:        185.0,
			Close:      186.0,
			Volume:     45000000,
			TradeCount: 450000,
			VWAP:       185.75,
		},
	}

	if err := ps.WriteBars(ctx, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, "AAPL", start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(got))
	}
	if got[0].Close != 185.5 {
		t.Errorf("first bar Close = %v, want 185.5", got[0].Close)
	}
	if got[1].Close != 186.0 {
		t.Errorf("second bar Close = %v, want 186.0", got[1].Close)
	}
	if !got[0].Timestamp.Equal(bars[0].Timestamp) || got[0].Timestamp.Location() != time.UTC {
		t.Errorf("first bar Timestamp = %v, want %v in UTC", got[0].Timestamp, bars[0].Timestamp)
	}

	// Range bounds are inclusive.
	got, err = ps.ReadBars(ctx, "AAPL", bars[1].Timestamp, bars[1].Timestamp)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("ReadBars(single day) returned %d bars, want 1", len(got))
	}

	got, err = ps.ReadBars(ctx, "MISSING", start, end)
	if err != nil || len(got) != 0 {
		t.Errorf("ReadBars(MISSING) = %v, %v; want no bars and no error", got, err)
	}
}

func TestParquetStoreMergeBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars1 := []domain.Bar{
		{
			Symbol:    "MSFT",
			Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Open:      400.0, High: 405.0, Low: 399.0, Close: 403.0,
			Volume: 30000000, TradeCount: 300000, VWAP: 402.0,
		},
	}
	if err := ps.WriteBars(ctx, bars1); err != nil {
		t.Fatalf("WriteBars (first): %v", err)
	}

	// Another bar for the same symbol and year merges rather than overwrites,
	// and a rewrite of an existing day replaces it.
	bars2 := []domain.Bar{
		{
			Symbol:    "MSFT",
			Timestamp: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
			Open:      403.0, High: 410.0, Low: 402.0, Close: 408.0,
			Volume: 35000000, TradeCount: 350000, VWAP: 406.0,
		},
		{
			Symbol:    "MSFT",
			Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Open:      400.0, High: 405.0, Low: 399.0, Close: 404.0,
			Volume: 30000000, TradeCount: 300000, VWAP: 402.0,
		},
	}
	if err := ps.WriteBars(ctx, bars2); err != nil {
		t.Fatalf("WriteBars (second): %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, "MSFT", start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars after merge, want 2", len(got))
	}
	if got[0].Close != 404.0 {
		t.Errorf("replaced bar Close = %v, want 404.0", got[0].Close)
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{Symbol: "AAPL", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 185.0, High: 186.0, Low: 184.0, Close: 185.5, Volume: 50000000},
		{Symbol: "GOOGL", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 140.0, High: 141.0, Low: 139.0, Close: 140.5, Volume: 20000000},
	}
	if err := ps.WriteBars(ctx, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	symbols, err := ps.ListSymbols(ctx)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 {
		t.Fatalf("ListSymbols returned %d symbols, want 2", len(symbols))
	}
	if symbols[0] != "AAPL" || symbols[1] != "GOOGL" {
		t.Errorf("ListSymbols = %v, want [AAPL GOOGL]", symbols)
	}
}

func TestParquetStoreRunRoundTrip(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()
	ts := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	pnl := 12.5

	trades := []domain.Trade{
		{ID: "t1", Symbol: "AAPL", Action: domain.OrderSideBuy, Quantity: 10, Price: 100, Timestamp: ts, Reason: "signal"},
		{ID: "t2", Symbol: "AAPL", Action: domain.OrderSideSell, Quantity: 10, Price: 101.25, Timestamp: ts.AddDate(0, 0, 1), Reason: "take_profit", RealizedPnL: &pnl},
	}
	curve := []analytics.EquityPoint{
		{Timestamp: ts, Cash: 0, PositionsValue: 1000, Equity: 1000},
		{Timestamp: ts.AddDate(0, 0, 1), Cash: 1012.5, Equity: 1012.5},
	}

	if err := ps.WriteRun(ctx, "run-1", trades, curve); err != nil {
		t.Fatalf("WriteRun: %v", err)
	}
	gotTrades, gotCurve, err := ps.ReadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRun: %v", err)
	}
	if len(gotTrades) != 2 || len(gotCurve) != 2 {
		t.Fatalf("ReadRun returned %d trades and %d points, want 2 and 2", len(gotTrades), len(gotCurve))
	}
	if gotTrades[0].RealizedPnL != nil {
		t.Errorf("opening trade RealizedPnL = %v, want nil", *gotTrades[0].RealizedPnL)
	}
	if gotTrades[1].RealizedPnL == nil || *gotTrades[1].RealizedPnL != pnl {
		t.Errorf("closing trade RealizedPnL = %v, want %v", gotTrades[1].RealizedPnL, pnl)
	}
	if gotTrades[1].Action != domain.OrderSideSell || gotTrades[1].Reason != "take_profit" {
		t.Errorf("closing trade = %+v, want sell/take_profit", gotTrades[1])
	}
	if gotCurve[1].Equity != 1012.5 {
		t.Errorf("final equity = %v, want 1012.5", gotCurve[1].Equity)
	}

	if _, _, err := ps.ReadRun(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadRun(nope) error = %v, want ErrNotFound", err)
	}
	if err := ps.WriteRun(ctx, "../escape", nil, nil); err == nil {
		t.Error("WriteRun with a path separator in the run id should fail")
	}
}

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) returned error: %v", dbPath, err)
	}
	t.Cleanup(func() {
		if cerr := s.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	})
	return s
}

func TestSQLiteStoreOpen(t *testing.T) {
	s := openSQLite(t)
	if err := s.db.Ping(); err != nil {
		t.Fatalf("db.Ping() returned error: %v", err)
	}
}

func TestSQLiteStrategies(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	rec := &StrategyRecord{ID: "s1", Name: "rsi dip", Kind: "momentum", Params: []byte(`{"rsiPeriod":14}`)}
	if err := s.SaveStrategy(ctx, rec); err != nil {
		t.Fatalf("SaveStrategy: %v", err)
	}
	got, err := s.GetStrategy(ctx, "s1")
	if err != nil {
		t.Fatalf("GetStrategy: %v", err)
	}
	if got.Name != "rsi dip" || string(got.Params) != `{"rsiPeriod":14}` || got.Settings != nil {
		t.Errorf("GetStrategy = %+v, want saved record", got)
	}

	rec.Name = "rsi dip v2"
	if err := s.SaveStrategy(ctx, rec); err != nil {
		t.Fatalf("SaveStrategy (update): %v", err)
	}
	list, err := s.ListStrategies(ctx)
	if err != nil {
		t.Fatalf("ListStrategies: %v", err)
	}
	if len(list) != 1 || list[0].Name != "rsi dip v2" {
		t.Errorf("ListStrategies = %+v, want one updated record", list)
	}

	if err := s.DeleteStrategy(ctx, "s1"); err != nil {
		t.Fatalf("DeleteStrategy: %v", err)
	}
	if _, err := s.GetStrategy(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetStrategy after delete error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteStrategy(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteStrategy twice error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteResults(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"r1", "r2", "r3"} {
		strategyID := "a"
		if id == "r3" {
			strategyID = "b"
		}
		rec := &ResultRecord{
			RunID: id, StrategyID: strategyID, Kind: "maCrossover", Symbol: "SPY",
			TotalReturnPct: float64(i), TotalTrades: i, CreatedAt: base.Add(time.Duration(i) * time.Hour),
			Payload: []byte(`{"runId":"` + id + `"}`),
		}
		if err := s.SaveResult(ctx, rec); err != nil {
			t.Fatalf("SaveResult(%s): %v", id, err)
		}
	}

	got, err := s.GetResult(ctx, "r2")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got.TotalReturnPct != 1 || !strings.Contains(string(got.Payload), "r2") || !got.CreatedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("GetResult = %+v, want r2", got)
	}

	list, err := s.ListResults(ctx, "a", 0)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(list) != 2 || list[0].RunID != "r2" || list[1].RunID != "r1" {
		t.Errorf("ListResults(a) = %+v, want [r2 r1]", list)
	}

	list, err = s.ListResults(ctx, "", 1)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(list) != 1 || list[0].RunID != "r3" {
		t.Errorf("ListResults(limit 1) = %+v, want [r3]", list)
	}

	if _, err := s.GetResult(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetResult(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteOrders(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)

	o := &domain.Order{
		ID: "o1", ClientOrderID: "c1", Symbol: "AAPL", Side: domain.OrderSideBuy,
		Type: domain.OrderTypeMarket, Status: domain.OrderStatusNew, Qty: 5,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.SaveOrder(ctx, o); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	o.Status = domain.OrderStatusFilled
	o.FilledQty = 5
	o.FilledAvgPrice = 190.25
	o.UpdatedAt = now.Add(time.Second)
	if err := s.UpdateOrder(ctx, o); err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}

	got, err := s.GetOrder(ctx, "o1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != domain.OrderStatusFilled || got.FilledAvgPrice != 190.25 || got.ClientOrderID != "c1" {
		t.Errorf("GetOrder = %+v, want filled order", got)
	}

	filled, err := s.ListOrders(ctx, domain.OrderStatusFilled)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(filled) != 1 {
		t.Errorf("ListOrders(filled) returned %d orders, want 1", len(filled))
	}
	open, err := s.ListOrders(ctx, domain.OrderStatusNew)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("ListOrders(new) returned %d orders, want 0", len(open))
	}

	if err := s.UpdateOrder(ctx, &domain.Order{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateOrder(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRedisBarKey(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	got := barKey("spy", start, end)
	want := "tradeforge:bars:SPY:2024-01-01:2024-02-01"
	if got != want {
		t.Errorf("barKey = %q, want %q", got, want)
	}

	// Times within the same days share a key.
	later := barKey("SPY", start.Add(15*time.Hour+3*time.Second), end.Add(9*time.Hour))
	if later != want {
		t.Errorf("barKey with times of day = %q, want %q", later, want)
	}
}

func TestRedisBarCacheUnreachable(t *testing.T) {
	c := NewRedisBarCache("127.0.0.1:1", "", 0, 0)
	defer c.Close()
	if c.ttl != DefaultBarTTL {
		t.Errorf("ttl = %v, want %v", c.ttl, DefaultBarTTL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, ok, err := c.GetBars(ctx, "SPY", time.Time{}, time.Time{}); err == nil || ok {
		t.Errorf("GetBars against a closed port = ok %v err %v, want an error", ok, err)
	}
}
