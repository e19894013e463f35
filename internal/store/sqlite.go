package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tradeforge/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ OrderStore = (*SQLiteStore)(nil)
var _ StrategyStore = (*SQLiteStore)(nil)
var _ ResultStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS strategies (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	kind       TEXT NOT NULL,
	params     TEXT,
	settings   TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS backtest_results (
	run_id           TEXT PRIMARY KEY,
	strategy_id      TEXT,
	kind             TEXT NOT NULL,
	symbol           TEXT NOT NULL,
	total_return_pct REAL NOT NULL,
	sharpe_ratio     REAL NOT NULL,
	max_drawdown_pct REAL NOT NULL,
	total_trades     INTEGER NOT NULL,
	created_at       INTEGER NOT NULL,
	payload          TEXT
);

CREATE INDEX IF NOT EXISTS idx_backtest_results_strategy
	ON backtest_results(strategy_id, created_at);

CREATE TABLE IF NOT EXISTS orders (
	id               TEXT PRIMARY KEY,
	client_order_id  TEXT,
	symbol           TEXT NOT NULL,
	side             TEXT NOT NULL,
	type             TEXT NOT NULL,
	status           TEXT NOT NULL,
	qty              REAL NOT NULL,
	filled_qty       REAL NOT NULL,
	filled_avg_price REAL NOT NULL,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
`

// SQLiteStore implements StrategyStore, ResultStore and OrderStore backed by
// a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates
// the tables and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullString(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: len(b) > 0}
}

func rawOrNil(ns sql.NullString) []byte {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return []byte(ns.String)
}

// ---------------------------------------------------------------------------
// StrategyStore implementation
// ---------------------------------------------------------------------------

// SaveStrategy inserts or replaces a strategy. An existing row keeps its
// stored created_at.
func (s *SQLiteStore) SaveStrategy(ctx context.Context, r *StrategyRecord) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strategies (id, name, kind, params, settings, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, kind = excluded.kind, params = excluded.params,
			settings = excluded.settings, updated_at = excluded.updated_at`,
		r.ID, r.Name, r.Kind, nullString(r.Params), nullString(r.Settings),
		millis(r.CreatedAt), millis(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving strategy %s: %w", r.ID, err)
	}
	return nil
}

func scanStrategy(row interface{ Scan(...any) error }) (*StrategyRecord, error) {
	var (
		r                StrategyRecord
		params, settings sql.NullString
		created, updated int64
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Kind, &params, &settings, &created, &updated); err != nil {
		return nil, err
	}
	r.Params, r.Settings = rawOrNil(params), rawOrNil(settings)
	r.CreatedAt, r.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &r, nil
}

// GetStrategy retrieves a strategy by ID.
func (s *SQLiteStore) GetStrategy(ctx context.Context, id string) (*StrategyRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, kind, params, settings, created_at, updated_at
		FROM strategies WHERE id = ?`, id)
	r, err := scanStrategy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("strategy %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting strategy %s: %w", id, err)
	}
	return r, nil
}

// ListStrategies returns every saved strategy, newest first.
func (s *SQLiteStore) ListStrategies(ctx context.Context) ([]StrategyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, params, settings, created_at, updated_at
		FROM strategies ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing strategies: %w", err)
	}
	defer rows.Close()

	var out []StrategyRecord
	for rows.Next() {
		r, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning strategy: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// DeleteStrategy removes a strategy by ID.
func (s *SQLiteStore) DeleteStrategy(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM strategies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting strategy %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("strategy %s: %w", id, ErrNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// ResultStore implementation
// ---------------------------------------------------------------------------

// SaveResult inserts or replaces a backtest result by run ID.
func (s *SQLiteStore) SaveResult(ctx context.Context, r *ResultRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO backtest_results
			(run_id, strategy_id, kind, symbol, total_return_pct, sharpe_ratio,
			 max_drawdown_pct, total_trades, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.StrategyID, r.Kind, r.Symbol, r.TotalReturnPct, r.SharpeRatio,
		r.MaxDrawdownPct, r.TotalTrades, millis(r.CreatedAt), nullString(r.Payload))
	if err != nil {
		return fmt.Errorf("saving result %s: %w", r.RunID, err)
	}
	return nil
}

func scanResult(row interface{ Scan(...any) error }) (*ResultRecord, error) {
	var (
		r          ResultRecord
		strategyID sql.NullString
		payload    sql.NullString
		created    int64
	)
	err := row.Scan(&r.RunID, &strategyID, &r.Kind, &r.Symbol, &r.TotalReturnPct, &r.SharpeRatio,
		&r.MaxDrawdownPct, &r.TotalTrades, &created, &payload)
	if err != nil {
		return nil, err
	}
	r.StrategyID = strategyID.String
	r.Payload = rawOrNil(payload)
	r.CreatedAt = fromMillis(created)
	return &r, nil
}

const resultColumns = `run_id, strategy_id, kind, symbol, total_return_pct, sharpe_ratio,
	max_drawdown_pct, total_trades, created_at, payload`

// GetResult retrieves a result by run ID.
func (s *SQLiteStore) GetResult(ctx context.Context, runID string) (*ResultRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM backtest_results WHERE run_id = ?`, runID)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting result %s: %w", runID, err)
	}
	return r, nil
}

// ListResults returns the most recent results, optionally filtered by
// strategy ID. A non-positive limit returns every row.
func (s *SQLiteStore) ListResults(ctx context.Context, strategyID string, limit int) ([]ResultRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	q := `SELECT ` + resultColumns + ` FROM backtest_results`
	args := []any{}
	if strategyID != "" {
		q += ` WHERE strategy_id = ?`
		args = append(args, strategyID)
	}
	q += ` ORDER BY created_at DESC, run_id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}
	defer rows.Close()

	var out []ResultRecord
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

const orderColumns = `id, client_order_id, symbol, side, type, status, qty, filled_qty,
	filled_avg_price, created_at, updated_at`

// SaveOrder inserts a new order into the database.
func (s *SQLiteStore) SaveOrder(ctx context.Context, o *domain.Order) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.ClientOrderID, o.Symbol, string(o.Side), string(o.Type), string(o.Status),
		o.Qty, o.FilledQty, o.FilledAvgPrice, millis(o.CreatedAt), millis(o.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving order %s: %w", o.ID, err)
	}
	return nil
}

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	var (
		o                 domain.Order
		clientID          sql.NullString
		side, typ, status string
		created, updated  int64
	)
	err := row.Scan(&o.ID, &clientID, &o.Symbol, &side, &typ, &status, &o.Qty, &o.FilledQty,
		&o.FilledAvgPrice, &created, &updated)
	if err != nil {
		return nil, err
	}
	o.ClientOrderID = clientID.String
	o.Side, o.Type, o.Status = domain.OrderSide(side), domain.OrderType(typ), domain.OrderStatus(status)
	o.CreatedAt, o.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &o, nil
}

// GetOrder retrieves a single order by its ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting order %s: %w", id, err)
	}
	return o, nil
}

// ListOrders returns all orders matching the given status, oldest first.
func (s *SQLiteStore) ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// UpdateOrder persists changes to an existing order.
func (s *SQLiteStore) UpdateOrder(ctx context.Context, o *domain.Order) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, filled_qty = ?, filled_avg_price = ?, updated_at = ?
		WHERE id = ?`,
		string(o.Status), o.FilledQty, o.FilledAvgPrice, millis(o.UpdatedAt), o.ID)
	if err != nil {
		return fmt.Errorf("updating order %s: %w", o.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %s: %w", o.ID, ErrNotFound)
	}
	return nil
}
