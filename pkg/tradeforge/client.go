// Package tradeforge is a Go client for the tradeforge-server HTTP API.
package tradeforge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tradeforge/internal/backtest"
	"tradeforge/internal/condition"
	"tradeforge/internal/domain"
	"tradeforge/internal/risk"
	"tradeforge/internal/store"
	"tradeforge/internal/strategy"
)

// Wire types shared with the server.
type (
	BacktestConfig  = backtest.Config
	BacktestResult  = backtest.Result
	SymbolResult    = backtest.SymbolResult
	BatchSummary    = backtest.BatchSummary
	ResultRecord    = store.ResultRecord
	StrategyRecord  = store.StrategyRecord
	ConditionNode   = condition.RawNode
	ConditionResult = condition.Result
	Conditions      = strategy.Conditions
	StrategyReport  = strategy.Report
	RiskSettings    = risk.Settings
	RiskSnapshot    = risk.Snapshot
	RiskDecision    = risk.Decision
	OrderRequest    = domain.OrderRequest
	OrderResponse   = domain.OrderResponse
	Order           = domain.Order
	Position        = domain.Position
)

// StrategyKindInfo describes one registered strategy kind.
type StrategyKindInfo struct {
	Kind          string          `json:"kind"`
	DefaultParams json.RawMessage `json:"defaultParams"`
}

// BatchResult is the response of RunBatch.
type BatchResult struct {
	Results []SymbolResult `json:"results"`
	Summary BatchSummary   `json:"summary"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tradeforge: %d %s", e.StatusCode, e.Message)
}

// Client provides a Go SDK for interacting with the tradeforge-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a new tradeforge API client.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ---------------------------------------------------------------------------
// Backtests
// ---------------------------------------------------------------------------

// RunBacktest runs one backtest on the server.
func (c *Client) RunBacktest(ctx context.Context, cfg BacktestConfig) (*BacktestResult, error) {
	var res BacktestResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/backtests", cfg, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RunBatch runs cfg once per symbol.
func (c *Client) RunBatch(ctx context.Context, cfg BacktestConfig, symbols []string) (*BatchResult, error) {
	body := struct {
		BacktestConfig
		Symbols []string `json:"symbols"`
	}{cfg, symbols}
	var res BatchResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/backtests/batch", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetBacktest fetches a stored result by run ID.
func (c *Client) GetBacktest(ctx context.Context, runID string) (*BacktestResult, error) {
	var res BacktestResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/backtests/"+url.PathEscape(runID), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListBacktests lists stored result summaries, newest first. Empty
// strategyID and zero limit take the server defaults.
func (c *Client) ListBacktests(ctx context.Context, strategyID string, limit int) ([]ResultRecord, error) {
	q := url.Values{}
	if strategyID != "" {
		q.Set("strategyId", strategyID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/backtests"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []ResultRecord
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

// ---------------------------------------------------------------------------
// Conditions and strategies
// ---------------------------------------------------------------------------

// ValidateCondition validates a single condition tree.
func (c *Client) ValidateCondition(ctx context.Context, node ConditionNode) (ConditionResult, error) {
	var out ConditionResult
	return out, c.do(ctx, http.MethodPost, "/api/v1/conditions/validate", node, &out)
}

// ValidateStrategy validates buy and sell condition sets.
func (c *Client) ValidateStrategy(ctx context.Context, buy, sell Conditions) (StrategyReport, error) {
	body := map[string]Conditions{"buyConditions": buy, "sellConditions": sell}
	var out StrategyReport
	return out, c.do(ctx, http.MethodPost, "/api/v1/strategies/validate", body, &out)
}

// StrategyKinds lists the registered strategy kinds with their defaults.
func (c *Client) StrategyKinds(ctx context.Context) ([]StrategyKindInfo, error) {
	var out []StrategyKindInfo
	return out, c.do(ctx, http.MethodGet, "/api/v1/strategies/kinds", nil, &out)
}

// SaveStrategy stores a strategy definition and returns it with its ID.
func (c *Client) SaveStrategy(ctx context.Context, rec StrategyRecord) (*StrategyRecord, error) {
	var out StrategyRecord
	if err := c.do(ctx, http.MethodPost, "/api/v1/strategies", rec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// PrepareOrder sizes and completes an order without submitting it. Nil
// settings select the server defaults.
func (c *Client) PrepareOrder(ctx context.Context, order OrderRequest, settings *RiskSettings, portfolioValue float64) (OrderRequest, error) {
	body := struct {
		Order          OrderRequest  `json:"order"`
		Settings       *RiskSettings `json:"settings,omitempty"`
		PortfolioValue float64       `json:"portfolioValue"`
	}{order, settings, portfolioValue}
	var out OrderRequest
	return out, c.do(ctx, http.MethodPost, "/api/v1/orders/prepare", body, &out)
}

// CheckOrder runs the risk checks for order against snap.
func (c *Client) CheckOrder(ctx context.Context, order OrderRequest, settings *RiskSettings, snap RiskSnapshot) (RiskDecision, error) {
	body := struct {
		Order    OrderRequest  `json:"order"`
		Settings *RiskSettings `json:"settings,omitempty"`
		Snapshot RiskSnapshot  `json:"snapshot"`
	}{order, settings, snap}
	var out RiskDecision
	return out, c.do(ctx, http.MethodPost, "/api/v1/orders/check", body, &out)
}

// SubmitOrder submits a live order. Risk rejections and broker failures are
// reported in OrderResponse.Error.
func (c *Client) SubmitOrder(ctx context.Context, order OrderRequest, settings *RiskSettings) (OrderResponse, error) {
	body := struct {
		Order    OrderRequest  `json:"order"`
		Settings *RiskSettings `json:"settings,omitempty"`
	}{order, settings}
	var out OrderResponse
	return out, c.do(ctx, http.MethodPost, "/api/v1/orders", body, &out)
}

// Orders lists orders, optionally filtered by status.
func (c *Client) Orders(ctx context.Context, status string) ([]Order, error) {
	path := "/api/v1/orders"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out []Order
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

// CancelOrder cancels an open order.
func (c *Client) CancelOrder(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/orders/"+url.PathEscape(id), nil, nil)
}

// GetPositions retrieves current positions.
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	var out []Position
	return out, c.do(ctx, http.MethodGet, "/api/v1/positions", nil, &out)
}

// Health reports whether the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// do sends in as JSON and decodes the response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}
