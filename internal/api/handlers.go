package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradeforge/internal/backtest"
	"tradeforge/internal/broker"
	"tradeforge/internal/condition"
	"tradeforge/internal/domain"
	"tradeforge/internal/risk"
	"tradeforge/internal/store"
	"tradeforge/internal/strategy"
)

const (
	maxBodyBytes      = 8 << 20
	defaultListLimit  = 50
	defaultExecLookup = 365 * 24 * time.Hour
)

// ---------------------------------------------------------------------------
// Backtests
// ---------------------------------------------------------------------------

type batchRequest struct {
	backtest.Config
	Symbols []string `json:"symbols"`
}

type batchResponse struct {
	Results []backtest.SymbolResult `json:"results"`
	Summary backtest.BatchSummary   `json:"summary"`
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var cfg backtest.Config
	if !decode(w, r, &cfg) {
		return
	}
	res, err := s.runBacktest(r.Context(), cfg)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, res)
}

// runBacktest resolves a saved strategy, runs cfg and persists the result
// when stores are configured. Persistence failures are logged only.
func (s *Server) runBacktest(ctx context.Context, cfg backtest.Config) (*backtest.Result, error) {
	if s.deps.Backtester == nil {
		return nil, errUnavailable("backtester")
	}
	cfg, err := s.resolveConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := s.deps.Backtester.Run(ctx, cfg)
	if err != nil {
		s.metrics.RecordBacktest(kindLabel(cfg.Kind), 0, err)
		return nil, err
	}
	s.metrics.RecordBacktest(string(res.Kind), len(res.Trades), nil)
	s.persist(ctx, res)
	return res, nil
}

func (s *Server) resolveConfig(ctx context.Context, cfg backtest.Config) (backtest.Config, error) {
	if cfg.StrategyID != "" && s.deps.Strategies != nil {
		rec, err := s.deps.Strategies.GetStrategy(ctx, cfg.StrategyID)
		if err != nil {
			return cfg, err
		}
		if cfg.Kind == "" {
			cfg.Kind = strategy.Kind(rec.Kind)
		}
		if len(cfg.Params) == 0 {
			cfg.Params = rec.Params
		}
		if cfg.Settings == nil && len(rec.Settings) > 0 {
			var st risk.Settings
			if err := json.Unmarshal(rec.Settings, &st); err != nil {
				return cfg, fmt.Errorf("decoding settings of strategy %s: %w", rec.ID, err)
			}
			cfg.Settings = &st
		}
	}
	if cfg.Settings == nil {
		st := s.defaults()
		cfg.Settings = &st
	}
	return cfg, nil
}

func (s *Server) persist(ctx context.Context, res *backtest.Result) {
	if s.deps.Results != nil {
		payload, err := json.Marshal(res)
		if err == nil {
			err = s.deps.Results.SaveResult(ctx, &store.ResultRecord{
				RunID:          res.RunID,
				StrategyID:     res.StrategyID,
				Kind:           string(res.Kind),
				Symbol:         res.Symbol,
				TotalReturnPct: res.Metrics.TotalReturnPct,
				SharpeRatio:    res.Metrics.SharpeRatio,
				MaxDrawdownPct: res.Metrics.MaxDrawdownPct,
				TotalTrades:    res.Metrics.TotalTrades,
				Payload:        payload,
			})
		}
		if err != nil {
			s.log.Warn("saving backtest result", "run", res.RunID, "error", err)
		}
	}
	if s.deps.Runs != nil {
		if err := s.deps.Runs.WriteRun(ctx, res.RunID, res.Trades, res.EquityCurve); err != nil {
			s.log.Warn("exporting backtest run", "run", res.RunID, "error", err)
		}
	}
}

func (s *Server) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decode(w, r, &req) {
		return
	}
	if s.deps.Backtester == nil {
		writeErr(w, errUnavailable("backtester"))
		return
	}
	cfg, err := s.resolveConfig(r.Context(), req.Config)
	if err != nil {
		writeErr(w, err)
		return
	}
	results, err := s.deps.Backtester.RunBatch(r.Context(), cfg, req.Symbols)
	if err != nil {
		writeErr(w, err)
		return
	}
	for _, sr := range results {
		if sr.Result != nil {
			s.metrics.RecordBacktest(string(sr.Result.Kind), len(sr.Result.Trades), nil)
			s.persist(r.Context(), sr.Result)
		} else {
			s.metrics.RecordBacktest(kindLabel(cfg.Kind), 0, errors.New(sr.Error))
		}
	}
	writeJSON(w, batchResponse{Results: results, Summary: backtest.Summarize(results)})
}

func (s *Server) handleListBacktests(w http.ResponseWriter, r *http.Request) {
	if s.deps.Results == nil {
		writeErr(w, errUnavailable("result store"))
		return
	}
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit: must be a positive integer")
			return
		}
		limit = n
	}
	recs, err := s.deps.Results.ListResults(r.Context(), r.URL.Query().Get("strategyId"), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	for i := range recs {
		recs[i].Payload = nil
	}
	if recs == nil {
		recs = []store.ResultRecord{}
	}
	writeJSON(w, recs)
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	if s.deps.Results == nil {
		writeErr(w, errUnavailable("result store"))
		return
	}
	rec, err := s.deps.Results.GetResult(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if len(rec.Payload) > 0 {
		writeJSON(w, rec.Payload)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleBacktestTrades(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeErr(w, errUnavailable("run store"))
		return
	}
	trades, curve, err := s.deps.Runs.ReadRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]any{"trades": trades, "equityCurve": curve})
}

// ---------------------------------------------------------------------------
// Conditions and strategies
// ---------------------------------------------------------------------------

type conditionsRequest struct {
	Buy  strategy.Conditions `json:"buyConditions"`
	Sell strategy.Conditions `json:"sellConditions"`
}

type executeRequest struct {
	conditionsRequest
	Bars     []domain.Bar         `json:"bars,omitempty"`
	Symbol   string               `json:"symbol,omitempty"`
	Start    *backtest.Date       `json:"start,omitempty"`
	End      *backtest.Date       `json:"end,omitempty"`
	Position domain.PositionState `json:"position,omitempty"`
}

type executeResponse struct {
	Signal domain.Signal `json:"signal"`
	Bars   int           `json:"bars"`
}

type kindInfo struct {
	Kind          strategy.Kind   `json:"kind"`
	DefaultParams strategy.Params `json:"defaultParams"`
}

func (s *Server) handleValidateCondition(w http.ResponseWriter, r *http.Request) {
	var raw condition.RawNode
	if !decode(w, r, &raw) {
		return
	}
	writeJSON(w, condition.ValidateConditionNode(raw))
}

func (s *Server) handleValidateStrategy(w http.ResponseWriter, r *http.Request) {
	var req conditionsRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, strategy.ValidateStrategy(req.Buy, req.Sell))
}

func (s *Server) handleExecuteStrategy(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !decode(w, r, &req) {
		return
	}
	bars := req.Bars
	if len(bars) == 0 && req.Symbol != "" {
		if s.deps.Provider == nil {
			writeErr(w, errUnavailable("market data provider"))
			return
		}
		end := time.Now().UTC()
		if req.End != nil {
			end = req.End.Time
		}
		start := end.Add(-defaultExecLookup)
		if req.Start != nil {
			start = req.Start.Time
		}
		var err error
		if bars, err = s.deps.Provider.GetBars(r.Context(), strings.ToUpper(req.Symbol), start, end); err != nil {
			writeErr(w, err)
			return
		}
	}
	pos := req.Position
	if pos == "" {
		pos = domain.PositionFlat
	}
	sig, err := strategy.ExecuteStrategy(req.Buy, req.Sell, bars, pos)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, executeResponse{Signal: sig, Bars: len(bars)})
}

func (s *Server) handleStrategyKinds(w http.ResponseWriter, r *http.Request) {
	kinds := strategy.Kinds()
	if s.deps.Registry != nil {
		kinds = s.deps.Registry.List()
	}
	out := make([]kindInfo, 0, len(kinds))
	for _, k := range kinds {
		p, err := strategy.DefaultParams(k)
		if err != nil {
			continue
		}
		out = append(out, kindInfo{Kind: k, DefaultParams: p})
	}
	writeJSON(w, out)
}

func (s *Server) handleSaveStrategy(w http.ResponseWriter, r *http.Request) {
	if s.deps.Strategies == nil {
		writeErr(w, errUnavailable("strategy store"))
		return
	}
	var rec store.StrategyRecord
	if !decode(w, r, &rec) {
		return
	}
	kind, err := strategy.ParseKind(rec.Kind)
	if err != nil {
		writeErr(w, err)
		return
	}
	rec.Kind = string(kind)
	if _, err := strategy.DecodeParams(kind, rec.Params); err != nil {
		writeErr(w, err)
		return
	}
	if len(rec.Settings) > 0 {
		var st risk.Settings
		if err := json.Unmarshal(rec.Settings, &st); err != nil {
			writeError(w, http.StatusBadRequest, "settings: "+err.Error())
			return
		}
		if err := st.Validate(); err != nil {
			writeErr(w, err)
			return
		}
	}
	if strings.TrimSpace(rec.Name) == "" {
		writeError(w, http.StatusBadRequest, "name: is required")
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if err := s.deps.Strategies.SaveStrategy(r.Context(), &rec); err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(rec); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	if s.deps.Strategies == nil {
		writeErr(w, errUnavailable("strategy store"))
		return
	}
	recs, err := s.deps.Strategies.ListStrategies(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if recs == nil {
		recs = []store.StrategyRecord{}
	}
	writeJSON(w, recs)
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	if s.deps.Strategies == nil {
		writeErr(w, errUnavailable("strategy store"))
		return
	}
	rec, err := s.deps.Strategies.GetStrategy(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleDeleteStrategy(w http.ResponseWriter, r *http.Request) {
	if s.deps.Strategies == nil {
		writeErr(w, errUnavailable("strategy store"))
		return
	}
	if err := s.deps.Strategies.DeleteStrategy(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

type prepareRequest struct {
	Order          domain.OrderRequest `json:"order"`
	Settings       *risk.Settings      `json:"settings,omitempty"`
	PortfolioValue float64             `json:"portfolioValue"`
}

type checkRequest struct {
	Order    domain.OrderRequest `json:"order"`
	Settings *risk.Settings      `json:"settings,omitempty"`
	Snapshot risk.Snapshot       `json:"snapshot"`
	At       *time.Time          `json:"at,omitempty"`
}

type submitRequest struct {
	Order    domain.OrderRequest `json:"order"`
	Settings *risk.Settings      `json:"settings,omitempty"`
}

func (s *Server) handlePrepareOrder(w http.ResponseWriter, r *http.Request) {
	var req prepareRequest
	if !decode(w, r, &req) {
		return
	}
	order, err := risk.PrepareOrder(req.Order, s.settingsOr(req.Settings), req.PortfolioValue)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, order)
}

func (s *Server) handleCheckOrder(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !decode(w, r, &req) {
		return
	}
	mgr, err := risk.NewManager(s.settingsOr(req.Settings))
	if err != nil {
		writeErr(w, err)
		return
	}
	at := time.Now()
	if req.At != nil {
		at = *req.At
	}
	writeJSON(w, mgr.Check(req.Order, req.Snapshot, at))
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeErr(w, errUnavailable("trading engine"))
		return
	}
	var req submitRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := s.deps.Engine.SubmitOrder(r.Context(), req.Order, s.settingsOr(req.Settings))
	switch {
	case err != nil:
		s.metrics.Orders.WithLabelValues("invalid").Inc()
		writeErr(w, err)
		return
	case resp.Error != "":
		s.metrics.Orders.WithLabelValues("rejected").Inc()
	default:
		s.metrics.Orders.WithLabelValues("submitted").Inc()
	}
	writeJSON(w, resp)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeErr(w, errUnavailable("trading engine"))
		return
	}
	orders, err := s.deps.Engine.Orders(r.Context(), domain.OrderStatus(r.URL.Query().Get("status")))
	if err != nil {
		writeErr(w, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, orders)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeErr(w, errUnavailable("trading engine"))
		return
	}
	if err := s.deps.Engine.CancelOrder(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeErr(w, errUnavailable("trading engine"))
		return
	}
	positions, err := s.deps.Engine.GetPositions(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, positions)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// unavailableError marks a route whose collaborator is not configured.
type unavailableError struct{ what string }

func (e *unavailableError) Error() string { return e.what + " is not configured" }

func errUnavailable(what string) error { return &unavailableError{what: what} }

// kindLabel bounds the metric label to known kinds.
func kindLabel(k strategy.Kind) string {
	kind, err := strategy.ParseKind(string(k))
	if err != nil {
		return "unknown"
	}
	return string(kind)
}

func (s *Server) defaults() risk.Settings {
	if s.deps.Defaults != nil {
		return *s.deps.Defaults
	}
	return risk.DefaultSettings()
}

func (s *Server) settingsOr(p *risk.Settings) risk.Settings {
	if p != nil {
		return *p
	}
	return s.defaults()
}

// decode reads a JSON body into v, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var (
		ve *domain.ValidationError
		de *domain.DataError
		pe *domain.ProviderError
		ue *unavailableError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &de):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, broker.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.As(err, &ue):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &pe):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
