// Package api provides the HTTP and gRPC servers for tradeforge, exposing
// backtesting, validation, order and paper session endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"tradeforge/internal/backtest"
	"tradeforge/internal/engine"
	"tradeforge/internal/marketdata"
	"tradeforge/internal/risk"
	"tradeforge/internal/store"
	"tradeforge/internal/strategy"
)

const shutdownTimeout = 10 * time.Second

// Deps are the collaborators the server routes to. Engine, Provider and
// the stores are optional; routes that need a missing one answer 503.
// Defaults are the risk settings used when a request carries none; nil
// selects risk.DefaultSettings.
type Deps struct {
	Backtester *backtest.Backtester
	Provider   marketdata.Provider
	Registry   *strategy.Registry
	Engine     *engine.Engine
	Results    store.ResultStore
	Runs       store.RunStore
	Strategies store.StrategyStore
	Defaults   *risk.Settings
	Logger     *slog.Logger
}

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	deps    Deps
	metrics *Metrics
	log     *slog.Logger
	handler http.Handler

	// Sessions run under baseCtx so they outlive the request that
	// created them.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*runningSession
	httpSrv  *http.Server
	grpcSrv  *grpc.Server
}

// NewServer creates a Server routing to deps.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default().With("component", "api")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:       deps,
		metrics:    NewMetrics(),
		log:        deps.Logger,
		baseCtx:    ctx,
		cancelBase: cancel,
		sessions:   make(map[string]*runningSession),
	}
	s.handler = corsMiddleware(s.routes())
	return s
}

// Handler returns the HTTP handler with every route mounted.
func (s *Server) Handler() http.Handler { return s.handler }

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics { return s.metrics }

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, s.metrics.instrument(pattern, h))
	}

	handle("POST /api/v1/backtests", s.handleRunBacktest)
	handle("GET /api/v1/backtests", s.handleListBacktests)
	handle("GET /api/v1/backtests/{id}", s.handleGetBacktest)
	handle("GET /api/v1/backtests/{id}/trades", s.handleBacktestTrades)
	handle("POST /api/v1/backtests/batch", s.handleRunBatch)

	handle("POST /api/v1/conditions/validate", s.handleValidateCondition)
	handle("POST /api/v1/strategies/validate", s.handleValidateStrategy)
	handle("POST /api/v1/strategies/execute", s.handleExecuteStrategy)
	handle("GET /api/v1/strategies/kinds", s.handleStrategyKinds)
	handle("POST /api/v1/strategies", s.handleSaveStrategy)
	handle("GET /api/v1/strategies", s.handleListStrategies)
	handle("GET /api/v1/strategies/{id}", s.handleGetStrategy)
	handle("DELETE /api/v1/strategies/{id}", s.handleDeleteStrategy)

	handle("POST /api/v1/orders/prepare", s.handlePrepareOrder)
	handle("POST /api/v1/orders/check", s.handleCheckOrder)
	handle("POST /api/v1/orders", s.handleSubmitOrder)
	handle("GET /api/v1/orders", s.handleListOrders)
	handle("DELETE /api/v1/orders/{id}", s.handleCancelOrder)
	handle("GET /api/v1/positions", s.handlePositions)

	handle("POST /api/v1/sessions", s.handleStartSession)
	handle("GET /api/v1/sessions", s.handleListSessions)
	handle("GET /api/v1/sessions/{id}", s.handleGetSession)
	handle("DELETE /api/v1/sessions/{id}", s.handleStopSession)
	handle("GET /api/v1/sessions/{id}/events", s.handleSessionEvents)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

// ListenAndServe starts the HTTP listener on httpAddr and, when grpcAddr
// is non-empty, the gRPC listener. It blocks until ctx is cancelled or a
// listener fails, then shuts both down.
func (s *Server) ListenAndServe(ctx context.Context, httpAddr, grpcAddr string) error {
	httpLn, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", httpAddr, err)
	}
	var grpcLn net.Listener
	if grpcAddr != "" {
		if grpcLn, err = net.Listen("tcp", grpcAddr); err != nil {
			httpLn.Close()
			return fmt.Errorf("listening on %s: %w", grpcAddr, err)
		}
	}
	return s.Serve(ctx, httpLn, grpcLn)
}

// Serve is ListenAndServe over existing listeners. A nil grpcLn disables
// gRPC.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	s.mu.Lock()
	s.httpSrv = &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
	if grpcLn != nil {
		s.grpcSrv = grpc.NewServer()
		RegisterBacktestServer(s.grpcSrv, &backtestService{srv: s})
	}
	httpSrv, grpcSrv := s.httpSrv, s.grpcSrv
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("http listening", "addr", httpLn.Addr().String())
		if err := httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if grpcSrv != nil {
		g.Go(func() error {
			s.log.Info("grpc listening", "addr", grpcLn.Addr().String())
			if err := grpcSrv.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.baseCtx.Done():
			// Shutdown was called directly.
			return nil
		}
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(sctx)
	})
	return g.Wait()
}

// Shutdown stops every paper session and gracefully stops the HTTP and
// gRPC servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopSessions()
	s.cancelBase()

	s.mu.Lock()
	httpSrv, grpcSrv := s.httpSrv, s.grpcSrv
	s.mu.Unlock()

	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if httpSrv != nil {
		if err := httpSrv.Shutdown(ctx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
	}
	s.log.Info("api server stopped")
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
