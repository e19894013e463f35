package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"tradeforge/internal/api"
	"tradeforge/internal/app"
	"tradeforge/internal/config"
	"tradeforge/internal/util"
)

func main() {
	// Load config.
	cfgPath := config.Path()
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("loading config %s: %v", cfgPath, err)
	}

	// Setup logging.
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("initializing: %v", err)
	}
	defer a.Close()

	deps := api.Deps{
		Backtester: a.Backtester,
		Provider:   a.Provider,
		Registry:   a.Registry,
		Engine:     a.Engine(),
		Strategies: a.DB,
		Defaults:   &cfg.Risk,
		Logger:     logger.With("component", "api"),
	}
	if cfg.Backtest.PersistResults {
		deps.Results = a.DB
		deps.Runs = a.Bars
	}
	srv := api.NewServer(deps)

	var grpcAddr string
	if cfg.Server.GRPCPort > 0 {
		grpcAddr = cfg.Server.GRPCAddr()
	}
	logger.Info("tradeforge-server starting", "config", cfgPath, "paper_mode", cfg.Trading.PaperMode)
	if err := srv.ListenAndServe(ctx, cfg.Server.Addr(), grpcAddr); err != nil {
		logger.Error("server error", "error", err)
		a.Close()
		log.Fatal(err)
	}
	logger.Info("tradeforge-server stopped")
}
