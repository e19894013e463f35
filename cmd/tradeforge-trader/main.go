// Paper trader: runs one strategy against live bars on the local broker
// simulator and logs every session event until interrupted.
//
// Usage:
//
//	go build -o bin/tradeforge-trader ./cmd/tradeforge-trader/
//	bin/tradeforge-trader -symbol AAPL -strategy maCrossover [-params '{"fastPeriod":5}'] [-interval 1m]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"tradeforge/internal/app"
	"tradeforge/internal/config"
	"tradeforge/internal/session"
	"tradeforge/internal/strategy"
	"tradeforge/internal/util"
)

func main() {
	symbol := flag.String("symbol", "", "symbol to trade (required)")
	kind := flag.String("strategy", string(strategy.KindMACrossover), "strategy kind")
	params := flag.String("params", "", "strategy parameters as JSON")
	capital := flag.Float64("capital", 0, "starting cash (default backtest.initial_capital)")
	interval := flag.Duration("interval", 0, "poll interval (default trading.poll_interval)")
	lookback := flag.Duration("lookback", 0, "bar history loaded each step (0 = session default)")
	flag.Parse()

	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if *symbol == "" {
		log.Fatal("-symbol is required")
	}
	if *capital == 0 {
		*capital = cfg.Backtest.InitialCapital
	}
	if *interval == 0 {
		*interval = cfg.Trading.PollInterval
	}

	k, err := strategy.ParseKind(*kind)
	if err != nil {
		log.Fatalf("strategy: %v", err)
	}
	p, err := strategy.DecodeParams(k, json.RawMessage(*params))
	if err != nil {
		log.Fatalf("params: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("initializing: %v", err)
	}
	defer a.Close()

	strat, err := a.Registry.New(k, p)
	if err != nil {
		log.Fatalf("building strategy: %v", err)
	}
	sess, err := session.New(session.Config{
		Symbol:         *symbol,
		Strategy:       strat,
		Settings:       cfg.Risk,
		InitialCapital: *capital,
		Interval:       *interval,
		Lookback:       *lookback,
	}, a.Provider, session.WithLogger(logger.With("component", "session")))
	if err != nil {
		log.Fatalf("creating session: %v", err)
	}

	id, events := sess.Subscribe(64)
	defer sess.Unsubscribe(id)
	go logEvents(logger, events)

	if cal, err := util.USEquities(); err == nil {
		if now := time.Now(); !cal.IsMarketOpen(now) {
			logger.Info("market closed, acting on the latest daily bar", "next_open", cal.NextOpen(now))
		}
	}

	logger.Info("tradeforge-trader starting",
		"session", sess.ID(),
		"symbol", *symbol,
		"strategy", k,
		"interval", *interval,
		"paper_mode", cfg.Trading.PaperMode,
	)
	if err := sess.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("session failed", "error", err)
	}

	final := sess.State(context.Background())
	logger.Info("tradeforge-trader stopped",
		"equity", final.Account.Equity,
		"cash", final.Account.Cash,
		"orders", final.Orders,
	)
}

func logEvents(logger *slog.Logger, events <-chan session.Event) {
	for ev := range events {
		attrs := []any{"type", ev.Type, "time", ev.Time, "price", ev.Price, "equity", ev.Equity}
		switch ev.Type {
		case session.EventOrder:
			if ev.Order != nil {
				attrs = append(attrs, "side", ev.Order.Side, "qty", ev.Order.FilledQty, "status", ev.Order.Status)
			}
			logger.Info("order", attrs...)
		case session.EventRejected:
			logger.Warn("order rejected", append(attrs, "reason", ev.Reason)...)
		case session.EventError:
			logger.Error("step failed", append(attrs, "reason", ev.Reason)...)
		case session.EventStopped:
			logger.Info("session stopped", attrs...)
		default:
			logger.Debug("tick", append(attrs, "signal", ev.Signal)...)
		}
	}
}
