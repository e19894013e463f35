// Package app assembles the tradeforge components described by a Config:
// stores, the market-data provider chain, the sentiment source, the
// backtester and the live trading engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	alpacamd "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"tradeforge/internal/backtest"
	"tradeforge/internal/broker"
	"tradeforge/internal/config"
	"tradeforge/internal/engine"
	"tradeforge/internal/marketdata"
	"tradeforge/internal/news"
	"tradeforge/internal/store"
	"tradeforge/internal/strategy"
	"tradeforge/internal/strategy/builtins"
	"tradeforge/internal/util"
)

const (
	redisPingAttempts = 3
	redisPingTimeout  = 2 * time.Second
	redisRetryDelay   = 200 * time.Millisecond
	newsHTTPTimeout   = 15 * time.Second
)

// App holds the assembled components. Cache is nil when Redis is not
// configured or unreachable.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Bars       *store.ParquetStore
	DB         *store.SQLiteStore
	Cache      *store.RedisBarCache
	Provider   marketdata.Provider
	Registry   *strategy.Registry
	Sentiment  *news.Source
	Backtester *backtest.Backtester
}

// New builds every component from cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Bars:     store.NewParquetStore(cfg.Storage.DataDir),
		Registry: builtins.NewRegistry(),
	}

	if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	a.DB = db

	if cfg.Redis.Addr != "" {
		cache := store.NewRedisBarCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		err := util.Retry(ctx, "redis ping", redisPingAttempts, redisRetryDelay, func() error {
			pctx, cancel := context.WithTimeout(ctx, redisPingTimeout)
			defer cancel()
			return cache.Ping(pctx)
		})
		if err != nil {
			logger.Warn("redis unreachable, bar cache disabled", "addr", cfg.Redis.Addr, "error", err)
			cache.Close()
		} else {
			a.Cache = cache
		}
	}

	if a.Provider, err = a.provider(); err != nil {
		a.Close()
		return nil, err
	}
	if a.Sentiment, err = a.sentiment(); err != nil {
		a.Close()
		return nil, err
	}

	a.Backtester = backtest.NewBacktester(a.Provider, a.Registry,
		backtest.WithSentiment(a.Sentiment),
		backtest.WithMaxParallel(cfg.Backtest.MaxParallel),
		backtest.WithLogger(logger.With("component", "backtest")),
	)

	logger.Info("components ready",
		"provider", cfg.MarketData.Provider,
		"redis", a.Cache != nil,
		"news_sources", cfg.MarketData.NewsSources,
		"data_dir", cfg.Storage.DataDir,
	)
	return a, nil
}

func (a *App) provider() (marketdata.Provider, error) {
	md := a.Config.MarketData
	switch md.Provider {
	case "store":
		return marketdata.FromStore(a.Bars), nil
	case "alpaca":
		upstream := marketdata.NewAlpacaProvider(marketdata.AlpacaOptions{
			APIKey:            a.Config.Alpaca.APIKey,
			APISecret:         a.Config.Alpaca.APISecret,
			DataURL:           a.Config.Alpaca.DataURL,
			Feed:              md.Feed,
			RequestsPerMinute: md.RateLimitPerMin,
			Burst:             md.Burst,
			BreakerFailures:   md.BreakerFailures,
			BreakerTimeout:    md.BreakerTimeout,
		})
		var cache store.BarCache
		if a.Cache != nil {
			cache = a.Cache
		}
		return marketdata.NewCachedProvider(upstream, cache, a.Bars), nil
	}
	return nil, fmt.Errorf("unknown market data provider %q", md.Provider)
}

func (a *App) sentiment() (*news.Source, error) {
	md := a.Config.MarketData
	client := &http.Client{Timeout: newsHTTPTimeout}
	var fetchers []news.Fetcher
	for _, name := range md.NewsSources {
		switch strings.ToLower(name) {
		case "alpaca":
			if a.Config.Alpaca.APIKey == "" {
				a.Logger.Warn("alpaca news disabled: no API key")
				continue
			}
			c := alpacamd.NewClient(alpacamd.ClientOpts{
				APIKey:    a.Config.Alpaca.APIKey,
				APISecret: a.Config.Alpaca.APISecret,
				BaseURL:   a.Config.Alpaca.DataURL,
			})
			fetchers = append(fetchers, news.NewAlpacaFetcher(c, md.NewsArticleLimit))
		case "google":
			fetchers = append(fetchers, news.GoogleNews(client))
		case "globenewswire":
			fetchers = append(fetchers, news.GlobeNewswire(client))
		default:
			return nil, fmt.Errorf("market_data.news_sources: unknown source %q", name)
		}
	}
	return news.NewSource(fetchers...), nil
}

// Broker returns the live broker: Alpaca when credentials are configured,
// otherwise a local simulator.
func (a *App) Broker() broker.Broker {
	if a.Config.Alpaca.APIKey == "" {
		a.Logger.Warn("no alpaca credentials, orders go to the local simulator")
		return broker.NewSimulatorBroker(broker.WithCommissionRate(a.Config.Risk.CommissionRate))
	}
	if !a.Config.Trading.PaperMode && strings.Contains(a.Config.Alpaca.BaseURL, "paper") {
		a.Logger.Warn("paper_mode is off but alpaca.base_url points at the paper endpoint", "base_url", a.Config.Alpaca.BaseURL)
	}
	return broker.NewAlpacaBroker(a.Config.Alpaca.APIKey, a.Config.Alpaca.APISecret, a.Config.Alpaca.BaseURL)
}

// Engine builds the live trading engine over Broker, persisting orders to
// the SQLite store.
func (a *App) Engine() *engine.Engine {
	return engine.NewEngine(a.Broker(), a.DB,
		engine.WithTimeout(a.Config.Trading.OrderTimeout),
		engine.WithLogger(a.Logger.With("component", "engine")),
	)
}

// Close releases the database and cache connections.
func (a *App) Close() error {
	var errs []error
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if a.Cache != nil {
		errs = append(errs, a.Cache.Close())
	}
	return errors.Join(errs...)
}
