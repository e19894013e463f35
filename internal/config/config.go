// Package config loads the tradeforge YAML configuration and applies
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"tradeforge/internal/risk"
)

// DefaultPath is used when TRADEFORGE_CONFIG is unset.
const DefaultPath = "config/tradeforge.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the tradeforge platform.
type Config struct {
	Storage    Storage        `yaml:"storage"`
	Server     Server         `yaml:"server"`
	Alpaca     Alpaca         `yaml:"alpaca"`
	Logging    Logging        `yaml:"logging"`
	MarketData MarketData     `yaml:"market_data"`
	Redis      Redis          `yaml:"redis"`
	Backtest   BacktestConfig `yaml:"backtest"`
	Risk       risk.Settings  `yaml:"risk"`
	Trading    TradingConfig  `yaml:"trading"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MarketData configures the bar provider chain.
type MarketData struct {
	Provider         string        `yaml:"provider"` // "alpaca" or "store"
	Feed             string        `yaml:"feed"`
	RateLimitPerMin  int           `yaml:"rate_limit_per_min"`
	Burst            int           `yaml:"burst"`
	BreakerFailures  uint32        `yaml:"breaker_failures"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
	NewsSources      []string      `yaml:"news_sources"`
	NewsArticleLimit int           `yaml:"news_article_limit"`
}

// Redis configures the hot bar cache. An empty Addr disables it.
type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// BacktestConfig holds defaults for backtest runs.
type BacktestConfig struct {
	InitialCapital      float64 `yaml:"initial_capital"`
	AnnualizationFactor float64 `yaml:"annualization_factor"`
	MaxParallel         int     `yaml:"max_parallel"`
	PersistResults      bool    `yaml:"persist_results"`
}

// TradingConfig defines execution parameters for live and paper trading.
type TradingConfig struct {
	PaperMode    bool          `yaml:"paper_mode"`
	PollInterval time.Duration `yaml:"poll_interval"`
	OrderTimeout time.Duration `yaml:"order_timeout"`
}

// Default returns the configuration used for fields a file leaves unset.
func Default() *Config {
	return &Config{
		Storage: Storage{DataDir: "data", SQLitePath: "data/tradeforge.db"},
		Server:  Server{Host: "0.0.0.0", Port: 8080, GRPCPort: 9090},
		Alpaca: Alpaca{
			BaseURL: "https://paper-api.alpaca.markets",
			DataURL: "https://data.alpaca.markets",
		},
		Logging: Logging{Level: "info", Format: "json"},
		MarketData: MarketData{
			Provider:         "alpaca",
			Feed:             "iex",
			RateLimitPerMin:  200,
			Burst:            10,
			BreakerFailures:  5,
			BreakerTimeout:   30 * time.Second,
			NewsSources:      []string{"alpaca"},
			NewsArticleLimit: 50,
		},
		Redis:    Redis{TTL: 15 * time.Minute},
		Backtest: BacktestConfig{InitialCapital: 10000, AnnualizationFactor: 252, MaxParallel: 8, PersistResults: true},
		Risk:     risk.DefaultSettings(),
		Trading:  TradingConfig{PaperMode: true, PollInterval: time.Minute, OrderTimeout: 10 * time.Second},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns TRADEFORGE_CONFIG or DefaultPath.
func Path() string {
	if v := os.Getenv("TRADEFORGE_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path over the
// defaults, applies environment variable overrides and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// LoadOrDefault is Load, except that a missing file yields the defaults
// with environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		cfg = Default()
		if err := applyEnvOverrides(cfg); err != nil {
			return nil, err
		}
		return cfg, cfg.Validate()
	}
	return cfg, err
}

// Parse decodes YAML over the defaults and applies environment overrides.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.MarketData.Provider {
	case "alpaca", "store":
	default:
		return fmt.Errorf("market_data.provider: unknown provider %q", c.MarketData.Provider)
	}
	if c.Backtest.InitialCapital <= 0 {
		return fmt.Errorf("backtest.initial_capital: must be positive, got %g", c.Backtest.InitialCapital)
	}
	if c.Backtest.MaxParallel < 1 {
		return fmt.Errorf("backtest.max_parallel: must be >= 1, got %d", c.Backtest.MaxParallel)
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	return nil
}

// Addr returns the HTTP listen address.
func (s Server) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// GRPCAddr returns the gRPC listen address.
func (s Server) GRPCAddr() string { return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort) }

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("TRADEFORGE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TRADEFORGE_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("TRADEFORGE_MARKET_DATA"); v != "" {
		cfg.MarketData.Provider = v
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	return nil
}
