// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/strategy"
	"github.com/tathienbao/short-averager/internal/types"
	"gopkg.in/yaml.v3"
)

// Config represents the full application configuration.
type Config struct {
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Engine      EngineConfig      `yaml:"engine"`
	Feed        FeedConfig        `yaml:"feed"`
	Risk        RiskConfig        `yaml:"risk"`
	API         APIConfig         `yaml:"api"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Shutdown    ShutdownConfig    `yaml:"shutdown"`
	Backtest    BacktestConfig    `yaml:"backtest"`
}

// ExchangeConfig holds Bybit credentials and client settings. Credentials
// may also come from the environment.
type ExchangeConfig struct {
	APIKey        string `yaml:"api_key" env:"BYBIT_API_KEY"`
	APISecret     string `yaml:"api_secret" env:"BYBIT_API_SECRET"`
	DemoAPIKey    string `yaml:"demo_api_key" env:"BYBIT_DEMO_API_KEY"`
	DemoAPISecret string `yaml:"demo_api_secret" env:"BYBIT_DEMO_API_SECRET"`

	RequestTimeoutSec  int     `yaml:"request_timeout_sec"`
	RecvWindowMs       int     `yaml:"recv_window_ms"`
	RateLimitPerSecond int     `yaml:"rate_limit_per_second"`
	MinNotional        float64 `yaml:"min_notional"`
}

// StrategyConfig holds the default trade parameters. Requests override
// them per position.
type StrategyConfig struct {
	UsdtAmount       float64 `yaml:"usdt_amount"`
	AveragingPercent float64 `yaml:"averaging_percent"`
	InitialTPPercent float64 `yaml:"initial_tp_percent"`
	BreakevenStep    float64 `yaml:"breakeven_step"`
	StopLossPercent  float64 `yaml:"stop_loss_percent"`
	UseDemo          bool    `yaml:"use_demo"`
	BreakevenBasis   string  `yaml:"breakeven_basis"` // entry | tick
}

// EngineConfig holds position engine settings.
type EngineConfig struct {
	ReconcileIntervalMs int `yaml:"reconcile_interval_ms"`
	MaxOpenAttempts     int `yaml:"max_open_attempts"`
	RetryAttempts       int `yaml:"retry_attempts"`
	RetryDelayMs        int `yaml:"retry_delay_ms"`
}

// FeedConfig holds market data settings.
type FeedConfig struct {
	SilenceTimeoutSec int    `yaml:"silence_timeout_sec"`
	TickBuffer        int    `yaml:"tick_buffer"`
	FillDetection     string `yaml:"fill_detection"` // poll | stream
	FillPollSec       int    `yaml:"fill_poll_sec"`
}

// RiskConfig holds exposure limits. Zero disables a limit.
type RiskConfig struct {
	MaxActivePositions int     `yaml:"max_active_positions"`
	MaxTotalNotional   float64 `yaml:"max_total_notional"`
	MaxDrawdownUsdt    float64 `yaml:"max_drawdown_usdt"`
}

// APIConfig holds the HTTP control API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// PersistenceConfig holds persistence settings.
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled     bool           `yaml:"enabled"`
	Console     bool           `yaml:"console"`
	MinSeverity string         `yaml:"min_severity"`
	Telegram    TelegramConfig `yaml:"telegram"`
}

// TelegramConfig holds the Telegram channel settings.
type TelegramConfig struct {
	BotToken   string   `yaml:"bot_token" env:"TELEGRAM_BOT_TOKEN"`
	ChatIDs    []string `yaml:"chat_ids" env:"TELEGRAM_CHAT_ID" envSeparator:","`
	TimeoutSec int      `yaml:"timeout_sec"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// ShutdownConfig holds shutdown settings.
type ShutdownConfig struct {
	TimeoutSec               int  `yaml:"timeout_sec"`
	ClosePositionsOnShutdown bool `yaml:"close_positions_on_shutdown"`
}

// BacktestConfig holds paper exchange settings for replays.
type BacktestConfig struct {
	InitialBalance float64 `yaml:"initial_balance"`
	FeeRate        float64 `yaml:"fee_rate"`
	SlippageTicks  int     `yaml:"slippage_ticks"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() Config {
	return Config{
		Exchange: ExchangeConfig{
			RequestTimeoutSec:  10,
			RecvWindowMs:       5000,
			RateLimitPerSecond: 10,
			MinNotional:        5,
		},
		Strategy: StrategyConfig{
			UsdtAmount:       100,
			AveragingPercent: 10,
			InitialTPPercent: 3,
			BreakevenStep:    2,
			StopLossPercent:  15,
			UseDemo:          true,
			BreakevenBasis:   string(strategy.BasisEntry),
		},
		Engine: EngineConfig{
			ReconcileIntervalMs: 500,
			MaxOpenAttempts:     5,
			RetryAttempts:       3,
			RetryDelayMs:        500,
		},
		Feed: FeedConfig{
			SilenceTimeoutSec: 20,
			TickBuffer:        64,
			FillDetection:     "poll",
			FillPollSec:       5,
		},
		API: APIConfig{
			Enabled: true,
			Addr:    ":8000",
		},
		Persistence: PersistenceConfig{
			Enabled: true,
			Path:    "data/short-averager.db",
		},
		Alerting: AlertingConfig{
			Console:     true,
			MinSeverity: "info",
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
		Shutdown: ShutdownConfig{
			TimeoutSec: 30,
		},
		Backtest: BacktestConfig{
			InitialBalance: 10000,
			FeeRate:        0.00055,
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes. Values start from
// Default, ${VAR} references are expanded and secrets set in the
// environment override the file.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if _, err := c.StrategyParams("BTC"); err != nil {
		errs = append(errs, "strategy."+strings.TrimPrefix(err.Error(), types.ErrInvalidParams.Error()+": "))
	}

	if c.Engine.ReconcileIntervalMs <= 0 {
		errs = append(errs, "engine.reconcile_interval_ms must be positive")
	}
	if c.Engine.MaxOpenAttempts <= 0 {
		errs = append(errs, "engine.max_open_attempts must be positive")
	}
	if c.Engine.RetryAttempts <= 0 {
		errs = append(errs, "engine.retry_attempts must be positive")
	}
	if c.Engine.RetryDelayMs < 0 {
		errs = append(errs, "engine.retry_delay_ms must not be negative")
	}

	if c.Feed.SilenceTimeoutSec <= 0 {
		errs = append(errs, "feed.silence_timeout_sec must be positive")
	}
	if c.Feed.TickBuffer <= 0 {
		errs = append(errs, "feed.tick_buffer must be positive")
	}
	if c.Feed.FillDetection != "poll" && c.Feed.FillDetection != "stream" {
		errs = append(errs, "feed.fill_detection must be 'poll' or 'stream'")
	}

	if c.Exchange.MinNotional < 0 {
		errs = append(errs, "exchange.min_notional must not be negative")
	}
	if c.Exchange.RateLimitPerSecond <= 0 {
		errs = append(errs, "exchange.rate_limit_per_second must be positive")
	}

	if c.Risk.MaxActivePositions < 0 || c.Risk.MaxTotalNotional < 0 || c.Risk.MaxDrawdownUsdt < 0 {
		errs = append(errs, "risk limits must not be negative")
	}

	if c.API.Enabled && c.API.Addr == "" {
		errs = append(errs, "api.addr is required when the api is enabled")
	}

	if c.Persistence.Enabled && c.Persistence.Path == "" {
		errs = append(errs, "persistence.path is required")
	}

	if c.Alerting.Enabled {
		switch strings.ToLower(c.Alerting.MinSeverity) {
		case "", "info", "warn", "warning", "high", "critical":
		default:
			errs = append(errs, fmt.Sprintf("alerting.min_severity '%s' is not supported", c.Alerting.MinSeverity))
		}
		if c.Alerting.Telegram.BotToken != "" && len(c.Alerting.Telegram.ChatIDs) == 0 {
			errs = append(errs, "alerting.telegram.chat_ids is required with a bot token")
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		errs = append(errs, "metrics.port must be a valid port")
	}

	if c.Backtest.FeeRate < 0 || c.Backtest.SlippageTicks < 0 {
		errs = append(errs, "backtest fees and slippage must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// StrategyDefaults returns the configured default trade parameters with no
// symbol set.
func (c *Config) StrategyDefaults() (strategy.Params, error) {
	basis, err := strategy.ParseBreakevenBasis(c.Strategy.BreakevenBasis)
	if err != nil {
		return strategy.Params{}, err
	}
	return strategy.Params{
		UsdtAmount:       decimal.NewFromFloat(c.Strategy.UsdtAmount),
		AveragingPercent: decimal.NewFromFloat(c.Strategy.AveragingPercent),
		InitialTPPercent: decimal.NewFromFloat(c.Strategy.InitialTPPercent),
		BreakevenStep:    decimal.NewFromFloat(c.Strategy.BreakevenStep),
		StopLossPercent:  decimal.NewFromFloat(c.Strategy.StopLossPercent),
		UseDemo:          c.Strategy.UseDemo,
		Basis:            basis,
	}, nil
}

// StrategyParams returns validated default parameters for symbol.
func (c *Config) StrategyParams(symbol string) (strategy.Params, error) {
	p, err := c.StrategyDefaults()
	if err != nil {
		return strategy.Params{}, err
	}
	p.Symbol = strategy.NormalizeSymbol(symbol)
	return p, p.Validate()
}

// Credentials returns the API key pair for the demo or live account.
func (c *Config) Credentials(demo bool) (key, secret string) {
	if demo {
		return c.Exchange.DemoAPIKey, c.Exchange.DemoAPISecret
	}
	return c.Exchange.APIKey, c.Exchange.APISecret
}

// HasCredentials reports whether the demo or live key pair is set.
func (c *Config) HasCredentials(demo bool) bool {
	key, secret := c.Credentials(demo)
	return key != "" && secret != ""
}

// MinNotional returns the minimum order value in USDT.
func (c *Config) MinNotional() decimal.Decimal {
	return decimal.NewFromFloat(c.Exchange.MinNotional)
}

// MaxTotalNotional returns the exposure cap in USDT.
func (c *Config) MaxTotalNotional() decimal.Decimal {
	return decimal.NewFromFloat(c.Risk.MaxTotalNotional)
}

// MaxDrawdownUsdt returns the kill switch threshold in USDT.
func (c *Config) MaxDrawdownUsdt() decimal.Decimal {
	return decimal.NewFromFloat(c.Risk.MaxDrawdownUsdt)
}

// RequestTimeout returns the exchange request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Exchange.RequestTimeoutSec) * time.Second
}

// RecvWindow returns the signed request validity window.
func (c *Config) RecvWindow() time.Duration {
	return time.Duration(c.Exchange.RecvWindowMs) * time.Millisecond
}

// ReconcileInterval returns the reconciliation cadence.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Engine.ReconcileIntervalMs) * time.Millisecond
}

// RetryDelay returns the retry delay duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Engine.RetryDelayMs) * time.Millisecond
}

// SilenceTimeout returns how long a stream may stay silent before reconnecting.
func (c *Config) SilenceTimeout() time.Duration {
	return time.Duration(c.Feed.SilenceTimeoutSec) * time.Second
}

// FillPollInterval returns the polling cadence used while the order stream is down.
func (c *Config) FillPollInterval() time.Duration {
	return time.Duration(c.Feed.FillPollSec) * time.Second
}

// ShutdownTimeout returns the shutdown timeout duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Shutdown.TimeoutSec) * time.Second
}

// TelegramTimeout returns the Telegram request timeout.
func (c *Config) TelegramTimeout() time.Duration {
	return time.Duration(c.Alerting.Telegram.TimeoutSec) * time.Second
}
