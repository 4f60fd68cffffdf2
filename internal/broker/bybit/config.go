// Package bybit provides Bybit v5 connectivity for USDT linear perpetuals.
package bybit

import (
	"time"
)

// Endpoints.
const (
	MainnetURL = "https://api.bybit.com"
	DemoURL    = "https://api-demo.bybit.com"

	PublicLinearWS = "wss://stream.bybit.com/v5/public/linear"
	PrivateWS      = "wss://stream.bybit.com/v5/private"
	DemoPrivateWS  = "wss://stream-demo.bybit.com/v5/private"

	categoryLinear = "linear"
)

// Config holds Bybit connection configuration.
type Config struct {
	// Credentials
	APIKey    string
	APISecret string

	// Endpoints
	BaseURL   string
	PrivateWS string
	Demo      bool

	// Timeouts
	RequestTimeout time.Duration
	RecvWindow     time.Duration

	// Rate limiting
	MaxRequestsPerSecond int
}

// DefaultConfig returns default Bybit configuration (demo trading).
func DefaultConfig() Config {
	return Config{
		BaseURL:              DemoURL,
		PrivateWS:            DemoPrivateWS,
		Demo:                 true,
		RequestTimeout:       10 * time.Second,
		RecvWindow:           5 * time.Second,
		MaxRequestsPerSecond: 10,
	}
}

// LiveConfig returns configuration for mainnet trading.
func LiveConfig() Config {
	cfg := DefaultConfig()
	cfg.BaseURL = MainnetURL
	cfg.PrivateWS = PrivateWS
	cfg.Demo = false
	return cfg
}

// ConfigFor returns the demo or mainnet configuration with credentials set.
func ConfigFor(demo bool, apiKey, apiSecret string) Config {
	cfg := LiveConfig()
	if demo {
		cfg = DefaultConfig()
	}
	cfg.APIKey = apiKey
	cfg.APISecret = apiSecret
	return cfg
}
