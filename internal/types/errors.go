package types

import "errors"

// Sentinel errors for the trading system.
var (
	// Exchange errors
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderRejected       = errors.New("order rejected by exchange")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidOrderSize    = errors.New("invalid order size")
	ErrAuthentication      = errors.New("exchange authentication failed")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrConnectionLost      = errors.New("connection lost")

	// Data errors
	ErrInvalidPrice       = errors.New("invalid price value")
	ErrInvalidData        = errors.New("invalid market data")
	ErrDataUnavailable    = errors.New("market data unavailable")
	ErrInstrumentNotFound = errors.New("instrument not found")

	// Lifecycle errors
	ErrMaxAttemptsExceeded = errors.New("maximum attempts exceeded")
	ErrPositionExists      = errors.New("position already active for symbol")
	ErrPositionNotFound    = errors.New("no active position for symbol")
	ErrExposureLimit       = errors.New("exposure limit exceeded")
	ErrKillSwitchActive    = errors.New("kill switch active: drawdown limit reached")
	ErrEngineStopped       = errors.New("engine stopped")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidParams = errors.New("invalid strategy parameters")
	ErrInvalidSymbol = errors.New("invalid symbol")
)
