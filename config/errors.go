package config

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config: configuration file not found")
	ErrEmptyName            = errors.New("config: node name must not be empty")
	ErrInvalidListenAddr    = errors.New("config: invalid listen address")
	ErrInvalidAPIAddr       = errors.New("config: invalid api address")
	ErrInvalidLogLevel      = errors.New("config: invalid log level (must be \"debug\", \"info\", \"warn\", or \"error\")")
	ErrIntervalOutOfRange   = errors.New("config: min block interval must be between 1s and 1h")
	ErrNeighborBounds       = errors.New("config: neighbor bounds must satisfy 1 <= target <= max")
	ErrTimerWindow          = errors.New("config: timer window must satisfy 0 < min <= max")
	ErrInvalidReward        = errors.New("config: mining reward must be positive")
	ErrInvalidRewardAddress = errors.New("config: invalid mining reward address")
	ErrEmptyWalletPath      = errors.New("config: wallet path must not be empty when mining from the wallet")
	ErrInvalidEnv           = errors.New("config: invalid environment override")
)

// ConfigError names the setting that failed. The node refuses to start.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
