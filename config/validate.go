package config

import (
	"fmt"
	"net"
	"time"

	"powledger/blockchain"
	"powledger/logger"
)

const (
	minBlockInterval = time.Second
	maxBlockInterval = time.Hour
)

// Validate checks that all configuration values are within acceptable
// ranges and returns the first error encountered as a *ConfigError.
func (c *Config) Validate() error {
	if c.Node.Name == "" {
		return &ConfigError{Field: "node.name", Err: ErrEmptyName}
	}

	if err := validateAddr(c.P2P.Listen); err != nil {
		return &ConfigError{Field: "p2p.listen", Err: fmt.Errorf("%w: %w", ErrInvalidListenAddr, err)}
	}
	if c.P2P.Advertise != "" {
		if err := validateAddr(c.P2P.Advertise); err != nil {
			return &ConfigError{Field: "p2p.advertise", Err: fmt.Errorf("%w: %w", ErrInvalidListenAddr, err)}
		}
	}
	if c.P2P.TargetNeighbors < 1 || c.P2P.MaxNeighbors < c.P2P.TargetNeighbors {
		return &ConfigError{Field: "p2p.max_neighbors", Err: ErrNeighborBounds}
	}
	if c.P2P.TimerMin <= 0 || c.P2P.TimerMax < c.P2P.TimerMin {
		return &ConfigError{Field: "p2p.timer_max", Err: ErrTimerWindow}
	}

	if c.Chain.MiningReward == 0 {
		return &ConfigError{Field: "chain.mining_reward", Err: ErrInvalidReward}
	}
	if c.Chain.MinBlockInterval < minBlockInterval || c.Chain.MinBlockInterval > maxBlockInterval {
		return &ConfigError{Field: "chain.min_block_interval", Err: ErrIntervalOutOfRange}
	}

	if c.Mining.Enabled {
		if c.Mining.RewardAddress != "" {
			if err := blockchain.ValidateAddress(c.Mining.RewardAddress); err != nil {
				return &ConfigError{Field: "mining.reward_address", Err: fmt.Errorf("%w: %w", ErrInvalidRewardAddress, err)}
			}
		} else if c.Wallet.Path == "" {
			return &ConfigError{Field: "wallet.path", Err: ErrEmptyWalletPath}
		}
	}

	if c.API.Listen != "" {
		if err := validateAddr(c.API.Listen); err != nil {
			return &ConfigError{Field: "api.listen", Err: fmt.Errorf("%w: %w", ErrInvalidAPIAddr, err)}
		}
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return &ConfigError{Field: "log.level", Err: ErrInvalidLogLevel}
	}
	return nil
}

// validateAddr checks that addr is a valid host:port address.
func validateAddr(addr string) error {
	_, _, err := net.SplitHostPort(addr)
	return err
}
