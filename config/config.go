package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const EnvPrefix = "POWLEDGER_"

type Config struct {
	Node   NodeConfig   `yaml:"node"`
	P2P    P2PConfig    `yaml:"p2p"`
	Chain  ChainConfig  `yaml:"chain"`
	Mining MiningConfig `yaml:"mining"`
	Wallet WalletConfig `yaml:"wallet"`
	API    APIConfig    `yaml:"api"`
	Events EventsConfig `yaml:"events"`
	Log    LogConfig    `yaml:"log"`
}

type NodeConfig struct {
	Name string `yaml:"name"`
}

type P2PConfig struct {
	Listen           string        `yaml:"listen"`
	Advertise        string        `yaml:"advertise"`
	Seeds            []string      `yaml:"seeds"`
	DNSSeeds         []string      `yaml:"dns_seeds"`
	DNSSeedPort      int           `yaml:"dns_seed_port"`
	DNSResolver      string        `yaml:"dns_resolver"`
	TargetNeighbors  int           `yaml:"target_neighbors"`
	MaxNeighbors     int           `yaml:"max_neighbors"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	TimerMin         time.Duration `yaml:"timer_min"`
	TimerMax         time.Duration `yaml:"timer_max"`
	MaxPayloadBytes  int           `yaml:"max_payload_bytes"`
}

type ChainConfig struct {
	MiningReward      uint64        `yaml:"mining_reward"`
	MinBlockInterval  time.Duration `yaml:"min_block_interval"`
	OrphanTTL         time.Duration `yaml:"orphan_ttl"`
	InitialDifficulty int           `yaml:"initial_difficulty"`
}

type MiningConfig struct {
	Enabled bool `yaml:"enabled"`
	// RewardAddress receives block rewards. When empty the first wallet
	// identity is used.
	RewardAddress string        `yaml:"reward_address"`
	Pause         time.Duration `yaml:"pause"`
}

type WalletConfig struct {
	Path string `yaml:"path"`
}

type APIConfig struct {
	// Listen is the HTTP bind address. Empty disables the API.
	Listen string `yaml:"listen"`
}

type EventsConfig struct {
	NatsURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	NoColor bool   `yaml:"no_color"`
}

// Default returns the standard settings: 4-6 s timers, a
// 10 s heartbeat timeout, discovery below 3 neighbors and a cap of 5.
func Default() Config {
	return Config{
		Node: NodeConfig{Name: defaultName()},
		P2P: P2PConfig{
			Listen:           "0.0.0.0:3000",
			DNSSeedPort:      3000,
			TargetNeighbors:  3,
			MaxNeighbors:     5,
			HeartbeatTimeout: 10 * time.Second,
			TimerMin:         4 * time.Second,
			TimerMax:         6 * time.Second,
			MaxPayloadBytes:  32 << 20,
		},
		Chain: ChainConfig{
			MiningReward:      50,
			MinBlockInterval:  60 * time.Second,
			OrphanTTL:         10 * time.Minute,
			InitialDifficulty: 1,
		},
		Mining: MiningConfig{Pause: time.Second},
		Wallet: WalletConfig{Path: "wallet.db"},
		Events: EventsConfig{SubjectPrefix: "powledger"},
		Log:    LogConfig{Level: "info"},
	}
}

func defaultName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "powledger"
	}
	return host
}

// Load reads the YAML file at path over Default, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}
	return Parse(data, os.LookupEnv)
}

// Parse decodes YAML over Default, then applies overrides from lookupEnv
// (nil skips them) and validates. Unknown keys are rejected.
func Parse(data []byte, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if lookupEnv != nil {
		if err := cfg.ApplyEnv(lookupEnv); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides settings from POWLEDGER_* variables.
func (c *Config) ApplyEnv(lookupEnv func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookupEnv(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := get("NAME"); ok {
		c.Node.Name = v
	}
	if v, ok := get("LISTEN"); ok {
		c.P2P.Listen = v
	}
	if v, ok := get("ADVERTISE"); ok {
		c.P2P.Advertise = v
	}
	if v, ok := get("SEEDS"); ok {
		c.P2P.Seeds = splitList(v)
	}
	if v, ok := get("API"); ok {
		c.API.Listen = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := get("NATS_URL"); ok {
		c.Events.NatsURL = v
	}
	if v, ok := get("WALLET"); ok {
		c.Wallet.Path = v
	}
	if v, ok := get("MIN_BLOCK_INTERVAL"); ok {
		d, err := parseInterval(v)
		if err != nil {
			return &ConfigError{Field: EnvPrefix + "MIN_BLOCK_INTERVAL", Err: fmt.Errorf("%w: %w", ErrInvalidEnv, err)}
		}
		c.Chain.MinBlockInterval = d
	}
	return nil
}

// parseInterval accepts a Go duration or a bare number of seconds.
func parseInterval(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
