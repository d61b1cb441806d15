// Package config loads the relay configuration from YAML with environment
// overrides for secrets, and validates it before anything connects.
package config

import (
	"math/big"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	commonerrors "github.com/hashlock-labs/htlc-relay/common/errors"
	"github.com/hashlock-labs/htlc-relay/common/types"
)

// Environment variables overriding secret-bearing config fields.
const (
	envSourcePrivateKey = "RELAY_SOURCE_PRIVATE_KEY"
	envDatabaseURL      = "RELAY_DATABASE_URL"
)

// Config is the root relay configuration.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Source  ChainConfig   `yaml:"source"`
	Target  ChainConfig   `yaml:"target"`
	Swap    SwapConfig    `yaml:"swap"`
	Store   StoreConfig   `yaml:"store"`
	Stats   StatsConfig   `yaml:"stats"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|text
}

// ChainConfig is the per-chain configuration block.
type ChainConfig struct {
	Name            string        `yaml:"name"`
	Type            string        `yaml:"type"` // evm|cosmos
	ChainID         uint64        `yaml:"chain_id"`
	RpcURL          string        `yaml:"rpc_url"`
	ContractAddress string        `yaml:"contract_address"`
	StartBlock      uint64        `yaml:"start_block"`
	TxType          uint64        `yaml:"tx_type"`
	WaitNBlocks     uint64        `yaml:"wait_n_blocks"`
	PrivateKey      string        `yaml:"private_key"`
	SignerURL       string        `yaml:"signer_url"`
	SignerAddress   string        `yaml:"signer_address"`
	Denom           string        `yaml:"denom"`
	AddressPrefix   string        `yaml:"address_prefix"`
	GasPrice        string        `yaml:"gas_price"`
	SafetyDeposit   string        `yaml:"safety_deposit"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	Asset           string        `yaml:"asset"`
}

// SwapConfig holds the coordination policy knobs.
type SwapConfig struct {
	SafetyBuffer  time.Duration `yaml:"safety_buffer"`
	MinTimelock   time.Duration `yaml:"min_timelock"`
	MaxTimelock   time.Duration `yaml:"max_timelock"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepGrace    time.Duration `yaml:"sweep_grace"`

	// RateNumerator/RateDenominator define the fixed source->target
	// conversion ratio in smallest denominations; the inverse is applied
	// for swaps originating on the target chain.
	RateNumerator   string `yaml:"rate_numerator"`
	RateDenominator string `yaml:"rate_denominator"`
}

// StoreConfig configures the optional durable swap store.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url"`
}

// StatsConfig configures periodic activity logging.
type StatsConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Load reads, overrides, and validates the configuration at path.
//
// Parameters:
// - path: the YAML config file path.
//
// Returns:
// - *Config: the validated configuration.
// - error: a wrapped ErrInvalidConfig if the file is unreadable or invalid.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Swap.SafetyBuffer == 0 {
		c.Swap.SafetyBuffer = time.Hour
	}
	if c.Swap.SweepInterval == 0 {
		c.Swap.SweepInterval = 30 * time.Second
	}
	if c.Stats.Interval == 0 {
		c.Stats.Interval = time.Minute
	}
	if c.Swap.RateNumerator == "" {
		c.Swap.RateNumerator = "1"
	}
	if c.Swap.RateDenominator == "" {
		c.Swap.RateDenominator = "1"
	}
}

// applyEnvOverrides pulls secrets from the environment so they never have to
// live in the config file.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv(envSourcePrivateKey); key != "" {
		c.Source.PrivateKey = key
	}
	if dsn := os.Getenv(envDatabaseURL); dsn != "" {
		c.Store.DatabaseURL = dsn
	}
}

// Validate checks the configuration for fatal problems. A failure here
// terminates startup with a non-zero exit.
func (c *Config) Validate() error {
	for _, chain := range []struct {
		label string
		cfg   *ChainConfig
	}{
		{"source", &c.Source},
		{"target", &c.Target},
	} {
		if chain.cfg.RpcURL == "" {
			return errors.Wrapf(commonerrors.ErrInvalidConfig, "%s chain missing rpc_url", chain.label)
		}
		if chain.cfg.ContractAddress == "" {
			return errors.Wrapf(commonerrors.ErrInvalidConfig, "%s chain missing contract_address", chain.label)
		}
		if chain.cfg.Type == "" {
			return errors.Wrapf(commonerrors.ErrInvalidConfig, "%s chain missing type", chain.label)
		}
	}

	if c.Swap.SafetyBuffer <= 0 {
		return errors.Wrap(commonerrors.ErrInvalidConfig, "safety_buffer must be positive")
	}
	if c.Swap.MinTimelock < 0 || c.Swap.MaxTimelock < 0 {
		return errors.Wrap(commonerrors.ErrInvalidConfig, "timelock bounds must be non-negative")
	}
	if c.Swap.MaxTimelock > 0 && c.Swap.MinTimelock > c.Swap.MaxTimelock {
		return errors.Wrap(commonerrors.ErrInvalidConfig, "min_timelock exceeds max_timelock")
	}

	if _, ok := new(big.Int).SetString(c.Swap.RateNumerator, 10); !ok {
		return errors.Wrapf(commonerrors.ErrInvalidConfig, "bad rate_numerator %q", c.Swap.RateNumerator)
	}
	if den, ok := new(big.Int).SetString(c.Swap.RateDenominator, 10); !ok || den.Sign() == 0 {
		return errors.Wrapf(commonerrors.ErrInvalidConfig, "bad rate_denominator %q", c.Swap.RateDenominator)
	}

	return nil
}

// Rate returns the fixed source->target ratio as big integers.
func (c *Config) Rate() (num, den *big.Int) {
	num, _ = new(big.Int).SetString(c.Swap.RateNumerator, 10)
	den, _ = new(big.Int).SetString(c.Swap.RateDenominator, 10)
	return num, den
}

// ChainConfigFor materializes the runtime chain configuration for a role.
func (c *Config) ChainConfigFor(role types.ChainRole) *types.ChainConfig {
	src := &c.Source
	if role == types.ChainTarget {
		src = &c.Target
	}

	return &types.ChainConfig{
		Name:            src.Name,
		Type:            src.Type,
		Role:            role,
		ChainID:         src.ChainID,
		RpcUrl:          src.RpcURL,
		ContractAddress: src.ContractAddress,
		StartBlock:      src.StartBlock,
		TxType:          src.TxType,
		WaitNBlocks:     src.WaitNBlocks,
		PrivateKey:      src.PrivateKey,
		SignerURL:       src.SignerURL,
		SignerAddress:   src.SignerAddress,
		Denom:           src.Denom,
		AddressPrefix:   src.AddressPrefix,
		GasPrice:        src.GasPrice,
		SafetyDeposit:   src.SafetyDeposit,
		PollInterval:    src.PollInterval,
	}
}
