// Package config loads worker configuration from YAML.
package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level worker configuration.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	GasBank  GasBankConfig  `yaml:"gas_bank"`
	Dispatch DispatchConfig `yaml:"dispatch"`
}

// ServerConfig configures the debug/metrics HTTP listener and the
// envelope transport listener.
type ServerConfig struct {
	HTTPAddr      string `yaml:"http_addr"`
	TransportAddr string `yaml:"transport_addr"`
}

// StorageConfig selects the object store backend.
type StorageConfig struct {
	Backend   string `yaml:"backend"` // "memory" or "redis"
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
}

// SandboxConfig carries script execution limits.
type SandboxConfig struct {
	TimeoutMillis          int64  `yaml:"timeout_millis"`
	MemoryLimitBytes       int64  `yaml:"memory_limit_bytes"`
	StackSizeBytes         int32  `yaml:"stack_size_bytes"`
	EnableInteroperability bool   `yaml:"enable_interoperability"`
	ServiceLayerURL        string `yaml:"service_layer_url"`
}

// GasBankConfig carries ledger allocation bounds.
type GasBankConfig struct {
	MinAllocationAmount  *big.Int      `yaml:"-"`
	MaxAllocationPerUser *big.Int      `yaml:"-"`
	MinAllocationRaw     string        `yaml:"min_allocation_amount"`
	MaxAllocationRaw     string        `yaml:"max_allocation_per_user"`
	DefaultTTL           time.Duration `yaml:"default_ttl"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
}

// DispatchConfig bounds request dispatch.
type DispatchConfig struct {
	RatePerSecond int `yaml:"rate_per_second"`
	Burst         int `yaml:"burst"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			HTTPAddr:      ":8080",
			TransportAddr: ":7700",
		},
		Storage: StorageConfig{Backend: "memory"},
		Sandbox: SandboxConfig{
			TimeoutMillis:          5000,
			MemoryLimitBytes:       128 * 1024 * 1024,
			StackSizeBytes:         8 * 1024 * 1024,
			EnableInteroperability: true,
		},
		GasBank: GasBankConfig{
			MinAllocationAmount:  big.NewInt(1_000_000),   // 0.01 GAS
			MaxAllocationPerUser: big.NewInt(100_000_000), // 1 GAS
			DefaultTTL:           10 * time.Minute,
			SweepInterval:        time.Minute,
		},
		Dispatch: DispatchConfig{RatePerSecond: 50, Burst: 100},
	}
}

// Load reads a config file, filling unset fields from Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.resolveAmounts(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads the file if it exists, otherwise returns defaults.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
}

func (c *Config) resolveAmounts() error {
	if c.GasBank.MinAllocationRaw != "" {
		v, ok := new(big.Int).SetString(c.GasBank.MinAllocationRaw, 10)
		if !ok {
			return fmt.Errorf("invalid min_allocation_amount: %q", c.GasBank.MinAllocationRaw)
		}
		c.GasBank.MinAllocationAmount = v
	}
	if c.GasBank.MaxAllocationRaw != "" {
		v, ok := new(big.Int).SetString(c.GasBank.MaxAllocationRaw, 10)
		if !ok {
			return fmt.Errorf("invalid max_allocation_per_user: %q", c.GasBank.MaxAllocationRaw)
		}
		c.GasBank.MaxAllocationPerUser = v
	}
	return nil
}

// Validate rejects configurations the worker cannot run with.
func (c *Config) Validate() error {
	if c.Sandbox.TimeoutMillis <= 0 {
		return fmt.Errorf("sandbox timeout must be positive")
	}
	if c.Sandbox.MemoryLimitBytes <= 0 {
		return fmt.Errorf("sandbox memory limit must be positive")
	}
	if c.GasBank.MinAllocationAmount == nil || c.GasBank.MinAllocationAmount.Sign() <= 0 {
		return fmt.Errorf("min allocation amount must be positive")
	}
	if c.GasBank.MaxAllocationPerUser == nil || c.GasBank.MaxAllocationPerUser.Sign() <= 0 {
		return fmt.Errorf("max allocation per user must be positive")
	}
	if c.GasBank.MinAllocationAmount.Cmp(c.GasBank.MaxAllocationPerUser) > 0 {
		return fmt.Errorf("min allocation must not exceed max allocation")
	}
	if c.GasBank.SweepInterval < time.Second {
		return fmt.Errorf("sweep interval must be at least 1 second")
	}
	switch c.Storage.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "redis" && c.Storage.RedisAddr == "" {
		return fmt.Errorf("redis backend requires redis_addr")
	}
	return nil
}
