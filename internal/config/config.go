// Package config handles loading and validating pool and backend
// configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joao-brasil/tenant-pool/pkg/tenant"
	"gopkg.in/yaml.v3"
)

// PoolFileConfig holds the pool core configuration.
type PoolFileConfig struct {
	MaxCapacity         int           `yaml:"max_capacity"`
	MinIdleTimeBeforeGC time.Duration `yaml:"min_idle_time_before_gc"`
	StatsInterval       time.Duration `yaml:"stats_interval"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	AcquireTimeout      time.Duration `yaml:"acquire_timeout"`
	MetricsPort         int           `yaml:"metrics_port"`
	HealthCheckPort     int           `yaml:"health_check_port"`
}

// RelayConfig holds the Redis metrics relay configuration.
type RelayConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Channel      string        `yaml:"channel"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Config is the root configuration structure.
type Config struct {
	Pool     PoolFileConfig
	Relay    RelayConfig
	Backends []tenant.Backend
}

// poolFileConfig mirrors the YAML structure for the pool config file.
type poolFileConfig struct {
	Pool  PoolFileConfig `yaml:"pool"`
	Relay RelayConfig    `yaml:"relay"`
}

// backendsFileConfig mirrors the YAML structure for the backends config file.
type backendsFileConfig struct {
	Backends []tenant.Backend `yaml:"backends"`
}

// Load reads and parses both pool and backends configuration files.
func Load(poolConfigPath, backendsConfigPath string) (*Config, error) {
	poolData, err := os.ReadFile(poolConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading pool config %s: %w", poolConfigPath, err)
	}

	var poolFile poolFileConfig
	if err := yaml.Unmarshal(poolData, &poolFile); err != nil {
		return nil, fmt.Errorf("parsing pool config %s: %w", poolConfigPath, err)
	}

	backendsData, err := os.ReadFile(backendsConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading backends config %s: %w", backendsConfigPath, err)
	}

	var backendsFile backendsFileConfig
	if err := yaml.Unmarshal(backendsData, &backendsFile); err != nil {
		return nil, fmt.Errorf("parsing backends config %s: %w", backendsConfigPath, err)
	}

	cfg := &Config{
		Pool:     poolFile.Pool,
		Relay:    poolFile.Relay,
		Backends: backendsFile.Backends,
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	cfg.applyDefaults()

	return cfg, nil
}

// validate checks mandatory fields.
func (c *Config) validate() error {
	if c.Pool.MaxCapacity < 1 {
		return fmt.Errorf("pool.max_capacity must be >= 1")
	}
	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend must be configured")
	}
	for i, b := range c.Backends {
		if b.Name == "" {
			return fmt.Errorf("backend[%d].name is required", i)
		}
		if b.Host == "" {
			return fmt.Errorf("backend[%d].host is required", i)
		}
		if b.Port == 0 {
			return fmt.Errorf("backend[%d].port is required", i)
		}
	}
	return nil
}

// applyDefaults fills in reasonable defaults for unset optional fields.
func (c *Config) applyDefaults() {
	if c.Pool.MinIdleTimeBeforeGC == 0 {
		c.Pool.MinIdleTimeBeforeGC = 10 * time.Second
	}
	if c.Pool.StatsInterval == 0 {
		c.Pool.StatsInterval = time.Second
	}
	if c.Pool.ConnectTimeout == 0 {
		c.Pool.ConnectTimeout = 10 * time.Second
	}
	if c.Pool.AcquireTimeout == 0 {
		c.Pool.AcquireTimeout = 30 * time.Second
	}
	if c.Pool.MetricsPort == 0 {
		c.Pool.MetricsPort = 9090
	}
	if c.Pool.HealthCheckPort == 0 {
		c.Pool.HealthCheckPort = 8080
	}
	if c.Relay.Addr == "" {
		c.Relay.Addr = "redis:6379"
	}
	if c.Relay.Channel == "" {
		c.Relay.Channel = "tenant-pool:metrics"
	}
	if c.Relay.DialTimeout == 0 {
		c.Relay.DialTimeout = 5 * time.Second
	}
	if c.Relay.ReadTimeout == 0 {
		c.Relay.ReadTimeout = 3 * time.Second
	}
	if c.Relay.WriteTimeout == 0 {
		c.Relay.WriteTimeout = 3 * time.Second
	}

	for i := range c.Backends {
		if c.Backends[i].ConnectionTimeout == 0 {
			c.Backends[i].ConnectionTimeout = 30 * time.Second
		}
	}
}

// BackendByName returns the backend configuration for a given database name.
func (c *Config) BackendByName(name string) (*tenant.Backend, bool) {
	for i := range c.Backends {
		if c.Backends[i].Name == name {
			return &c.Backends[i], true
		}
	}
	return nil, false
}
