// Package config implements the runtime's configuration surface (C12):
// YAML-tagged settings with defaults, validation, and copy-builders,
// adapted from pkg/serverless/config.go and the flag/env override style of
// cmd/gateway/config.go.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every setting the gateway, runtime store, bytecode store, and
// SQL adapter need, per spec.md §6's recognized options.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Chain     ChainConfig     `yaml:"chain"`
	Cache     CacheConfig     `yaml:"cache"`
	IPFS      IPFSConfig      `yaml:"ipfs"`
	Gas       GasConfig       `yaml:"gas"`
	SQL       SQLConfig       `yaml:"sql"`
}

// ServerConfig controls the HTTP gateway's listen address.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ChainConfig identifies the deployment this runtime serves, matching
// spec.md §6's chain.id option.
type ChainConfig struct {
	ID string `yaml:"id"`
}

// CacheConfig points at the local bytecode cache directory.
type CacheConfig struct {
	Directory string `yaml:"directory"`
}

// IPFSConfig configures the bytecode store's remote gateway fallback.
type IPFSConfig struct {
	Gateway string `yaml:"gateway"`
}

// GasConfig carries the default gas limit new instances are admitted with,
// matching spec.md §8 scenario 1's x-gas-limit=500000000000 default.
type GasConfig struct {
	DefaultLimit uint64 `yaml:"default_limit"`
}

// SQLConfig points the host SQL adapter at its remote query service.
type SQLConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Chain:  ChainConfig{ID: "local"},
		Cache:  CacheConfig{Directory: "./data/bytecode"},
		IPFS:   IPFSConfig{Gateway: "https://ipfs.io/ipfs/"},
		Gas:    GasConfig{DefaultLimit: 500_000_000_000},
		SQL:    SQLConfig{Endpoint: ""},
	}
}

// ApplyDefaults fills in zero-valued fields with DefaultConfig's values.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if strings.TrimSpace(c.Server.Host) == "" {
		c.Server.Host = defaults.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaults.Server.Port
	}
	if strings.TrimSpace(c.Chain.ID) == "" {
		c.Chain.ID = defaults.Chain.ID
	}
	if strings.TrimSpace(c.Cache.Directory) == "" {
		c.Cache.Directory = defaults.Cache.Directory
	}
	if strings.TrimSpace(c.IPFS.Gateway) == "" {
		c.IPFS.Gateway = defaults.IPFS.Gateway
	}
	if c.Gas.DefaultLimit == 0 {
		c.Gas.DefaultLimit = defaults.Gas.DefaultLimit
	}
}

// Validate checks the configuration, accumulating every problem found rather
// than failing on the first, matching pkg/serverless/config.go's Validate.
func (c *Config) Validate() []error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, &ConfigError{Field: "server.port", Message: "must be between 1 and 65535"})
	}
	if strings.TrimSpace(c.Chain.ID) == "" {
		errs = append(errs, &ConfigError{Field: "chain.id", Message: "must not be empty"})
	}
	if strings.TrimSpace(c.Cache.Directory) == "" {
		errs = append(errs, &ConfigError{Field: "cache.directory", Message: "must not be empty"})
	}
	if strings.TrimSpace(c.IPFS.Gateway) == "" {
		errs = append(errs, &ConfigError{Field: "ipfs.gateway", Message: "must not be empty"})
	}
	if c.Gas.DefaultLimit == 0 {
		errs = append(errs, &ConfigError{Field: "gas.default_limit", Message: "must be positive"})
	}

	return errs
}

// WithServerAddr returns a copy with the listen address set.
func (c *Config) WithServerAddr(host string, port int) *Config {
	copy := *c
	copy.Server.Host = host
	copy.Server.Port = port
	return &copy
}

// WithGasLimit returns a copy with the default gas limit set.
func (c *Config) WithGasLimit(limit uint64) *Config {
	copy := *c
	copy.Gas.DefaultLimit = limit
	return &copy
}

// WithCacheDirectory returns a copy with the bytecode cache directory set.
func (c *Config) WithCacheDirectory(dir string) *Config {
	copy := *c
	copy.Cache.Directory = dir
	return &copy
}

// ConfigError reports a single field-level validation failure.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Load reads a YAML config file at path (if it exists) over the defaults,
// applies environment-variable overrides, and finally fills remaining zero
// values with defaults. Flags select only the path (see FlagConfigPath).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.ApplyDefaults()

	return cfg, nil
}

// applyEnvOverrides mirrors cmd/gateway/config.go's getEnvDefault idiom:
// environment variables take precedence over whatever YAML provided.
func applyEnvOverrides(cfg *Config) {
	if v := getEnvDefault("RUNTIME_SERVER_HOST", ""); v != "" {
		cfg.Server.Host = v
	}
	if v := getEnvDefault("RUNTIME_SERVER_PORT", ""); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := getEnvDefault("RUNTIME_CHAIN_ID", ""); v != "" {
		cfg.Chain.ID = v
	}
	if v := getEnvDefault("RUNTIME_CACHE_DIRECTORY", ""); v != "" {
		cfg.Cache.Directory = v
	}
	if v := getEnvDefault("RUNTIME_IPFS_GATEWAY", ""); v != "" {
		cfg.IPFS.Gateway = v
	}
	if v := getEnvDefault("RUNTIME_SQL_ENDPOINT", ""); v != "" {
		cfg.SQL.Endpoint = v
	}
	if v := getEnvDefault("RUNTIME_GAS_DEFAULT_LIMIT", ""); v != "" {
		if limit, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Gas.DefaultLimit = limit
		}
	}
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

// FlagConfigPath registers the --config flag on fs and returns a function
// that reads its value once fs.Parse has run, matching cmd/gateway/config.go's
// --config flag for systemd-style absolute-path overrides.
func FlagConfigPath(fs *flag.FlagSet, def string) func() string {
	p := fs.String("config", def, "Config file path (YAML)")
	return func() string { return *p }
}
