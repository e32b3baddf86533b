// Package config loads the YAML configuration once at process start.
// The result is treated as immutable and passed down explicitly.
package config

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"apirelay/internal/egress"
	"apirelay/internal/errdef"
	"apirelay/internal/logger"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Relay     RelayConfig     `yaml:"relay"`
	Egress    EgressConfig    `yaml:"egress"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       logger.Config   `yaml:"log"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`

	// SelfBaseURL is the origin relative targets are forwarded to.
	// Derived from Listen when empty.
	SelfBaseURL string `yaml:"self_base_url"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// CORSOrigins lists browser origins allowed to call the API; "*" allows any.
	CORSOrigins []string `yaml:"cors_origins"`
}

type RelayConfig struct {
	MaxBodyBytes     int64         `yaml:"max_body_bytes"`
	MaxResponseBytes int64         `yaml:"max_response_bytes"` // 0 = unlimited
	Timeout          time.Duration `yaml:"timeout"`
	UserAgent        string        `yaml:"user_agent"`
}

type EgressConfig struct {
	RelativePrefixes []string `yaml:"relative_prefixes"`
	ExternalHosts    []string `yaml:"external_hosts"`
}

type StorageConfig struct {
	Driver string      `yaml:"driver"` // sqlite, redis
	SQLite SQLiteConf  `yaml:"sqlite"`
	Redis  RedisConfig `yaml:"redis"`
}

type SQLiteConf struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type AuthConfig struct {
	Mode      string `yaml:"mode"` // jwt, none
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
}

type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:       "127.0.0.1:8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Relay: RelayConfig{
			MaxBodyBytes: 100 * 1024,
			Timeout:      20 * time.Second,
			UserAgent:    "apirelay/1.0",
		},
		Egress: EgressConfig{
			RelativePrefixes: append([]string(nil), egress.DefaultRelativePrefixes...),
			ExternalHosts:    append([]string(nil), egress.DefaultExternalHosts...),
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			SQLite: SQLiteConf{Path: defaultDBPath()},
			Redis:  RedisConfig{Addr: "127.0.0.1:6379", PoolSize: 10},
		},
		Auth: AuthConfig{Mode: "none"},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     5,
			Burst:   10,
		},
		Log: logger.Config{Level: "info", Format: "console", Output: "stderr"},
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "apirelay.db"
	}
	return filepath.Join(home, ".apirelay", "apirelay.db")
}

// Load reads path (optional) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errdef.Wrapf(err, errdef.CodeConfig, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errdef.Wrapf(err, errdef.CodeConfig, "parse config %s", path)
		}
	}
	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("APIRELAY_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := getenv("APIRELAY_SELF_BASE_URL"); v != "" {
		c.Server.SelfBaseURL = v
	}
	if v := getenv("APIRELAY_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := getenv("APIRELAY_SQLITE_PATH"); v != "" {
		c.Storage.SQLite.Path = v
	}
	if v := getenv("APIRELAY_REDIS_ADDR"); v != "" {
		c.Storage.Redis.Addr = v
	}
	if v := getenv("APIRELAY_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
		if c.Auth.Mode == "" || c.Auth.Mode == "none" {
			c.Auth.Mode = "jwt"
		}
	}
	if v := getenv("APIRELAY_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Relay.MaxBodyBytes <= 0 {
		return errdef.New(errdef.CodeConfig, "relay.max_body_bytes must be positive")
	}
	if c.Relay.MaxResponseBytes < 0 {
		return errdef.New(errdef.CodeConfig, "relay.max_response_bytes must not be negative")
	}
	if c.Relay.Timeout <= 0 {
		return errdef.New(errdef.CodeConfig, "relay.timeout must be positive")
	}
	if len(c.Egress.RelativePrefixes) == 0 && len(c.Egress.ExternalHosts) == 0 {
		return errdef.New(errdef.CodeConfig, "egress allowlist is empty")
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return errdef.New(errdef.CodeConfig, "storage.sqlite.path is required")
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return errdef.New(errdef.CodeConfig, "storage.redis.addr is required")
		}
	default:
		return errdef.Newf(errdef.CodeConfig, "unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Auth.Mode {
	case "none":
	case "jwt":
		if c.Auth.JWTSecret == "" {
			return errdef.New(errdef.CodeConfig, "auth.jwt_secret is required when auth.mode is jwt")
		}
	default:
		return errdef.Newf(errdef.CodeConfig, "unknown auth mode %q", c.Auth.Mode)
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return errdef.New(errdef.CodeConfig, "rate_limit.rps and rate_limit.burst must be positive")
	}
	return nil
}

// Policy builds the egress policy from the allowlists.
func (c *Config) Policy() (*egress.Policy, error) {
	return egress.NewPolicy(c.Egress.RelativePrefixes, c.Egress.ExternalHosts)
}

// BaseURL returns the origin relative targets are forwarded to.
func (c *Config) BaseURL() string {
	if c.Server.SelfBaseURL != "" {
		return strings.TrimSuffix(c.Server.SelfBaseURL, "/")
	}
	host, port, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		return "http://127.0.0.1:8080"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
