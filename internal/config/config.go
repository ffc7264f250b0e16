// Package config loads daemon configuration from a YAML file and
// ASSETGRID_* environment variables via viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete daemon configuration.
type Config struct {
	Server Server `mapstructure:"server"`
	Store  Store  `mapstructure:"store"`
	Locks  Locks  `mapstructure:"locks"`
	Redis  Redis  `mapstructure:"redis"`
	Auth   Auth   `mapstructure:"auth"`
}

// Server controls the HTTP listener.
type Server struct {
	// Listen is the address the daemon binds, e.g. ":8080".
	Listen string `mapstructure:"listen"`
	// TLSSelfSigned serves HTTPS with a generated certificate. Clients on
	// internal networks connect with verification disabled.
	TLSSelfSigned bool `mapstructure:"tls_self_signed"`
	// ShutdownGraceSeconds is how long in-flight requests get on shutdown.
	ShutdownGraceSeconds int `mapstructure:"shutdown_grace_seconds"`
}

// Store controls persistence.
type Store struct {
	// Path is the SQLite database file.
	Path string `mapstructure:"path"`
}

// Locks controls lease timing.
type Locks struct {
	// LeaseSeconds is the lifetime of a lock from acquire or renew.
	LeaseSeconds int `mapstructure:"lease_seconds"`
	// ReaperIntervalSeconds is how often expired rows are swept.
	ReaperIntervalSeconds int `mapstructure:"reaper_interval_seconds"`
	// RenewalBudget is how many automatic renewals a client session gets
	// before it must be touched by user activity again.
	RenewalBudget int `mapstructure:"renewal_budget"`
}

// Redis selects the optional Redis lock backend. When Addr is empty the
// locks live in SQLite alongside the data.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Auth maps bearer tokens to actor identities.
type Auth struct {
	Tokens map[string]string `mapstructure:"tokens"`
}

func (s *Server) ShutdownGrace() time.Duration {
	return time.Duration(s.ShutdownGraceSeconds) * time.Second
}

func (l *Locks) Lease() time.Duration {
	return time.Duration(l.LeaseSeconds) * time.Second
}

func (l *Locks) ReaperInterval() time.Duration {
	return time.Duration(l.ReaperIntervalSeconds) * time.Second
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: Server{
			Listen:               ":8080",
			TLSSelfSigned:        false,
			ShutdownGraceSeconds: 10,
		},
		Store: Store{
			Path: "assetgrid.db",
		},
		Locks: Locks{
			LeaseSeconds:          30,
			ReaperIntervalSeconds: 10,
			RenewalBudget:         30,
		},
		Redis: Redis{
			Addr: "",
			DB:   0,
		},
		Auth: Auth{
			Tokens: map[string]string{},
		},
	}
}

// SetDefaults registers default values with viper.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("server.listen", defaults.Server.Listen)
	v.SetDefault("server.tls_self_signed", defaults.Server.TLSSelfSigned)
	v.SetDefault("server.shutdown_grace_seconds", defaults.Server.ShutdownGraceSeconds)

	v.SetDefault("store.path", defaults.Store.Path)

	v.SetDefault("locks.lease_seconds", defaults.Locks.LeaseSeconds)
	v.SetDefault("locks.reaper_interval_seconds", defaults.Locks.ReaperIntervalSeconds)
	v.SetDefault("locks.renewal_budget", defaults.Locks.RenewalBudget)

	v.SetDefault("redis.addr", defaults.Redis.Addr)
	v.SetDefault("redis.password", defaults.Redis.Password)
	v.SetDefault("redis.db", defaults.Redis.DB)

	v.SetDefault("auth.tokens", defaults.Auth.Tokens)
}

// Load reads configuration from the given file (optional, "" skips it),
// applies ASSETGRID_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("assetgrid")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Locks.LeaseSeconds <= 0 {
		return fmt.Errorf("locks.lease_seconds must be positive, got %d", c.Locks.LeaseSeconds)
	}
	if c.Locks.ReaperIntervalSeconds <= 0 {
		return fmt.Errorf("locks.reaper_interval_seconds must be positive, got %d", c.Locks.ReaperIntervalSeconds)
	}
	if c.Locks.RenewalBudget < 0 {
		return fmt.Errorf("locks.renewal_budget must not be negative, got %d", c.Locks.RenewalBudget)
	}
	if len(c.Auth.Tokens) == 0 {
		return fmt.Errorf("auth.tokens must define at least one token")
	}
	for token, actor := range c.Auth.Tokens {
		if token == "" || actor == "" {
			return fmt.Errorf("auth.tokens entries must have non-empty token and actor")
		}
	}
	return nil
}

// ConfigFile returns the default config file path, honoring XDG_CONFIG_HOME.
func ConfigFile() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "assetgrid", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "assetgrid.yaml"
	}
	return filepath.Join(home, ".config", "assetgrid", "config.yaml")
}
