// Package config defines the typed vk.yaml schema. Runtime settings flow
// through viper in the CLI; this package exists so config files can be
// generated and validated as a whole.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig mirrors the vk.yaml layout.
type FileConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Store    StoreConfig    `yaml:"store"`
	Sessions SessionsConfig `yaml:"sessions"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	CORSOrigins        []string `yaml:"cors_origins"`
	LoginRatePerMinute int      `yaml:"login_rate_per_minute"`
	SecureCookies      bool     `yaml:"secure_cookies"`
}

type AuthConfig struct {
	// AdminServices lists service names only admin credentials may reach.
	AdminServices []string `yaml:"admin_services"`

	// ServiceHeader overrides the header carrying the requested service name.
	ServiceHeader string `yaml:"service_header"`

	// ProtectManagement requires an authenticated admin on the /keys API.
	ProtectManagement bool `yaml:"protect_management"`

	// LookupTimeout bounds the credential store lookup during verification.
	LookupTimeout time.Duration `yaml:"lookup_timeout"`
}

type StoreConfig struct {
	Driver  string `yaml:"driver"` // sqlite or postgres
	DSN     string `yaml:"dsn"`
	DataDir string `yaml:"data_dir"`
}

type SessionsConfig struct {
	// Backend selects the session record store: memory (default) or redis.
	Backend string `yaml:"backend"`

	// Secret signs session tokens. Set via VK_SESSIONS_SECRET in production.
	Secret string `yaml:"secret"`

	IdleTTL     time.Duration `yaml:"idle_ttl"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`

	Redis RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Load reads a config file, expanding ${VAR} references from the environment
// before parsing.
func Load(path string) (*FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(raw))

	var cfg FileConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for values that would fail at startup.
func (c *FileConfig) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Store.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("store.driver %q is not supported (sqlite, postgres)", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required when store.driver is postgres")
	}
	switch c.Sessions.Backend {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("sessions.backend %q is not supported (memory, redis)", c.Sessions.Backend)
	}
	if c.Sessions.Backend == "redis" && c.Sessions.Redis.Addr == "" {
		return fmt.Errorf("sessions.redis.addr is required when sessions.backend is redis")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not supported (debug, info, warn, error)", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q is not supported (text, json)", c.Log.Format)
	}
	return nil
}
