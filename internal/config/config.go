package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Sync      SyncConfig      `yaml:"sync"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// BridgeConfig controls the companion link.
type BridgeConfig struct {
	// Listen is the TCP address companions dial. Empty disables the TCP
	// link; the WebSocket endpoint on the admin server is always served.
	Listen        string        `yaml:"listen"`
	DebugLogPath  string        `yaml:"debug_log_path"`
	DebugLogLimit int           `yaml:"debug_log_limit"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

// SyncConfig describes the one user this daemon serves.
type SyncConfig struct {
	UserID          string        `yaml:"user_id"`
	Timezone        string        `yaml:"timezone"`
	DedupWindow     time.Duration `yaml:"dedup_window"`
	PersistTimeout  time.Duration `yaml:"persist_timeout"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	StateDir string `yaml:"state_dir"`
}

// DSN returns a PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode)
}

// Location resolves Timezone. An empty value means the host's local zone.
func (s SyncConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// Load reads config from a YAML file, then applies environment variable overrides.
// Env vars use the prefix KINEVO_ and underscore-separated paths:
//
//	KINEVO_SERVER_HOST, KINEVO_SERVER_PORT,
//	KINEVO_DB_HOST, KINEVO_DB_PORT, KINEVO_DB_NAME,
//	KINEVO_DB_USER, KINEVO_DB_PASSWORD, KINEVO_DB_SSLMODE,
//	KINEVO_AUTH_API_KEY,
//	KINEVO_BRIDGE_LISTEN, KINEVO_BRIDGE_DEBUG_LOG_PATH,
//	KINEVO_SYNC_USER_ID, KINEVO_SYNC_TIMEZONE, KINEVO_SYNC_DEDUP_WINDOW,
//	KINEVO_TAILSCALE_ENABLED, KINEVO_TAILSCALE_HOSTNAME
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KINEVO_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("KINEVO_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KINEVO_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("KINEVO_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("KINEVO_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("KINEVO_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("KINEVO_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("KINEVO_DB_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}
	if v := os.Getenv("KINEVO_AUTH_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}
	if v := os.Getenv("KINEVO_BRIDGE_LISTEN"); v != "" {
		cfg.Bridge.Listen = v
	}
	if v := os.Getenv("KINEVO_BRIDGE_DEBUG_LOG_PATH"); v != "" {
		cfg.Bridge.DebugLogPath = v
	}
	if v := os.Getenv("KINEVO_SYNC_USER_ID"); v != "" {
		cfg.Sync.UserID = v
	}
	if v := os.Getenv("KINEVO_SYNC_TIMEZONE"); v != "" {
		cfg.Sync.Timezone = v
	}
	if v := os.Getenv("KINEVO_SYNC_DEDUP_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.DedupWindow = d
		}
	}
	if v := os.Getenv("KINEVO_TAILSCALE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tailscale.Enabled = b
		}
	}
	if v := os.Getenv("KINEVO_TAILSCALE_HOSTNAME"); v != "" {
		cfg.Tailscale.Hostname = v
	}
}

func (c *Config) applyDefaults() {
	if c.Bridge.DebugLogPath == "" {
		c.Bridge.DebugLogPath = "kinevo-bridge.db"
	}
	if c.Bridge.DebugLogLimit == 0 {
		c.Bridge.DebugLogLimit = 500
	}
	if c.Bridge.WriteTimeout == 0 {
		c.Bridge.WriteTimeout = 5 * time.Second
	}
	if c.Sync.DedupWindow == 0 {
		c.Sync.DedupWindow = 1200 * time.Millisecond
	}
	if c.Sync.PersistTimeout == 0 {
		c.Sync.PersistTimeout = 10 * time.Second
	}
	if c.Tailscale.Hostname == "" {
		c.Tailscale.Hostname = "kinevo-sync"
	}
}

func (c *Config) validate() error {
	if c.Server.Port == 0 {
		return fmt.Errorf("server.port is required")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Port == 0 {
		return fmt.Errorf("database.port is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required")
	}
	if c.Sync.UserID == "" {
		return fmt.Errorf("sync.user_id is required")
	}
	if _, err := c.Sync.Location(); err != nil {
		return fmt.Errorf("sync.timezone: %w", err)
	}
	if c.Sync.DedupWindow < 0 || c.Sync.PersistTimeout < 0 || c.Sync.RefreshInterval < 0 {
		return fmt.Errorf("sync durations must not be negative")
	}
	if c.Bridge.DebugLogLimit < 0 {
		return fmt.Errorf("bridge.debug_log_limit must not be negative")
	}
	return nil
}
