package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Local     LocalConfig     `yaml:"local"`
	User      UserConfig      `yaml:"user"`
	Auth      AuthConfig      `yaml:"auth"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Log       LogConfig       `yaml:"log"`
	Templates TemplatesConfig `yaml:"templates"`
	Session   SessionConfig   `yaml:"session"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	// Migrations is a directory of .sql files. Empty uses the embedded set.
	Migrations string `yaml:"migrations"`
}

// LocalConfig locates the on-device draft storage.
type LocalConfig struct {
	// Driver is "sqlite" or "bolt".
	Driver string `yaml:"driver"`
	Dir    string `yaml:"dir"`
}

type UserConfig struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
}

type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	StateDir string `yaml:"state_dir"`
	// AllowedLogins restricts callers by tailnet login name. Empty allows
	// every peer.
	AllowedLogins []string `yaml:"allowed_logins"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type TemplatesConfig struct {
	// Path is a YAML catalog file. Empty uses the built-in catalog.
	Path string `yaml:"path"`
}

type SessionConfig struct {
	HistoryFillConcurrency int           `yaml:"history_fill_concurrency"`
	HistoryFillTimeout     time.Duration `yaml:"history_fill_timeout"`
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

// Default returns a config that runs entirely on the device: in-memory
// durable store, SQLite drafts, plain HTTP on localhost.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Host: "127.0.0.1", Port: 8080},
		Database: DatabaseConfig{Driver: "memory"},
		Local:    LocalConfig{Driver: "sqlite", Dir: "data"},
		User:     UserConfig{ID: "local"},
		Log:      LogConfig{Level: "info", Format: "text", MaxSizeMB: 50, MaxBackups: 5},
		Session:  SessionConfig{HistoryFillConcurrency: 4, HistoryFillTimeout: 10 * time.Second},
	}
}

// Load reads config from a YAML file over Default, then applies environment
// variable overrides. An empty path skips the file. Env vars use the prefix
// LIFTOFF_ and underscore-separated paths:
//
//	LIFTOFF_SERVER_HOST, LIFTOFF_SERVER_PORT,
//	LIFTOFF_DB_DRIVER, LIFTOFF_DB_HOST, LIFTOFF_DB_PORT, LIFTOFF_DB_NAME,
//	LIFTOFF_DB_USER, LIFTOFF_DB_PASSWORD, LIFTOFF_DB_SSLMODE,
//	LIFTOFF_LOCAL_DRIVER, LIFTOFF_LOCAL_DIR, LIFTOFF_USER_ID,
//	LIFTOFF_AUTH_API_KEY, LIFTOFF_TAILSCALE_ENABLED,
//	LIFTOFF_TAILSCALE_ALLOWED_LOGINS (comma separated),
//	LIFTOFF_LOG_LEVEL, LIFTOFF_LOG_FORMAT, LIFTOFF_LOG_FILE,
//	LIFTOFF_TEMPLATES_PATH
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("LIFTOFF_SERVER_HOST", &cfg.Server.Host)
	num("LIFTOFF_SERVER_PORT", &cfg.Server.Port)
	str("LIFTOFF_DB_DRIVER", &cfg.Database.Driver)
	str("LIFTOFF_DB_HOST", &cfg.Database.Host)
	num("LIFTOFF_DB_PORT", &cfg.Database.Port)
	str("LIFTOFF_DB_NAME", &cfg.Database.Name)
	str("LIFTOFF_DB_USER", &cfg.Database.User)
	str("LIFTOFF_DB_PASSWORD", &cfg.Database.Password)
	str("LIFTOFF_DB_SSLMODE", &cfg.Database.SSLMode)
	str("LIFTOFF_LOCAL_DRIVER", &cfg.Local.Driver)
	str("LIFTOFF_LOCAL_DIR", &cfg.Local.Dir)
	str("LIFTOFF_USER_ID", &cfg.User.ID)
	str("LIFTOFF_AUTH_API_KEY", &cfg.Auth.APIKey)
	str("LIFTOFF_LOG_LEVEL", &cfg.Log.Level)
	str("LIFTOFF_LOG_FORMAT", &cfg.Log.Format)
	str("LIFTOFF_LOG_FILE", &cfg.Log.File)
	str("LIFTOFF_TEMPLATES_PATH", &cfg.Templates.Path)

	if v := os.Getenv("LIFTOFF_TAILSCALE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tailscale.Enabled = b
		}
	}
	if v := os.Getenv("LIFTOFF_TAILSCALE_ALLOWED_LOGINS"); v != "" {
		cfg.Tailscale.AllowedLogins = nil
		for _, login := range strings.Split(v, ",") {
			if login = strings.TrimSpace(login); login != "" {
				cfg.Tailscale.AllowedLogins = append(cfg.Tailscale.AllowedLogins, login)
			}
		}
	}
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.Host == "" {
			return errors.New("database.host is required")
		}
		if c.Database.Port == 0 {
			return errors.New("database.port is required")
		}
		if c.Database.Name == "" {
			return errors.New("database.name is required")
		}
		if c.Database.User == "" {
			return errors.New("database.user is required")
		}
	default:
		return fmt.Errorf("database.driver must be postgres or memory, got %q", c.Database.Driver)
	}
	switch c.Local.Driver {
	case "sqlite", "bolt":
	default:
		return fmt.Errorf("local.driver must be sqlite or bolt, got %q", c.Local.Driver)
	}
	if c.Local.Dir == "" {
		return errors.New("local.dir is required")
	}
	if strings.TrimSpace(c.User.ID) == "" {
		return errors.New("user.id is required")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return errors.New("tailscale.hostname is required when tailscale is enabled")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Session.HistoryFillConcurrency < 1 {
		return errors.New("session.history_fill_concurrency must be at least 1")
	}
	return nil
}
