// Package config resolves runtime settings from an optional YAML file, an
// optional .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
	StoreRedis    = "redis"
)

// Config holds every setting. It is read once at startup and not mutated.
type Config struct {
	// Server
	Addr    string
	WebDir  string
	BaseURL string

	// Storage
	DatabaseURL  string
	Store        string
	SessionStore string
	RedisURL     string

	// Session
	SessionTTL   time.Duration
	CookieSecure bool
	ForwardAuth  bool

	// Engine
	DeadlineWindowDays int

	// Throttling
	LoginRatePerMin int

	// Logging
	LogLevel string

	// SSO
	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string
}

// SSOEnabled reports whether every OIDC setting is present.
func (c *Config) SSOEnabled() bool {
	return c.OIDCIssuer != "" && c.OIDCClientID != "" && c.OIDCClientSecret != "" && c.OIDCRedirectURL != ""
}

// fileConfig mirrors the YAML schema of CONFIG_FILE.
type fileConfig struct {
	Server struct {
		Addr    string `yaml:"addr"`
		WebDir  string `yaml:"web_dir"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"server"`
	Storage struct {
		DatabaseURL  string `yaml:"database_url"`
		Store        string `yaml:"store"`
		SessionStore string `yaml:"session_store"`
		RedisURL     string `yaml:"redis_url"`
	} `yaml:"storage"`
	Session struct {
		TTL          string `yaml:"ttl"`
		CookieSecure *bool  `yaml:"cookie_secure"`
		ForwardAuth  *bool  `yaml:"forward_auth"`
	} `yaml:"session"`
	DeadlineWindowDays int    `yaml:"deadline_window_days"`
	LoginRatePerMin    int    `yaml:"login_rate_per_min"`
	LogLevel           string `yaml:"log_level"`
	OIDC               struct {
		Issuer       string `yaml:"issuer"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		RedirectURL  string `yaml:"redirect_url"`
	} `yaml:"oidc"`
}

func defaults() *Config {
	return &Config{
		Addr:               ":8080",
		WebDir:             "web",
		BaseURL:            "http://localhost:8080",
		Store:              StorePostgres,
		SessionTTL:         24 * time.Hour,
		DeadlineWindowDays: 90,
		LoginRatePerMin:    10,
		LogLevel:           "info",
	}
}

// Load resolves configuration in priority order: defaults, CONFIG_FILE,
// environment (including a .env file in the working directory).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&c.Addr, f.Server.Addr)
	setString(&c.WebDir, f.Server.WebDir)
	setString(&c.BaseURL, f.Server.BaseURL)
	setString(&c.DatabaseURL, f.Storage.DatabaseURL)
	setString(&c.Store, f.Storage.Store)
	setString(&c.SessionStore, f.Storage.SessionStore)
	setString(&c.RedisURL, f.Storage.RedisURL)
	setString(&c.LogLevel, f.LogLevel)
	setString(&c.OIDCIssuer, f.OIDC.Issuer)
	setString(&c.OIDCClientID, f.OIDC.ClientID)
	setString(&c.OIDCClientSecret, f.OIDC.ClientSecret)
	setString(&c.OIDCRedirectURL, f.OIDC.RedirectURL)
	if f.Session.TTL != "" {
		d, err := time.ParseDuration(f.Session.TTL)
		if err != nil {
			return fmt.Errorf("parse config file: session.ttl: %w", err)
		}
		c.SessionTTL = d
	}
	if f.Session.CookieSecure != nil {
		c.CookieSecure = *f.Session.CookieSecure
	}
	if f.Session.ForwardAuth != nil {
		c.ForwardAuth = *f.Session.ForwardAuth
	}
	if f.DeadlineWindowDays > 0 {
		c.DeadlineWindowDays = f.DeadlineWindowDays
	}
	if f.LoginRatePerMin > 0 {
		c.LoginRatePerMin = f.LoginRatePerMin
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Addr = getEnvString("ADDR", c.Addr)
	c.WebDir = getEnvString("WEB_DIR", c.WebDir)
	c.BaseURL = strings.TrimRight(getEnvString("BASE_URL", c.BaseURL), "/")
	c.DatabaseURL = getEnvString("DATABASE_URL", c.DatabaseURL)
	c.Store = strings.ToLower(getEnvString("STORE", c.Store))
	c.SessionStore = strings.ToLower(getEnvString("SESSION_STORE", c.SessionStore))
	c.RedisURL = getEnvString("REDIS_URL", c.RedisURL)
	c.SessionTTL = getEnvDuration("SESSION_TTL", c.SessionTTL)
	c.CookieSecure = getEnvBool("COOKIE_SECURE", c.CookieSecure || strings.HasPrefix(c.BaseURL, "https://"))
	c.ForwardAuth = getEnvBool("FORWARD_AUTH", c.ForwardAuth)
	c.DeadlineWindowDays = getEnvInt("DEADLINE_WINDOW_DAYS", c.DeadlineWindowDays)
	c.LoginRatePerMin = getEnvInt("LOGIN_RATE_PER_MIN", c.LoginRatePerMin)
	c.LogLevel = getEnvString("LOG_LEVEL", c.LogLevel)
	c.OIDCIssuer = getEnvString("OIDC_ISSUER", c.OIDCIssuer)
	c.OIDCClientID = getEnvString("OIDC_CLIENT_ID", c.OIDCClientID)
	c.OIDCClientSecret = getEnvString("OIDC_CLIENT_SECRET", c.OIDCClientSecret)
	c.OIDCRedirectURL = getEnvString("OIDC_REDIRECT_URL", c.OIDCRedirectURL)

	if c.SessionStore == "" {
		c.SessionStore = c.Store
	}
}

func (c *Config) validate() error {
	switch c.Store {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("STORE must be %s or %s, got %q", StorePostgres, StoreMemory, c.Store)
	}
	switch c.SessionStore {
	case StorePostgres, StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("SESSION_STORE must be %s, %s or %s, got %q", StorePostgres, StoreMemory, StoreRedis, c.SessionStore)
	}

	if c.Store == StoreMemory && c.SessionStore == StorePostgres {
		return fmt.Errorf("SESSION_STORE=%s requires STORE=%s", StorePostgres, StorePostgres)
	}

	var missing []string
	if (c.Store == StorePostgres || c.SessionStore == StorePostgres) && c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.SessionStore == StoreRedis && c.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("required environment variables are not set: %v", missing)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
