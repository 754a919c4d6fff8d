package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// HTTP server
	ListenAddr     string        `yaml:"listen_addr"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	CookieSecure   bool          `yaml:"cookie_secure"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Resource service
	ResourceBaseURL string `yaml:"resource_base_url"`
	TokenVariant    string `yaml:"token_variant"`

	// Token verification, both optional
	JWKSURL     string `yaml:"jwks_url"`
	TokenSecret string `yaml:"token_secret"`

	// Sessions
	RedisConnectionString string        `yaml:"redis_connection_string"`
	SessionTTL            time.Duration `yaml:"session_ttl"`

	// Bills chart
	BillsPeriods []int `yaml:"bills_periods"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func defaults() *Config {
	return &Config{
		ListenAddr:            ":8080",
		AllowedOrigins:        []string{"*"},
		RequestTimeout:        15 * time.Second,
		ResourceBaseURL:       "http://localhost:8000",
		TokenVariant:          "json",
		RedisConnectionString: "redis://localhost:6379/0",
		SessionTTL:            8 * time.Hour,
		BillsPeriods:          []int{2025, 2026},
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

// Load reads .env if present, then the YAML file named by CONFIG_FILE, then
// environment variables. Later sources win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.mergeEnv()
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeEnv() {
	c.ListenAddr = getEnv("LISTEN_ADDR", c.ListenAddr)
	if port := os.Getenv("PORT"); port != "" && os.Getenv("LISTEN_ADDR") == "" {
		c.ListenAddr = ":" + port
	}
	c.AllowedOrigins = getEnvList("ALLOWED_ORIGINS", c.AllowedOrigins)
	c.CookieSecure = getEnvBool("COOKIE_SECURE", c.CookieSecure)
	c.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", c.RequestTimeout)

	c.ResourceBaseURL = getEnv("RESOURCE_BASE_URL", c.ResourceBaseURL)
	c.TokenVariant = strings.ToLower(getEnv("TOKEN_VARIANT", c.TokenVariant))
	c.JWKSURL = getEnv("JWKS_URL", c.JWKSURL)
	c.TokenSecret = getEnv("TOKEN_SECRET", c.TokenSecret)

	c.RedisConnectionString = getEnv("REDIS_CONNECTION_STRING", c.RedisConnectionString)
	c.SessionTTL = getEnvDuration("SESSION_TTL", c.SessionTTL)

	if raw := os.Getenv("BILLS_PERIODS"); raw != "" {
		c.BillsPeriods = parseYears(raw)
	}

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		c.LogLevel = "debug"
	}
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// Validate returns every configuration problem in one error.
func (c *Config) Validate() error {
	var errs []string

	if c.ListenAddr == "" {
		errs = append(errs, "listen address cannot be empty")
	}
	if u, err := url.Parse(c.ResourceBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("invalid resource base URL '%s': must be an absolute http(s) URL", c.ResourceBaseURL))
	}
	switch c.TokenVariant {
	case "json", "form":
	default:
		errs = append(errs, fmt.Sprintf("invalid token variant '%s': must be one of [json form]", c.TokenVariant))
	}
	if c.JWKSURL != "" && c.TokenSecret != "" {
		errs = append(errs, "JWKS_URL and TOKEN_SECRET are mutually exclusive")
	}
	if c.RedisConnectionString == "" {
		errs = append(errs, "redis connection string cannot be empty")
	}
	if c.SessionTTL < time.Minute {
		errs = append(errs, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("invalid request timeout %v: must be positive", c.RequestTimeout))
	}
	if len(c.BillsPeriods) == 0 {
		errs = append(errs, "at least one bills period is required")
	}
	for _, y := range c.BillsPeriods {
		if y < 1900 || y > 9999 {
			errs = append(errs, fmt.Sprintf("invalid bills period %d", y))
		}
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("invalid log format '%s': must be one of [text json]", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseYears keeps the years it can read; an unreadable entry is dropped and
// caught by Validate if nothing is left.
func parseYears(raw string) []int {
	var out []int
	for _, part := range strings.Split(raw, ",") {
		if y, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			out = append(out, y)
		}
	}
	return out
}
