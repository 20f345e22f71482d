// Package config loads sync-gateway settings from the environment.
//
// A local .env file is read first (if present) so developers do not need to
// export every variable; real environment variables always win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full process configuration.
type Config struct {
	Service   ServiceConfig
	Logging   LoggingConfig
	Tracing   TracingConfig
	Profiling ProfilingConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Session   SessionConfig
	Identity  IdentityConfig
	Electric  ElectricConfig
	Shutdown  ShutdownConfig
}

type ServiceConfig struct {
	Name    string
	Version string
	Env     string
	Port    string
}

type LoggingConfig struct {
	Level string
}

type TracingConfig struct {
	Enabled    bool
	Endpoint   string
	Insecure   bool
	SampleRate float64
}

type ProfilingConfig struct {
	Enabled  bool
	Endpoint string
}

type DatabaseConfig struct {
	URL      string
	MaxConns int32
}

// RedisConfig configures the shared session cache. An empty Addr selects the
// in-process cache instead.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SessionConfig controls how the gateway reads and caches session credentials.
type SessionConfig struct {
	CookieName  string
	CacheMaxTTL string
	CacheSkew   string
	CacheSize   int
}

// IdentityConfig holds the identity provider credentials. None of these
// values are ever accepted from a client request.
type IdentityConfig struct {
	BaseURL        string
	APIKey         string
	ClientID       string
	CookiePassword string
	Timeout        string
}

// ElectricConfig holds the upstream shape service location and its
// service-level credentials.
type ElectricConfig struct {
	URL                   string
	SourceID              string
	Secret                string
	ResponseHeaderTimeout string
}

type ShutdownConfig struct {
	Timeout             string
	ReadinessDrainDelay string
}

// Load reads configuration from .env (optional) and the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Service: ServiceConfig{
			Name:    getEnv("SERVICE_NAME", "sync-gateway"),
			Version: getEnv("VERSION", "dev"),
			Env:     getEnv("ENV", "development"),
			Port:    getEnv("PORT", "8080"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Tracing: TracingConfig{
			Enabled:    getEnvBool("TRACING_ENABLED", false),
			Endpoint:   getEnv("OTEL_COLLECTOR_ENDPOINT", "localhost:4318"),
			Insecure:   getEnvBool("OTEL_INSECURE", true),
			SampleRate: getEnvFloat("OTEL_SAMPLE_RATE", 0.1),
		},
		Profiling: ProfilingConfig{
			Enabled:  getEnvBool("PROFILING_ENABLED", false),
			Endpoint: getEnv("PYROSCOPE_ENDPOINT", "http://localhost:4040"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: int32(getEnvInt("DB_MAX_CONNECTIONS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Session: SessionConfig{
			CookieName:  getEnv("SESSION_COOKIE_NAME", "wos-session"),
			CacheMaxTTL: getEnv("SESSION_CACHE_MAX_TTL", "5m"),
			CacheSkew:   getEnv("SESSION_CACHE_SKEW", "0s"),
			CacheSize:   getEnvInt("SESSION_CACHE_SIZE", 10000),
		},
		Identity: IdentityConfig{
			BaseURL:        getEnv("WORKOS_API_URL", "https://api.workos.com"),
			APIKey:         getEnv("WORKOS_API_KEY", ""),
			ClientID:       getEnv("WORKOS_CLIENT_ID", ""),
			CookiePassword: getEnv("WORKOS_COOKIE_PASSWORD", ""),
			Timeout:        getEnv("WORKOS_TIMEOUT", "5s"),
		},
		Electric: ElectricConfig{
			URL:                   getEnv("ELECTRIC_URL", "http://localhost:3000"),
			SourceID:              getEnv("ELECTRIC_SOURCE_ID", ""),
			Secret:                getEnv("ELECTRIC_SECRET", ""),
			ResponseHeaderTimeout: getEnv("ELECTRIC_RESPONSE_HEADER_TIMEOUT", "60s"),
		},
		Shutdown: ShutdownConfig{
			Timeout:             getEnv("SHUTDOWN_TIMEOUT", "10s"),
			ReadinessDrainDelay: getEnv("READINESS_DRAIN_DELAY", "5s"),
		},
	}
}

// Validate reports every missing or malformed setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Service.Port == "" {
		errs = append(errs, errors.New("PORT is required"))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.Identity.APIKey == "" {
		errs = append(errs, errors.New("WORKOS_API_KEY is required"))
	}
	if c.Identity.ClientID == "" {
		errs = append(errs, errors.New("WORKOS_CLIENT_ID is required"))
	}
	if len(c.Identity.CookiePassword) < 32 {
		errs = append(errs, errors.New("WORKOS_COOKIE_PASSWORD must be at least 32 characters"))
	}
	if c.Electric.URL == "" {
		errs = append(errs, errors.New("ELECTRIC_URL is required"))
	}
	if c.Session.CookieName == "" {
		errs = append(errs, errors.New("SESSION_COOKIE_NAME must not be empty"))
	}
	if c.Session.CacheSize <= 0 {
		errs = append(errs, errors.New("SESSION_CACHE_SIZE must be positive"))
	}

	durations := []struct{ name, value string }{
		{"SESSION_CACHE_MAX_TTL", c.Session.CacheMaxTTL},
		{"SESSION_CACHE_SKEW", c.Session.CacheSkew},
		{"WORKOS_TIMEOUT", c.Identity.Timeout},
		{"ELECTRIC_RESPONSE_HEADER_TIMEOUT", c.Electric.ResponseHeaderTimeout},
		{"SHUTDOWN_TIMEOUT", c.Shutdown.Timeout},
		{"READINESS_DRAIN_DELAY", c.Shutdown.ReadinessDrainDelay},
	}
	for _, d := range durations {
		if _, err := time.ParseDuration(d.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.name, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) GetShutdownTimeoutDuration() time.Duration {
	return parseDuration(c.Shutdown.Timeout, 10*time.Second)
}

func (c *Config) GetReadinessDrainDelayDuration() time.Duration {
	return parseDuration(c.Shutdown.ReadinessDrainDelay, 5*time.Second)
}

func (c *Config) GetSessionCacheMaxTTLDuration() time.Duration {
	return parseDuration(c.Session.CacheMaxTTL, 5*time.Minute)
}

func (c *Config) GetSessionCacheSkewDuration() time.Duration {
	return parseDuration(c.Session.CacheSkew, 0)
}

func (c *Config) GetIdentityTimeoutDuration() time.Duration {
	return parseDuration(c.Identity.Timeout, 5*time.Second)
}

func (c *Config) GetElectricResponseHeaderTimeoutDuration() time.Duration {
	return parseDuration(c.Electric.ResponseHeaderTimeout, 60*time.Second)
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return i
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}
