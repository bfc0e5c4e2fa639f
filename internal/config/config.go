package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	ProviderGoogle = "google"
	ProviderOSRM   = "osrm"
	ProviderMock   = "mock"
)

// Config holds all runtime settings of the route service.
type Config struct {
	Port   string
	AppEnv string

	Provider            string
	GoogleAPIKey        string
	GoogleBaseURL       string
	OSRMBaseURL         string
	ProviderTimeout     time.Duration
	ProviderMaxAttempts int

	DebounceInterval time.Duration
	CacheTTL         time.Duration
	CacheMaxEntries  int

	RedisAddr     string
	DatabaseURL   string
	RouteStoreTTL time.Duration

	WSOriginPatterns []string

	SessionIdleTimeout time.Duration
	JanitorInterval    time.Duration
}

// Load reads an optional .env file and then the process environment.
// Environment variables win over .env values.
func Load() (*Config, error) {
	// Missing .env is normal outside local development.
	_ = godotenv.Load()

	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("ROUTING_PROVIDER", ProviderGoogle)
	v.SetDefault("GOOGLE_ROUTES_API_KEY", "")
	v.SetDefault("GOOGLE_ROUTES_BASE_URL", "https://routes.googleapis.com")
	v.SetDefault("OSRM_BASE_URL", "https://router.project-osrm.org")
	v.SetDefault("PROVIDER_TIMEOUT", "10s")
	v.SetDefault("PROVIDER_MAX_ATTEMPTS", 2)
	v.SetDefault("ROUTE_DEBOUNCE", "800ms")
	v.SetDefault("ROUTE_CACHE_TTL", "10m")
	v.SetDefault("ROUTE_CACHE_MAX_ENTRIES", 256)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("ROUTE_STORE_TTL", "1h")
	v.SetDefault("WS_ORIGIN_PATTERNS", "")
	v.SetDefault("SESSION_IDLE_TIMEOUT", "30m")
	v.SetDefault("SESSION_JANITOR_INTERVAL", "1m")

	return v
}

// FromViper builds and validates a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:                v.GetString("PORT"),
		AppEnv:              v.GetString("APP_ENV"),
		Provider:            strings.ToLower(strings.TrimSpace(v.GetString("ROUTING_PROVIDER"))),
		GoogleAPIKey:        strings.TrimSpace(v.GetString("GOOGLE_ROUTES_API_KEY")),
		GoogleBaseURL:       strings.TrimRight(v.GetString("GOOGLE_ROUTES_BASE_URL"), "/"),
		OSRMBaseURL:         strings.TrimRight(v.GetString("OSRM_BASE_URL"), "/"),
		ProviderTimeout:     v.GetDuration("PROVIDER_TIMEOUT"),
		ProviderMaxAttempts: v.GetInt("PROVIDER_MAX_ATTEMPTS"),
		DebounceInterval:    v.GetDuration("ROUTE_DEBOUNCE"),
		CacheTTL:            v.GetDuration("ROUTE_CACHE_TTL"),
		CacheMaxEntries:     v.GetInt("ROUTE_CACHE_MAX_ENTRIES"),
		RedisAddr:           v.GetString("REDIS_ADDR"),
		DatabaseURL:         v.GetString("DATABASE_URL"),
		RouteStoreTTL:       v.GetDuration("ROUTE_STORE_TTL"),
		WSOriginPatterns:    splitList(v.GetString("WS_ORIGIN_PATTERNS")),
		SessionIdleTimeout:  v.GetDuration("SESSION_IDLE_TIMEOUT"),
		JanitorInterval:     v.GetDuration("SESSION_JANITOR_INTERVAL"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// A missing Google API key is deliberately not a load error: the scheduler
// reports it per request as a configuration error.
func (c *Config) validate() error {
	var errs []error

	switch c.Provider {
	case ProviderGoogle, ProviderOSRM, ProviderMock:
	default:
		errs = append(errs, fmt.Errorf("ROUTING_PROVIDER %q is not one of google, osrm, mock", c.Provider))
	}
	if c.DebounceInterval < 0 {
		errs = append(errs, errors.New("ROUTE_DEBOUNCE must not be negative"))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("ROUTE_CACHE_TTL must be positive"))
	}
	if c.CacheMaxEntries <= 0 {
		errs = append(errs, errors.New("ROUTE_CACHE_MAX_ENTRIES must be positive"))
	}
	if c.ProviderTimeout <= 0 {
		errs = append(errs, errors.New("PROVIDER_TIMEOUT must be positive"))
	}
	if c.ProviderMaxAttempts < 1 {
		errs = append(errs, errors.New("PROVIDER_MAX_ATTEMPTS must be at least 1"))
	}
	if c.RouteStoreTTL <= 0 {
		errs = append(errs, errors.New("ROUTE_STORE_TTL must be positive"))
	}
	if c.SessionIdleTimeout <= 0 {
		errs = append(errs, errors.New("SESSION_IDLE_TIMEOUT must be positive"))
	}
	if c.JanitorInterval <= 0 {
		errs = append(errs, errors.New("SESSION_JANITOR_INTERVAL must be positive"))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
