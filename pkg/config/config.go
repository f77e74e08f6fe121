// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tandemauth/tandem/pkg/observability"
	"github.com/tandemauth/tandem/pkg/provider"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Session storage and lifetime
	Session SessionConfig

	// Persistent user store
	Database DatabaseConfig

	// Secondary (content system) endpoint
	CMS CMSConfig

	// Sign-in providers
	Providers ProvidersConfig

	// Admin allow-lists
	Admin AdminConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// SecureCookies marks browser cookies Secure; disable only for plain
	// HTTP development
	SecureCookies bool
	// SafeRoute is where denied admin-gate navigations land
	SafeRoute string
}

// SessionConfig holds session store settings
type SessionConfig struct {
	RedisURL string
	TTL      time.Duration
}

// DatabaseConfig holds the user store connection
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite3"
	Driver string
	URL    string
}

// CMSConfig holds the secondary system's endpoint and credential
type CMSConfig struct {
	BaseURL    string
	ServiceKey string
	Timeout    time.Duration
	// MagicLinkEndpoint receives passwordless link requests; defaults to
	// the CMS magic-link route
	MagicLinkEndpoint string
}

// OAuthProviderConfig holds one external provider's client credentials
type OAuthProviderConfig struct {
	ClientID     string
	ClientSecret string
	IssuerURL    string
	UserInfoURL  string
	Scopes       []string
}

// ProvidersConfig holds the resolved feature flags and per-provider OAuth
// credentials
type ProvidersConfig struct {
	// Flags gates each declared provider; absent flags disable
	Flags provider.FlagSet
	// OAuth is keyed by provider ID
	OAuth map[string]OAuthProviderConfig
	// RedirectBase is the public origin for OAuth callback URLs
	RedirectBase string
}

// AdminConfig holds the static admin allow-lists
type AdminConfig struct {
	Emails   []string
	Domains  []string
	CacheTTL time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Session:       loadSessionConfig(),
		Database:      loadDatabaseConfig(),
		CMS:           loadCMSConfig(),
		Providers:     loadProvidersConfig(),
		Admin:         loadAdminConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TANDEM_HOST", "0.0.0.0"),
		Port:            getEnv("TANDEM_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TANDEM_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TANDEM_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TANDEM_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TANDEM_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("TANDEM_HEALTH_PORT", "9090"),
		SecureCookies:   getEnvBool("TANDEM_SECURE_COOKIES", true),
		SafeRoute:       getEnv("TANDEM_SAFE_ROUTE", "/"),
	}
}

func loadSessionConfig() SessionConfig {
	return SessionConfig{
		RedisURL: getEnv("TANDEM_REDIS_URL", "redis://localhost:6379/0"),
		TTL:      getEnvDuration("TANDEM_SESSION_TTL", 24*time.Hour),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver: getEnv("TANDEM_DB_DRIVER", "postgres"),
		URL:    getEnv("TANDEM_DB_URL", ""),
	}
}

func loadCMSConfig() CMSConfig {
	cfg := CMSConfig{
		BaseURL:    getEnv("TANDEM_CMS_URL", ""),
		ServiceKey: getEnv("TANDEM_CMS_SERVICE_KEY", ""),
		Timeout:    getEnvDuration("TANDEM_CMS_TIMEOUT", 5*time.Second),
	}
	cfg.MagicLinkEndpoint = getEnv("TANDEM_MAGIC_LINK_ENDPOINT", cfg.BaseURL+"/api/auth/magic-link")
	return cfg
}

// loadProvidersConfig resolves the provider feature flags and OAuth client
// credentials. Flags arrive as a comma-separated list of enabled names.
func loadProvidersConfig() ProvidersConfig {
	flags := provider.FlagSet{}
	for _, name := range splitList(getEnv("TANDEM_ENABLED_PROVIDERS", "")) {
		flags[name] = true
	}

	oauth := map[string]OAuthProviderConfig{}
	if id := getEnv("TANDEM_GITHUB_CLIENT_ID", ""); id != "" {
		oauth["github"] = OAuthProviderConfig{
			ClientID:     id,
			ClientSecret: getEnv("TANDEM_GITHUB_CLIENT_SECRET", ""),
			Scopes:       []string{"read:user", "user:email"},
		}
	}
	if id := getEnv("TANDEM_GOOGLE_CLIENT_ID", ""); id != "" {
		oauth["google"] = OAuthProviderConfig{
			ClientID:     id,
			ClientSecret: getEnv("TANDEM_GOOGLE_CLIENT_SECRET", ""),
			IssuerURL:    getEnv("TANDEM_GOOGLE_ISSUER", "https://accounts.google.com"),
			Scopes:       []string{"openid", "email", "profile"},
		}
	}
	if id := getEnv("TANDEM_VERCEL_CLIENT_ID", ""); id != "" {
		oauth["vercel"] = OAuthProviderConfig{
			ClientID:     id,
			ClientSecret: getEnv("TANDEM_VERCEL_CLIENT_SECRET", ""),
			UserInfoURL:  getEnv("TANDEM_VERCEL_USERINFO_URL", "https://api.vercel.com/v2/user"),
		}
	}

	return ProvidersConfig{
		Flags:        flags,
		OAuth:        oauth,
		RedirectBase: getEnv("TANDEM_REDIRECT_BASE", "http://localhost:8080"),
	}
}

func loadAdminConfig() AdminConfig {
	return AdminConfig{
		Emails:   splitList(getEnv("TANDEM_ADMIN_EMAILS", "")),
		Domains:  splitList(getEnv("TANDEM_ADMIN_DOMAINS", "")),
		CacheTTL: getEnvDuration("TANDEM_ADMIN_CACHE_TTL", 5*time.Minute),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("TANDEM_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TANDEM_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TANDEM_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TANDEM_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TANDEM_OTEL_SERVICE_NAME", "tandem"),
		OTelServiceVersion: getEnv("TANDEM_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("TANDEM_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Session.RedisURL == "" {
		return fmt.Errorf("redis URL is required for the session store")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}

	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.CMS.BaseURL == "" {
		return fmt.Errorf("CMS base URL is required")
	}
	if c.CMS.ServiceKey == "" {
		return fmt.Errorf("CMS service key is required")
	}

	// A provider that is flagged on needs working client credentials
	for _, p := range provider.DefaultProviders() {
		if p.Kind != provider.KindOAuth || !c.Providers.Flags.Enabled(p.Flag) {
			continue
		}
		oc, ok := c.Providers.OAuth[p.ID]
		if !ok || oc.ClientID == "" || oc.ClientSecret == "" {
			return fmt.Errorf("provider %s is enabled but has no client credentials", p.ID)
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// splitList parses a comma-separated list, trimming blanks
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
