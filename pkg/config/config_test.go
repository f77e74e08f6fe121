package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemauth/tandem/pkg/observability"
)

// validEnv sets the minimum environment for LoadConfig to succeed
func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TANDEM_DB_URL", "postgres://localhost/tandem")
	t.Setenv("TANDEM_CMS_URL", "http://localhost:3000")
	t.Setenv("TANDEM_CMS_SERVICE_KEY", "service-key")
}

func TestLoadConfig_Defaults(t *testing.T) {
	validEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.True(t, cfg.Server.SecureCookies)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.Equal(t, "http://localhost:3000/api/auth/magic-link", cfg.CMS.MagicLinkEndpoint)
}

func TestLoadConfig_ProviderFlags(t *testing.T) {
	validEnv(t)
	t.Setenv("TANDEM_ENABLED_PROVIDERS", "github, credentials")
	t.Setenv("TANDEM_GITHUB_CLIENT_ID", "client-id")
	t.Setenv("TANDEM_GITHUB_CLIENT_SECRET", "client-secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.Providers.Flags.Enabled("github"))
	assert.True(t, cfg.Providers.Flags.Enabled("credentials"))
	assert.False(t, cfg.Providers.Flags.Enabled("google"))
	assert.Equal(t, "client-id", cfg.Providers.OAuth["github"].ClientID)
}

func TestLoadConfig_EnabledProviderNeedsCredentials(t *testing.T) {
	validEnv(t)
	t.Setenv("TANDEM_ENABLED_PROVIDERS", "github")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client credentials")
}

func TestLoadConfig_AdminLists(t *testing.T) {
	validEnv(t)
	t.Setenv("TANDEM_ADMIN_EMAILS", "founder@company.com, ops@company.com")
	t.Setenv("TANDEM_ADMIN_DOMAINS", "company.com")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"founder@company.com", "ops@company.com"}, cfg.Admin.Emails)
	assert.Equal(t, []string{"company.com"}, cfg.Admin.Domains)
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing db url", func(c *Config) { c.Database.URL = "" }},
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"missing cms url", func(c *Config) { c.CMS.BaseURL = "" }},
		{"missing service key", func(c *Config) { c.CMS.ServiceKey = "" }},
		{"port collision", func(c *Config) { c.Server.HealthPort = c.Server.Port }},
		{"zero session ttl", func(c *Config) { c.Session.TTL = 0 }},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validEnv(t)
			cfg, err := LoadConfig()
			require.NoError(t, err)

			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, observability.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, observability.WarnLevel, parseLogLevel("WARNING"))
	assert.Equal(t, observability.InfoLevel, parseLogLevel("unknown"))
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList("a, b,"))
}
