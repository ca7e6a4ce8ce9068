package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "dev-secret")
	t.Setenv("APP_URL", "http://localhost:8080/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.App.URL)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 720*time.Hour, cfg.Auth.SessionMaxAge)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.CORSOrigins)
	assert.False(t, cfg.SecureCookies())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_ProviderPrefixes(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_ID", "gid")
	t.Setenv("GOOGLE_CLIENT_SECRET", "gsecret")
	t.Setenv("GITHUB_CLIENT_ID", "hid")
	t.Setenv("GITHUB_TOKEN_URL", "http://127.0.0.1:9999/token")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gid", cfg.Auth.Google.ClientID)
	assert.True(t, cfg.Auth.Google.Enabled())
	assert.False(t, cfg.Auth.GitHub.Enabled())
	assert.Equal(t, "http://127.0.0.1:9999/token", cfg.Auth.GitHub.TokenURL)
}

func TestLoad_TrustHostWithoutAppURL(t *testing.T) {
	t.Setenv("AUTH_SECRET", "dev-secret")
	t.Setenv("APP_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Empty(t, cfg.App.URL, "APP_URL has no default so the request host can be used")
	assert.True(t, cfg.Auth.TrustHost)
	assert.NoError(t, cfg.Validate())

	cfg.Auth.TrustHost = false
	assert.ErrorContains(t, cfg.Validate(), "APP_URL is required")
}

func TestValidate_MissingSecret(t *testing.T) {
	cfg := &Config{App: AppConfig{URL: "http://localhost:8080"}}
	err := cfg.Validate()
	assert.True(t, errors.Is(err, ErrMissingSecret))
}

func TestValidate_ProductionRequiresProviders(t *testing.T) {
	cfg := &Config{
		App:  AppConfig{URL: "https://app.example.com", Env: "production"},
		Auth: AuthConfig{Secret: strings.Repeat("s", 40)},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GITHUB_CLIENT_ID")
	assert.Contains(t, err.Error(), "GOOGLE_CLIENT_SECRET")
	assert.True(t, cfg.SecureCookies())
}

func TestValidateAuthSecret_ShortInProduction(t *testing.T) {
	assert.Error(t, ValidateAuthSecret("short", true))
	assert.NoError(t, ValidateAuthSecret("short", false))
}

func TestRequireValues_SortsMissing(t *testing.T) {
	err := RequireValues(map[string]string{"B": "", "A": " ", "C": "set"})
	require.Error(t, err)
	assert.Equal(t, "missing required environment variables: A, B", err.Error())
}
